package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/sosdispatch/internal/model"
)

// PostgresStore persists cases and units in PostgreSQL.
//
// Concurrency strategy: PESSIMISTIC LOCKING
//
//	Scenario: two dispatchers claim the same unit for different cases.
//
//	Timeline:
//	  T1: BEGIN → SELECT case FOR UPDATE → SELECT unit FOR UPDATE (unit LOCKED)
//	  T2: BEGIN → SELECT case FOR UPDATE → SELECT unit FOR UPDATE (BLOCKS)
//	  T1: unit available → UPDATE case, UPDATE unit → COMMIT (lock released)
//	  T2: (unblocked) → re-reads unit → on_call → ROLLBACK → UnitUnavailable
//
// Every Tx reads the case row before the unit row, so lock order is the
// same everywhere and transactions cannot deadlock on each other.
type PostgresStore struct {
	pool      *pgxpool.Pool
	txTimeout time.Duration
}

// NewPostgresStore creates a store over an existing pool.
// txTimeout bounds each transaction; zero means DefaultTxTimeout.
func NewPostgresStore(pool *pgxpool.Pool, txTimeout time.Duration) *PostgresStore {
	if txTimeout <= 0 {
		txTimeout = DefaultTxTimeout
	}
	return &PostgresStore{pool: pool, txTimeout: txTimeout}
}

const caseColumns = `
	id, reporter_id, category, severity, triage_score, status,
	lon, lat, address, assigned_unit_id, description,
	created_at, updated_at, closed_at`

const unitColumns = `
	id, name, category, status, current_task, current_case_id,
	phone, personnel, lon, lat, address, created_at, updated_at`

// InTx runs fn inside a READ COMMITTED transaction with a deadline.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	tx, err := s.pool.BeginTx(txCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	// Rollback is a no-op once the tx has committed.
	defer tx.Rollback(context.Background())

	if err := fn(&pgTx{tx: tx, ctx: txCtx}); err != nil {
		return err
	}
	if err := tx.Commit(txCtx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// GetCase is an unlocked read of a committed case.
func (s *PostgresStore) GetCase(ctx context.Context, id string) (*model.Case, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM emergency_cases WHERE id = $1`, id)
	return scanCase(row, id)
}

// GetUnit is an unlocked read of a committed unit.
func (s *PostgresStore) GetUnit(ctx context.Context, id string) (*model.Unit, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1`, id)
	return scanUnit(row, id)
}

// GetCaseWithUnit reads a case and its assigned unit inside one
// REPEATABLE READ read-only transaction.
func (s *PostgresStore) GetCaseWithUnit(ctx context.Context, id string) (*model.Case, *model.Unit, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: begin read: %w", err)
	}
	defer tx.Rollback(context.Background())

	c, err := scanCase(tx.QueryRow(ctx, `SELECT `+caseColumns+` FROM emergency_cases WHERE id = $1`, id), id)
	if err != nil {
		return nil, nil, err
	}
	var u *model.Unit
	if c.AssignedUnitID != "" {
		u, err = scanUnit(tx.QueryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1`, c.AssignedUnitID), c.AssignedUnitID)
		if err != nil {
			return nil, nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("postgres: end read: %w", err)
	}
	return c, u, nil
}

// Snapshot reads cases and units inside one REPEATABLE READ read-only
// transaction, so both lists come from the same database snapshot.
func (s *PostgresStore) Snapshot(ctx context.Context, f model.CaseFilter) (*model.Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: begin snapshot: %w", err)
	}
	defer tx.Rollback(context.Background())

	var statuses []string
	for _, st := range f.Statuses {
		statuses = append(statuses, string(st))
	}

	rows, err := tx.Query(ctx, `
		SELECT `+caseColumns+`
		FROM emergency_cases
		WHERE ($1::text[] IS NULL OR status = ANY($1))
		  AND ($2 = '' OR reporter_id = $2)
		ORDER BY created_at DESC, id DESC
	`, statuses, f.ReporterID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query cases: %w", err)
	}
	snap := &model.Snapshot{}
	for rows.Next() {
		c, err := scanCase(rows, "")
		if err != nil {
			rows.Close()
			return nil, err
		}
		snap.Cases = append(snap.Cases, *c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate cases: %w", err)
	}

	rows, err = tx.Query(ctx, `SELECT `+unitColumns+` FROM units ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: query units: %w", err)
	}
	for rows.Next() {
		u, err := scanUnit(rows, "")
		if err != nil {
			rows.Close()
			return nil, err
		}
		snap.Units = append(snap.Units, *u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate units: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: end snapshot: %w", err)
	}
	return snap, nil
}

// Ping checks connectivity with a short deadline.
func (s *PostgresStore) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(pingCtx)
}

// ─── pgTx ───────────────────────────────────────────────────

// pgTx runs every statement on the transaction's own context, so row lock
// waits are bounded by the store's tx timeout whatever ctx the caller passes.
type pgTx struct {
	tx  pgx.Tx
	ctx context.Context
}

// GetCase locks the case row until the transaction ends.
func (t *pgTx) GetCase(_ context.Context, id string) (*model.Case, error) {
	row := t.tx.QueryRow(t.ctx, `SELECT `+caseColumns+` FROM emergency_cases WHERE id = $1 FOR UPDATE`, id)
	return scanCase(row, id)
}

// GetUnit locks the unit row until the transaction ends.
func (t *pgTx) GetUnit(_ context.Context, id string) (*model.Unit, error) {
	row := t.tx.QueryRow(t.ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1 FOR UPDATE`, id)
	return scanUnit(row, id)
}

func (t *pgTx) InsertCase(_ context.Context, c *model.Case) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO emergency_cases (`+caseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		c.ID, c.ReporterID, c.Category, c.Severity, c.TriageScore, c.Status,
		c.Location.Coordinates[0], c.Location.Coordinates[1], c.Location.Address,
		nullable(c.AssignedUnitID), c.Description,
		c.CreatedAt, c.UpdatedAt, c.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert case %s: %w", c.ID, err)
	}
	return nil
}

func (t *pgTx) InsertUnit(_ context.Context, u *model.Unit) error {
	personnel := u.Personnel
	if personnel == nil {
		personnel = []string{}
	}
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO units (`+unitColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		u.ID, u.Name, u.Category, u.Status, u.CurrentTask, nullable(u.CurrentCaseID),
		u.Phone, personnel,
		u.Location.Coordinates[0], u.Location.Coordinates[1], u.Location.Address,
		u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert unit %s: %w", u.ID, err)
	}
	return nil
}

func (t *pgTx) UpdateCase(_ context.Context, c *model.Case) error {
	tag, err := t.tx.Exec(t.ctx, `
		UPDATE emergency_cases
		SET severity = $2, triage_score = $3, status = $4,
		    assigned_unit_id = $5, description = $6,
		    updated_at = $7, closed_at = $8
		WHERE id = $1
	`,
		c.ID, c.Severity, c.TriageScore, c.Status,
		nullable(c.AssignedUnitID), c.Description,
		c.UpdatedAt, c.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update case %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("case %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) UpdateUnit(_ context.Context, u *model.Unit) error {
	tag, err := t.tx.Exec(t.ctx, `
		UPDATE units
		SET status = $2, current_task = $3, current_case_id = $4,
		    lon = $5, lat = $6, address = $7, updated_at = $8
		WHERE id = $1
	`,
		u.ID, u.Status, u.CurrentTask, nullable(u.CurrentCaseID),
		u.Location.Coordinates[0], u.Location.Coordinates[1], u.Location.Address,
		u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update unit %s: %w", u.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("unit %s: %w", u.ID, ErrNotFound)
	}
	return nil
}

// ─── Scanning ───────────────────────────────────────────────

func scanCase(row pgx.Row, id string) (*model.Case, error) {
	var (
		c      model.Case
		lon    float64
		lat    float64
		unitID *string
	)
	err := row.Scan(
		&c.ID, &c.ReporterID, &c.Category, &c.Severity, &c.TriageScore, &c.Status,
		&lon, &lat, &c.Location.Address, &unitID, &c.Description,
		&c.CreatedAt, &c.UpdatedAt, &c.ClosedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("case %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan case: %w", err)
	}
	c.Location.Coordinates = []float64{lon, lat}
	if unitID != nil {
		c.AssignedUnitID = *unitID
	}
	return &c, nil
}

func scanUnit(row pgx.Row, id string) (*model.Unit, error) {
	var (
		u      model.Unit
		lon    float64
		lat    float64
		caseID *string
	)
	err := row.Scan(
		&u.ID, &u.Name, &u.Category, &u.Status, &u.CurrentTask, &caseID,
		&u.Phone, &u.Personnel, &lon, &lat, &u.Location.Address,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("unit %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan unit: %w", err)
	}
	u.Location.Coordinates = []float64{lon, lat}
	if caseID != nil {
		u.CurrentCaseID = *caseID
	}
	return &u, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
