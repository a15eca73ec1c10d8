package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/sosdispatch/internal/model"
)

// MemoryDirectory is a ReporterDirectory backed by a map.
type MemoryDirectory struct {
	mu        sync.RWMutex
	reporters map[string]model.Reporter
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{reporters: make(map[string]model.Reporter)}
}

// Put adds or replaces a reporter.
func (d *MemoryDirectory) Put(r model.Reporter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reporters[r.ID] = r
}

func (d *MemoryDirectory) Lookup(_ context.Context, ids []string) (map[string]model.Reporter, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]model.Reporter, len(ids))
	for _, id := range ids {
		if r, ok := d.reporters[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

// PostgresDirectory reads reporters from the `reporters` table.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

func (d *PostgresDirectory) Lookup(ctx context.Context, ids []string) (map[string]model.Reporter, error) {
	out := make(map[string]model.Reporter, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := d.pool.Query(ctx, `SELECT id, name, phone FROM reporters WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: lookup reporters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r model.Reporter
		if err := rows.Scan(&r.ID, &r.Name, &r.Phone); err != nil {
			return nil, fmt.Errorf("postgres: scan reporter: %w", err)
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}

// Upsert stores a reporter, replacing name and phone if the id exists.
func (d *PostgresDirectory) Upsert(ctx context.Context, r model.Reporter) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO reporters (id, name, phone) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone
	`, r.ID, r.Name, r.Phone)
	if err != nil {
		return fmt.Errorf("postgres: upsert reporter %s: %w", r.ID, err)
	}
	return nil
}
