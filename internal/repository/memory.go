package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/shiva/sosdispatch/internal/model"
)

// MemoryStore keeps cases and units in process memory.
//
// Concurrency model:
//   - A Tx stages its writes privately; reads inside the Tx see staged rows
//     first, then committed rows.
//   - Commit applies every staged row under one write lock, so readers
//     holding the read lock see either all of a Tx or none of it.
//   - MemoryStore does not lock rows for the duration of a Tx. Callers
//     that read-modify-write the same record must serialize on their own
//     (the service layer does this with keyed locks).
type MemoryStore struct {
	mu        sync.RWMutex
	cases     map[string]model.Case
	units     map[string]model.Unit
	caseOrder []string // insertion order, oldest first
	unitOrder []string
	commits   uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases: make(map[string]model.Case),
		units: make(map[string]model.Unit),
	}
}

// InTx runs fn against a private staging area and commits on success.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		store: s,
		cases: make(map[string]model.Case),
		units: make(map[string]model.Unit),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

// GetCase returns a committed case.
func (s *MemoryStore) GetCase(_ context.Context, id string) (*model.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, fmt.Errorf("case %s: %w", id, ErrNotFound)
	}
	out := c.Clone()
	return &out, nil
}

// GetUnit returns a committed unit.
func (s *MemoryStore) GetUnit(_ context.Context, id string) (*model.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[id]
	if !ok {
		return nil, fmt.Errorf("unit %s: %w", id, ErrNotFound)
	}
	out := u.Clone()
	return &out, nil
}

// GetCaseWithUnit copies a case and its assigned unit under one read lock.
func (s *MemoryStore) GetCaseWithUnit(ctx context.Context, id string) (*model.Case, *model.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, nil, fmt.Errorf("case %s: %w", id, ErrNotFound)
	}
	outCase := c.Clone()
	if c.AssignedUnitID == "" {
		return &outCase, nil, nil
	}
	u, ok := s.units[c.AssignedUnitID]
	if !ok {
		return nil, nil, fmt.Errorf("unit %s: %w", c.AssignedUnitID, ErrNotFound)
	}
	outUnit := u.Clone()
	return &outCase, &outUnit, nil
}

// Snapshot copies matching cases and all units under a single read lock.
func (s *MemoryStore) Snapshot(ctx context.Context, f model.CaseFilter) (*model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &model.Snapshot{
		Cases: make([]model.Case, 0, len(s.caseOrder)),
		Units: make([]model.Unit, 0, len(s.unitOrder)),
	}
	for i := len(s.caseOrder) - 1; i >= 0; i-- {
		c := s.cases[s.caseOrder[i]]
		if f.Match(&c) {
			snap.Cases = append(snap.Cases, c.Clone())
		}
	}
	for i := len(s.unitOrder) - 1; i >= 0; i-- {
		snap.Units = append(snap.Units, s.units[s.unitOrder[i]].Clone())
	}
	return snap, nil
}

// Ping always succeeds for the memory store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Commits returns how many transactions have been applied.
func (s *MemoryStore) Commits() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate everything before touching state so a bad Tx leaves no trace.
	for _, id := range tx.newCases {
		if _, exists := s.cases[id]; exists {
			return fmt.Errorf("insert case %s: duplicate id", id)
		}
	}
	for _, id := range tx.newUnits {
		if _, exists := s.units[id]; exists {
			return fmt.Errorf("insert unit %s: duplicate id", id)
		}
	}

	for id, c := range tx.cases {
		s.cases[id] = c
	}
	for id, u := range tx.units {
		s.units[id] = u
	}
	s.caseOrder = append(s.caseOrder, tx.newCases...)
	s.unitOrder = append(s.unitOrder, tx.newUnits...)
	s.commits++
	return nil
}

// ─── memTx ──────────────────────────────────────────────────

type memTx struct {
	store    *MemoryStore
	cases    map[string]model.Case
	units    map[string]model.Unit
	newCases []string
	newUnits []string
}

func (t *memTx) GetCase(ctx context.Context, id string) (*model.Case, error) {
	if c, ok := t.cases[id]; ok {
		out := c.Clone()
		return &out, nil
	}
	return t.store.GetCase(ctx, id)
}

func (t *memTx) GetUnit(ctx context.Context, id string) (*model.Unit, error) {
	if u, ok := t.units[id]; ok {
		out := u.Clone()
		return &out, nil
	}
	return t.store.GetUnit(ctx, id)
}

func (t *memTx) InsertCase(_ context.Context, c *model.Case) error {
	if _, staged := t.cases[c.ID]; staged {
		return fmt.Errorf("insert case %s: duplicate id", c.ID)
	}
	t.cases[c.ID] = c.Clone()
	t.newCases = append(t.newCases, c.ID)
	return nil
}

func (t *memTx) InsertUnit(_ context.Context, u *model.Unit) error {
	if _, staged := t.units[u.ID]; staged {
		return fmt.Errorf("insert unit %s: duplicate id", u.ID)
	}
	t.units[u.ID] = u.Clone()
	t.newUnits = append(t.newUnits, u.ID)
	return nil
}

func (t *memTx) UpdateCase(ctx context.Context, c *model.Case) error {
	if _, err := t.GetCase(ctx, c.ID); err != nil {
		return err
	}
	t.cases[c.ID] = c.Clone()
	return nil
}

func (t *memTx) UpdateUnit(ctx context.Context, u *model.Unit) error {
	if _, err := t.GetUnit(ctx, u.ID); err != nil {
		return err
	}
	t.units[u.ID] = u.Clone()
	return nil
}
