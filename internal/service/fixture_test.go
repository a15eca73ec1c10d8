package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shiva/sosdispatch/internal/model"
	"github.com/shiva/sosdispatch/internal/notify"
	"github.com/shiva/sosdispatch/internal/repository"
	"github.com/shiva/sosdispatch/pkg/keylock"
)

var (
	patient   = model.Principal{ID: "patient-1", Role: model.RolePatient}
	patient2  = model.Principal{ID: "patient-2", Role: model.RolePatient}
	responder = model.Principal{ID: "dispatcher-1", Role: model.RoleEmergencyAdmin}
)

type fixture struct {
	mem      *repository.MemoryStore
	dir      *repository.MemoryDirectory
	registry *UnitRegistry
	cases    *CaseService
	coord    *Coordinator
	feed     *FeedService
	notes    *recorder
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, nil, nil)
}

// newFixtureWith builds the services over a fresh MemoryStore, optionally
// wrapped, notifying n (a recorder when nil).
func newFixtureWith(t *testing.T, wrap func(*repository.MemoryStore) repository.Store, n notify.Notifier) *fixture {
	t.Helper()
	f := &fixture{
		mem:   repository.NewMemoryStore(),
		dir:   repository.NewMemoryDirectory(),
		notes: &recorder{},
	}
	var store repository.Store = f.mem
	if wrap != nil {
		store = wrap(f.mem)
	}
	if n == nil {
		n = f.notes
	}
	locks := keylock.New()
	f.registry = NewUnitRegistry(store, locks)
	f.cases = NewCaseService(store, f.dir, locks)
	f.coord = NewCoordinator(store, locks, n, 0)
	f.feed = NewFeedService(store, f.dir)
	f.dir.Put(model.Reporter{ID: patient.ID, Name: "Asha", Phone: "555-0101"})
	return f
}

func (f *fixture) unit(t *testing.T, name string) *model.Unit {
	t.Helper()
	u, err := f.registry.Register(context.Background(), UnitSpec{
		Name:     name,
		Phone:    "555-0199",
		Location: model.Location{Coordinates: []float64{77.59, 12.97}},
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) sos(t *testing.T, who model.Principal) *model.Case {
	t.Helper()
	c, err := f.cases.Create(context.Background(), CreateCaseInput{
		Reporter:    who,
		Location:    model.Location{Coordinates: []float64{77.60, 12.98}, Address: "MG Road"},
		Description: "chest pain",
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) caseStatus(t *testing.T, id string) *model.Case {
	t.Helper()
	c, err := f.mem.GetCase(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (f *fixture) unitState(t *testing.T, id string) *model.Unit {
	t.Helper()
	u, err := f.mem.GetUnit(context.Background(), id)
	require.NoError(t, err)
	return u
}

// ─── Notifier doubles ───────────────────────────────────────

type recorder struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recorder) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.notes...)
}

// ─── Faulty store ───────────────────────────────────────────

var errDiskFull = errors.New("disk full")

// faultyStore fails UpdateUnit inside transactions while failUnit is set.
type faultyStore struct {
	repository.Store
	failUnit atomic.Bool
}

func (s *faultyStore) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.Store.InTx(ctx, func(tx repository.Tx) error {
		return fn(&faultyTx{Tx: tx, store: s})
	})
}

type faultyTx struct {
	repository.Tx
	store *faultyStore
}

func (t *faultyTx) UpdateUnit(ctx context.Context, u *model.Unit) error {
	if t.store.failUnit.Load() {
		return errDiskFull
	}
	return t.Tx.UpdateUnit(ctx, u)
}
