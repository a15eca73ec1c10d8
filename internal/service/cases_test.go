package service

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiva/sosdispatch/internal/model"
	"github.com/shiva/sosdispatch/internal/repository"
)

func TestCreate_InvalidLocation(t *testing.T) {
	f := newFixture(t)
	bad := [][]float64{
		nil,
		{},
		{77.59},
		{77.59, 12.97, 0},
		{math.NaN(), 12.97},
		{77.59, math.Inf(1)},
	}
	for _, coords := range bad {
		_, err := f.cases.Create(context.Background(), CreateCaseInput{
			Reporter: patient,
			Location: model.Location{Coordinates: coords},
		})
		assert.ErrorIs(t, err, ErrInvalidLocation, "coords %v", coords)
	}

	views, err := f.cases.List(context.Background(), model.CaseFilter{})
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestCreate_SeverityPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loc := model.Location{Coordinates: []float64{77.59, 12.97}}

	c, err := f.cases.Create(ctx, CreateCaseInput{
		Reporter: patient,
		Category: model.CaseFire,
		Severity: model.SeverityLow,
		Location: loc,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SeverityCritical, c.Severity, "patient SOS is always critical")
	assert.Equal(t, model.CaseFire, c.Category)
	assert.Equal(t, model.CasePending, c.Status)

	c, err = f.cases.Create(ctx, CreateCaseInput{Reporter: responder, Severity: model.SeverityMedium, Location: loc})
	require.NoError(t, err)
	assert.Equal(t, model.SeverityMedium, c.Severity)
	assert.Equal(t, model.CaseAmbulance, c.Category)

	_, err = f.cases.Create(ctx, CreateCaseInput{Reporter: responder, Severity: "apocalyptic", Location: loc})
	assert.ErrorIs(t, err, ErrInvalidCategory)
	_, err = f.cases.Create(ctx, CreateCaseInput{Reporter: patient, Category: "plumbing", Location: loc})
	assert.ErrorIs(t, err, ErrInvalidCategory)
}

func TestCreate_TriageScore(t *testing.T) {
	f := newFixture(t)
	c, err := f.cases.Create(context.Background(), CreateCaseInput{
		Reporter:    patient,
		Location:    model.Location{Coordinates: []float64{77.59, 12.97}},
		Description: "Chest pain and trouble BREATHING",
	})
	require.NoError(t, err)
	assert.Equal(t, 7, c.TriageScore)
}

func TestList_JoinsReporterAndUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.sos(t, patient)
	other := f.sos(t, patient2)
	u := f.unit(t, "Ambulance 1")
	_, err := f.coord.Claim(ctx, c.ID, u.ID)
	require.NoError(t, err)

	views, err := f.cases.List(ctx, model.CaseFilter{})
	require.NoError(t, err)
	require.Len(t, views, 2)

	// Newest first.
	assert.Equal(t, other.ID, views[0].ID)
	assert.Nil(t, views[0].Reporter, "patient-2 is not in the directory")
	assert.Nil(t, views[0].AssignedUnit)

	assert.Equal(t, c.ID, views[1].ID)
	require.NotNil(t, views[1].Reporter)
	assert.Equal(t, "Asha", views[1].Reporter.Name)
	require.NotNil(t, views[1].AssignedUnit)
	assert.Equal(t, u.ID, views[1].AssignedUnit.ID)
	assert.Equal(t, model.UnitOnCall, views[1].AssignedUnit.Status)

	mine, err := f.cases.List(ctx, model.CaseFilter{ReporterID: patient.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, c.ID, mine[0].ID)
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.sos(t, patient)
	u := f.unit(t, "Ambulance 1")
	_, err := f.coord.Claim(ctx, c.ID, u.ID)
	require.NoError(t, err)

	v, err := f.cases.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CaseAssigned, v.Status)
	require.NotNil(t, v.AssignedUnit)
	assert.Equal(t, "Ambulance 1", v.AssignedUnit.Name)

	_, err = f.cases.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// releaseOnReadStore resolves a case the first time a unit is read on its
// own, landing the release between the case read and the unit read.
type releaseOnReadStore struct {
	repository.Store
	fired   atomic.Bool
	release func()
}

func (s *releaseOnReadStore) GetUnit(ctx context.Context, id string) (*model.Unit, error) {
	if s.release != nil && s.fired.CompareAndSwap(false, true) {
		s.release()
	}
	return s.Store.GetUnit(ctx, id)
}

// assertCaseViewConsistent fails when a case and its unit disagree.
func assertCaseViewConsistent(t *testing.T, v *model.CaseView) bool {
	t.Helper()
	switch v.Status {
	case model.CaseAssigned:
		return assert.NotNil(t, v.AssignedUnit, "assigned case without a unit") &&
			assert.Equal(t, model.UnitOnCall, v.AssignedUnit.Status, "case assigned while its unit is %s", v.AssignedUnit.Status)
	default:
		return assert.Nil(t, v.AssignedUnit, "%s case still shows a unit", v.Status)
	}
}

func TestGet_ReadsCaseAndUnitTogether(t *testing.T) {
	var wrapped *releaseOnReadStore
	f := newFixtureWith(t, func(m *repository.MemoryStore) repository.Store {
		wrapped = &releaseOnReadStore{Store: m}
		return wrapped
	}, nil)
	ctx := context.Background()
	c := f.sos(t, patient)
	u := f.unit(t, "Ambulance 1")
	_, err := f.coord.Claim(ctx, c.ID, u.ID)
	require.NoError(t, err)

	wrapped.release = func() {
		_, err := f.coord.Release(ctx, c.ID, model.CaseResolved)
		assert.NoError(t, err)
	}

	v, err := f.cases.Get(ctx, c.ID)
	require.NoError(t, err)
	assertCaseViewConsistent(t, v)
}

func TestGet_NeverTornUnderConcurrentRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.unit(t, "Ambulance 1")

	var current atomic.Value
	var stop atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stop.Store(true)
		for i := 0; i < 200; i++ {
			c, err := f.cases.Create(ctx, CreateCaseInput{
				Reporter: patient,
				Location: model.Location{Coordinates: []float64{77.6, 12.9}},
			})
			if !assert.NoError(t, err) {
				return
			}
			current.Store(c.ID)
			if _, err := f.coord.Claim(ctx, c.ID, u.ID); !assert.NoError(t, err) {
				return
			}
			if _, err := f.coord.Release(ctx, c.ID, model.CaseResolved); !assert.NoError(t, err) {
				return
			}
		}
	}()

	for !stop.Load() {
		id, ok := current.Load().(string)
		if !ok {
			continue
		}
		v, err := f.cases.Get(ctx, id)
		if !assert.NoError(t, err) || !assertCaseViewConsistent(t, v) {
			break
		}
	}
	wg.Wait()
}

func TestTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.sos(t, patient)

	_, err := f.cases.Transition(ctx, c.ID, model.CaseResolved, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := f.cases.Transition(ctx, c.ID, model.CaseCancelled, "")
	require.NoError(t, err)
	assert.Equal(t, model.CaseCancelled, got.Status)
	assert.NotNil(t, got.ClosedAt)

	_, err = f.cases.Transition(ctx, c.ID, model.CasePending, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.cases.Transition(ctx, "missing", model.CaseCancelled, "")
	assert.ErrorIs(t, err, ErrNotFound)
}
