package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shiva/sosdispatch/internal/model"
	"github.com/shiva/sosdispatch/internal/repository"
	"github.com/shiva/sosdispatch/pkg/keylock"
	"github.com/shiva/sosdispatch/pkg/triage"
)

// CreateCaseInput is what a reporter submits when raising an SOS.
type CreateCaseInput struct {
	Reporter    model.Principal
	Category    model.CaseCategory
	Severity    model.Severity // honoured only for responders
	Location    model.Location
	Description string
}

// ─── CaseService ────────────────────────────────────────────

// CaseService stores emergency cases and serves joined case listings.
type CaseService struct {
	store repository.Store
	dir   repository.ReporterDirectory
	locks *keylock.Locker
	now   func() time.Time
}

// NewCaseService creates a case service. dir may be nil, in which case
// listings carry no reporter details.
func NewCaseService(store repository.Store, dir repository.ReporterDirectory, locks *keylock.Locker) *CaseService {
	return &CaseService{store: store, dir: dir, locks: locks, now: time.Now}
}

// Create stores a new pending case.
//
// SOS raised by a patient is always critical. Responders logging a case on
// someone's behalf may pick the severity; it still defaults to critical.
func (s *CaseService) Create(ctx context.Context, in CreateCaseInput) (*model.Case, error) {
	if err := in.Location.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	category := in.Category
	if category == "" {
		category = model.CaseAmbulance
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	severity := model.SeverityCritical
	if in.Reporter.Role.IsResponder() && in.Severity != "" {
		if !in.Severity.Valid() {
			return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidCategory, in.Severity)
		}
		severity = in.Severity
	}

	now := s.now().UTC()
	description := strings.TrimSpace(in.Description)
	c := &model.Case{
		ID:          uuid.NewString(),
		ReporterID:  in.Reporter.ID,
		Category:    category,
		Severity:    severity,
		TriageScore: triage.Score(description),
		Status:      model.CasePending,
		Location: model.Location{
			Coordinates: append([]float64(nil), in.Location.Coordinates...),
			Address:     strings.TrimSpace(in.Location.Address),
		},
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		return tx.InsertCase(ctx, c)
	})
	if err != nil {
		return nil, classifyError(err)
	}

	log.Printf("[cases] New %s SOS %s from %s (triage %d)", c.Category, c.ID, c.ReporterID, c.TriageScore)
	return c, nil
}

// List returns matching cases, newest first, with reporter and unit joined.
// Cases and units come from the same snapshot.
func (s *CaseService) List(ctx context.Context, f model.CaseFilter) ([]model.CaseView, error) {
	snap, err := s.store.Snapshot(ctx, f)
	if err != nil {
		return nil, classifyError(err)
	}
	return joinCases(ctx, s.dir, snap.Cases, indexUnits(snap.Units)), nil
}

// Get returns one case with its reporter and assigned unit.
func (s *CaseService) Get(ctx context.Context, id string) (*model.CaseView, error) {
	c, u, err := s.store.GetCaseWithUnit(ctx, id)
	if err != nil {
		return nil, classifyError(err)
	}
	units := map[string]*model.Unit{}
	if u != nil {
		units[u.ID] = u
	}
	views := joinCases(ctx, s.dir, []model.Case{*c}, units)
	return &views[0], nil
}

// Transition is a raw status write on the case record alone. It does not
// touch the unit side of an assignment; claims and releases must go through
// the Coordinator instead.
func (s *CaseService) Transition(ctx context.Context, caseID string, to model.CaseStatus, unitID string) (*model.Case, error) {
	unlock := s.locks.Lock(caseKey(caseID))
	defer unlock()

	var out *model.Case
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		c, err := tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if err := c.Apply(to, unitID, s.now().UTC()); err != nil {
			return err
		}
		if err := tx.UpdateCase(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, classifyError(err)
	}
	return out, nil
}

// ─── Joins ──────────────────────────────────────────────────

func indexUnits(units []model.Unit) map[string]*model.Unit {
	idx := make(map[string]*model.Unit, len(units))
	for i := range units {
		idx[units[i].ID] = &units[i]
	}
	return idx
}

// joinCases resolves reporters and assigned units. A directory failure only
// drops reporter details; it is logged, not returned.
func joinCases(ctx context.Context, dir repository.ReporterDirectory, cases []model.Case, units map[string]*model.Unit) []model.CaseView {
	var reporters map[string]model.Reporter
	if dir != nil && len(cases) > 0 {
		seen := make(map[string]bool, len(cases))
		var ids []string
		for _, c := range cases {
			if !seen[c.ReporterID] {
				seen[c.ReporterID] = true
				ids = append(ids, c.ReporterID)
			}
		}
		var err error
		if reporters, err = dir.Lookup(ctx, ids); err != nil {
			log.Printf("[cases] reporter lookup failed: %v", err)
		}
	}

	views := make([]model.CaseView, len(cases))
	for i, c := range cases {
		views[i] = model.CaseView{Case: c}
		if r, ok := reporters[c.ReporterID]; ok {
			r := r
			views[i].Reporter = &r
		}
		if u, ok := units[c.AssignedUnitID]; ok && c.AssignedUnitID != "" {
			views[i].AssignedUnit = u.Summary()
		}
	}
	return views
}
