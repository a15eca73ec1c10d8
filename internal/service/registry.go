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
)

func caseKey(id string) string { return "case:" + id }
func unitKey(id string) string { return "unit:" + id }

// UnitSpec is the input to Register.
type UnitSpec struct {
	Name      string             `json:"name"`
	Category  model.UnitCategory `json:"category"`
	Phone     string             `json:"phone"`
	Personnel []string           `json:"personnel"`
	Location  model.Location     `json:"location"`
}

// ─── UnitRegistry ───────────────────────────────────────────

// UnitRegistry owns unit records outside of assignments.
//
// Operator status writes take the unit's key lock, the same lock the
// Coordinator takes for claim and release, so a toggle can never interleave
// with a claim on the same unit.
type UnitRegistry struct {
	store repository.Store
	locks *keylock.Locker
	now   func() time.Time
}

// NewUnitRegistry creates a registry. locks must be shared with the Coordinator.
func NewUnitRegistry(store repository.Store, locks *keylock.Locker) *UnitRegistry {
	return &UnitRegistry{store: store, locks: locks, now: time.Now}
}

// Register creates an available unit. Names are not required to be unique.
func (r *UnitRegistry) Register(ctx context.Context, spec UnitSpec) (*model.Unit, error) {
	name, phone := strings.TrimSpace(spec.Name), strings.TrimSpace(spec.Phone)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidUnit)
	}
	if phone == "" {
		return nil, fmt.Errorf("%w: phone is required", ErrInvalidUnit)
	}
	category := spec.Category
	if category == "" {
		category = model.UnitAmbulance
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidUnit, category)
	}
	if err := spec.Location.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}

	now := r.now().UTC()
	u := &model.Unit{
		ID:        uuid.NewString(),
		Name:      name,
		Category:  category,
		Status:    model.UnitAvailable,
		Phone:     phone,
		Personnel: append([]string(nil), spec.Personnel...),
		Location:  spec.Location,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := r.store.InTx(ctx, func(tx repository.Tx) error {
		return tx.InsertUnit(ctx, u)
	})
	if err != nil {
		return nil, classifyError(err)
	}

	log.Printf("[registry] Registered %s %q as unit %s", u.Category, u.Name, u.ID)
	return u, nil
}

// List returns all units, newest first, from one snapshot.
func (r *UnitRegistry) List(ctx context.Context) ([]model.Unit, error) {
	snap, err := r.store.Snapshot(ctx, model.CaseFilter{})
	if err != nil {
		return nil, classifyError(err)
	}
	return snap.Units, nil
}

func (r *UnitRegistry) Get(ctx context.Context, id string) (*model.Unit, error) {
	u, err := r.store.GetUnit(ctx, id)
	if err != nil {
		return nil, classifyError(err)
	}
	return u, nil
}

// SetStatus is the operator's status toggle.
//
// Rules:
//   - on_call is written only by the Coordinator and is always rejected here.
//   - available and busy are rejected while the unit is bound to a case.
//   - maintenance is always accepted. A bound unit keeps its case link, and
//     the case's later release leaves the maintenance status in place.
//
// task, when non-nil, replaces the current task label. Moving to available
// without a task clears the label.
func (r *UnitRegistry) SetStatus(ctx context.Context, unitID string, status model.UnitStatus, task *string) (*model.Unit, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown unit status %q", ErrInvalidUnit, status)
	}
	if status == model.UnitOnCall {
		return nil, fmt.Errorf("%w: on_call is set by claim only", ErrInvalidTransition)
	}

	unlock := r.locks.Lock(unitKey(unitID))
	defer unlock()

	var out *model.Unit
	err := r.store.InTx(ctx, func(tx repository.Tx) error {
		u, err := tx.GetUnit(ctx, unitID)
		if err != nil {
			return err
		}
		if u.Bound() && status != model.UnitMaintenance {
			return fmt.Errorf("%w: unit %s is bound to case %s", ErrInvalidTransition, u.ID, u.CurrentCaseID)
		}

		u.Status = status
		switch {
		case task != nil:
			u.CurrentTask = strings.TrimSpace(*task)
		case status == model.UnitAvailable:
			u.CurrentTask = ""
		}
		u.UpdatedAt = r.now().UTC()
		if err := tx.UpdateUnit(ctx, u); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, classifyError(err)
	}

	log.Printf("[registry] Unit %s → %s", out.ID, out.Status)
	return out, nil
}

// UpdateLocation records a unit's last-known position.
func (r *UnitRegistry) UpdateLocation(ctx context.Context, unitID string, loc model.Location) (*model.Unit, error) {
	if err := loc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}

	unlock := r.locks.Lock(unitKey(unitID))
	defer unlock()

	var out *model.Unit
	err := r.store.InTx(ctx, func(tx repository.Tx) error {
		u, err := tx.GetUnit(ctx, unitID)
		if err != nil {
			return err
		}
		u.Location = model.Location{
			Coordinates: append([]float64(nil), loc.Coordinates...),
			Address:     loc.Address,
		}
		u.UpdatedAt = r.now().UTC()
		if err := tx.UpdateUnit(ctx, u); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, classifyError(err)
	}
	return out, nil
}
