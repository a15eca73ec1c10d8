package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shiva/sosdispatch/internal/model"
	"github.com/shiva/sosdispatch/internal/notify"
	"github.com/shiva/sosdispatch/internal/repository"
	"github.com/shiva/sosdispatch/pkg/geo"
	"github.com/shiva/sosdispatch/pkg/keylock"
)

// DefaultNotifyTimeout bounds one notification attempt.
const DefaultNotifyTimeout = 3 * time.Second

// maxReleaseAttempts bounds how often Release re-reads a case whose unit
// link changed between the unlocked read and taking the locks.
const maxReleaseAttempts = 3

// ─── Coordinator ────────────────────────────────────────────

// Coordinator is the only writer of the case <-> unit binding.
//
// Concurrency model:
//   - Claim and Release lock case:<id> and unit:<id> through a shared
//     keylock.Locker. Keys are taken in sorted order, so overlapping
//     operations cannot deadlock.
//   - Under the locks, both records are re-read and written inside one
//     store transaction. Either both rows change or neither does.
//   - PostgresStore additionally row-locks case then unit with
//     SELECT ... FOR UPDATE, which serializes claims across processes.
//   - Notifications run after unlock in their own goroutine with a
//     detached timeout; their failure is logged only.
//
// Two responders claiming the same unit at the same moment:
//
//	A: locks case:1, unit:7 → unit available → commit → unlock (success)
//	B: blocks on unit:7 → re-reads → unit on_call → UnitUnavailable
type Coordinator struct {
	store         repository.Store
	locks         *keylock.Locker
	notifier      notify.Notifier
	notifyTimeout time.Duration
	now           func() time.Time

	inflight sync.WaitGroup
}

// NewCoordinator creates a coordinator. notifier may be nil. locks must be
// the same Locker the UnitRegistry uses.
func NewCoordinator(store repository.Store, locks *keylock.Locker, notifier notify.Notifier, notifyTimeout time.Duration) *Coordinator {
	if notifyTimeout <= 0 {
		notifyTimeout = DefaultNotifyTimeout
	}
	return &Coordinator{
		store:         store,
		locks:         locks,
		notifier:      notifier,
		notifyTimeout: notifyTimeout,
		now:           time.Now,
	}
}

// TaskLabel is the current_task written on a unit claimed for caseID.
func TaskLabel(caseID string) string {
	return fmt.Sprintf("Responding to SOS: %s", caseID)
}

// Claim binds a pending case to an available unit.
//
// Flow:
//  1. Lock case and unit keys in canonical order.
//  2. Re-read both records inside one store transaction.
//  3. Case must be pending (ErrCaseNotClaimable), unit must be available
//     (ErrUnitUnavailable). Missing ids give ErrNotFound.
//  4. Write case=assigned+unit link and unit=on_call+task+case link; commit.
//  5. Unlock, then page the unit in the background.
func (c *Coordinator) Claim(ctx context.Context, caseID, unitID string) (*model.Assignment, error) {
	log.Printf("[claim] Case %s ← unit %s", caseID, unitID)

	unlock := c.locks.Lock(caseKey(caseID), unitKey(unitID))
	var asg *model.Assignment
	err := c.store.InTx(ctx, func(tx repository.Tx) error {
		cs, err := tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		u, err := tx.GetUnit(ctx, unitID)
		if err != nil {
			return err
		}

		if cs.Status != model.CasePending {
			return fmt.Errorf("%w: case %s is %s", ErrCaseNotClaimable, cs.ID, cs.Status)
		}
		if u.Status != model.UnitAvailable || u.Bound() {
			return fmt.Errorf("%w: unit %s is %s", ErrUnitUnavailable, u.ID, u.Status)
		}

		now := c.now().UTC()
		if err := cs.Apply(model.CaseAssigned, u.ID, now); err != nil {
			return err
		}
		u.Status = model.UnitOnCall
		u.CurrentTask = TaskLabel(cs.ID)
		u.CurrentCaseID = cs.ID
		u.UpdatedAt = now

		if err := tx.UpdateCase(ctx, cs); err != nil {
			return err
		}
		if err := tx.UpdateUnit(ctx, u); err != nil {
			return err
		}

		asg = &model.Assignment{
			Case:       *cs,
			Unit:       *u,
			AssignedAt: now,
			DistanceKm: geo.RoundKm(geo.HaversineKm(cs.Location.Point(), u.Location.Point())),
		}
		return nil
	})
	unlock()

	if err != nil {
		err = classifyError(err)
		log.Printf("[claim] ✗ Case %s ← unit %s: %v", caseID, unitID, err)
		return nil, err
	}

	c.dispatch(notify.Notification{
		Kind:   notify.KindAssigned,
		UnitID: asg.Unit.ID,
		CaseID: asg.Case.ID,
		Task:   asg.Unit.CurrentTask,
		At:     asg.AssignedAt,
	})

	log.Printf("[claim] ✓ Case %s assigned to unit %s (%.2f km)", caseID, unitID, asg.DistanceKm)
	return asg, nil
}

// Release closes a case as resolved or cancelled and frees its unit.
//
// Release is idempotent: on a case that is already terminal it returns the
// case unchanged, whatever terminalStatus was asked for.
//
// The unit reverts to available only if it is still on_call for this case.
// A unit an operator moved to maintenance mid-call keeps that status; only
// its case link is dropped.
func (c *Coordinator) Release(ctx context.Context, caseID string, terminalStatus model.CaseStatus) (*model.Case, error) {
	if !terminalStatus.Terminal() {
		return nil, fmt.Errorf("%w: release needs resolved or cancelled, got %q", ErrInvalidTransition, terminalStatus)
	}

	for attempt := 0; attempt < maxReleaseAttempts; attempt++ {
		cur, err := c.store.GetCase(ctx, caseID)
		if err != nil {
			return nil, classifyError(err)
		}
		if cur.Status.Terminal() {
			return cur, nil
		}

		res, err := c.releaseLocked(ctx, caseID, cur.AssignedUnitID, terminalStatus)
		if err != nil {
			err = classifyError(err)
			log.Printf("[release] ✗ Case %s → %s: %v", caseID, terminalStatus, err)
			return nil, err
		}
		if res.retry {
			continue
		}

		if res.unitID != "" {
			c.dispatch(notify.Notification{
				Kind:   notify.KindReleased,
				UnitID: res.unitID,
				CaseID: caseID,
				At:     res.c.UpdatedAt,
			})
		}
		if res.changed {
			log.Printf("[release] ✓ Case %s → %s (unit=%q freed=%v)", caseID, res.c.Status, res.unitID, res.unitFreed)
		}
		return res.c, nil
	}
	return nil, fmt.Errorf("%w: case %s kept changing during release", ErrStorageFailure, caseID)
}

type releaseResult struct {
	c         *model.Case
	unitID    string // unit whose link was dropped, if any
	unitFreed bool   // unit went back to available
	changed   bool
	retry     bool
}

// releaseLocked runs one release attempt under the case and unit locks.
// expectUnit is the unit seen before locking; if the case now points
// elsewhere the attempt is abandoned with retry set.
func (c *Coordinator) releaseLocked(ctx context.Context, caseID, expectUnit string, to model.CaseStatus) (*releaseResult, error) {
	keys := []string{caseKey(caseID)}
	if expectUnit != "" {
		keys = append(keys, unitKey(expectUnit))
	}
	unlock := c.locks.Lock(keys...)
	defer unlock()

	res := &releaseResult{}
	err := c.store.InTx(ctx, func(tx repository.Tx) error {
		cs, err := tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if cs.Status.Terminal() {
			res.c = cs
			return nil
		}
		if cs.AssignedUnitID != expectUnit {
			res.retry = true
			return nil
		}

		now := c.now().UTC()
		if err := cs.Apply(to, "", now); err != nil {
			return err
		}
		if err := tx.UpdateCase(ctx, cs); err != nil {
			return err
		}

		if expectUnit != "" {
			u, err := tx.GetUnit(ctx, expectUnit)
			if err != nil {
				return err
			}
			if u.CurrentCaseID == caseID {
				if u.Status == model.UnitOnCall {
					u.Status = model.UnitAvailable
					u.CurrentTask = ""
					res.unitFreed = true
				}
				u.CurrentCaseID = ""
				u.UpdatedAt = now
				if err := tx.UpdateUnit(ctx, u); err != nil {
					return err
				}
			}
			res.unitID = u.ID
		}

		res.c = cs
		res.changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Drain waits for in-flight notifications or until ctx is done.
func (c *Coordinator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch pages a unit without blocking the caller.
func (c *Coordinator) dispatch(n notify.Notification) {
	if c.notifier == nil {
		return
	}
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.notifyTimeout)
		defer cancel()
		if err := c.notifier.Notify(ctx, n); err != nil {
			log.Printf("[notify] ✗ %s unit %s case %s: %v", n.Kind, n.UnitID, n.CaseID, err)
		}
	}()
}
