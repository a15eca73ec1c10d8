package model

import (
	"errors"
	"fmt"
	"time"
)

type CaseStatus string

const (
	CasePending   CaseStatus = "pending"
	CaseAssigned  CaseStatus = "assigned"
	CaseResolved  CaseStatus = "resolved"
	CaseCancelled CaseStatus = "cancelled"
)

func (s CaseStatus) Valid() bool {
	switch s {
	case CasePending, CaseAssigned, CaseResolved, CaseCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s CaseStatus) Terminal() bool {
	return s == CaseResolved || s == CaseCancelled
}

// ActiveCaseStatuses are the statuses shown on dispatch dashboards.
var ActiveCaseStatuses = []CaseStatus{CasePending, CaseAssigned}

// ErrBadTransition is returned by Case.Apply. The service layer maps it to
// its own InvalidTransition error.
var ErrBadTransition = errors.New("transition not allowed")

var caseTransitions = map[CaseStatus][]CaseStatus{
	CasePending:  {CaseAssigned, CaseCancelled},
	CaseAssigned: {CaseResolved, CaseCancelled},
}

// CanTransition reports whether the case state machine allows from -> to.
//
//	pending  -> assigned | cancelled
//	assigned -> resolved | cancelled
//
// resolved and cancelled are terminal; assigned -> assigned is rejected.
func CanTransition(from, to CaseStatus) bool {
	for _, next := range caseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Apply moves the case to status `to`, keeping the assigned-unit link in step
// with the status: unitID is required for `assigned` and cleared otherwise.
func (c *Case) Apply(to CaseStatus, unitID string, now time.Time) error {
	if !CanTransition(c.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, c.Status, to)
	}
	if to == CaseAssigned && unitID == "" {
		return fmt.Errorf("%w: assigned requires a unit", ErrBadTransition)
	}

	c.Status = to
	c.UpdatedAt = now
	if to == CaseAssigned {
		c.AssignedUnitID = unitID
	} else {
		c.AssignedUnitID = ""
	}
	if to.Terminal() {
		closed := now
		c.ClosedAt = &closed
	}
	return nil
}
