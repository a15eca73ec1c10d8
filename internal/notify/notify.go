// Package notify pages response units about assignment changes.
//
// Delivery is best effort. The coordinator calls a Notifier after its locks
// are released, in a goroutine with its own timeout, and only logs failures.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Kind says what happened to the unit.
type Kind string

const (
	KindAssigned Kind = "assigned"
	KindReleased Kind = "released"
)

// Notification is one page to a unit.
type Notification struct {
	Kind   Kind      `json:"kind"`
	UnitID string    `json:"unit_id"`
	CaseID string    `json:"case_id"`
	Task   string    `json:"task,omitempty"`
	At     time.Time `json:"at"`
}

// Notifier delivers notifications to units.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ─── LogNotifier ────────────────────────────────────────────

// LogNotifier writes notifications to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	log.Printf("[notify] unit %s %s for case %s", n.UnitID, n.Kind, n.CaseID)
	return nil
}

// ─── Multi ──────────────────────────────────────────────────

// Multi fans a notification out to every notifier in order. All of them are
// tried; failures are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", nt, err))
		}
	}
	return errors.Join(errs...)
}

// ─── Func ───────────────────────────────────────────────────

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }
