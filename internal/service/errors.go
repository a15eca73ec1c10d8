// Package service implements the dispatch core: unit registry, case store,
// assignment coordinator and polling feed.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shiva/sosdispatch/internal/model"
	"github.com/shiva/sosdispatch/internal/repository"
)

// ─── Errors ─────────────────────────────────────────────────

var (
	// ErrNotFound is returned when a case or unit id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidLocation is returned when coordinates are not exactly two finite numbers.
	ErrInvalidLocation = errors.New("invalid location: need [lon, lat]")

	// ErrInvalidTransition is returned when the case state machine or the
	// unit status rules refuse a change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrCaseNotClaimable is returned when a claim targets a case that is not pending.
	ErrCaseNotClaimable = errors.New("case is not pending")

	// ErrUnitUnavailable is returned when a claim targets a unit that is not available.
	ErrUnitUnavailable = errors.New("unit is not available")

	// ErrStorageFailure is returned when the store fails mid-operation.
	// Nothing from the failed operation was persisted.
	ErrStorageFailure = errors.New("storage failure")

	// ErrInvalidUnit is returned when a unit registration is malformed.
	ErrInvalidUnit = errors.New("invalid unit")

	// ErrInvalidCategory is returned for an unknown case category.
	ErrInvalidCategory = errors.New("invalid category")
)

// domainErrors pass through classifyError untouched.
var domainErrors = []error{
	ErrNotFound, ErrInvalidLocation, ErrInvalidTransition, ErrCaseNotClaimable,
	ErrUnitUnavailable, ErrStorageFailure, ErrInvalidUnit, ErrInvalidCategory,
}

// classifyError maps repository and model errors to service errors.
// Anything unrecognised is a storage failure.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}

	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, model.ErrBadTransition):
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: timed out: %v", ErrStorageFailure, err)
	}
	return fmt.Errorf("%w: %v", ErrStorageFailure, err)
}
