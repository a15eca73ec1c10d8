// Package model contains domain models for the SOS dispatch core.
// These structs map to the PostgreSQL schema in internal/repository/migrations.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shiva/sosdispatch/pkg/geo"
)

// ─── Enums ──────────────────────────────────────────────────

type Role string

const (
	RolePatient        Role = "patient"
	RoleDoctor         Role = "doctor"
	RoleHospitalAdmin  Role = "hospital_admin"
	RoleEmergencyAdmin Role = "emergency_admin"
)

// IsResponder reports whether the role works the dispatch side of the feed.
func (r Role) IsResponder() bool {
	switch r {
	case RoleDoctor, RoleHospitalAdmin, RoleEmergencyAdmin:
		return true
	}
	return false
}

type UnitCategory string

const (
	UnitAmbulance     UnitCategory = "ambulance"
	UnitMobileClinic  UnitCategory = "mobile_clinic"
	UnitRescueVehicle UnitCategory = "rescue_vehicle"
)

func (c UnitCategory) Valid() bool {
	switch c {
	case UnitAmbulance, UnitMobileClinic, UnitRescueVehicle:
		return true
	}
	return false
}

type UnitStatus string

const (
	UnitAvailable   UnitStatus = "available"
	UnitOnCall      UnitStatus = "on_call"
	UnitBusy        UnitStatus = "busy"
	UnitMaintenance UnitStatus = "maintenance"
)

func (s UnitStatus) Valid() bool {
	switch s {
	case UnitAvailable, UnitOnCall, UnitBusy, UnitMaintenance:
		return true
	}
	return false
}

// AllUnitStatuses lists unit statuses in display order.
var AllUnitStatuses = []UnitStatus{UnitAvailable, UnitOnCall, UnitBusy, UnitMaintenance}

type CaseCategory string

const (
	CaseAmbulance CaseCategory = "ambulance"
	CasePolice    CaseCategory = "police"
	CaseFire      CaseCategory = "fire"
	CaseGeneral   CaseCategory = "general"
)

func (c CaseCategory) Valid() bool {
	switch c {
	case CaseAmbulance, CasePolice, CaseFire, CaseGeneral:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ─── Location ───────────────────────────────────────────────

// Location is a last-known position. Coordinates are [lon, lat] (GeoJSON order).
type Location struct {
	Coordinates []float64 `json:"coordinates"`
	Address     string    `json:"address,omitempty"`
}

// UnmarshalJSON rejects coordinates that are not plain JSON numbers, so a
// null or quoted value never decodes to 0. Errors wrap geo.ErrMalformedPair.
// The pair length is left to Validate.
func (l *Location) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) == 0 || data[0] != '{' {
		return fmt.Errorf("%w: location must be an object", geo.ErrMalformedPair)
	}
	var raw struct {
		Coordinates []json.RawMessage `json:"coordinates"`
		Address     string            `json:"address"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", geo.ErrMalformedPair, err)
	}

	var coords []float64
	if raw.Coordinates != nil {
		coords = make([]float64, len(raw.Coordinates))
		for i, elem := range raw.Coordinates {
			elem = bytes.TrimSpace(elem)
			if len(elem) == 0 || !(elem[0] == '-' || (elem[0] >= '0' && elem[0] <= '9')) {
				return fmt.Errorf("%w: value %d is %s, not a number", geo.ErrMalformedPair, i, elem)
			}
			if err := json.Unmarshal(elem, &coords[i]); err != nil {
				return fmt.Errorf("%w: value %d: %v", geo.ErrMalformedPair, i, err)
			}
		}
	}
	*l = Location{Coordinates: coords, Address: raw.Address}
	return nil
}

// Point converts the coordinate pair to a geo.Point. Call Validate first.
func (l Location) Point() geo.Point {
	return geo.Point{Lon: l.Coordinates[0], Lat: l.Coordinates[1]}
}

// Validate checks that exactly two finite coordinates are present.
func (l Location) Validate() error {
	return geo.ValidatePair(l.Coordinates)
}

func (l Location) clone() Location {
	out := l
	if l.Coordinates != nil {
		out.Coordinates = append([]float64(nil), l.Coordinates...)
	}
	return out
}

// ─── Domain Models ──────────────────────────────────────────

// Unit maps to the `units` table.
type Unit struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Category      UnitCategory `json:"category"`
	Status        UnitStatus   `json:"status"`
	CurrentTask   string       `json:"current_task,omitempty"`
	CurrentCaseID string       `json:"current_case_id,omitempty"`
	Phone         string       `json:"phone"`
	Personnel     []string     `json:"personnel,omitempty"`
	Location      Location     `json:"location"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Bound reports whether the unit still carries an assignment link.
func (u *Unit) Bound() bool {
	return u.CurrentCaseID != ""
}

// Clone returns a deep copy safe to hand out of a store.
func (u Unit) Clone() Unit {
	out := u
	out.Location = u.Location.clone()
	if u.Personnel != nil {
		out.Personnel = append([]string(nil), u.Personnel...)
	}
	return out
}

// Case maps to the `emergency_cases` table.
type Case struct {
	ID             string       `json:"id"`
	ReporterID     string       `json:"reporter_id"`
	Category       CaseCategory `json:"category"`
	Severity       Severity     `json:"severity"`
	TriageScore    int          `json:"triage_score"`
	Status         CaseStatus   `json:"status"`
	Location       Location     `json:"location"`
	AssignedUnitID string       `json:"assigned_unit_id,omitempty"`
	Description    string       `json:"description,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	ClosedAt       *time.Time   `json:"closed_at,omitempty"`
}

// Clone returns a deep copy safe to hand out of a store.
func (c Case) Clone() Case {
	out := c
	out.Location = c.Location.clone()
	if c.ClosedAt != nil {
		t := *c.ClosedAt
		out.ClosedAt = &t
	}
	return out
}

// Reporter is the read-side view of the user who raised a case.
type Reporter struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// CaseFilter narrows case listings. Zero value matches everything.
type CaseFilter struct {
	Statuses   []CaseStatus
	ReporterID string
}

// Match reports whether c passes the filter.
func (f CaseFilter) Match(c *Case) bool {
	if f.ReporterID != "" && c.ReporterID != f.ReporterID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if c.Status == s {
			return true
		}
	}
	return false
}

// Snapshot is a point-in-time copy of store state.
type Snapshot struct {
	Cases []Case // newest first
	Units []Unit // newest first
}

// Principal is the authenticated caller as supplied by the auth layer.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}
