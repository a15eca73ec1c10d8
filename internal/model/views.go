package model

import "time"

// ─── Read-side views ────────────────────────────────────────

// UnitSummary is the slice of a unit shown next to a case.
type UnitSummary struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Category UnitCategory `json:"category"`
	Status   UnitStatus   `json:"status"`
	Phone    string       `json:"phone"`
}

// Summary projects a unit for embedding in case views.
func (u *Unit) Summary() *UnitSummary {
	return &UnitSummary{
		ID:       u.ID,
		Name:     u.Name,
		Category: u.Category,
		Status:   u.Status,
		Phone:    u.Phone,
	}
}

// CaseView is a case with its reporter and assigned unit resolved.
type CaseView struct {
	Case
	Reporter     *Reporter    `json:"reporter,omitempty"`
	AssignedUnit *UnitSummary `json:"assigned_unit,omitempty"`
}

// Assignment is the case <-> unit binding returned by a successful claim.
type Assignment struct {
	Case       Case      `json:"case"`
	Unit       Unit      `json:"unit"`
	AssignedAt time.Time `json:"assigned_at"`
	// Straight-line distance between case and unit positions. Not an ETA.
	DistanceKm float64 `json:"distance_km"`
}

// FeedView is what dashboards receive on each poll.
type FeedView struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Role        Role               `json:"role"`
	Pending     []CaseView         `json:"pending"`
	Active      []CaseView         `json:"active"`
	Units       []Unit             `json:"units"`
	UnitCounts  map[UnitStatus]int `json:"unit_counts,omitempty"`
}
