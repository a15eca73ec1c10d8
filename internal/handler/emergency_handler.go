package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/shiva/sosdispatch/internal/model"
	"github.com/shiva/sosdispatch/internal/service"
)

// EmergencyHandler serves SOS cases: intake, listing, claim and release.
type EmergencyHandler struct {
	cases *service.CaseService
	coord *service.Coordinator
}

// NewEmergencyHandler creates a new emergency handler.
func NewEmergencyHandler(cases *service.CaseService, coord *service.Coordinator) *EmergencyHandler {
	return &EmergencyHandler{cases: cases, coord: coord}
}

type createEmergencyRequest struct {
	Category    model.CaseCategory `json:"category"`
	Severity    model.Severity     `json:"severity"`
	Location    model.Location     `json:"location"`
	Description string             `json:"description"`
}

// Create handles POST /api/v1/emergencies
//
//	201: case created (pending)
//	400: malformed body, location, category or severity
func (h *EmergencyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEmergencyRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.cases.Create(r.Context(), service.CreateCaseInput{
		Reporter:    principal(r),
		Category:    req.Category,
		Severity:    req.Severity,
		Location:    req.Location,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// List handles GET /api/v1/emergencies?status=pending,assigned&reporter=<id>
//
// Patients always get only their own cases, whatever reporter they ask for.
func (h *EmergencyHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseCaseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if p := principal(r); !p.Role.IsResponder() {
		filter.ReporterID = p.ID
	}

	views, err := h.cases.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// Get handles GET /api/v1/emergencies/{id}
func (h *EmergencyHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.cases.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if p := principal(r); !p.Role.IsResponder() && v.ReporterID != p.ID {
		writeError(w, r, fmt.Errorf("%w: not your case", errForbidden))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type claimRequest struct {
	UnitID string `json:"unit_id"`
}

// Claim handles POST /api/v1/emergencies/{id}/claim
//
//	200: assignment created
//	404: case or unit not found
//	409: case not pending (case_not_claimable) or unit taken (unit_unavailable)
func (h *EmergencyHandler) Claim(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireResponder(w, r); !ok {
		return
	}
	var req claimRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.UnitID == "" {
		writeError(w, r, fmt.Errorf("%w: unit_id is required", errBadRequest))
		return
	}

	asg, err := h.coord.Claim(r.Context(), mux.Vars(r)["id"], req.UnitID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asg)
}

type releaseRequest struct {
	Status model.CaseStatus `json:"status"`
}

// Release handles POST /api/v1/emergencies/{id}/release
//
// Responders may resolve or cancel any case. Patients may only cancel
// their own. Releasing an already closed case returns it unchanged.
func (h *EmergencyHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.release(r, mux.Vars(r)["id"], req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type patchEmergencyRequest struct {
	Status model.CaseStatus `json:"status"`
	UnitID string           `json:"unit_id"`
}

// Patch handles PATCH /api/v1/emergencies/{id} for clients that drive the
// case by status: "assigned" claims unit_id, "resolved" and "cancelled"
// release. The updated case is returned either way.
func (h *EmergencyHandler) Patch(w http.ResponseWriter, r *http.Request) {
	var req patchEmergencyRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id := mux.Vars(r)["id"]

	switch req.Status {
	case model.CaseAssigned:
		if _, ok := requireResponder(w, r); !ok {
			return
		}
		if req.UnitID == "" {
			writeError(w, r, fmt.Errorf("%w: unit_id is required", errBadRequest))
			return
		}
		asg, err := h.coord.Claim(r.Context(), id, req.UnitID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, asg.Case)
	case model.CaseResolved, model.CaseCancelled:
		c, err := h.release(r, id, req.Status)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	default:
		writeError(w, r, fmt.Errorf("%w: cannot set status %q", service.ErrInvalidTransition, req.Status))
	}
}

// release applies the caller's permissions, then hands off to the Coordinator.
func (h *EmergencyHandler) release(r *http.Request, caseID string, status model.CaseStatus) (*model.Case, error) {
	p := principal(r)
	if !p.Role.IsResponder() {
		if status != model.CaseCancelled {
			return nil, fmt.Errorf("%w: patients may only cancel", errForbidden)
		}
		v, err := h.cases.Get(r.Context(), caseID)
		if err != nil {
			return nil, err
		}
		if v.ReporterID != p.ID {
			return nil, fmt.Errorf("%w: not your case", errForbidden)
		}
	}
	return h.coord.Release(r.Context(), caseID, status)
}

// parseCaseFilter reads ?status= (repeated or comma separated) and ?reporter=.
func parseCaseFilter(r *http.Request) (model.CaseFilter, error) {
	q := r.URL.Query()
	var f model.CaseFilter
	for _, raw := range q["status"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			st := model.CaseStatus(part)
			if !st.Valid() {
				return f, errors.Join(errBadRequest, fmt.Errorf("unknown status %q", part))
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	f.ReporterID = q.Get("reporter")
	return f, nil
}
