package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shiva/sosdispatch/internal/model"
	"github.com/shiva/sosdispatch/internal/service"
)

// UnitHandler serves the unit registry. Every route is responder-only.
type UnitHandler struct {
	registry *service.UnitRegistry
}

// NewUnitHandler creates a new unit handler.
func NewUnitHandler(registry *service.UnitRegistry) *UnitHandler {
	return &UnitHandler{registry: registry}
}

// List handles GET /api/v1/units
func (h *UnitHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireResponder(w, r); !ok {
		return
	}
	units, err := h.registry.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, units)
}

// Register handles POST /api/v1/units
func (h *UnitHandler) Register(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireResponder(w, r); !ok {
		return
	}
	var spec service.UnitSpec
	if err := decode(w, r, &spec); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.registry.Register(r.Context(), spec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// Get handles GET /api/v1/units/{id}
func (h *UnitHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireResponder(w, r); !ok {
		return
	}
	u, err := h.registry.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type unitStatusRequest struct {
	Status      model.UnitStatus `json:"status"`
	CurrentTask *string          `json:"current_task"`
}

// SetStatus handles PATCH /api/v1/units/{id}/status
//
//	200: status written
//	404: unit not found
//	409: on_call requested, or available/busy while bound to a case
func (h *UnitHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireResponder(w, r); !ok {
		return
	}
	var req unitStatusRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.registry.SetStatus(r.Context(), mux.Vars(r)["id"], req.Status, req.CurrentTask)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// UpdateLocation handles PATCH /api/v1/units/{id}/location
func (h *UnitHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireResponder(w, r); !ok {
		return
	}
	var loc model.Location
	if err := decode(w, r, &loc); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.registry.UpdateLocation(r.Context(), mux.Vars(r)["id"], loc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
