// Package handler contains HTTP request handlers for the SOS dispatch API.
package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/shiva/sosdispatch/internal/middleware"
	"github.com/shiva/sosdispatch/internal/model"
	"github.com/shiva/sosdispatch/internal/service"
	"github.com/shiva/sosdispatch/pkg/geo"
)

const maxBodyBytes = 1 << 20

var (
	errForbidden  = errors.New("forbidden")
	errBadRequest = errors.New("bad request")
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON is a helper that writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps service errors to status codes.
//
//	404 not_found
//	400 invalid_location | invalid_unit | invalid_category | bad_request
//	409 invalid_transition | case_not_claimable | unit_unavailable
//	403 forbidden
//	500 internal_error (storage failures and anything unexpected)
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, service.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrInvalidLocation), errors.Is(err, geo.ErrMalformedPair):
		status, code = http.StatusBadRequest, "invalid_location"
	case errors.Is(err, service.ErrInvalidUnit):
		status, code = http.StatusBadRequest, "invalid_unit"
	case errors.Is(err, service.ErrInvalidCategory):
		status, code = http.StatusBadRequest, "invalid_category"
	case errors.Is(err, errBadRequest):
		status, code = http.StatusBadRequest, "bad_request"
	case errors.Is(err, service.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, service.ErrCaseNotClaimable):
		status, code = http.StatusConflict, "case_not_claimable"
	case errors.Is(err, service.ErrUnitUnavailable):
		status, code = http.StatusConflict, "unit_unavailable"
	case errors.Is(err, errForbidden):
		status, code = http.StatusForbidden, "forbidden"
	}

	if status == http.StatusInternalServerError {
		log.Printf("[handler] %s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, status, errorBody{Error: code})
		return
	}
	writeJSON(w, status, errorBody{Error: code, Message: err.Error()})
}

// decode reads a JSON request body into v.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

// principal returns the caller set by the auth middleware.
func principal(r *http.Request) model.Principal {
	p, _ := middleware.PrincipalFrom(r.Context())
	return p
}

// requireResponder rejects callers that are not on the dispatch side.
func requireResponder(w http.ResponseWriter, r *http.Request) (model.Principal, bool) {
	p := principal(r)
	if !p.Role.IsResponder() {
		writeError(w, r, errors.Join(errForbidden, errors.New("responders only")))
		return p, false
	}
	return p, true
}
