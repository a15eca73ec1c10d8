package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiva/sosdispatch/internal/middleware"
	"github.com/shiva/sosdispatch/internal/model"
	"github.com/shiva/sosdispatch/internal/repository"
	"github.com/shiva/sosdispatch/internal/service"
	"github.com/shiva/sosdispatch/pkg/keylock"
)

var testSecret = []byte("handler-test-secret")

var (
	asha     = model.Principal{ID: "patient-asha", Role: model.RolePatient}
	ravi     = model.Principal{ID: "patient-ravi", Role: model.RolePatient}
	dispatch = model.Principal{ID: "admin-1", Role: model.RoleEmergencyAdmin}
	doctor   = model.Principal{ID: "doc-1", Role: model.RoleDoctor}
)

type apiClient struct {
	t     *testing.T
	h     http.Handler
	coord *service.Coordinator
}

func newAPI(t *testing.T) *apiClient {
	t.Helper()
	store := repository.NewMemoryStore()
	dir := repository.NewMemoryDirectory()
	dir.Put(model.Reporter{ID: asha.ID, Name: "Asha", Phone: "555-0101"})
	locks := keylock.New()
	coord := service.NewCoordinator(store, locks, nil, time.Second)

	router := mux.NewRouter()
	Routes(router, Services{
		Cases:    service.NewCaseService(store, dir, locks),
		Registry: service.NewUnitRegistry(store, locks),
		Coord:    coord,
		Feed:     service.NewFeedService(store, dir),
	}, testSecret)
	return &apiClient{t: t, h: Wrap(router), coord: coord}
}

func (c *apiClient) do(as *model.Principal, method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		tok, err := middleware.IssueToken(testSecret, *as, time.Minute)
		require.NoError(c.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, req)
	return rec
}

func decodeInto[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeInto[errorBody](t, rec).Error
}

func (c *apiClient) newCase(as model.Principal) model.Case {
	c.t.Helper()
	rec := c.do(&as, http.MethodPost, "/api/v1/emergencies", map[string]any{
		"category":    "ambulance",
		"location":    map[string]any{"coordinates": []float64{77.60, 12.98}, "address": "MG Road"},
		"description": "unconscious",
	})
	require.Equal(c.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeInto[model.Case](c.t, rec)
}

func (c *apiClient) newUnit(name string) model.Unit {
	c.t.Helper()
	rec := c.do(&dispatch, http.MethodPost, "/api/v1/units", map[string]any{
		"name":      name,
		"phone":     "555-0199",
		"personnel": []string{"Medic Lee"},
		"location":  map[string]any{"coordinates": []float64{77.59, 12.97}},
	})
	require.Equal(c.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeInto[model.Unit](c.t, rec)
}

// ─── Tests ──────────────────────────────────────────────────

func TestAPI_RequiresToken(t *testing.T) {
	api := newAPI(t)
	rec := api.do(nil, http.MethodGet, "/api/v1/feed", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_CreateEmergency(t *testing.T) {
	api := newAPI(t)
	c := api.newCase(asha)
	assert.Equal(t, model.CasePending, c.Status)
	assert.Equal(t, model.SeverityCritical, c.Severity)
	assert.Equal(t, asha.ID, c.ReporterID)
	assert.Equal(t, 5, c.TriageScore)

	rec := api.do(&asha, http.MethodPost, "/api/v1/emergencies", map[string]any{
		"location": map[string]any{"coordinates": []float64{77.6}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_location", errorCode(t, rec))

	rec = api.do(&asha, http.MethodPost, "/api/v1/emergencies", map[string]any{
		"category": "plumbing",
		"location": map[string]any{"coordinates": []float64{77.6, 12.9}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_category", errorCode(t, rec))
}

func TestAPI_CreateEmergencyRejectsMalformedLocation(t *testing.T) {
	api := newAPI(t)
	bodies := map[string]string{
		"null coordinate":    `{"location":{"coordinates":[null,77.59]}}`,
		"string coordinates": `{"location":{"coordinates":["12.97","77.59"]}}`,
		"bool coordinate":    `{"location":{"coordinates":[true,77.59]}}`,
		"nested array":       `{"location":{"coordinates":[[12.97],77.59]}}`,
		"coordinates object": `{"location":{"coordinates":{"lon":12.97,"lat":77.59}}}`,
		"bare array":         `{"location":[12.97,77.59]}`,
		"null location":      `{"location":null}`,
		"missing location":   `{"category":"fire"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			rec := api.do(&asha, http.MethodPost, "/api/v1/emergencies", json.RawMessage(body))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "invalid_location", errorCode(t, rec))
		})
	}

	rec := api.do(&dispatch, http.MethodGet, "/api/v1/emergencies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeInto[[]model.CaseView](t, rec), "no case may be created from a malformed location")
}

func TestAPI_ClaimFlow(t *testing.T) {
	api := newAPI(t)
	c1 := api.newCase(asha)
	c2 := api.newCase(ravi)
	u := api.newUnit("Ambulance 1")

	rec := api.do(&asha, http.MethodPost, "/api/v1/emergencies/"+c1.ID+"/claim", map[string]string{"unit_id": u.ID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(&dispatch, http.MethodPost, "/api/v1/emergencies/"+c1.ID+"/claim", map[string]string{"unit_id": u.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	asg := decodeInto[model.Assignment](t, rec)
	assert.Equal(t, model.CaseAssigned, asg.Case.Status)
	assert.Equal(t, model.UnitOnCall, asg.Unit.Status)

	rec = api.do(&doctor, http.MethodPost, "/api/v1/emergencies/"+c2.ID+"/claim", map[string]string{"unit_id": u.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "unit_unavailable", errorCode(t, rec))

	rec = api.do(&dispatch, http.MethodPost, "/api/v1/emergencies/"+c1.ID+"/claim", map[string]string{"unit_id": u.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "case_not_claimable", errorCode(t, rec))

	rec = api.do(&dispatch, http.MethodPost, "/api/v1/emergencies/nope/claim", map[string]string{"unit_id": u.ID})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(&dispatch, http.MethodPost, "/api/v1/emergencies/"+c2.ID+"/claim", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(&dispatch, http.MethodPost, "/api/v1/emergencies/"+c1.ID+"/release", map[string]string{"status": "resolved"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.CaseResolved, decodeInto[model.Case](t, rec).Status)

	// Second release is a no-op.
	rec = api.do(&dispatch, http.MethodPost, "/api/v1/emergencies/"+c1.ID+"/release", map[string]string{"status": "resolved"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(&dispatch, http.MethodPost, "/api/v1/emergencies/"+c2.ID+"/claim", map[string]string{"unit_id": u.ID})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_PatientCancelPermissions(t *testing.T) {
	api := newAPI(t)
	mine := api.newCase(asha)
	theirs := api.newCase(ravi)

	rec := api.do(&asha, http.MethodPost, "/api/v1/emergencies/"+theirs.ID+"/release", map[string]string{"status": "cancelled"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(&asha, http.MethodPost, "/api/v1/emergencies/"+mine.ID+"/release", map[string]string{"status": "resolved"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(&asha, http.MethodPost, "/api/v1/emergencies/"+mine.ID+"/release", map[string]string{"status": "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.CaseCancelled, decodeInto[model.Case](t, rec).Status)

	rec = api.do(&asha, http.MethodGet, "/api/v1/emergencies/"+theirs.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_PatchStatusCompat(t *testing.T) {
	api := newAPI(t)
	c := api.newCase(asha)
	u := api.newUnit("Ambulance 1")
	path := "/api/v1/emergencies/" + c.ID

	rec := api.do(&dispatch, http.MethodPatch, path, map[string]string{"status": "pending"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", errorCode(t, rec))

	rec = api.do(&dispatch, http.MethodPatch, path, map[string]string{"status": "assigned", "unit_id": u.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeInto[model.Case](t, rec)
	assert.Equal(t, u.ID, got.AssignedUnitID)

	rec = api.do(&asha, http.MethodPatch, path, map[string]string{"status": "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(&dispatch, http.MethodGet, "/api/v1/units/"+u.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	unit := decodeInto[model.Unit](t, rec)
	assert.Equal(t, model.UnitAvailable, unit.Status)
	assert.Empty(t, unit.CurrentTask)
}

func TestAPI_ListEmergencies(t *testing.T) {
	api := newAPI(t)
	a := api.newCase(asha)
	api.newCase(ravi)

	rec := api.do(&asha, http.MethodGet, "/api/v1/emergencies?reporter="+ravi.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	views := decodeInto[[]model.CaseView](t, rec)
	require.Len(t, views, 1, "patients only ever see their own cases")
	assert.Equal(t, a.ID, views[0].ID)
	require.NotNil(t, views[0].Reporter)
	assert.Equal(t, "Asha", views[0].Reporter.Name)

	rec = api.do(&dispatch, http.MethodGet, "/api/v1/emergencies?status=pending,assigned", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeInto[[]model.CaseView](t, rec), 2)

	rec = api.do(&dispatch, http.MethodGet, "/api/v1/emergencies?status=closed", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Units(t *testing.T) {
	api := newAPI(t)
	c := api.newCase(asha)
	u := api.newUnit("Ambulance 1")

	rec := api.do(&asha, http.MethodGet, "/api/v1/units", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(&dispatch, http.MethodPost, "/api/v1/units", map[string]any{"name": "No phone"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_unit", errorCode(t, rec))

	rec = api.do(&dispatch, http.MethodPatch, "/api/v1/units/"+u.ID+"/status", map[string]string{"status": "on_call"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(&dispatch, http.MethodPost, "/api/v1/emergencies/"+c.ID+"/claim", map[string]string{"unit_id": u.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(&dispatch, http.MethodPatch, "/api/v1/units/"+u.ID+"/status", map[string]string{"status": "available"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(&dispatch, http.MethodPatch, "/api/v1/units/"+u.ID+"/status", map[string]string{"status": "maintenance", "current_task": "Flat tyre"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Flat tyre", decodeInto[model.Unit](t, rec).CurrentTask)

	rec = api.do(&dispatch, http.MethodPatch, "/api/v1/units/"+u.ID+"/location", map[string]any{"coordinates": []float64{77.7, 13.0}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []float64{77.7, 13.0}, decodeInto[model.Unit](t, rec).Location.Coordinates)

	rec = api.do(&dispatch, http.MethodGet, "/api/v1/units", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeInto[[]model.Unit](t, rec), 1)

	rec = api.do(&dispatch, http.MethodGet, "/api/v1/units/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_FeedReflectsCancelImmediately(t *testing.T) {
	api := newAPI(t)
	c := api.newCase(asha)
	u := api.newUnit("Ambulance 1")
	rec := api.do(&dispatch, http.MethodPost, "/api/v1/emergencies/"+c.ID+"/claim", map[string]string{"unit_id": u.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(&asha, http.MethodGet, "/api/v1/feed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	feed := decodeInto[model.FeedView](t, rec)
	require.Len(t, feed.Active, 1)
	require.Len(t, feed.Units, 1)

	rec = api.do(&asha, http.MethodPost, "/api/v1/emergencies/"+c.ID+"/release", map[string]string{"status": "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(&asha, http.MethodGet, "/api/v1/feed", nil)
	feed = decodeInto[model.FeedView](t, rec)
	assert.Empty(t, feed.Active)
	assert.Empty(t, feed.Units)

	rec = api.do(&dispatch, http.MethodGet, "/api/v1/feed", nil)
	feed = decodeInto[model.FeedView](t, rec)
	assert.Empty(t, feed.Active)
	assert.Equal(t, 1, feed.UnitCounts[model.UnitAvailable])

	require.NoError(t, api.coord.Drain(context.Background()))
}

func TestAPI_RequestIDEchoed(t *testing.T) {
	api := newAPI(t)
	rec := api.do(&dispatch, http.MethodGet, "/api/v1/feed", nil)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}
