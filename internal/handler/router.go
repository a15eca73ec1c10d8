package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shiva/sosdispatch/internal/middleware"
	"github.com/shiva/sosdispatch/internal/service"
)

// Services is what the API routes need.
type Services struct {
	Cases    *service.CaseService
	Registry *service.UnitRegistry
	Coord    *service.Coordinator
	Feed     *service.FeedService
}

// Routes mounts the authenticated /api/v1 routes on router.
func Routes(router *mux.Router, svc Services, jwtSecret []byte) {
	emergencies := NewEmergencyHandler(svc.Cases, svc.Coord)
	units := NewUnitHandler(svc.Registry)
	feed := NewFeedHandler(svc.Feed)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(jwtSecret))

	// Emergencies
	api.HandleFunc("/emergencies", emergencies.Create).Methods(http.MethodPost)
	api.HandleFunc("/emergencies", emergencies.List).Methods(http.MethodGet)
	api.HandleFunc("/emergencies/{id}", emergencies.Get).Methods(http.MethodGet)
	api.HandleFunc("/emergencies/{id}", emergencies.Patch).Methods(http.MethodPatch)
	api.HandleFunc("/emergencies/{id}/claim", emergencies.Claim).Methods(http.MethodPost)
	api.HandleFunc("/emergencies/{id}/release", emergencies.Release).Methods(http.MethodPost)
	// Units
	api.HandleFunc("/units", units.List).Methods(http.MethodGet)
	api.HandleFunc("/units", units.Register).Methods(http.MethodPost)
	api.HandleFunc("/units/{id}", units.Get).Methods(http.MethodGet)
	api.HandleFunc("/units/{id}/status", units.SetStatus).Methods(http.MethodPatch)
	api.HandleFunc("/units/{id}/location", units.UpdateLocation).Methods(http.MethodPatch)
	// Dashboards
	api.HandleFunc("/feed", feed.Feed).Methods(http.MethodGet)
}

// Wrap applies the outer middleware chain shared by every route.
func Wrap(h http.Handler) http.Handler {
	return middleware.CORS(middleware.RequestID(middleware.RequestLogger(middleware.Recoverer(h))))
}
