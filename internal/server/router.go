package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/marketbridge/apsis-sync/internal/apiclient"
	"github.com/marketbridge/apsis-sync/internal/auth/token"
	"github.com/marketbridge/apsis-sync/internal/profile"
	"github.com/marketbridge/apsis-sync/internal/store"
	"gorm.io/gorm"
)

// Deps bundles everything the HTTP surface needs.
type Deps struct {
	DB       *gorm.DB
	Service  *profile.Service
	Profiles *store.ProfileStore
	Events   *store.EventStore
	Batches  *store.BatchStore
	Tokens   *token.Manager
	Gateway  *apiclient.Client
	RunSync  func()
}

// NewRouter builds the chi router with the full route table.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", HealthzHandler())

	r.Route("/ingest", func(r chi.Router) {
		r.Use(APIKeyAuth(d.DB))
		r.Post("/customers", IngestCustomerHandler(d.Service))
		r.Post("/subscribers", IngestSubscriberHandler(d.Service))
		r.Post("/events", IngestEventHandler(d.Service, d.Profiles))
	})

	r.Route("/ops", func(r chi.Router) {
		r.Get("/batches", ListBatchesHandler(d.Batches))
		r.Get("/profiles", ListProfilesHandler(d.Profiles))
		r.Get("/sections", SectionsHandler(d.Tokens, d.Gateway))
		r.Get("/sections/{id}/attributes", SectionAttributesHandler(d.Tokens, d.Gateway))

		r.Group(func(r chi.Router) {
			r.Use(APIKeyAuth(d.DB))
			r.Post("/profiles/reset", ResetProfilesHandler(d.Profiles))
			r.Post("/events/reset", ResetEventsHandler(d.Events))
			r.Post("/batches/reset", ResetBatchesHandler(d.Batches))
			r.Delete("/events", DeleteEventsHandler(d.Events))
			r.Post("/sync/run", RunSyncHandler(d.RunSync))
		})
	})

	return r
}
