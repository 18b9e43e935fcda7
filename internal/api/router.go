package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/lumen/internal/graph"
	"github.com/starford/lumen/internal/ingest"
	"github.com/starford/lumen/internal/layout"
	"github.com/starford/lumen/internal/store"
	"github.com/starford/lumen/internal/studyservice"
)

// Services are the collaborators the handlers call into.
type Services struct {
	Repo    store.Repository
	Study   *studyservice.Service
	Graph   *graph.Service
	Library *ingest.Service
	Layout  layout.Config
	// StaleAfter is the default age for GET /sessions?open=true.
	StaleAfter time.Duration
}

// RouterOptions controls the cross-cutting behaviour of the router.
type RouterOptions struct {
	AuthEnabled bool
	Token       string
	// Limiter, if non-nil, rate limits every route.
	Limiter *RateLimiter
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events http.Handler
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(svc Services, opts RouterOptions) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	if opts.Limiter != nil {
		r.Use(RateLimitMiddleware(opts.Limiter))
	}
	r.Use(AuthMiddleware(opts.AuthEnabled, opts.Token))

	// Library. Note ids contain slashes, so they are matched as wildcards.
	r.Get("/subjects", h.ListSubjects)
	r.Get("/notes", h.ListNotes)
	r.Get("/notes/*", h.GetNote)
	r.Get("/related/*", h.RelatedNotes)
	r.Get("/source/*", h.GetSource)
	r.Put("/source/*", h.PutSource)
	r.Delete("/source/*", h.DeleteSource)
	r.Post("/library/sync", h.SyncLibrary)
	r.Get("/search", h.Search)

	// Graph.
	r.Put("/links", h.UpsertLink)
	r.Get("/graph", h.Graph)

	// Study.
	r.Get("/cards/due", h.DueCards)
	r.Get("/progress/{subjectID}", h.Progress)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.Post("/", h.StartSession)
		r.Get("/{id}", h.GetSession)
		r.Post("/{id}/select", h.SelectOption)
		r.Post("/{id}/confidence", h.SetConfidence)
		r.Post("/{id}/submit", h.Submit)
		r.Post("/{id}/exit", h.Exit)
		r.Post("/{id}/resume", h.Resume)
		r.Get("/{id}/result", h.Result)
	})

	if opts.Events != nil {
		r.Get("/events", opts.Events.ServeHTTP)
	}

	return r
}
