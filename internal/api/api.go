// Package api exposes the triage engine over HTTP: alert ingestion,
// investigation queries and controls, the review channel, read models,
// the audit trail, and a live event stream.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/argus/internal/alert"
	"github.com/linnemanlabs/argus/internal/authmw"
	"github.com/linnemanlabs/argus/internal/correlate"
	"github.com/linnemanlabs/argus/internal/event"
	"github.com/linnemanlabs/argus/internal/investigation"
	"github.com/linnemanlabs/argus/internal/projection"
	"github.com/linnemanlabs/argus/internal/review"
)

// Correlator folds incoming alerts into investigations.
type Correlator interface {
	Ingest(ctx context.Context, a alert.Alert) (correlate.Result, error)
}

// Pipeline accepts investigations for background processing.
type Pipeline interface {
	Enqueue(id string) bool
}

// IngestCounter counts ingestion outcomes. Implemented by engine.Metrics.
type IngestCounter interface {
	CountIngest(result string)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger     log.Logger
	correlator Correlator
	pipeline   Pipeline
	repo       *investigation.Repository
	projector  *projection.Projector
	gate       *review.Gate
	store      event.Store
	feed       *projection.Feed
	ingests    IngestCounter
	authToken  string
}

// Options carries the optional API collaborators.
type Options struct {
	// Feed, when set, backs the /events/stream endpoint.
	Feed *projection.Feed
	// Ingests, when set, counts ingestion outcomes.
	Ingests IngestCounter
	// AuthToken, when non-empty, gates mutating routes behind a bearer
	// token.
	AuthToken string
}

// New creates the API handler set.
func New(
	logger log.Logger,
	correlator Correlator,
	pipeline Pipeline,
	repo *investigation.Repository,
	projector *projection.Projector,
	gate *review.Gate,
	store event.Store,
	opts Options,
) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if correlator == nil || pipeline == nil || repo == nil || projector == nil || gate == nil || store == nil {
		panic(xerrors.New("api: all core collaborators are required"))
	}
	return &API{
		logger:     logger,
		correlator: correlator,
		pipeline:   pipeline,
		repo:       repo,
		projector:  projector,
		gate:       gate,
		store:      store,
		feed:       opts.Feed,
		ingests:    opts.Ingests,
		authToken:  opts.AuthToken,
	}
}

// RegisterRoutes attaches API endpoints to the router. Mutating routes
// require the bearer token when one is configured.
func (a *API) RegisterRoutes(r chi.Router) {
	guarded := func(r chi.Router) chi.Router {
		if a.authToken == "" {
			return r
		}
		return r.With(authmw.BearerToken(a.authToken))
	}

	r.Route("/api/v1", func(r chi.Router) {
		guarded(r).Post("/alerts", a.handleIngestAlerts)

		r.Get("/investigations", a.handleListInvestigations)
		r.Get("/investigations/{id}", a.handleGetInvestigation)
		guarded(r).Post("/investigations/{id}/pause", a.handlePause)
		guarded(r).Post("/investigations/{id}/resume", a.handleResume)
		guarded(r).Post("/investigations/{id}/cancel", a.handleCancel)

		r.Get("/reviews", a.handleListReviews)
		r.Get("/reviews/{id}", a.handleGetReview)
		guarded(r).Post("/reviews/{id}/approve", a.handleApprove)
		guarded(r).Post("/reviews/{id}/reject", a.handleReject)
		guarded(r).Post("/reviews/{id}/request-info", a.handleRequestInfo)

		r.Get("/metrics/overview", a.handleOverview)
		r.Get("/audit", a.handleAudit)
		r.Get("/events/stream", a.handleEventStream)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeOptional decodes a JSON body if one is present. An empty body
// leaves v untouched.
func decodeOptional(r *http.Request, v any) {
	_ = json.NewDecoder(r.Body).Decode(v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
