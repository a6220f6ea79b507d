package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/argus/internal/alert"
	"github.com/linnemanlabs/argus/internal/event"
	"github.com/linnemanlabs/argus/internal/investigation"
	"github.com/linnemanlabs/argus/internal/projection"
)

func (a *API) handleListInvestigations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := projection.Filter{
		Status:   investigation.Status(q.Get("status")),
		Phase:    investigation.Phase(q.Get("phase")),
		Severity: alert.Severity(q.Get("severity")),
		Page:     queryInt(r, "page", 1),
		PerPage:  queryInt(r, "per_page", 50),
	}

	items, total := a.projector.List(f)
	writeJSON(w, http.StatusOK, map[string]any{
		"investigations": items,
		"total":          total,
		"page":           f.Page,
		"per_page":       f.PerPage,
	})
}

func (a *API) handleGetInvestigation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("argus.investigation.id", id))

	inv, err := a.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, investigation.ErrNotFound) {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		a.logger.Error(r.Context(), err, "failed to load investigation", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	span.SetAttributes(
		attribute.String("argus.investigation.status", string(inv.Status)),
		attribute.String("argus.investigation.phase", string(inv.Phase)),
	)
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, func(inv *investigation.Investigation) ([]event.Event, error) {
		return inv.Pause()
	})
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inv, ok := a.execControl(w, r, id, func(inv *investigation.Investigation) ([]event.Event, error) {
		return inv.Resume()
	})
	if !ok {
		return
	}
	// The pipeline picks the investigation back up where it left off.
	if !inv.Status.Terminal() {
		a.pipeline.Enqueue(id)
	}
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	decodeOptional(r, &body)
	a.control(w, r, func(inv *investigation.Investigation) ([]event.Event, error) {
		return inv.Cancel(body.Reason)
	})
}

// control runs an aggregate command against the URL's investigation and
// renders the updated state.
func (a *API) control(w http.ResponseWriter, r *http.Request, cmd investigation.Command) {
	id := chi.URLParam(r, "id")
	inv, ok := a.execControl(w, r, id, cmd)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) execControl(w http.ResponseWriter, r *http.Request, id string, cmd investigation.Command) (*investigation.Investigation, bool) {
	inv, err := a.repo.Execute(r.Context(), id, cmd)
	switch {
	case err == nil:
		return inv, true
	case errors.Is(err, investigation.ErrNotFound):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	case errors.Is(err, investigation.ErrTerminal):
		http.Error(w, `{"error":"investigation is closed"}`, http.StatusConflict)
	default:
		var te *investigation.TransitionError
		if errors.As(err, &te) {
			http.Error(w, `{"error":"`+te.Error()+`"}`, http.StatusConflict)
			return nil, false
		}
		a.logger.Error(r.Context(), err, "investigation control failed", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
	return nil, false
}
