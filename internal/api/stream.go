package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/argus/internal/event"
)

func (a *API) handleOverview(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.projector.Overview())
}

// handleAudit exposes the raw event log: every state change the engine
// ever made, in append order.
func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	since := time.Time{}
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, `{"error":"since must be RFC3339"}`, http.StatusBadRequest)
			return
		}
		since = t
	}

	var types []event.Type
	if raw := q.Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			types = append(types, event.Type(strings.TrimSpace(t)))
		}
	}

	limit := queryInt(r, "limit", 500)
	events, err := a.store.Since(r.Context(), since, types, limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "audit query failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// handleEventStream pushes the live event feed as server-sent events.
// Slow consumers miss events rather than stall the pipeline; clients that
// need a complete record replay /audit.
func (a *API) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if a.feed == nil {
		http.Error(w, `{"error":"event stream not enabled"}`, http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := a.feed.Subscribe()
	defer cancel()

	// Heartbeats keep intermediaries from reaping an idle stream.
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case e, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("id: " + e.ID + "\nevent: " + string(e.Type) + "\ndata: ")); err != nil {
				return
			}
			if _, err := w.Write(append(payload, '\n', '\n')); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
