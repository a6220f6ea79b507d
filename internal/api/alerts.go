package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/linnemanlabs/argus/internal/alert"
)

type ingestResult struct {
	ExternalID      string `json:"external_id,omitempty"`
	InvestigationID string `json:"investigation_id,omitempty"`
	Result          string `json:"result"`
}

func (a *API) handleIngestAlerts(w http.ResponseWriter, r *http.Request) {
	var wh struct {
		Alerts []json.RawMessage `json:"alerts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&wh); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if len(wh.Alerts) == 0 {
		http.Error(w, `{"error":"no alerts in payload"}`, http.StatusBadRequest)
		return
	}

	now := time.Now()
	results := make([]ingestResult, 0, len(wh.Alerts))

	for _, raw := range wh.Alerts {
		al, err := parseAlert(raw, now)
		if err != nil {
			a.logger.Warn(r.Context(), "malformed alert skipped", "error", err)
			a.countIngest("invalid")
			results = append(results, ingestResult{Result: "invalid"})
			continue
		}

		res, err := a.correlator.Ingest(r.Context(), al)
		if err != nil {
			a.logger.Error(r.Context(), err, "alert ingestion failed", "external_id", al.ExternalID)
			a.countIngest("error")
			results = append(results, ingestResult{ExternalID: al.ExternalID, Result: "error"})
			continue
		}

		outcome := "created"
		switch {
		case res.Duplicate:
			outcome = "duplicate"
		case res.Correlated:
			outcome = "correlated"
		}
		a.countIngest(outcome)
		results = append(results, ingestResult{
			ExternalID:      al.ExternalID,
			InvestigationID: res.InvestigationID,
			Result:          outcome,
		})

		if !res.Duplicate {
			a.pipeline.Enqueue(res.InvestigationID)
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"results": results})
}

func parseAlert(raw json.RawMessage, now time.Time) (alert.Alert, error) {
	var al alert.Alert
	if err := json.Unmarshal(raw, &al); err != nil {
		return alert.Alert{}, fmt.Errorf("decode alert: %w", err)
	}
	if al.ExternalID == "" {
		return alert.Alert{}, errors.New("missing external_id")
	}
	if al.SourceAgent == "" {
		return alert.Alert{}, errors.New("missing source_agent")
	}
	al.Raw = raw
	al.Normalize(now)
	return al, nil
}

func (a *API) countIngest(result string) {
	if a.ingests != nil {
		a.ingests.CountIngest(result)
	}
}
