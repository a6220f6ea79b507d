package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/argus/internal/event"
	"github.com/linnemanlabs/argus/internal/investigation"
)

const (
	historyDefaultDays  = 30
	historyDefaultLimit = 20
	historyMaxLimit     = 100
)

// CaseHistory searches past investigations for a given observable value,
// so the advisor can tell a first sighting from a repeat offender.
type CaseHistory struct {
	store event.Store
	now   func() time.Time
}

// NewCaseHistory creates the tool over the given event store.
func NewCaseHistory(store event.Store) *CaseHistory {
	return &CaseHistory{store: store, now: time.Now}
}

type historyInput struct {
	Observable string `json:"observable"`
	Days       int    `json:"days,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

type historyMatch struct {
	InvestigationID string `json:"investigation_id"`
	FirstSeen       string `json:"first_seen"`
	Outcome         string `json:"outcome,omitempty"`
}

type historyOutput struct {
	Observable string         `json:"observable"`
	Matches    []historyMatch `json:"matches"`
	Count      int            `json:"count"`
}

func (h *CaseHistory) Name() string { return "case_history" }

func (h *CaseHistory) Description() string {
	return "Search past investigations that involved a given observable value (IP, domain, hash, filename, or username). Returns matching investigation IDs, when the observable was first seen there, and how each case ended. Use this to check whether an indicator is a repeat offender or was previously cleared."
}

func (h *CaseHistory) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"observable": {
				"type": "string",
				"description": "The observable value to search for, e.g. an IP address or file hash"
			},
			"days": {
				"type": "integer",
				"description": "How many days back to search (default 30)"
			},
			"limit": {
				"type": "integer",
				"description": "Maximum number of investigations to return (default 20, max 100)"
			}
		},
		"required": ["observable"]
	}`)
}

func (h *CaseHistory) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var in historyInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(in.Observable) == "" {
		return nil, fmt.Errorf("observable is required")
	}
	if in.Days <= 0 {
		in.Days = historyDefaultDays
	}
	if in.Limit <= 0 {
		in.Limit = historyDefaultLimit
	}
	if in.Limit > historyMaxLimit {
		in.Limit = historyMaxLimit
	}

	since := h.now().Add(-time.Duration(in.Days) * 24 * time.Hour)
	events, err := h.store.Since(ctx, since, []event.Type{
		event.ObservableExtracted,
		event.InvestigationClosed,
		event.InvestigationAutoClosed,
		event.InvestigationEscalated,
		event.InvestigationCancelled,
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("query event log: %w", err)
	}

	want := strings.ToLower(strings.TrimSpace(in.Observable))
	firstSeen := make(map[string]time.Time)
	outcomes := make(map[string]string)
	var order []string

	for _, e := range events {
		switch e.Type {
		case event.ObservableExtracted:
			var d investigation.ObservableData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				continue
			}
			if strings.ToLower(d.Observable.Value) != want {
				continue
			}
			if _, seen := firstSeen[e.AggregateID]; !seen {
				firstSeen[e.AggregateID] = e.Timestamp
				order = append(order, e.AggregateID)
			}
		case event.InvestigationClosed, event.InvestigationAutoClosed,
			event.InvestigationEscalated, event.InvestigationCancelled:
			// kept for every aggregate, filtered at render time
			outcomes[e.AggregateID] = strings.TrimPrefix(string(e.Type), "investigation.")
		}
	}

	out := historyOutput{Observable: in.Observable, Matches: []historyMatch{}}
	for _, id := range order {
		if len(out.Matches) >= in.Limit {
			break
		}
		out.Matches = append(out.Matches, historyMatch{
			InvestigationID: id,
			FirstSeen:       firstSeen[id].UTC().Format(time.RFC3339),
			Outcome:         outcomes[id],
		})
	}
	out.Count = len(out.Matches)
	return json.Marshal(out)
}
