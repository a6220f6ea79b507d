package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/argus/internal/alert"
	"github.com/linnemanlabs/argus/internal/enrich"
)

const lookupSourceTimeout = 10 * time.Second

// ObservableLookup queries the configured threat-intelligence sources for
// one observable on demand, outside the normal enrichment fan-out.
type ObservableLookup struct {
	registry *enrich.Registry
}

// NewObservableLookup creates the tool over the given source registry.
func NewObservableLookup(registry *enrich.Registry) *ObservableLookup {
	return &ObservableLookup{registry: registry}
}

type lookupInput struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type lookupResult struct {
	Source  string `json:"source"`
	Verdict string `json:"verdict,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
}

type lookupOutput struct {
	Observable alert.Observable `json:"observable"`
	Results    []lookupResult   `json:"results"`
}

func (l *ObservableLookup) Name() string { return "ti_lookup" }

func (l *ObservableLookup) Description() string {
	return "Query all configured threat-intelligence sources for a single observable and return each source's verdict. Use this when an observable surfaced during your analysis was not part of the original enrichment."
}

func (l *ObservableLookup) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"type": {
				"type": "string",
				"enum": ["ip", "domain", "hash_md5", "hash_sha1", "hash_sha256", "filename", "user"],
				"description": "The observable type"
			},
			"value": {
				"type": "string",
				"description": "The observable value"
			}
		},
		"required": ["type", "value"]
	}`)
}

func (l *ObservableLookup) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var in lookupInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(in.Value) == "" {
		return nil, fmt.Errorf("value is required")
	}

	obs := alert.Observable{
		Type:  alert.ObservableType(strings.ToLower(strings.TrimSpace(in.Type))),
		Value: strings.TrimSpace(in.Value),
	}

	sources := l.registry.Sources()
	if len(sources) == 0 {
		return nil, fmt.Errorf("no threat-intelligence sources configured")
	}

	out := lookupOutput{Observable: obs, Results: make([]lookupResult, 0, len(sources))}
	for _, src := range sources {
		sctx, cancel := context.WithTimeout(ctx, lookupSourceTimeout)
		res, err := src.Enrich(sctx, obs)
		cancel()
		if err != nil {
			out.Results = append(out.Results, lookupResult{Source: src.Name(), Error: err.Error()})
			continue
		}
		out.Results = append(out.Results, lookupResult{
			Source:  src.Name(),
			Verdict: string(res.Verdict),
			Detail:  res.Detail,
		})
	}
	return json.Marshal(out)
}
