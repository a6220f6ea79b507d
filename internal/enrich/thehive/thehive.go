// Package thehive checks whether an observable already appears in
// TheHive cases, surfacing prior sightings to the analyst.
package thehive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/linnemanlabs/argus/internal/alert"
	"github.com/linnemanlabs/argus/internal/enrich"
)

// Client queries the TheHive v1 query API.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// New creates a TheHive client.
func New(endpoint, apiKey string) *Client {
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements enrich.Source.
func (c *Client) Name() string { return "thehive" }

type observableHit struct {
	IOC     bool     `json:"ioc"`
	Sighted bool     `json:"sighted"`
	Message string   `json:"message"`
	Tags    []string `json:"tags"`
}

// Enrich looks for prior sightings of the observable. An IOC-tagged hit
// is malicious; any other sighting is suspicious; no history is unknown.
func (c *Client) Enrich(ctx context.Context, obs alert.Observable) (enrich.Result, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return enrich.Result{}, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "api/v1/query")

	query := map[string]any{
		"query": []map[string]any{
			{"_name": "listObservable"},
			{"_name": "filter", "_field": "data", "_value": obs.Value},
			{"_name": "page", "from": 0, "to": 20},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return enrich.Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return enrich.Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return enrich.Result{}, fmt.Errorf("thehive query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return enrich.Result{}, fmt.Errorf("thehive query: status %d: %s", resp.StatusCode, snippet)
	}

	var hits []observableHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return enrich.Result{}, fmt.Errorf("decode thehive response: %w", err)
	}

	if len(hits) == 0 {
		return enrich.Result{Verdict: enrich.VerdictUnknown}, nil
	}
	for _, h := range hits {
		if h.IOC {
			detail := "observable is an IOC in prior cases"
			if h.Message != "" {
				detail += ": " + h.Message
			}
			return enrich.Result{Verdict: enrich.VerdictMalicious, Detail: detail}, nil
		}
	}
	return enrich.Result{
		Verdict: enrich.VerdictSuspicious,
		Detail:  fmt.Sprintf("seen in %d prior cases", len(hits)),
	}, nil
}
