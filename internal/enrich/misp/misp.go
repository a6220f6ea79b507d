// Package misp looks observables up in a MISP threat-sharing instance.
package misp

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

// Client queries the MISP attribute search API.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// New creates a MISP client for the given instance.
func New(endpoint, apiKey string) *Client {
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements enrich.Source.
func (c *Client) Name() string { return "misp" }

type searchRequest struct {
	Value string `json:"value"`
	Limit int    `json:"limit"`
}

type attribute struct {
	Category string `json:"category"`
	Type     string `json:"type"`
	ToIDS    bool   `json:"to_ids"`
	Comment  string `json:"comment"`
	EventID  string `json:"event_id"`
}

type searchResponse struct {
	Response struct {
		Attribute []attribute `json:"Attribute"`
	} `json:"response"`
}

// Enrich searches MISP for the observable value. An attribute flagged
// to_ids marks the observable malicious; any other hit is suspicious.
// Absence from MISP proves nothing, so no hits yields unknown.
func (c *Client) Enrich(ctx context.Context, obs alert.Observable) (enrich.Result, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return enrich.Result{}, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "attributes/restSearch")

	body, err := json.Marshal(searchRequest{Value: obs.Value, Limit: 20})
	if err != nil {
		return enrich.Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return enrich.Result{}, err
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return enrich.Result{}, fmt.Errorf("misp search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return enrich.Result{}, fmt.Errorf("misp search: status %d: %s", resp.StatusCode, snippet)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return enrich.Result{}, fmt.Errorf("decode misp response: %w", err)
	}

	attrs := sr.Response.Attribute
	if len(attrs) == 0 {
		return enrich.Result{Verdict: enrich.VerdictUnknown}, nil
	}
	for _, a := range attrs {
		if a.ToIDS {
			detail := fmt.Sprintf("IDS-flagged %s attribute in event %s", a.Type, a.EventID)
			if a.Comment != "" {
				detail += ": " + a.Comment
			}
			return enrich.Result{Verdict: enrich.VerdictMalicious, Detail: detail}, nil
		}
	}
	return enrich.Result{
		Verdict: enrich.VerdictSuspicious,
		Detail:  fmt.Sprintf("%d non-IDS attributes, first in event %s", len(attrs), attrs[0].EventID),
	}, nil
}
