package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// apiClient is a thin wrapper over the argus HTTP API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newClient(base, token string) *apiClient {
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *apiClient) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(payload, out)
}

func apiError(status int, payload []byte) error {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(payload, &body) == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", status, body.Error)
	}
	return fmt.Errorf("server returned %d", status)
}

// Response shapes, mirroring the server's JSON.

type summary struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	Phase         string     `json:"phase"`
	Severity      string     `json:"severity"`
	AlertCount    int        `json:"alert_count"`
	ReviewPending bool       `json:"review_pending"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	Resolution    string     `json:"resolution,omitempty"`
}

type reviewView struct {
	ID              string     `json:"id"`
	InvestigationID string     `json:"investigation_id"`
	Status          string     `json:"status"`
	AIDecision      string     `json:"ai_decision"`
	AIConfidence    float64    `json:"ai_confidence"`
	Reason          string     `json:"reason,omitempty"`
	Severity        string     `json:"severity"`
	Questions       []string   `json:"questions,omitempty"`
	RequestedAt     time.Time  `json:"requested_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	Channel         string     `json:"channel,omitempty"`
}

type overview struct {
	Total                   int            `json:"total"`
	Open                    int            `json:"open"`
	Closed                  int            `json:"closed"`
	AutoClosed              int            `json:"auto_closed"`
	Escalated               int            `json:"escalated"`
	Rejected                int            `json:"rejected"`
	Cancelled               int            `json:"cancelled"`
	BySeverity              map[string]int `json:"by_severity"`
	ByPhase                 map[string]int `json:"by_phase"`
	PendingReviews          int            `json:"pending_reviews"`
	AvgTimeToVerdictSeconds float64        `json:"avg_time_to_verdict_seconds"`
}

func (c *apiClient) listInvestigations(ctx context.Context, q url.Values) ([]summary, int, error) {
	var resp struct {
		Investigations []summary `json:"investigations"`
		Total          int       `json:"total"`
	}
	if err := c.get(ctx, "/api/v1/investigations", q, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Investigations, resp.Total, nil
}

func (c *apiClient) listReviews(ctx context.Context) ([]reviewView, int, error) {
	var resp struct {
		Reviews []reviewView `json:"reviews"`
		Total   int          `json:"total"`
	}
	if err := c.get(ctx, "/api/v1/reviews", nil, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Reviews, resp.Total, nil
}
