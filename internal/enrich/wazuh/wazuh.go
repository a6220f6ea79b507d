// Package wazuh resolves IP observables against the Wazuh manager's agent
// inventory, so known internal assets are not treated as external threats.
package wazuh

import (
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

// Client queries the Wazuh manager API.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// New creates a Wazuh API client. The token is a pre-obtained JWT.
func New(endpoint, token string) *Client {
	return &Client{
		endpoint:   endpoint,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements enrich.Source.
func (c *Client) Name() string { return "wazuh" }

type agentList struct {
	Data struct {
		AffectedItems []struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Status string `json:"status"`
			OS     struct {
				Platform string `json:"platform"`
			} `json:"os"`
		} `json:"affected_items"`
		TotalAffectedItems int `json:"total_affected_items"`
	} `json:"data"`
}

// Enrich checks whether an IP observable belongs to a managed agent.
// A match means the address is an internal asset, which reads as clean
// for correlation purposes. Non-IP observables are out of scope for this
// source and come back unknown.
func (c *Client) Enrich(ctx context.Context, obs alert.Observable) (enrich.Result, error) {
	if obs.Type != alert.ObservableIP {
		return enrich.Result{Verdict: enrich.VerdictUnknown}, nil
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return enrich.Result{}, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "agents")
	q := u.Query()
	q.Set("q", "ip="+obs.Value)
	q.Set("select", "id,name,status,os.platform")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return enrich.Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return enrich.Result{}, fmt.Errorf("wazuh agents: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return enrich.Result{}, fmt.Errorf("wazuh agents: status %d: %s", resp.StatusCode, snippet)
	}

	var agents agentList
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		return enrich.Result{}, fmt.Errorf("decode wazuh response: %w", err)
	}

	if agents.Data.TotalAffectedItems == 0 {
		return enrich.Result{Verdict: enrich.VerdictUnknown}, nil
	}
	a := agents.Data.AffectedItems[0]
	return enrich.Result{
		Verdict: enrich.VerdictClean,
		Detail:  fmt.Sprintf("managed agent %s (%s, %s, %s)", a.ID, a.Name, a.OS.Platform, a.Status),
	}, nil
}
