// Package cortex runs observables through a Cortex analyzer and maps the
// report level back to a verdict.
package cortex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/linnemanlabs/argus/internal/alert"
	"github.com/linnemanlabs/argus/internal/enrich"
)

// Client submits analyzer jobs to a Cortex instance and polls for the
// report. Polling is bounded by the caller's context.
type Client struct {
	endpoint   string
	apiKey     string
	analyzerID string
	poll       time.Duration
	httpClient *http.Client
}

// New creates a Cortex client that runs the given analyzer.
func New(endpoint, apiKey, analyzerID string) *Client {
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		analyzerID: analyzerID,
		poll:       time.Second,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements enrich.Source.
func (c *Client) Name() string { return "cortex" }

// dataType maps observable types onto Cortex data types.
func dataType(t alert.ObservableType) string {
	switch t {
	case alert.ObservableIP:
		return "ip"
	case alert.ObservableDomain:
		return "domain"
	case alert.ObservableHashMD5, alert.ObservableHashSHA1, alert.ObservableHash256:
		return "hash"
	case alert.ObservableFilename:
		return "filename"
	default:
		return "other"
	}
}

type jobRequest struct {
	Data     string `json:"data"`
	DataType string `json:"dataType"`
	TLP      int    `json:"tlp"`
}

type job struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Report struct {
		Summary struct {
			Taxonomies []struct {
				Level     string `json:"level"`
				Namespace string `json:"namespace"`
				Predicate string `json:"predicate"`
				Value     any    `json:"value"`
			} `json:"taxonomies"`
		} `json:"summary"`
	} `json:"report"`
}

// Enrich submits the observable to the analyzer and waits for the report.
func (c *Client) Enrich(ctx context.Context, obs alert.Observable) (enrich.Result, error) {
	j, err := c.submit(ctx, obs)
	if err != nil {
		return enrich.Result{}, err
	}

	for {
		switch j.Status {
		case "Success":
			return reportVerdict(j), nil
		case "Failure", "Deleted":
			return enrich.Result{}, fmt.Errorf("cortex job %s ended in %s", j.ID, j.Status)
		}

		t := time.NewTimer(c.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return enrich.Result{}, fmt.Errorf("cortex job %s: %w", j.ID, ctx.Err())
		case <-t.C:
		}
		if j, err = c.report(ctx, j.ID); err != nil {
			return enrich.Result{}, err
		}
	}
}

func (c *Client) submit(ctx context.Context, obs alert.Observable) (job, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return job{}, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "api/analyzer", c.analyzerID, "run")

	body, err := json.Marshal(jobRequest{Data: obs.Value, DataType: dataType(obs.Type), TLP: 2})
	if err != nil {
		return job{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return job{}, err
	}
	return c.do(req)
}

func (c *Client) report(ctx context.Context, jobID string) (job, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return job{}, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "api/job", jobID, "report")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return job{}, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (job, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return job{}, fmt.Errorf("cortex: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return job{}, fmt.Errorf("cortex: status %d: %s", resp.StatusCode, snippet)
	}
	var j job
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		return job{}, fmt.Errorf("decode cortex response: %w", err)
	}
	return j, nil
}

// reportVerdict maps taxonomy levels onto verdicts, taking the worst.
func reportVerdict(j job) enrich.Result {
	verdict := enrich.VerdictUnknown
	var details []string
	for _, tax := range j.Report.Summary.Taxonomies {
		var v enrich.Verdict
		switch strings.ToLower(tax.Level) {
		case "malicious":
			v = enrich.VerdictMalicious
		case "suspicious":
			v = enrich.VerdictSuspicious
		case "safe":
			v = enrich.VerdictClean
		default:
			v = enrich.VerdictUnknown
		}
		verdict = enrich.Worse(verdict, v)
		details = append(details, fmt.Sprintf("%s:%s=%v", tax.Namespace, tax.Predicate, tax.Value))
	}
	return enrich.Result{Verdict: verdict, Detail: strings.Join(details, ", ")}
}
