// Package slack announces investigation milestones to Slack via incoming
// webhooks: review requests awaiting an analyst, escalations, and
// closures.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/argus/internal/alert"
	"github.com/linnemanlabs/argus/internal/investigation"
)

const (
	maxReasoningLen = 3000
	httpTimeout     = 10 * time.Second
)

// Notifier posts investigation milestones to a Slack webhook. Delivery
// failures are logged, never propagated: notifications must not stall
// the pipeline.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a Slack notifier. If webhookURL is empty every method is a
// no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// ReviewRequested announces a review waiting for an analyst.
func (n *Notifier) ReviewRequested(ctx context.Context, inv *investigation.Investigation) {
	if inv.Review == nil {
		return
	}
	n.post(ctx, inv, reviewMessage(inv))
}

// Escalated announces an investigation handed to incident response.
func (n *Notifier) Escalated(ctx context.Context, inv *investigation.Investigation) {
	n.post(ctx, inv, escalationMessage(inv))
}

// Closed announces a closed investigation.
func (n *Notifier) Closed(ctx context.Context, inv *investigation.Investigation) {
	n.post(ctx, inv, closureMessage(inv))
}

func (n *Notifier) post(ctx context.Context, inv *investigation.Investigation, msg map[string]any) {
	if n.webhookURL == "" {
		return
	}
	if err := n.send(ctx, msg); err != nil {
		n.logger.Error(ctx, err, "slack notification failed", "investigation_id", inv.ID)
	}
}

func (n *Notifier) send(ctx context.Context, msg map[string]any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func reviewMessage(inv *investigation.Investigation) map[string]any {
	rev := inv.Review
	blocks := []map[string]any{
		headerBlock(fmt.Sprintf("%s Review Needed: %s", severityEmoji(inv.Severity), ruleLine(inv))),
		{"type": "divider"},
		fieldsBlock(inv),
	}
	if inv.Verdict != nil {
		blocks = append(blocks, reasoningBlock(inv.Verdict.Advice.Reasoning))
	}
	blocks = append(blocks,
		sectionBlock(fmt.Sprintf("*AI suggests:* %s (%.0f%% confident)\nResolve review `%s` in the dashboard or CLI before %s.",
			rev.AIDecision,
			rev.AIConfidence*100,
			rev.ID,
			rev.ExpiresAt.UTC().Format("15:04 UTC"),
		)),
		contextBlock(inv),
	)
	return map[string]any{"blocks": blocks}
}

func escalationMessage(inv *investigation.Investigation) map[string]any {
	reason := inv.Resolution
	if reason == "" && inv.Verdict != nil {
		reason = inv.Verdict.Reason
	}
	blocks := []map[string]any{
		headerBlock("\U0001f6a8 Escalated: " + ruleLine(inv)),
		{"type": "divider"},
		fieldsBlock(inv),
		sectionBlock("*Reason*\n\n" + orNone(reason)),
		contextBlock(inv),
	}
	return map[string]any{"blocks": blocks}
}

func closureMessage(inv *investigation.Investigation) map[string]any {
	blocks := []map[string]any{
		headerBlock(fmt.Sprintf("%s Closed (%s): %s", severityEmoji(inv.Severity), inv.Status, ruleLine(inv))),
		{"type": "divider"},
		fieldsBlock(inv),
		sectionBlock("*Resolution*\n\n" + orNone(inv.Resolution)),
		contextBlock(inv),
	}
	return map[string]any{"blocks": blocks}
}

func ruleLine(inv *investigation.Investigation) string {
	if len(inv.Alerts) == 0 {
		return inv.ID
	}
	first := inv.Alerts[0]
	if first.RuleDescription != "" {
		return first.RuleDescription
	}
	return "rule " + first.RuleID
}

func headerBlock(text string) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func sectionBlock(markdown string) map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": markdown,
		},
	}
}

func fieldsBlock(inv *investigation.Investigation) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Severity:* %s", inv.Severity),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Phase:* %s", inv.Phase),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Alerts:* %d", len(inv.Alerts)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Observables:* %d", len(inv.Observables)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Malicious hits:* %d", inv.Summary.Malicious),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Agent:* %s", agentLine(inv)),
		},
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func reasoningBlock(reasoning string) map[string]any {
	return sectionBlock("*AI reasoning*\n\n" + orNone(truncate(reasoning, maxReasoningLen)))
}

func contextBlock(inv *investigation.Investigation) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("argus • investigation %s • %s", inv.ID, inv.UpdatedAt.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func agentLine(inv *investigation.Investigation) string {
	if len(inv.Alerts) == 0 {
		return "unknown"
	}
	a := inv.Alerts[0]
	if a.SourceIP != "" {
		return a.SourceAgent + " (" + a.SourceIP + ")"
	}
	return a.SourceAgent
}

func severityEmoji(severity alert.Severity) string {
	switch strings.ToLower(string(severity)) {
	case "critical", "high":
		return "\U0001f534" // red circle
	case "medium":
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func orNone(s string) string {
	if s == "" {
		return "_none recorded._"
	}
	return s
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
