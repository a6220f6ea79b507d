// Package claude implements the verdict advisor on the Anthropic API.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/argus/internal/tools"
	"github.com/linnemanlabs/argus/internal/verdict"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "claude-sonnet-4-5"

	responseTokens = 2048
	maxToolRounds  = 8
	maxTotalTokens = 30000
)

const systemPrompt = `You are a SOC triage analyst. You receive a summary of a security
investigation: the correlated alerts, the extracted observables, and the
threat-intelligence verdicts gathered for them. Decide what should happen
to the investigation.

If tools are available, use them before deciding: check whether an
observable has appeared in past investigations and look up indicators
that were not enriched.

When you have decided, respond with a single JSON object and nothing else:
{"decision": "close|escalate|suspicious|needs_more_info",
 "confidence": 0.0-1.0,
 "reasoning": "one or two sentences"}

Use "close" for benign or false-positive activity, "escalate" for activity
that needs an incident responder now, "suspicious" when the evidence leans
bad but is not conclusive, and "needs_more_info" when the evidence cannot
support any call.`

// Advisor asks Claude for a triage recommendation.
type Advisor struct {
	client   anthropic.Client
	model    anthropic.Model
	registry *tools.Registry
}

// Option configures an Advisor.
type Option func(*Advisor)

// WithTools gives the advisor a registry of tools it may call while
// deliberating.
func WithTools(reg *tools.Registry) Option {
	return func(a *Advisor) { a.registry = reg }
}

// New creates an advisor using the given API key and model name.
func New(apiKey, model string, opts ...Option) *Advisor {
	if model == "" {
		model = DefaultModel
	}
	a := &Advisor{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Advise implements verdict.Advisor. Without tools this is a single call;
// with tools it runs the conversation until the model commits to a verdict
// or the tool budget runs out.
func (a *Advisor) Advise(ctx context.Context, sum verdict.CaseSummary) (verdict.Advice, error) {
	messages := []Message{{
		Role:    "user",
		Content: []ContentBlock{{Type: "text", Text: buildPrompt(sum)}},
	}}

	var defs []tools.ToolDef
	if a.registry != nil {
		defs = a.registry.ToToolDefs()
	}

	var totalTokens, toolCalls int
	for {
		resp, err := a.send(ctx, messages, defs)
		if err != nil {
			return verdict.Advice{}, err
		}
		totalTokens += resp.Usage.InputTokens + resp.Usage.OutputTokens

		messages = append(messages, Message{Role: "assistant", Content: resp.Content})

		if resp.StopReason != StopToolUse {
			return parseAdvice(joinText(resp.Content))
		}

		if toolCalls >= maxToolRounds {
			return verdict.Advice{}, fmt.Errorf("tool call budget exhausted after %d calls", toolCalls)
		}
		if totalTokens >= maxTotalTokens {
			return verdict.Advice{}, fmt.Errorf("token budget exhausted at %d tokens", totalTokens)
		}

		var results []ContentBlock
		for _, block := range resp.Content {
			if block.Type != "tool_use" {
				continue
			}
			toolCalls++
			results = append(results, a.execute(ctx, block))
		}
		messages = append(messages, Message{Role: "user", Content: results})
	}
}

// execute runs one tool call and wraps the outcome as a tool_result block.
// Tool failures go back to the model as error results rather than aborting
// the conversation.
func (a *Advisor) execute(ctx context.Context, call ContentBlock) ContentBlock {
	tool, ok := a.registry.Get(call.Name)
	if !ok {
		return ContentBlock{
			Type:      "tool_result",
			ToolUseID: call.ID,
			Content:   fmt.Sprintf("unknown tool: %s", call.Name),
			IsError:   true,
		}
	}
	output, err := tool.Execute(ctx, call.Input)
	if err != nil {
		return ContentBlock{
			Type:      "tool_result",
			ToolUseID: call.ID,
			Content:   fmt.Sprintf("tool error: %v", err),
			IsError:   true,
		}
	}
	return ContentBlock{
		Type:      "tool_result",
		ToolUseID: call.ID,
		Content:   string(output),
	}
}

func (a *Advisor) send(ctx context.Context, messages []Message, defs []tools.ToolDef) (*response, error) {
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: responseTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:  toSDKMessages(messages),
	}
	if len(defs) > 0 {
		params.Tools = toSDKTools(defs)
	}
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude: %w", err)
	}
	return fromSDKResponse(msg), nil
}

// buildPrompt renders the case summary as the user turn.
func buildPrompt(sum verdict.CaseSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Investigation %s\n", sum.InvestigationID)
	fmt.Fprintf(&b, "Severity: %s (max alert level %d), %d correlated alerts\n",
		sum.Severity, sum.MaxLevel, sum.AlertCount)

	if len(sum.RuleDescriptions) > 0 {
		b.WriteString("\nTriggered rules:\n")
		for _, r := range sum.RuleDescriptions {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}

	if len(sum.Findings) > 0 {
		b.WriteString("\nObservables:\n")
		for _, f := range sum.Findings {
			fmt.Fprintf(&b, "- %s %s: %s\n", f.Observable.Type, f.Observable.Value, f.Verdict)
			for _, d := range f.Details {
				fmt.Fprintf(&b, "    %s\n", d)
			}
		}
	}

	e := sum.Enrichment
	fmt.Fprintf(&b, "\nEnrichment: %d malicious, %d suspicious, %d clean, %d unknown, %d source failures\n",
		e.Malicious, e.Suspicious, e.Clean, e.Unknown, e.Failed)
	return b.String()
}

// joinText concatenates the text blocks of a response.
func joinText(blocks []ContentBlock) string {
	var b strings.Builder
	for _, block := range blocks {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// parseAdvice extracts the JSON advice from the model's reply. Models
// sometimes wrap the object in prose, so a failed direct parse falls back
// to the outermost braces.
func parseAdvice(text string) (verdict.Advice, error) {
	var advice verdict.Advice
	raw := strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(raw), &advice); err != nil {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start < 0 || end <= start {
			return verdict.Advice{}, fmt.Errorf("no JSON object in response: %q", truncate(raw, 200))
		}
		if err := json.Unmarshal([]byte(raw[start:end+1]), &advice); err != nil {
			return verdict.Advice{}, fmt.Errorf("parse advice: %w", err)
		}
	}

	advice.Decision = verdict.Decision(strings.ToLower(strings.TrimSpace(string(advice.Decision))))
	if !advice.Decision.Valid() {
		return verdict.Advice{}, fmt.Errorf("unknown decision %q", advice.Decision)
	}
	if advice.Confidence < 0 {
		advice.Confidence = 0
	}
	if advice.Confidence > 1 {
		advice.Confidence = 1
	}
	return advice, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
