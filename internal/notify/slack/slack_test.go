package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/argus/internal/alert"
	"github.com/linnemanlabs/argus/internal/investigation"
	"github.com/linnemanlabs/argus/internal/verdict"
)

func sampleInvestigation() *investigation.Investigation {
	return &investigation.Investigation{
		ID:       "01JN123",
		Status:   investigation.StatusInProgress,
		Phase:    investigation.PhaseHumanReview,
		Severity: alert.SeverityCritical,
		Alerts: []alert.Alert{{
			ExternalID:      "a-1",
			SourceAgent:     "web-01",
			SourceIP:        "10.0.0.9",
			RuleID:          "5710",
			RuleDescription: "sshd brute force",
			Level:           10,
		}},
		Verdict: &verdict.Outcome{
			Advice: verdict.Advice{
				Decision:   verdict.DecisionSuspicious,
				Confidence: 0.6,
				Reasoning:  "repeated failures from a single source",
			},
			Route:  verdict.RouteHumanReview,
			Reason: "confidence below thresholds",
		},
		Review: &investigation.Review{
			ID:           "01JNREV",
			Status:       investigation.ReviewPending,
			AIDecision:   verdict.DecisionSuspicious,
			AIConfidence: 0.6,
			ExpiresAt:    time.Date(2026, 2, 26, 14, 28, 0, 0, time.UTC),
		},
		UpdatedAt: time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
	}
}

func capture(t *testing.T) (*httptest.Server, *map[string]any) {
	t.Helper()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestReviewRequested_PostsToWebhook(t *testing.T) {
	t.Parallel()

	srv, got := capture(t)
	n := New(srv.URL, log.Nop())
	n.ReviewRequested(context.Background(), sampleInvestigation())

	blocks, ok := (*got)["blocks"].([]any)
	if !ok || len(blocks) == 0 {
		t.Fatal("expected blocks array in payload")
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "sshd brute force") {
		t.Errorf("header text = %q, want rule description", headerText)
	}
	if !strings.Contains(headerText, "\U0001f534") {
		t.Error("header should contain red circle for critical severity")
	}

	payload, _ := json.Marshal(*got)
	if !strings.Contains(string(payload), "01JNREV") {
		t.Error("payload should reference the review ID")
	}
}

func TestEscalated_IncludesReason(t *testing.T) {
	t.Parallel()

	srv, got := capture(t)
	n := New(srv.URL, log.Nop())

	inv := sampleInvestigation()
	inv.Status = investigation.StatusEscalated
	inv.Resolution = ""
	n.Escalated(context.Background(), inv)

	payload, _ := json.Marshal(*got)
	if !strings.Contains(string(payload), "confidence below thresholds") {
		t.Errorf("payload = %s, want verdict reason", payload)
	}
}

func TestClosed_IncludesResolution(t *testing.T) {
	t.Parallel()

	srv, got := capture(t)
	n := New(srv.URL, log.Nop())

	inv := sampleInvestigation()
	inv.Status = investigation.StatusRejected
	inv.Resolution = "rejected by analyst during human review"
	n.Closed(context.Background(), inv)

	payload, _ := json.Marshal(*got)
	if !strings.Contains(string(payload), "rejected by analyst") {
		t.Errorf("payload = %s, want resolution text", payload)
	}
}

func TestNoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", log.Nop())
	// Must not panic or block.
	n.ReviewRequested(context.Background(), sampleInvestigation())
	n.Escalated(context.Background(), sampleInvestigation())
	n.Closed(context.Background(), sampleInvestigation())
}

func TestReviewRequested_SkipsWithoutReview(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	inv := sampleInvestigation()
	inv.Review = nil
	New(srv.URL, log.Nop()).ReviewRequested(context.Background(), inv)
	if calls != 0 {
		t.Errorf("webhook calls = %d, want 0", calls)
	}
}

func TestSend_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	err := n.send(context.Background(), map[string]any{"blocks": []any{}})
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func TestTruncatesLongReasoning(t *testing.T) {
	t.Parallel()

	inv := sampleInvestigation()
	inv.Verdict.Advice.Reasoning = strings.Repeat("x", 4000)

	block := reasoningBlock(inv.Verdict.Advice.Reasoning)
	text := block["text"].(map[string]any)["text"].(string)
	if len(text) > maxReasoningLen+len("*AI reasoning*\n\n") {
		t.Errorf("reasoning length = %d, want <= %d", len(text), maxReasoningLen)
	}
	if !strings.HasSuffix(text, "...") {
		t.Error("expected truncated reasoning to end with ...")
	}
}

func TestSeverityEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		severity alert.Severity
		want     string
	}{
		{alert.SeverityCritical, "\U0001f534"},
		{alert.SeverityHigh, "\U0001f534"},
		{alert.SeverityMedium, "\U0001f7e1"},
		{alert.SeverityLow, "\U0001f7e2"},
		{alert.Severity(""), "\U0001f7e2"},
	}

	for _, tt := range tests {
		if got := severityEmoji(tt.severity); got != tt.want {
			t.Errorf("severityEmoji(%q) = %q, want %q", tt.severity, got, tt.want)
		}
	}
}

func FuzzMessageBuild(f *testing.F) {
	f.Add("sshd brute force", "critical", "repeated failures", "10.0.0.9")
	f.Add("", "", "", "")
	f.Add("<@U123> mention", "medium", "*bold* _italic_ ~strike~", "::1")
	f.Add("rule\x00\x01\x02", "sev\nline", "reasoning\ttab", "ip\x00")
	f.Add(strings.Repeat("A", 5000), "critical", strings.Repeat("x", 10000), "203.0.113.7")

	f.Fuzz(func(t *testing.T, rule, severity, reasoning, ip string) {
		inv := sampleInvestigation()
		inv.Alerts[0].RuleDescription = rule
		inv.Alerts[0].SourceIP = ip
		inv.Severity = alert.Severity(severity)
		inv.Verdict.Advice.Reasoning = reasoning

		for _, msg := range []map[string]any{
			reviewMessage(inv),
			escalationMessage(inv),
			closureMessage(inv),
		} {
			data, err := json.Marshal(msg)
			if err != nil {
				t.Fatalf("message is not marshalable: %v", err)
			}
			var decoded map[string]any
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("message JSON does not round-trip: %v", err)
			}
			if _, ok := decoded["blocks"].([]any); !ok {
				t.Fatal("expected blocks array")
			}
		}
	})
}
