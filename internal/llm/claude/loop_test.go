package claude

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/argus/internal/tools"
	"github.com/linnemanlabs/argus/internal/verdict"
)

type fakeTool struct {
	calls int
	input json.RawMessage
}

func (f *fakeTool) Name() string        { return "case_history" }
func (f *fakeTool) Description() string { return "search past cases" }
func (f *fakeTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"observable":{"type":"string"}},"required":["observable"]}`)
}

func (f *fakeTool) Execute(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	f.calls++
	f.input = params
	return json.RawMessage(`{"count":2,"matches":[]}`), nil
}

// fakeBackend serves canned API responses in order.
func fakeBackend(t *testing.T, responses []string, bodies *[]string) *httptest.Server {
	t.Helper()
	var call int
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		*bodies = append(*bodies, string(payload))
		if call >= len(responses) {
			t.Errorf("unexpected extra API call %d", call)
			http.Error(w, `{"type":"error"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(responses[call]))
		call++
	}))
}

const toolUseResponse = `{
	"id": "msg_1", "type": "message", "role": "assistant", "model": "m",
	"content": [
		{"type": "text", "text": "checking history first"},
		{"type": "tool_use", "id": "tu-1", "name": "case_history", "input": {"observable": "203.0.113.9"}}
	],
	"stop_reason": "tool_use",
	"usage": {"input_tokens": 50, "output_tokens": 20}
}`

const verdictResponse = `{
	"id": "msg_2", "type": "message", "role": "assistant", "model": "m",
	"content": [
		{"type": "text", "text": "{\"decision\":\"escalate\",\"confidence\":0.9,\"reasoning\":\"repeat offender\"}"}
	],
	"stop_reason": "end_turn",
	"usage": {"input_tokens": 80, "output_tokens": 30}
}`

func TestAdviseRunsToolLoop(t *testing.T) {
	var bodies []string
	srv := fakeBackend(t, []string{toolUseResponse, verdictResponse}, &bodies)
	defer srv.Close()

	tool := &fakeTool{}
	reg := tools.NewRegistry()
	reg.Register(tool)

	a := &Advisor{
		client:   anthropic.NewClient(option.WithAPIKey("test"), option.WithBaseURL(srv.URL)),
		model:    "m",
		registry: reg,
	}

	advice, err := a.Advise(context.Background(), verdict.CaseSummary{InvestigationID: "inv-1"})
	if err != nil {
		t.Fatalf("Advise() = %v, want nil", err)
	}
	if advice.Decision != verdict.DecisionEscalate {
		t.Errorf("decision = %s, want escalate", advice.Decision)
	}
	if advice.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", advice.Confidence)
	}

	if tool.calls != 1 {
		t.Fatalf("tool calls = %d, want 1", tool.calls)
	}
	if !strings.Contains(string(tool.input), "203.0.113.9") {
		t.Errorf("tool input = %s, want the requested observable", tool.input)
	}

	if len(bodies) != 2 {
		t.Fatalf("API calls = %d, want 2", len(bodies))
	}
	if !strings.Contains(bodies[0], `"case_history"`) {
		t.Error("first request should advertise the tool")
	}
	if !strings.Contains(bodies[1], "tool_result") || !strings.Contains(bodies[1], `\"count\":2`) {
		t.Errorf("second request should carry the tool result, got: %s", bodies[1])
	}
}

func TestAdviseUnknownToolReportsErrorResult(t *testing.T) {
	var bodies []string
	unknownCall := strings.Replace(toolUseResponse, `"name": "case_history"`, `"name": "no_such_tool"`, 1)
	srv := fakeBackend(t, []string{unknownCall, verdictResponse}, &bodies)
	defer srv.Close()

	a := &Advisor{
		client:   anthropic.NewClient(option.WithAPIKey("test"), option.WithBaseURL(srv.URL)),
		model:    "m",
		registry: tools.NewRegistry(),
	}

	if _, err := a.Advise(context.Background(), verdict.CaseSummary{InvestigationID: "inv-1"}); err != nil {
		t.Fatalf("Advise() = %v, want nil", err)
	}
	if len(bodies) != 2 {
		t.Fatalf("API calls = %d, want 2", len(bodies))
	}
	if !strings.Contains(bodies[1], "unknown tool") {
		t.Error("second request should report the unknown tool back to the model")
	}
}
