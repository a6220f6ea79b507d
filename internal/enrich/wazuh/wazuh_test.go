package wazuh

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/linnemanlabs/argus/internal/alert"
	"github.com/linnemanlabs/argus/internal/enrich"
)

func TestEnrichCleanForManagedAgent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agents" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-jwt" {
			t.Errorf("missing bearer token")
		}
		if !strings.Contains(r.URL.RawQuery, "ip%3D10.0.4.2") {
			t.Errorf("query = %s, want ip filter", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"affected_items":[
			{"id":"007","name":"web-prod-1","status":"active","os":{"platform":"ubuntu"}}
		],"total_affected_items":1}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-jwt")
	res, err := c.Enrich(context.Background(), alert.Observable{Type: alert.ObservableIP, Value: "10.0.4.2"})
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if res.Verdict != enrich.VerdictClean {
		t.Errorf("verdict = %s, want clean for managed asset", res.Verdict)
	}
	if !strings.Contains(res.Detail, "web-prod-1") {
		t.Errorf("detail = %q, want agent name", res.Detail)
	}
}

func TestEnrichUnknownForUnmanagedIP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"affected_items":[],"total_affected_items":0}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	res, err := c.Enrich(context.Background(), alert.Observable{Type: alert.ObservableIP, Value: "203.0.113.9"})
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if res.Verdict != enrich.VerdictUnknown {
		t.Errorf("verdict = %s, want unknown", res.Verdict)
	}
}

func TestEnrichSkipsNonIPObservables(t *testing.T) {
	t.Parallel()

	// no server: the call must never leave the process
	c := New("http://127.0.0.1:1", "k")
	res, err := c.Enrich(context.Background(), alert.Observable{Type: alert.ObservableDomain, Value: "example.com"})
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if res.Verdict != enrich.VerdictUnknown {
		t.Errorf("verdict = %s, want unknown for out-of-scope type", res.Verdict)
	}
}

func TestEnrichErrorOnBadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "stale")
	if _, err := c.Enrich(context.Background(), alert.Observable{Type: alert.ObservableIP, Value: "10.0.0.1"}); err == nil {
		t.Fatal("expected error on 401")
	}
}
