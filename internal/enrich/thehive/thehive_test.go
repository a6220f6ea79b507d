package thehive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/linnemanlabs/argus/internal/alert"
	"github.com/linnemanlabs/argus/internal/enrich"
)

func obs(value string) alert.Observable {
	return alert.Observable{Type: alert.ObservableIP, Value: value}
}

func TestEnrichIOCHitIsMalicious(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer hive-key" {
			t.Errorf("authorization = %q", got)
		}
		var body struct {
			Query []map[string]any `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode query: %v", err)
		}
		if len(body.Query) < 2 || body.Query[1]["_value"] != "203.0.113.9" {
			t.Errorf("filter = %v", body.Query)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"ioc":true,"sighted":true,"message":"C2 beacon"},{"ioc":false,"sighted":true}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "hive-key")
	res, err := c.Enrich(context.Background(), obs("203.0.113.9"))
	if err != nil {
		t.Fatalf("Enrich() = %v", err)
	}
	if res.Verdict != enrich.VerdictMalicious {
		t.Errorf("verdict = %q, want malicious", res.Verdict)
	}
	if !strings.Contains(res.Detail, "C2 beacon") {
		t.Errorf("detail = %q", res.Detail)
	}
}

func TestEnrichSightingWithoutIOCIsSuspicious(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[{"ioc":false,"sighted":true},{"ioc":false,"sighted":true},{"ioc":false}]`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, "k").Enrich(context.Background(), obs("10.0.0.5"))
	if err != nil {
		t.Fatalf("Enrich() = %v", err)
	}
	if res.Verdict != enrich.VerdictSuspicious {
		t.Errorf("verdict = %q, want suspicious", res.Verdict)
	}
	if !strings.Contains(res.Detail, "3 prior cases") {
		t.Errorf("detail = %q", res.Detail)
	}
}

func TestEnrichNoHistoryIsUnknown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, "k").Enrich(context.Background(), obs("10.0.0.6"))
	if err != nil {
		t.Fatalf("Enrich() = %v", err)
	}
	if res.Verdict != enrich.VerdictUnknown {
		t.Errorf("verdict = %q, want unknown", res.Verdict)
	}
}

func TestEnrichServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "authentication failure", http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := New(srv.URL, "bad").Enrich(context.Background(), obs("10.0.0.7")); err == nil {
		t.Fatal("expected error for 401 response")
	} else if !strings.Contains(err.Error(), "status 401") {
		t.Errorf("err = %v", err)
	}
}
