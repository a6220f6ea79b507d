package alert

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSeverityFromLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level int
		want  Severity
	}{
		{0, SeverityLow},
		{3, SeverityLow},
		{4, SeverityMedium},
		{7, SeverityMedium},
		{8, SeverityHigh},
		{11, SeverityHigh},
		{12, SeverityCritical},
		{15, SeverityCritical},
	}
	for _, tt := range tests {
		if got := SeverityFromLevel(tt.level); got != tt.want {
			t.Errorf("SeverityFromLevel(%d) = %s, want %s", tt.level, got, tt.want)
		}
	}
}

func TestSeverityMax(t *testing.T) {
	t.Parallel()

	if got := Max(SeverityLow, SeverityCritical); got != SeverityCritical {
		t.Errorf("Max(low, critical) = %s", got)
	}
	if got := Max(SeverityHigh, SeverityMedium); got != SeverityHigh {
		t.Errorf("Max(high, medium) = %s", got)
	}
	// unknown severities never win
	if got := Max(Severity("bogus"), SeverityLow); got != SeverityLow {
		t.Errorf("Max(bogus, low) = %s", got)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := Alert{Level: 10}
	a.Normalize(now)
	if a.Severity != SeverityHigh {
		t.Errorf("severity = %s, want high from level 10", a.Severity)
	}
	if !a.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want now", a.Timestamp)
	}

	// explicit fields are preserved
	ts := now.Add(-time.Hour)
	b := Alert{Level: 10, Severity: SeverityLow, Timestamp: ts}
	b.Normalize(now)
	if b.Severity != SeverityLow {
		t.Errorf("severity = %s, want explicit value kept", b.Severity)
	}
	if !b.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want explicit value kept", b.Timestamp)
	}
}

func TestObservablesExtraction(t *testing.T) {
	t.Parallel()

	a := Alert{
		SourceIP: "203.0.113.9",
		Raw: json.RawMessage(`{
			"srcip": "203.0.113.9",
			"hostname": "evil.example.com",
			"sha256": "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			"dstuser": "svc-backup",
			"file": ""
		}`),
	}

	obs := a.Observables()
	want := map[string]ObservableType{
		"203.0.113.9":      ObservableIP,
		"evil.example.com": ObservableDomain,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855": ObservableHash256,
		"svc-backup": ObservableUser,
	}
	if len(obs) != len(want) {
		t.Fatalf("extracted %d observables, want %d: %v", len(obs), len(want), obs)
	}
	for _, o := range obs {
		if want[o.Value] != o.Type {
			t.Errorf("observable %q typed %s, want %s", o.Value, o.Type, want[o.Value])
		}
	}
}

func TestObservablesDeduplicates(t *testing.T) {
	t.Parallel()

	a := Alert{
		SourceIP: "203.0.113.9",
		Raw:      json.RawMessage(`{"srcip":"203.0.113.9","dstip":"203.0.113.9"}`),
	}
	if obs := a.Observables(); len(obs) != 1 {
		t.Errorf("extracted %d observables, want 1 after dedup: %v", len(obs), obs)
	}
}

func TestObservablesReclassifiesByShape(t *testing.T) {
	t.Parallel()

	// a "hostname" field holding an IP should come out typed ip
	a := Alert{Raw: json.RawMessage(`{"hostname":"198.51.100.4"}`)}
	obs := a.Observables()
	if len(obs) != 1 {
		t.Fatalf("extracted %d observables, want 1", len(obs))
	}
	if obs[0].Type != ObservableIP {
		t.Errorf("type = %s, want ip for an IP-shaped hostname", obs[0].Type)
	}

	// an md5-shaped value in a filename field becomes a hash
	b := Alert{Raw: json.RawMessage(`{"filename":"d41d8cd98f00b204e9800998ecf8427e"}`)}
	obs = b.Observables()
	if len(obs) != 1 || obs[0].Type != ObservableHashMD5 {
		t.Errorf("observables = %v, want one hash_md5", obs)
	}
}

func TestObservablesInvalidSourceIP(t *testing.T) {
	t.Parallel()

	a := Alert{SourceIP: "not-an-ip"}
	if obs := a.Observables(); len(obs) != 0 {
		t.Errorf("observables = %v, want none for invalid source ip", obs)
	}
}
