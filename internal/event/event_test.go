package event

import (
	"errors"
	"strings"
	"testing"
)

func TestNewMarshalsPayload(t *testing.T) {
	t.Parallel()

	e, err := New("inv-1", InvestigationCreated, map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("New() = %v, want nil", err)
	}
	if e.AggregateID != "inv-1" {
		t.Errorf("aggregate id = %q", e.AggregateID)
	}
	if e.AggregateType != AggregateInvestigation {
		t.Errorf("aggregate type = %q", e.AggregateType)
	}
	if e.Version != 0 || e.ID != "" {
		t.Errorf("version/id should be unset before append, got %d/%q", e.Version, e.ID)
	}
	if string(e.Data) != `{"k":"v"}` {
		t.Errorf("data = %s", e.Data)
	}
}

func TestNewRejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	if _, err := New("inv-1", InvestigationCreated, func() {}); err == nil {
		t.Fatal("expected error for unmarshalable payload")
	}
}

func TestMustNewPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	MustNew("inv-1", InvestigationCreated, func() {})
}

func TestConflictErrorUnwraps(t *testing.T) {
	t.Parallel()

	var err error = &ConflictError{AggregateID: "inv-1", Expected: 3, Actual: 5}
	if !errors.Is(err, ErrConcurrencyConflict) {
		t.Error("ConflictError should match ErrConcurrencyConflict")
	}
	msg := err.Error()
	for _, want := range []string{"inv-1", "expected version 3", "actual 5"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}
