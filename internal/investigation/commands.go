package investigation

import (
	"errors"
	"fmt"

	"github.com/linnemanlabs/argus/internal/event"
)

// ErrTerminal is returned by commands on an investigation whose status can
// no longer change.
var ErrTerminal = errors.New("investigation: already in a terminal state")

// TransitionError reports a phase move the workflow does not allow.
type TransitionError struct {
	From, To Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("investigation: cannot move from %s to %s", e.From, e.To)
}

// Commands are pure: they inspect current state and return the events to
// append, without mutating the aggregate. A nil, nil return means the
// command is already satisfied and nothing needs to be written.

// Pause suspends a running investigation. Pausing a paused investigation
// is a no-op.
func (inv *Investigation) Pause() ([]event.Event, error) {
	if inv.Status.Terminal() {
		return nil, ErrTerminal
	}
	if inv.Status == StatusPaused {
		return nil, nil
	}
	e, err := event.New(inv.ID, event.InvestigationPaused, struct{}{})
	if err != nil {
		return nil, err
	}
	return []event.Event{e}, nil
}

// Resume restarts a paused investigation. Resuming an unpaused one is a
// no-op.
func (inv *Investigation) Resume() ([]event.Event, error) {
	if inv.Status.Terminal() {
		return nil, ErrTerminal
	}
	if inv.Status != StatusPaused {
		return nil, nil
	}
	e, err := event.New(inv.ID, event.InvestigationResumed, struct{}{})
	if err != nil {
		return nil, err
	}
	return []event.Event{e}, nil
}

// Cancel aborts the investigation from any non-terminal state. Cancelling
// twice is a no-op.
func (inv *Investigation) Cancel(reason string) ([]event.Event, error) {
	if inv.Status == StatusCancelled {
		return nil, nil
	}
	if inv.Status.Terminal() {
		return nil, ErrTerminal
	}
	e, err := event.New(inv.ID, event.InvestigationCancelled, CancelledData{Reason: reason})
	if err != nil {
		return nil, err
	}
	return []event.Event{e}, nil
}

// MovePhase advances the workflow, checking the transition table.
func (inv *Investigation) MovePhase(to Phase, reason string) ([]event.Event, error) {
	if inv.Status.Terminal() {
		return nil, ErrTerminal
	}
	if inv.Phase == to {
		return nil, nil
	}
	if !Allowed(inv.Phase, to) {
		return nil, &TransitionError{From: inv.Phase, To: to}
	}
	e, err := event.New(inv.ID, event.PhaseChanged, PhaseData{From: inv.Phase, To: to, Reason: reason})
	if err != nil {
		return nil, err
	}
	return []event.Event{e}, nil
}
