package investigation

import (
	"encoding/json"
	"fmt"

	"github.com/linnemanlabs/argus/internal/alert"
	"github.com/linnemanlabs/argus/internal/enrich"
	"github.com/linnemanlabs/argus/internal/event"
)

// Replay folds an event stream into aggregate state. Folding is
// deterministic: the same stream always yields the same state, and folding
// a prefix yields the state as of that version.
func Replay(events []event.Event) (*Investigation, error) {
	inv := &Investigation{}
	for _, e := range events {
		if err := inv.Apply(e); err != nil {
			return nil, fmt.Errorf("apply %s v%d: %w", e.Type, e.Version, err)
		}
	}
	return inv, nil
}

// Apply folds one event into the aggregate. Events of unknown type are
// skipped so old binaries can replay streams written by newer ones.
func (inv *Investigation) Apply(e event.Event) error {
	switch e.Type {
	case event.InvestigationCreated:
		var d CreatedData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return err
		}
		inv.ID = e.AggregateID
		inv.Status = StatusPending
		inv.Phase = PhaseTriage
		inv.Alerts = []alert.Alert{d.Alert}
		inv.Severity = d.Alert.Severity
		inv.CreatedAt = e.Timestamp

	case event.InvestigationStarted:
		inv.Status = StatusInProgress

	case event.AlertAdded, event.AlertCorrelated:
		var d CorrelatedData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return err
		}
		inv.Alerts = append(inv.Alerts, d.Alert)
		inv.Severity = alert.Max(inv.Severity, d.Alert.Severity)

	case event.ObservableExtracted:
		var d ObservableData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return err
		}
		inv.addObservable(d.Observable)

	case event.EnrichmentRequested:
		// Fan-out bookkeeping only; the phase moves via phase.changed.

	case event.EnrichmentCompleted:
		var d EnrichmentCompletedData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return err
		}
		inv.Enrichments = append(inv.Enrichments, EnrichmentRecord{
			Source:     d.Source,
			Observable: d.Observable,
			Verdict:    d.Verdict,
			Detail:     d.Detail,
		})
		inv.Summary.Add(d.Verdict)
		inv.tagObservable(d.Observable, d.Verdict)

	case event.EnrichmentFailed:
		var d EnrichmentFailedData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return err
		}
		inv.Enrichments = append(inv.Enrichments, EnrichmentRecord{
			Source:     d.Source,
			Observable: d.Observable,
			Failed:     true,
			Error:      d.Error,
		})
		inv.Summary.Failed++

	case event.PhaseChanged:
		var d PhaseData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return err
		}
		inv.Phase = d.To

	case event.VerdictRendered:
		var d VerdictData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return err
		}
		out := d.Outcome
		inv.Verdict = &out

	case event.HumanReviewRequested:
		var d ReviewRequestedData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return err
		}
		inv.Review = &Review{
			ID:           d.ReviewID,
			Status:       ReviewPending,
			AIDecision:   d.AIDecision,
			AIConfidence: d.AIConfidence,
			Reason:       d.Reason,
			RequestedAt:  e.Timestamp,
			ExpiresAt:    d.ExpiresAt,
		}

	case event.HumanDecisionReceived:
		var d DecisionData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return err
		}
		if inv.Review == nil || inv.Review.ID != d.ReviewID {
			return fmt.Errorf("decision for unknown review %s", d.ReviewID)
		}
		r := inv.Review
		switch d.Outcome {
		case OutcomeRequestInfo:
			r.InfoRequests = append(r.InfoRequests, InfoRequest{
				Reviewer:  d.Reviewer,
				Channel:   d.Channel,
				Questions: d.Questions,
				At:        e.Timestamp,
			})
			if !d.ExtendsTo.IsZero() {
				r.ExpiresAt = d.ExtendsTo
			}
		case OutcomeApprove:
			r.Status = ReviewApproved
			inv.resolveReview(r, d, e)
		case OutcomeReject:
			r.Status = ReviewRejected
			inv.resolveReview(r, d, e)
		case OutcomeExpire:
			r.Status = ReviewExpired
			inv.resolveReview(r, d, e)
		default:
			return fmt.Errorf("unknown review outcome %q", d.Outcome)
		}

	case event.InvestigationPaused:
		if inv.ResumePhase == "" {
			inv.ResumePhase = inv.Phase
		}
		inv.Status = StatusPaused

	case event.InvestigationResumed:
		inv.Status = StatusInProgress
		inv.ResumePhase = ""

	case event.InvestigationEscalated:
		var d EscalatedData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return err
		}
		inv.Status = StatusEscalated
		inv.Phase = PhaseEscalation
		inv.Resolution = d.Reason

	case event.InvestigationAutoClosed:
		var d ClosedData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return err
		}
		inv.Status = StatusAutoClosed
		inv.Phase = PhaseClosed
		inv.Resolution = d.Resolution
		inv.ClosedAt = e.Timestamp

	case event.InvestigationClosed:
		var d ClosedData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return err
		}
		inv.Status = StatusClosed
		if d.Status != "" {
			inv.Status = d.Status
		}
		inv.Phase = PhaseClosed
		inv.Resolution = d.Resolution
		inv.ClosedAt = e.Timestamp

	case event.InvestigationCancelled:
		var d CancelledData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return err
		}
		inv.Status = StatusCancelled
		inv.Phase = PhaseClosed
		inv.CancelReason = d.Reason
		inv.ClosedAt = e.Timestamp
	}

	inv.UpdatedAt = e.Timestamp
	inv.Version = e.Version
	return nil
}

func (inv *Investigation) resolveReview(r *Review, d DecisionData, e event.Event) {
	r.ResolvedAt = e.Timestamp
	r.ResolvedBy = d.Reviewer
	r.Channel = d.Channel
	r.Feedback = d.Feedback
}

func (inv *Investigation) addObservable(o alert.Observable) {
	for _, have := range inv.Observables {
		if have.Key() == o.Key() {
			return
		}
	}
	inv.Observables = append(inv.Observables, TaggedObservable{Observable: o, Verdict: enrich.VerdictUnknown})
}

func (inv *Investigation) tagObservable(o alert.Observable, v enrich.Verdict) {
	for i := range inv.Observables {
		if inv.Observables[i].Key() == o.Key() {
			inv.Observables[i].Verdict = enrich.Worse(inv.Observables[i].Verdict, v)
			return
		}
	}
	inv.Observables = append(inv.Observables, TaggedObservable{Observable: o, Verdict: v})
}
