// Package projection derives read models from the event log: the
// investigation list, pending reviews, the metrics overview, and the live
// event feed. Read models are eventually consistent and never mutated
// directly.
package projection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/argus/internal/alert"
	"github.com/linnemanlabs/argus/internal/enrich"
	"github.com/linnemanlabs/argus/internal/event"
	"github.com/linnemanlabs/argus/internal/investigation"
	"github.com/linnemanlabs/argus/internal/review"
	"github.com/linnemanlabs/argus/internal/verdict"
)

// Summary is one row of the investigation list.
type Summary struct {
	ID              string                 `json:"id"`
	Status          investigation.Status   `json:"status"`
	Phase           investigation.Phase    `json:"phase"`
	Severity        alert.Severity         `json:"severity"`
	AlertCount      int                    `json:"alert_count"`
	ObservableCount int                    `json:"observable_count"`
	Enrichment      enrich.Summary         `json:"enrichment"`
	Verdict         *verdict.Outcome       `json:"verdict,omitempty"`
	ReviewPending   bool                   `json:"review_pending"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	ClosedAt        *time.Time             `json:"closed_at,omitempty"`
	Resolution      string                 `json:"resolution,omitempty"`
	Version         int                    `json:"version"`
}

// ReviewView is one row of the pending-review list.
type ReviewView struct {
	ID              string                     `json:"id"`
	InvestigationID string                     `json:"investigation_id"`
	Status          investigation.ReviewStatus `json:"status"`
	AIDecision      verdict.Decision           `json:"ai_decision"`
	AIConfidence    float64                    `json:"ai_confidence"`
	Reason          string                     `json:"reason,omitempty"`
	Severity        alert.Severity             `json:"severity"`
	Questions       []string                   `json:"questions,omitempty"`
	RequestedAt     time.Time                  `json:"requested_at"`
	ExpiresAt       time.Time                  `json:"expires_at"`
	ResolvedAt      *time.Time                 `json:"resolved_at,omitempty"`
	ResolvedBy      string                     `json:"resolved_by,omitempty"`
	Channel         string                     `json:"channel,omitempty"`
}

// Overview is the metrics read model.
type Overview struct {
	Total      int                         `json:"total"`
	Open       int                         `json:"open"`
	Closed     int                         `json:"closed"`
	AutoClosed int                         `json:"auto_closed"`
	Escalated  int                         `json:"escalated"`
	Rejected   int                         `json:"rejected"`
	Cancelled  int                         `json:"cancelled"`
	BySeverity map[alert.Severity]int      `json:"by_severity"`
	ByPhase    map[investigation.Phase]int `json:"by_phase"`
	// PendingReviews is the number of reviews currently waiting.
	PendingReviews int `json:"pending_reviews"`
	// AvgTimeToVerdictSeconds averages creation-to-verdict latency.
	AvgTimeToVerdictSeconds float64 `json:"avg_time_to_verdict_seconds"`
	// CreatedByHour buckets investigation creation, RFC3339 hour keys.
	CreatedByHour map[string]int `json:"created_by_hour"`
}

// Filter narrows the investigation list.
type Filter struct {
	Status   investigation.Status
	Phase    investigation.Phase
	Severity alert.Severity
	Page     int
	PerPage  int
}

// Projector folds published events into in-memory read models. It is safe
// for concurrent use; queries return copies.
type Projector struct {
	mu       sync.RWMutex
	invs     map[string]*investigation.Investigation
	byReview map[string]string // review ID -> investigation ID

	verdictLatency time.Duration
	verdictCount   int
	createdByHour  map[string]int
}

// NewProjector creates an empty projector.
func NewProjector() *Projector {
	return &Projector{
		invs:          make(map[string]*investigation.Investigation),
		byReview:      make(map[string]string),
		createdByHour: make(map[string]int),
	}
}

// Rebuild replays the full event log into the read models. Run before
// attaching the projector as a publisher; later duplicate deliveries are
// dropped by the version guard.
func (p *Projector) Rebuild(ctx context.Context, store event.Store) error {
	var cursor time.Time
	const page = 1000
	for {
		events, err := store.Since(ctx, cursor, nil, page)
		if err != nil {
			return fmt.Errorf("read events since %v: %w", cursor, err)
		}
		if len(events) == 0 {
			return nil
		}
		p.Publish(events)
		last := events[len(events)-1].Timestamp
		if len(events) < page {
			return nil
		}
		if !last.After(cursor) {
			// All remaining events share one timestamp; fetch the
			// rest in one unbounded page to avoid spinning.
			rest, err := store.Since(ctx, cursor, nil, 0)
			if err != nil {
				return fmt.Errorf("read events since %v: %w", cursor, err)
			}
			p.Publish(rest)
			return nil
		}
		cursor = last.Add(-time.Nanosecond)
	}
}

// Publish implements investigation.Publisher.
func (p *Projector) Publish(events []event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range events {
		p.apply(e)
	}
}

func (p *Projector) apply(e event.Event) {
	inv := p.invs[e.AggregateID]
	if inv == nil {
		inv = &investigation.Investigation{}
		p.invs[e.AggregateID] = inv
	}
	if e.Version <= inv.Version {
		return
	}
	before := inv.CreatedAt
	if err := inv.Apply(e); err != nil {
		// A malformed event cannot corrupt the model; skip it.
		return
	}

	switch e.Type {
	case event.InvestigationCreated:
		hour := e.Timestamp.UTC().Truncate(time.Hour).Format(time.RFC3339)
		p.createdByHour[hour]++
	case event.VerdictRendered:
		if !before.IsZero() {
			p.verdictLatency += e.Timestamp.Sub(before)
			p.verdictCount++
		}
	case event.HumanReviewRequested:
		if inv.Review != nil {
			p.byReview[inv.Review.ID] = inv.ID
		}
	}
}

// List returns a page of investigation summaries, newest activity first.
func (p *Projector) List(f Filter) ([]Summary, int) {
	p.mu.RLock()
	rows := make([]Summary, 0, len(p.invs))
	for _, inv := range p.invs {
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		if f.Phase != "" && inv.Phase != f.Phase {
			continue
		}
		if f.Severity != "" && inv.Severity != f.Severity {
			continue
		}
		rows = append(rows, summarize(inv))
	}
	p.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].UpdatedAt.Equal(rows[j].UpdatedAt) {
			return rows[i].UpdatedAt.After(rows[j].UpdatedAt)
		}
		return rows[i].ID > rows[j].ID
	})

	total := len(rows)
	return paginate(rows, f.Page, f.PerPage), total
}

// Summary returns the list row for one investigation.
func (p *Projector) Summary(id string) (Summary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	inv, ok := p.invs[id]
	if !ok {
		return Summary{}, false
	}
	return summarize(inv), true
}

// Review returns the review view by review ID.
func (p *Projector) Review(reviewID string) (ReviewView, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	invID, ok := p.byReview[reviewID]
	if !ok {
		return ReviewView{}, false
	}
	inv := p.invs[invID]
	if inv == nil || inv.Review == nil || inv.Review.ID != reviewID {
		return ReviewView{}, false
	}
	return reviewView(inv), true
}

// PendingReviews lists reviews still waiting on a human, oldest deadline
// first.
func (p *Projector) PendingReviews(page, perPage int) ([]ReviewView, int) {
	p.mu.RLock()
	rows := make([]ReviewView, 0)
	for _, inv := range p.invs {
		if inv.Review != nil && inv.Review.Status == investigation.ReviewPending {
			rows = append(rows, reviewView(inv))
		}
	}
	p.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].ExpiresAt.Equal(rows[j].ExpiresAt) {
			return rows[i].ExpiresAt.Before(rows[j].ExpiresAt)
		}
		return rows[i].ID < rows[j].ID
	})
	total := len(rows)
	return paginate(rows, page, perPage), total
}

// PendingRefs implements review.PendingSource for the expiry sweeper.
func (p *Projector) PendingRefs(_ context.Context) ([]review.PendingRef, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var refs []review.PendingRef
	for _, inv := range p.invs {
		if inv.Review != nil && inv.Review.Status == investigation.ReviewPending {
			refs = append(refs, review.PendingRef{
				ReviewID:        inv.Review.ID,
				InvestigationID: inv.ID,
				ExpiresAt:       inv.Review.ExpiresAt,
			})
		}
	}
	return refs, nil
}

// Overview returns the metrics read model.
func (p *Projector) Overview() Overview {
	p.mu.RLock()
	defer p.mu.RUnlock()

	o := Overview{
		BySeverity:    make(map[alert.Severity]int),
		ByPhase:       make(map[investigation.Phase]int),
		CreatedByHour: make(map[string]int, len(p.createdByHour)),
	}
	for _, inv := range p.invs {
		o.Total++
		o.BySeverity[inv.Severity]++
		o.ByPhase[inv.Phase]++
		switch inv.Status {
		case investigation.StatusClosed:
			o.Closed++
		case investigation.StatusAutoClosed:
			o.AutoClosed++
		case investigation.StatusEscalated:
			o.Escalated++
		case investigation.StatusRejected:
			o.Rejected++
		case investigation.StatusCancelled:
			o.Cancelled++
		default:
			o.Open++
		}
		if inv.Review != nil && inv.Review.Status == investigation.ReviewPending {
			o.PendingReviews++
		}
	}
	if p.verdictCount > 0 {
		o.AvgTimeToVerdictSeconds = p.verdictLatency.Seconds() / float64(p.verdictCount)
	}
	for k, v := range p.createdByHour {
		o.CreatedByHour[k] = v
	}
	return o
}

func summarize(inv *investigation.Investigation) Summary {
	s := Summary{
		ID:              inv.ID,
		Status:          inv.Status,
		Phase:           inv.Phase,
		Severity:        inv.Severity,
		AlertCount:      len(inv.Alerts),
		ObservableCount: len(inv.Observables),
		Enrichment:      inv.Summary,
		ReviewPending:   inv.Review != nil && inv.Review.Status == investigation.ReviewPending,
		CreatedAt:       inv.CreatedAt,
		UpdatedAt:       inv.UpdatedAt,
		Resolution:      inv.Resolution,
		Version:         inv.Version,
	}
	if inv.Verdict != nil {
		v := *inv.Verdict
		s.Verdict = &v
	}
	if !inv.ClosedAt.IsZero() {
		closed := inv.ClosedAt
		s.ClosedAt = &closed
	}
	return s
}

func reviewView(inv *investigation.Investigation) ReviewView {
	r := inv.Review
	v := ReviewView{
		ID:              r.ID,
		InvestigationID: inv.ID,
		Status:          r.Status,
		AIDecision:      r.AIDecision,
		AIConfidence:    r.AIConfidence,
		Reason:          r.Reason,
		Severity:        inv.Severity,
		RequestedAt:     r.RequestedAt,
		ExpiresAt:       r.ExpiresAt,
		ResolvedBy:      r.ResolvedBy,
		Channel:         r.Channel,
	}
	for _, req := range r.InfoRequests {
		v.Questions = append(v.Questions, req.Questions...)
	}
	if !r.ResolvedAt.IsZero() {
		resolved := r.ResolvedAt
		v.ResolvedAt = &resolved
	}
	return v
}

func paginate[T any](rows []T, page, perPage int) []T {
	if perPage <= 0 {
		perPage = 50
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(rows) {
		return []T{}
	}
	end := start + perPage
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}
