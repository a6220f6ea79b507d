// Package enrich fans observables out to threat-intelligence sources and
// aggregates their verdicts.
package enrich

import (
	"context"

	"github.com/linnemanlabs/argus/internal/alert"
)

// Verdict is a threat-intelligence classification of one observable.
type Verdict string

const (
	VerdictMalicious  Verdict = "malicious"
	VerdictSuspicious Verdict = "suspicious"
	VerdictClean      Verdict = "clean"
	VerdictUnknown    Verdict = "unknown"
)

var verdictRank = map[Verdict]int{
	VerdictUnknown:    0,
	VerdictClean:      1,
	VerdictSuspicious: 2,
	VerdictMalicious:  3,
}

// Worse returns the more severe of two verdicts.
func Worse(a, b Verdict) Verdict {
	if verdictRank[b] > verdictRank[a] {
		return b
	}
	return a
}

// Result is the outcome of one source call for one observable.
type Result struct {
	Verdict Verdict `json:"verdict"`
	Detail  string  `json:"detail,omitempty"`
}

// Source is a threat-intelligence capability. Implementations must honor
// ctx cancellation and be safe to invoke twice for the same observable
// (retries are idempotent).
type Source interface {
	Name() string
	Enrich(ctx context.Context, obs alert.Observable) (Result, error)
}

// Registry holds the configured enrichment sources.
type Registry struct {
	sources []Source
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a source. Registration order is preserved.
func (r *Registry) Register(s Source) {
	r.sources = append(r.sources, s)
}

// Sources returns the registered sources.
func (r *Registry) Sources() []Source {
	return r.sources
}

// Names returns the registered source names, in registration order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s.Name())
	}
	return out
}

// Summary counts enrichment verdicts for an investigation.
type Summary struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Clean      int `json:"clean"`
	Unknown    int `json:"unknown"`
	Failed     int `json:"failed"`
}

// Add counts one verdict.
func (s *Summary) Add(v Verdict) {
	switch v {
	case VerdictMalicious:
		s.Malicious++
	case VerdictSuspicious:
		s.Suspicious++
	case VerdictClean:
		s.Clean++
	default:
		s.Unknown++
	}
}
