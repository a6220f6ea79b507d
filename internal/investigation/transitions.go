package investigation

// nextPhases maps each phase to the phases reachable from it. The workflow
// is linear through verdict, then branches on the routed outcome. Closed
// and escalation are additionally reachable from anywhere via the cancel
// and critical-severity escape edges, which Allowed handles separately.
var nextPhases = map[Phase][]Phase{
	PhaseTriage:      {PhaseEnrichment},
	PhaseEnrichment:  {PhaseAnalysis},
	PhaseAnalysis:    {PhaseVerdict},
	PhaseVerdict:     {PhaseHumanReview, PhaseEscalation, PhaseClosed},
	PhaseHumanReview: {PhaseEscalation, PhaseClosed},
	PhaseEscalation:  {PhaseClosed},
	PhaseClosed:      nil,
}

// Allowed reports whether the workflow may move from one phase to another.
// Every phase may jump straight to closed (cancellation) or escalation
// (critical severity); other moves must follow the pipeline.
func Allowed(from, to Phase) bool {
	if from == PhaseClosed {
		return false
	}
	if to == PhaseClosed || to == PhaseEscalation {
		return true
	}
	for _, p := range nextPhases[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Next returns the pipeline successor for phases with exactly one, and ""
// for branch points and terminals.
func Next(from Phase) Phase {
	succ := nextPhases[from]
	if len(succ) == 1 {
		return succ[0]
	}
	return ""
}
