package arc

import "time"

const (
	emergingMaxAge   = 24 * time.Hour
	developingMaxAge = 72 * time.Hour

	// declineTolerance is how much cycle-over-cycle decline still counts as
	// "sustained" coverage.
	declineTolerance = 0.10

	// fadingFraction of the peak velocity at or below which a story fades.
	fadingFraction = 0.5
)

// determinePhase evaluates the phase rules in priority order; the first
// matching condition wins, which keeps the phase unambiguous at exact
// boundaries (e.g. precisely 24h old). Falls back to DEVELOPING when no
// rule matches.
func determinePhase(firstSeen, now time.Time, history []float64, peak float64) Phase {
	age := now.Sub(firstSeen)
	current, previous, hasPrev := lastTwo(history)

	trendNonDecreasing := !hasPrev || current >= previous
	if age < emergingMaxAge && trendNonDecreasing {
		return PhaseEmerging
	}

	sustained := !hasPrev || current >= previous*(1-declineTolerance)
	if age >= emergingMaxAge && age < developingMaxAge && sustained {
		return PhaseDeveloping
	}

	// Local maximum: above the previous value, and no higher value has been
	// recorded yet.
	if hasPrev && current > previous && current >= peak {
		return PhasePeak
	}

	if current <= fadingFraction*peak {
		return PhaseFading
	}

	return PhaseDeveloping
}

func lastTwo(history []float64) (current, previous float64, hasPrev bool) {
	if len(history) == 0 {
		return 0, 0, false
	}
	current = history[len(history)-1]
	if len(history) >= 2 {
		return current, history[len(history)-2], true
	}
	return current, 0, false
}
