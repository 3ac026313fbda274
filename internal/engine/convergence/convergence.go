// Package convergence implements the adaptive cycle-limit governor shared by
// the self-healing and compound-quality loops (spec.md §4.7). It is a pure
// function package, deliberately free of I/O, event emission, or domain
// dependencies, grounded on the "small pure domain function" shape the
// teacher uses for ExecutionPlan.Validate.
package convergence

// Signal names the rule that fired during an Adjust call, used by the caller
// to decide which event to emit.
type Signal string

const (
	SignalNone          Signal = ""
	SignalAcceleration  Signal = "acceleration"
	SignalDivergence    Signal = "divergence"
	SignalBudgetCap     Signal = "budget_cap"
	// SignalPlateau and SignalStuck report which exit condition PlateauTracker/
	// StuckTracker fired, so a loop's caller can emit the matching
	// convergence.plateau/convergence.stuck event without re-deriving it.
	SignalPlateau Signal = "plateau"
	SignalStuck   Signal = "stuck"
)

// Context carries the inputs Adjust needs beyond the raw counts.
type Context struct {
	// LearnedCycles, if > 0, seeds the limit instead of baseLimit (spec.md
	// §4.7 "if a learned model recommends a cycle count for this context").
	LearnedCycles int
	// BudgetExhausted, when true, forces the limit to zero.
	BudgetExhausted bool
}

// Result is the outcome of one Adjust call.
type Result struct {
	NewLimit int
	Signal   Signal
}

// Adjust is the pure governor function from spec.md §4.7: clamped to
// [0, 2×baseLimit], never panics, always returns the same value for the same
// inputs (testable property 10).
func Adjust(baseLimit int, ctx Context, curIssueCount, prevIssueCount int) Result {
	if ctx.BudgetExhausted {
		return Result{NewLimit: 0, Signal: SignalBudgetCap}
	}

	limit := baseLimit
	if ctx.LearnedCycles > 0 {
		limit = ctx.LearnedCycles
	}

	ceiling := 2 * baseLimit
	signal := SignalNone

	switch {
	case curIssueCount > 0 && 2*curIssueCount < prevIssueCount:
		limit++
		signal = SignalAcceleration
	case curIssueCount > prevIssueCount:
		limit--
		signal = SignalDivergence
	}

	if limit < 0 {
		limit = 0
	}
	if limit > ceiling {
		limit = ceiling
	}
	if signal == SignalDivergence && limit < 1 {
		limit = 1
	}
	return Result{NewLimit: limit, Signal: signal}
}

// PlateauTracker evaluates the "two consecutive cycles with identical or
// higher findings count" plateau signal (spec.md §4.7, property 12).
type PlateauTracker struct {
	lastCount int
	streak    int
	primed    bool
}

// Observe records a cycle's findings count and reports whether the plateau
// has fired. Plateau fires on exactly the 2nd consecutive non-improving
// cycle — no earlier, no later.
func (p *PlateauTracker) Observe(count int) (plateaued bool) {
	if !p.primed {
		p.primed = true
		p.lastCount = count
		p.streak = 1
		return false
	}
	if count >= p.lastCount {
		p.streak++
	} else {
		p.streak = 1
	}
	p.lastCount = count
	return p.streak >= 2
}

// CIWaitTimeout computes the adaptive CI-check wait timeout from spec.md
// §4.10.8 / property 14: 600s with no history, else clamp(p90*1.5, 120, 1800).
func CIWaitTimeout(p90Seconds float64, hasHistory bool) float64 {
	if !hasHistory {
		return 600
	}
	v := p90Seconds * 1.5
	if v < 120 {
		return 120
	}
	if v > 1800 {
		return 1800
	}
	return v
}

// StuckTracker evaluates the "three consecutive cycles with an identical
// error signature" stuck signal (spec.md §4.7, property 12).
type StuckTracker struct {
	lastSignature string
	streak        int
}

// Observe records a cycle's error signature and reports whether the run is
// stuck. Stuck fires on exactly the 3rd consecutive identical signature.
func (s *StuckTracker) Observe(signature string) (stuck bool) {
	if signature == "" {
		s.lastSignature = ""
		s.streak = 0
		return false
	}
	if signature == s.lastSignature {
		s.streak++
	} else {
		s.lastSignature = signature
		s.streak = 1
	}
	return s.streak >= 3
}
