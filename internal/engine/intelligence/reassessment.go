package intelligence

import (
	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
)

// ComplexityShift classifies how the observed build+test effort compared to
// the initial complexity estimate (spec.md §4.11.2).
type ComplexityShift string

const (
	ShiftMuchSimpler   ComplexityShift = "much_simpler"
	ShiftSimpler       ComplexityShift = "simpler_than_expected"
	ShiftAsExpected    ComplexityShift = "as_expected"
	ShiftHarder        ComplexityShift = "harder_than_expected"
	ShiftMuchHarder    ComplexityShift = "much_harder"
)

// ReassessmentInput carries the observed effort signals plus the original
// estimate they're compared against.
type ReassessmentInput struct {
	InitialComplexity int // 1-5, the plan/design-time estimate
	FilesChanged      int
	LinesChanged      int
	SelfHealCycles    int
}

// Reassessment is the record produced after build+test, consumed by
// ShouldSkip (via SkipInput.ReassessmentSkip) for the remaining stages.
type Reassessment struct {
	Shift      ComplexityShift
	SkipStages map[domainrun.StageKind]bool
}

// effortScore maps observed signals onto the same 1-5 scale as the initial
// complexity estimate, so the two are comparable.
func effortScore(in ReassessmentInput) int {
	score := 1
	switch {
	case in.LinesChanged > 400 || in.FilesChanged > 12:
		score = 5
	case in.LinesChanged > 150 || in.FilesChanged > 6:
		score = 4
	case in.LinesChanged > 60 || in.FilesChanged > 3:
		score = 3
	case in.LinesChanged > 15 || in.FilesChanged > 1:
		score = 2
	}
	if in.SelfHealCycles >= 3 && score < 5 {
		score++
	}
	return score
}

// Reassess implements spec.md §4.11.2. A positive delta (observed effort
// exceeds the estimate) pushes toward harder_than_expected; a negative delta
// pushes toward simpler_than_expected.
func Reassess(in ReassessmentInput) Reassessment {
	estimate := in.InitialComplexity
	if estimate <= 0 {
		estimate = 3
	}
	delta := effortScore(in) - estimate

	var shift ComplexityShift
	switch {
	case delta <= -2:
		shift = ShiftMuchSimpler
	case delta == -1:
		shift = ShiftSimpler
	case delta == 0:
		shift = ShiftAsExpected
	case delta == 1:
		shift = ShiftHarder
	default:
		shift = ShiftMuchHarder
	}

	skip := map[domainrun.StageKind]bool{}
	switch shift {
	case ShiftMuchSimpler:
		skip[domainrun.StageDesign] = true
		skip[domainrun.StageReview] = true
		skip[CompoundQualityTarget] = true
	case ShiftSimpler:
		skip[domainrun.StageDesign] = true
	case ShiftHarder, ShiftMuchHarder:
		// No additional skips; harder-than-expected work should get the
		// full stage set, not less of it.
	}

	return Reassessment{Shift: shift, SkipStages: skip}
}
