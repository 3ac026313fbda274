// Package intelligence implements the optional-but-integrated decision
// hooks from spec.md §4.11: skip decisions, mid-pipeline reassessment, and
// model routing. All are pure functions over state + history so they stay
// unit-testable without a live controller.
package intelligence

import (
	"strings"

	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
)

// CompoundQualityTarget is the pseudo-stage-kind skip decisions use to refer
// to the compound quality loop, which is not itself a StageKind (it runs
// inside the review stage, spec.md §4.9).
const CompoundQualityTarget = domainrun.StageKind("compound_quality")

// SkipInput bundles the signals §4.11.1 consults.
type SkipInput struct {
	// Target is the stage kind being evaluated, or CompoundQualityTarget.
	Target           domainrun.StageKind
	Labels           []string
	Complexity       int // 1-5
	ReassessmentSkip map[domainrun.StageKind]bool
	DiffLines        int
}

// SkipDecision reports whether a stage should be skipped and why.
type SkipDecision struct {
	Skip   bool
	Reason string
}

var documentationSkips = map[domainrun.StageKind]bool{
	domainrun.StageTest:   true,
	domainrun.StageReview: true,
	CompoundQualityTarget: true,
}

var hotfixSkips = map[domainrun.StageKind]bool{
	domainrun.StagePlan:   true,
	domainrun.StageDesign: true,
	CompoundQualityTarget: true,
}

// ShouldSkip implements spec.md §4.11.1. intake/build/test/pr/merge are
// never skipped regardless of any other signal.
func ShouldSkip(in SkipInput) SkipDecision {
	if domainrun.NeverSkipped[in.Target] {
		return SkipDecision{Skip: false}
	}

	for _, label := range in.Labels {
		switch strings.ToLower(label) {
		case "documentation":
			if documentationSkips[in.Target] {
				return SkipDecision{Skip: true, Reason: "label:documentation"}
			}
		case "hotfix":
			if hotfixSkips[in.Target] {
				return SkipDecision{Skip: true, Reason: "label:hotfix"}
			}
		}
	}

	if in.Complexity > 0 && in.Complexity <= 2 {
		if in.Target == domainrun.StageDesign || in.Target == domainrun.StageReview || in.Target == CompoundQualityTarget {
			return SkipDecision{Skip: true, Reason: "low_complexity"}
		}
	}
	if in.Complexity > 0 && in.Complexity <= 3 && in.Target == domainrun.StageDesign {
		return SkipDecision{Skip: true, Reason: "low_complexity"}
	}

	if in.ReassessmentSkip[in.Target] {
		return SkipDecision{Skip: true, Reason: "reassessment_override"}
	}

	if in.Target == CompoundQualityTarget && in.DiffLines > 0 && in.DiffLines < 20 {
		return SkipDecision{Skip: true, Reason: "small_diff"}
	}

	return SkipDecision{Skip: false}
}
