// Package compoundquality implements the Compound Quality Loop (spec.md
// §4.9): a multi-audit pass that sits after the post-build review stage and
// before PR, hunting for defects tests and basic review miss. It is
// grounded on the same cycle-with-convergence-check shape as
// internal/engine/selfheal, reusing internal/engine/convergence for the
// plateau/stuck exit checks.
package compoundquality

import (
	"context"
	"sort"
	"strings"

	"github.com/shipwrightrun/shipwright/internal/domain/baseline"
	domainevent "github.com/shipwrightrun/shipwright/internal/domain/event"
	"github.com/shipwrightrun/shipwright/internal/engine/convergence"
	"github.com/shipwrightrun/shipwright/internal/ports"
)

// AuditKind enumerates the audits run per cycle, in the fixed order spec.md
// §4.9 step 2 requires.
type AuditKind string

const (
	AuditAdversarial     AuditKind = "adversarial"
	AuditNegative        AuditKind = "negative"
	AuditSimulation      AuditKind = "simulation"
	AuditArchitecture    AuditKind = "architecture"
	AuditE2E             AuditKind = "e2e"
	AuditDoD             AuditKind = "dod"
	AuditSecurityScan    AuditKind = "security_source_scan"
	AuditMultiDimensional AuditKind = "multi_dimensional"
)

// auditOrder is the fixed execution order (spec.md §4.9 step 2).
var auditOrder = []AuditKind{
	AuditAdversarial, AuditNegative, AuditSimulation, AuditArchitecture,
	AuditE2E, AuditDoD, AuditSecurityScan, AuditMultiDimensional,
}

// Intensity is how thoroughly an audit runs.
type Intensity string

const (
	IntensityOff         Intensity = "off"
	IntensityTargeted    Intensity = "targeted"
	IntensityLightweight Intensity = "lightweight"
	IntensityFull        Intensity = "full"
)

// intensityAudits are the audits the §4.9 step 1 heuristic tunes, with
// security_source_scan standing in for the security audit; negative, e2e,
// and multi_dimensional get no entry in the intensity map and always run.
var intensityAudits = []AuditKind{AuditAdversarial, AuditArchitecture, AuditSimulation, AuditSecurityScan, AuditDoD}

// SelectIntensities implements spec.md §4.9 step 1: prefer an explicit
// template override per audit; otherwise derive from recent quality-score
// history. override may be nil or partial.
func SelectIntensities(history *baseline.Record, override map[AuditKind]Intensity) map[AuditKind]Intensity {
	result := make(map[AuditKind]Intensity, len(intensityAudits))

	mean := 100.0
	hasScores := false
	criticalRecently := false
	if history != nil {
		mean = history.MeanRecentQualityScore()
		hasScores = len(history.QualityScoreHistory) > 0
		criticalRecently = history.RecentCriticalFindings > 0
	}

	for _, kind := range intensityAudits {
		if override != nil {
			if v, ok := override[kind]; ok {
				result[kind] = v
				continue
			}
		}

		switch {
		case kind == AuditSecurityScan && criticalRecently:
			result[kind] = IntensityFull
		case hasScores && mean < 60:
			result[kind] = IntensityFull
		case hasScores && mean > 80:
			result[kind] = IntensityLightweight
		default:
			result[kind] = IntensityTargeted
		}
	}
	return result
}

// FindingKind classifies a single audit finding for routing (spec.md §4.9
// step 3).
type FindingKind string

const (
	FindingArchitecture FindingKind = "architecture"
	FindingSecurity     FindingKind = "security"
	FindingCorrectness  FindingKind = "correctness"
	FindingPerformance  FindingKind = "performance"
	FindingTesting      FindingKind = "testing"
	FindingStyle        FindingKind = "style"
)

// Severity is the weight a finding contributes to the quality score.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// Finding is one audit-reported issue.
type Finding struct {
	Audit    AuditKind
	Kind     FindingKind
	Severity Severity
	Message  string
}

// AuditResult is what one audit invocation returns.
type AuditResult struct {
	Pass         bool
	Findings     []Finding
	ArtifactPath string
}

// AuditRunner executes one audit at the given intensity. A runner for an
// audit kind not present in Loop.Audits is treated as a no-op pass.
type AuditRunner interface {
	Run(ctx context.Context, intensity Intensity) (AuditResult, error)
}

// routePriority orders findings kinds for route selection (spec.md §4.9
// step 3): security > architecture > correctness > performance > testing >
// style.
var routePriority = []FindingKind{
	FindingSecurity, FindingArchitecture, FindingCorrectness,
	FindingPerformance, FindingTesting, FindingStyle,
}

// Route selects the dominant finding kind by priority order, and reports
// whether architecture findings dominate enough to warrant a backtrack.
func Route(findings []Finding) (kind FindingKind, needsBacktrack bool) {
	counts := map[FindingKind]int{}
	for _, f := range findings {
		counts[f.Kind]++
	}
	for _, k := range routePriority {
		if counts[k] > 0 {
			kind = k
			break
		}
	}
	needsBacktrack = kind == FindingArchitecture && counts[FindingArchitecture] >= counts[FindingCorrectness]+counts[FindingPerformance]+counts[FindingTesting]+counts[FindingStyle]+1
	return kind, needsBacktrack
}

// QualityScore implements spec.md §4.9: start at 100, subtract 20×critical +
// 10×major + 2×minor across all findings, clamp to [0,100].
func QualityScore(findings []Finding) int {
	score := 100
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			score -= 20
		case SeverityMajor:
			score -= 10
		case SeverityMinor:
			score -= 2
		}
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// CountBySeverity tallies critical/major/minor findings, used for the
// quality-score-recorded event payload.
func CountBySeverity(findings []Finding) (critical, major, minor int) {
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			critical++
		case SeverityMajor:
			major++
		case SeverityMinor:
			minor++
		}
	}
	return
}

// FeedbackDocument concatenates prioritized findings into the "Quality
// Feedback" document prepended to the goal on a rebuild-with-feedback cycle
// (spec.md §4.9 step 6). Style findings are included for the record but
// noted as non-blocking.
func FeedbackDocument(route FindingKind, findings []Finding) string {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	rank := make(map[FindingKind]int, len(routePriority))
	for i, k := range routePriority {
		rank[k] = i
	}
	sort.SliceStable(sorted, func(i, j int) bool { return rank[sorted[i].Kind] < rank[sorted[j].Kind] })

	var b strings.Builder
	b.WriteString("## Quality Feedback\n\n")
	b.WriteString("Primary route: " + string(route) + "\n\n")
	for _, f := range sorted {
		suffix := ""
		if f.Kind == FindingStyle {
			suffix = " (non-blocking)"
		}
		b.WriteString("- [" + string(f.Severity) + "/" + string(f.Kind) + "] " + f.Message + suffix + "\n")
	}
	return b.String()
}

// Backtracker resets stages from design onward to pending, augments the
// goal with architecture findings, and re-runs design (spec.md §4.9 step 5).
type Backtracker interface {
	Backtrack(ctx context.Context, findings []Finding) error
}

// Rebuilder re-enters the self-healing loop with an augmented goal carrying
// the quality feedback document (spec.md §4.9 step 6).
type Rebuilder interface {
	Rebuild(ctx context.Context, feedbackDoc string) error
}

// DoDVerifier runs the Definition-of-Done verification (spec.md §4.10.12) at
// loop end.
type DoDVerifier interface {
	VerifyDoD(ctx context.Context) (passRate float64, err error)
}

// Loop drives the compound-quality cycles for one run.
type Loop struct {
	Audits      map[AuditKind]AuditRunner
	Baseline    *baseline.Record
	Events      ports.EventBus
	Backtrack   Backtracker
	Rebuild     Rebuilder
	DoD         DoDVerifier
	Override    map[AuditKind]Intensity

	// MaxCycles bounds the loop; spec.md §4.9 default is 3, adaptive via
	// convergence.Adjust in the caller.
	MaxCycles int
	// BacktrackBudget is the run-global backtrack allowance (default 2);
	// exceeding it degrades to a warning, not a failure.
	BacktrackBudget int
	// NonBlocking inverts the template's compound_quality.blocking flag,
	// which defaults to true (spec.md §4.9): set NonBlocking to reproduce an
	// explicit blocking=false override, since the Go zero value must mean
	// "blocking" to match the spec default.
	NonBlocking bool
}

// Outcome is the result of a full compound-quality run.
type Outcome struct {
	Score           int
	Pass            bool
	Cycles          int
	BacktracksUsed  int
	DoDPassRate     float64
	LastRoute       FindingKind
	BlockedByPolicy bool
}

func (l *Loop) publish(ctx context.Context, runID string, t domainevent.Type, fields map[string]interface{}) {
	if l.Events == nil {
		return
	}
	_ = l.Events.Publish(ctx, domainevent.New(runID, t, fields))
}

// Run executes the compound-quality loop for runID.
func (l *Loop) Run(ctx context.Context, runID string) (Outcome, error) {
	maxCycles := l.MaxCycles
	if maxCycles < 1 {
		maxCycles = 3
	}
	backtrackBudget := l.BacktrackBudget
	if backtrackBudget <= 0 {
		backtrackBudget = 2
	}

	var plateau convergence.PlateauTracker
	var stuck convergence.StuckTracker
	var lastSignature string

	var allFindings []Finding
	backtracksUsed := 0

	for cycle := 1; cycle <= maxCycles; cycle++ {
		intensities := SelectIntensities(l.Baseline, l.Override)

		var cycleFindings []Finding
		for _, kind := range auditOrder {
			runner, ok := l.Audits[kind]
			if !ok {
				continue
			}
			intensity := intensities[kind]
			if intensity == IntensityOff {
				continue
			}
			res, err := runner.Run(ctx, intensity)
			if err != nil {
				return Outcome{}, err
			}
			cycleFindings = append(cycleFindings, res.Findings...)
		}

		allFindings = append(allFindings, cycleFindings...)
		route, needsBacktrack := Route(cycleFindings)

		count := len(cycleFindings)
		sig := signatureOf(cycleFindings)

		// Stuck (identical finding set repeating) is checked before, and
		// unconditionally of, plateau: an unchanging finding set also reports
		// an unchanging count, which would trip PlateauTracker a cycle early
		// and leave StuckTracker never reaching its third observation
		// (spec.md §4.7). While a signature streak is building, skip the
		// plateau check this cycle so the streak can run its course.
		repeatSignature := sig != "" && sig == lastSignature
		lastSignature = sig
		if sig != "" && stuck.Observe(sig) {
			score := QualityScore(allFindings)
			l.emitScore(ctx, runID, score, allFindings)
			l.publish(ctx, runID, domainevent.TypeConvergenceStuck, map[string]interface{}{
				"cycle": cycle, "signature": sig,
			})
			return l.finish(ctx, runID, score, cycle, backtracksUsed, route)
		}
		if !repeatSignature && plateau.Observe(count) {
			score := QualityScore(allFindings)
			l.emitScore(ctx, runID, score, allFindings)
			l.publish(ctx, runID, domainevent.TypeConvergencePlateau, map[string]interface{}{
				"cycle": cycle, "finding_count": count,
			})
			return l.finish(ctx, runID, score, cycle, backtracksUsed, route)
		}

		if count == 0 {
			score := QualityScore(allFindings)
			l.emitScore(ctx, runID, score, allFindings)
			return l.finish(ctx, runID, score, cycle, backtracksUsed, route)
		}

		if route == FindingArchitecture && needsBacktrack && backtracksUsed < backtrackBudget {
			if l.Backtrack != nil {
				if err := l.Backtrack.Backtrack(ctx, cycleFindings); err != nil {
					return Outcome{}, err
				}
			}
			backtracksUsed++
			l.publish(ctx, runID, domainevent.TypeIntelligenceBacktrack, map[string]interface{}{
				"cycle": cycle, "route": string(route),
			})
			continue
		}

		if route == FindingArchitecture && needsBacktrack {
			l.publish(ctx, runID, domainevent.TypeIntelligenceBacktrack, map[string]interface{}{
				"cycle": cycle, "route": string(route), "degraded": true,
			})
		}

		feedback := FeedbackDocument(route, cycleFindings)
		if l.Rebuild != nil {
			if err := l.Rebuild.Rebuild(ctx, feedback); err != nil {
				return Outcome{}, err
			}
		}
	}

	score := QualityScore(allFindings)
	l.emitScore(ctx, runID, score, allFindings)
	route, _ := Route(allFindings)
	return l.finish(ctx, runID, score, maxCycles, backtracksUsed, route)
}

func (l *Loop) emitScore(ctx context.Context, runID string, score int, findings []Finding) {
	critical, major, minor := CountBySeverity(findings)
	l.publish(ctx, runID, domainevent.TypePipelineQualityScoreRecorded, map[string]interface{}{
		"score": score, "critical": critical, "major": major, "minor": minor,
	})
	if l.Baseline != nil {
		l.Baseline.RecordQualityScore(score, critical)
	}
}

func (l *Loop) finish(ctx context.Context, runID string, score, cycles, backtracksUsed int, route FindingKind) (Outcome, error) {
	passRate := 100.0
	if l.DoD != nil {
		rate, err := l.DoD.VerifyDoD(ctx)
		if err != nil {
			return Outcome{}, err
		}
		passRate = rate
	}

	pass := score >= 60 || l.NonBlocking
	return Outcome{
		Score:           score,
		Pass:            pass,
		Cycles:          cycles,
		BacktracksUsed:  backtracksUsed,
		DoDPassRate:     passRate,
		LastRoute:       route,
		BlockedByPolicy: !pass,
	}, nil
}

// signatureOf produces a stable per-cycle fingerprint from finding
// kind+message pairs, used to feed the stuck tracker.
func signatureOf(findings []Finding) string {
	if len(findings) == 0 {
		return ""
	}
	parts := make([]string, len(findings))
	for i, f := range findings {
		parts[i] = string(f.Kind) + ":" + f.Message
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}
