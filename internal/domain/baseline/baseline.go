// Package baseline holds the rolling per-repository learning records used to
// size adaptive gates and detect regressions (spec.md §3.5). Records are
// best-effort: absence is tolerated by every reader, presence only refines
// decisions.
package baseline

const (
	maxPerfSamples    = 10
	maxCIWaitSamples  = 10
	maxMonitorSamples = 20
)

// IterationModel tracks, per stage, a learned cycle-count recommendation fed
// to the convergence governor (spec.md §4.7 "if a learned model recommends a
// cycle count for this context, seed from it").
type IterationModel struct {
	RecommendedCycles int `json:"recommended_cycles"`
	Samples           int `json:"samples"`
}

// ModelRoutingStats accumulates per-stage, per-model outcome counts for the
// UCB1 bandit and A/B routing (spec.md §4.11.3).
type ModelRoutingStats struct {
	Attempts int     `json:"attempts"`
	Wins     int     `json:"wins"`
	MeanCost float64 `json:"mean_cost"`
}

// Record is the per-repository learning snapshot, keyed externally by a
// hash of the repo root (spec.md §3.5).
type Record struct {
	RepoKey string `json:"repo_key"`

	CoverageBaseline float64 `json:"coverage_baseline"`

	PerfDurationHistory []float64 `json:"perf_duration_history"`
	BundleSizeHistory   []float64 `json:"bundle_size_history"`
	CIWaitHistory       []float64 `json:"ci_wait_history"`

	DeployMonitorP90Minutes float64 `json:"deploy_monitor_p90_minutes"`
	MonitorStabilizationMin []float64 `json:"monitor_stabilization_history"`

	IterationModels map[string]IterationModel          `json:"iteration_models"`
	ModelRouting    map[string]map[string]ModelRoutingStats `json:"model_routing"`

	ClassificationCache map[string]string `json:"classification_cache"`

	QualityScoreHistory []int `json:"quality_score_history"`

	RecentCriticalFindings int `json:"recent_critical_findings"`

	// KnownFixes maps an error signature (classifier.computeSignature) to a
	// fix annotation that previously resolved it, consumed by the
	// self-healing loop (spec.md §4.8).
	KnownFixes map[string]string `json:"known_fixes"`
	// FixOutcomes tracks how many times each known fix has succeeded versus
	// failed when reapplied, so a fix that stops working can be retired.
	FixOutcomes map[string]FixOutcome `json:"fix_outcomes"`
}

// FixOutcome tallies how a known fix has performed when reapplied.
type FixOutcome struct {
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
}

// NewRecord returns a zero-value record ready for use, with its maps
// initialized.
func NewRecord(repoKey string) *Record {
	return &Record{
		RepoKey:             repoKey,
		IterationModels:     make(map[string]IterationModel),
		ModelRouting:        make(map[string]map[string]ModelRoutingStats),
		ClassificationCache: make(map[string]string),
		KnownFixes:          make(map[string]string),
		FixOutcomes:         make(map[string]FixOutcome),
	}
}

// KnownFix returns a previously recorded fix for the given error signature,
// and whether one exists. A fix that has failed more often than it has
// succeeded is no longer offered.
func (r *Record) KnownFix(signature string) (string, bool) {
	fix, ok := r.KnownFixes[signature]
	if !ok {
		return "", false
	}
	if outcome, tracked := r.FixOutcomes[signature]; tracked && outcome.Failures > outcome.Successes {
		return "", false
	}
	return fix, true
}

// RecordFix stores a fix annotation against the error signature it resolved.
func (r *Record) RecordFix(signature, fix string) {
	if r.KnownFixes == nil {
		r.KnownFixes = make(map[string]string)
	}
	r.KnownFixes[signature] = fix
}

// RecordFixOutcome tallies whether a previously-suggested fix worked when
// reapplied (spec.md §4.8 step 3).
func (r *Record) RecordFixOutcome(signature string, success bool) {
	if r.FixOutcomes == nil {
		r.FixOutcomes = make(map[string]FixOutcome)
	}
	o := r.FixOutcomes[signature]
	if success {
		o.Successes++
	} else {
		o.Failures++
	}
	r.FixOutcomes[signature] = o
}

func appendCapped(history []float64, v float64, cap int) []float64 {
	history = append(history, v)
	if len(history) > cap {
		history = history[len(history)-cap:]
	}
	return history
}

// RecordPerfDuration appends a build/test duration sample, capped to the
// last 10 (spec.md §3.5).
func (r *Record) RecordPerfDuration(seconds float64) {
	r.PerfDurationHistory = appendCapped(r.PerfDurationHistory, seconds, maxPerfSamples)
}

// RecordCIWait appends a CI wait duration sample, capped to the last 10, and
// used to compute the adaptive merge timeout (spec.md §4.10.8, property 14).
func (r *Record) RecordCIWait(seconds float64) {
	r.CIWaitHistory = appendCapped(r.CIWaitHistory, seconds, maxCIWaitSamples)
}

// RecordMonitorStabilization appends a post-deploy stabilization duration
// sample, capped to a rolling window of 20 (spec.md §4.10.11).
func (r *Record) RecordMonitorStabilization(minutes float64) {
	r.MonitorStabilizationMin = appendCapped(r.MonitorStabilizationMin, minutes, maxMonitorSamples)
}

// P90CIWait returns the 90th percentile of recorded CI wait samples, or 0 if
// no history exists.
func (r *Record) P90CIWait() float64 {
	return percentile90(r.CIWaitHistory)
}

// P90MonitorStabilization returns the 90th percentile of recorded
// stabilization durations, or 0 if no history exists.
func (r *Record) P90MonitorStabilization() float64 {
	return percentile90(r.MonitorStabilizationMin)
}

func percentile90(samples []float64) float64 {
	n := len(samples)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	// Nearest-rank: the ceil(0.9*n)-th smallest sample.
	idx := (9*n+9)/10 - 1
	return sorted[idx]
}

// RecordQualityScore appends a compound-quality score and tracks recent
// critical findings for the audit-intensity heuristic (spec.md §4.9 step 1).
func (r *Record) RecordQualityScore(score int, criticalFindings int) {
	r.QualityScoreHistory = append(r.QualityScoreHistory, score)
	if len(r.QualityScoreHistory) > 5 {
		r.QualityScoreHistory = r.QualityScoreHistory[len(r.QualityScoreHistory)-5:]
	}
	r.RecentCriticalFindings = criticalFindings
}

// MeanRecentQualityScore averages up to the last 5 recorded scores.
func (r *Record) MeanRecentQualityScore() float64 {
	if len(r.QualityScoreHistory) == 0 {
		return 100
	}
	sum := 0
	for _, s := range r.QualityScoreHistory {
		sum += s
	}
	return float64(sum) / float64(len(r.QualityScoreHistory))
}
