// Package monitor implements the monitor stage: adaptive-duration post-
// deploy observation with log-pattern error counting, auto-rollback, and
// baseline stabilization write-back (spec.md §4.10.11).
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shipwrightrun/shipwright/internal/domain/baseline"
	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	"github.com/shipwrightrun/shipwright/internal/executil"
	"github.com/shipwrightrun/shipwright/internal/runctx"
)

const (
	pollInterval          = 30 * time.Second
	defaultDurationMin    = 10
	defaultErrorThreshold = 5
)

var defaultLogPattern = regexp.MustCompile(`(?i)\b(ERROR|FATAL|PANIC)\b`)

// Stage implements stages.Stage for the monitor step.
type Stage struct {
	HealthCheck func(url string) bool
	Sleep       func(time.Duration)
}

// New returns a monitor Stage with no health checker: HealthCheck stays nil,
// so a configured health_url is not probed unless a caller sets HealthCheck
// (monitor then counts errors from log_cmd output only).
func New() *Stage {
	return &Stage{Sleep: time.Sleep}
}

// Kind identifies this stage to the registry.
func (s *Stage) Kind() domainrun.StageKind { return domainrun.StageMonitor }

// Artifact is the persisted monitor.json decisions record.
type Artifact struct {
	Polls          int     `json:"polls"`
	TotalErrors    int     `json:"total_errors"`
	ErrorThreshold int     `json:"error_threshold"`
	RolledBack     bool    `json:"rolled_back"`
	RollbackVerified bool  `json:"rollback_verified"`
	StabilizationMinutes float64 `json:"stabilization_minutes"`
}

// Run executes the monitor stage against rc.
func (s *Stage) Run(ctx context.Context, rc *runctx.RunContext) (domainrun.StageOutcome, error) {
	spec, _ := rc.Template.StageByKind(domainrun.StageMonitor)
	durationMinutes := s.durationMinutes(spec, rc.Baseline)
	polls := PollCount(durationMinutes, pollInterval)
	threshold := spec.ConfigInt("error_threshold", defaultErrorThreshold)
	logCmd := spec.ConfigString("log_cmd", "")
	pattern := compilePattern(spec.ConfigString("log_pattern", ""))
	healthURL := spec.ConfigString("health_url", "")

	totalErrors := 0
	breached := false
	ran := 0
	for i := 0; i < polls; i++ {
		ran++
		if healthURL != "" && s.HealthCheck != nil && !s.HealthCheck(healthURL) {
			totalErrors++
		}
		if logCmd != "" {
			out, _ := executil.Run(ctx, "sh", []string{"-c", logCmd}, executil.Options{Dir: rc.WorkDir})
			totalErrors += len(pattern.FindAllString(out.Stdout+out.Stderr, -1))
		}
		if totalErrors >= threshold {
			breached = true
			break
		}
		if i < polls-1 {
			s.sleep(pollInterval)
		}
	}

	art := Artifact{Polls: ran, TotalErrors: totalErrors, ErrorThreshold: threshold}

	if breached {
		rolledBack, verified := s.rollback(ctx, rc, spec)
		art.RolledBack = rolledBack
		art.RollbackVerified = verified
		if !verified {
			s.alertManualIntervention(ctx, rc)
		}
		s.fileHotfixIssue(ctx, rc, totalErrors, threshold)
	} else {
		minutes := float64(ran) * pollInterval.Minutes()
		art.StabilizationMinutes = minutes
		if rc.Baseline != nil {
			rc.Baseline.RecordMonitorStabilization(minutes)
		}
	}

	artifactPath := writeArtifact(rc.ArtifactDir, art)
	if breached && !art.RollbackVerified {
		return domainrun.StageOutcome{Success: false, ArtifactPath: artifactPath, FailureClass: "infrastructure"}, nil
	}
	return domainrun.StageOutcome{Success: true, ArtifactPath: artifactPath}, nil
}

func (s *Stage) sleep(d time.Duration) {
	if s.Sleep != nil {
		s.Sleep(d)
	}
}

// durationMinutes resolves the observation window: template config, else the
// baseline's learned p90 stabilization time, else a fixed default
// (spec.md §4.10.11).
func (s *Stage) durationMinutes(spec interface {
	ConfigInt(string, int) int
}, base *baseline.Record) float64 {
	if n := spec.ConfigInt("duration_minutes", 0); n > 0 {
		return float64(n)
	}
	if base != nil {
		if p90 := base.P90MonitorStabilization(); p90 > 0 {
			return p90
		}
	}
	return defaultDurationMin
}

// PollCount converts an observation window to a poll count at the given
// interval, always observing at least once (spec.md §4.10.11:
// "N = duration*60/30").
func PollCount(durationMinutes float64, interval time.Duration) int {
	n := int(durationMinutes * 60 / interval.Seconds())
	if n < 1 {
		return 1
	}
	return n
}

func compilePattern(configured string) *regexp.Regexp {
	if configured == "" {
		return defaultLogPattern
	}
	if re, err := regexp.Compile("(?i)" + configured); err == nil {
		return re
	}
	return defaultLogPattern
}

func (s *Stage) rollback(ctx context.Context, rc *runctx.RunContext, spec interface {
	ConfigString(string, string) string
}) (rolledBack, verified bool) {
	rollbackCmd := spec.ConfigString("rollback_cmd", "")
	if rollbackCmd == "" {
		return false, false
	}
	if _, err := executil.Run(ctx, "sh", []string{"-c", rollbackCmd}, executil.Options{Dir: rc.WorkDir}); err != nil {
		return true, false
	}
	smokeCmd := spec.ConfigString("smoke_cmd", "")
	if smokeCmd == "" {
		return true, true
	}
	_, err := executil.Run(ctx, "sh", []string{"-c", smokeCmd}, executil.Options{Dir: rc.WorkDir})
	return true, err == nil
}

func (s *Stage) alertManualIntervention(ctx context.Context, rc *runctx.RunContext) {
	num := issueNumberFromRef(rc.Run.IssueRef)
	if rc.Forge == nil || num == 0 {
		return
	}
	_ = rc.Forge.CommentIssue(ctx, num, "**manual intervention required**: automatic rollback could not be verified.")
}

func (s *Stage) fileHotfixIssue(ctx context.Context, rc *runctx.RunContext, totalErrors, threshold int) {
	num := issueNumberFromRef(rc.Run.IssueRef)
	if rc.Forge == nil || num == 0 {
		return
	}
	body := MonitorReport(totalErrors, threshold)
	_ = rc.Forge.CommentIssue(ctx, num, body)
	_ = rc.Forge.AddLabels(ctx, num, []string{"hotfix"})
}

// MonitorReport composes the attached report body for a breached monitoring
// window (spec.md §4.10.11: "create a hotfix issue with the monitor report
// attached").
func MonitorReport(totalErrors, threshold int) string {
	var b strings.Builder
	b.WriteString("## Post-deploy monitoring detected errors\n\n")
	fmt.Fprintf(&b, "Total errors: %d (threshold: %d)\n", totalErrors, threshold)
	return b.String()
}

func writeArtifact(artifactDir string, art Artifact) string {
	path := filepath.Join(artifactDir, "monitor.json")
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return ""
	}
	_ = os.WriteFile(path, data, 0o644)
	return path
}

func issueNumberFromRef(ref string) int {
	start := -1
	for i, r := range ref {
		if r >= '0' && r <= '9' {
			if start == -1 {
				start = i
			}
		} else if start != -1 {
			break
		}
	}
	if start == -1 {
		return 0
	}
	end := start
	for end < len(ref) && ref[end] >= '0' && ref[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(ref[start:end])
	if err != nil {
		return 0
	}
	return n
}
