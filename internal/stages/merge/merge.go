// Package merge implements the merge stage: branch-protection and CI-check
// gating followed by the configured merge strategy (spec.md §4.10.8).
package merge

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/shipwrightrun/shipwright/internal/domain/baseline"
	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	"github.com/shipwrightrun/shipwright/internal/engine/convergence"
	"github.com/shipwrightrun/shipwright/internal/ports"
	"github.com/shipwrightrun/shipwright/internal/runctx"
)

// Stage implements stages.Stage for the merge step.
type Stage struct {
	Strategy     string // "squash" | "merge" | "rebase"
	DeleteBranch bool
	Auto         bool
	AutoApprove  bool
	// PollInterval is the wait between CI-check polls; defaults to 15s.
	PollInterval time.Duration
	// Sleep lets tests substitute a no-op clock.
	Sleep func(time.Duration)
}

// New returns a merge Stage with the given merge options.
func New(strategy string, deleteBranch, auto, autoApprove bool) *Stage {
	return &Stage{Strategy: strategy, DeleteBranch: deleteBranch, Auto: auto, AutoApprove: autoApprove}
}

// Kind identifies this stage to the registry.
func (s *Stage) Kind() domainrun.StageKind { return domainrun.StageMerge }

// Artifact is the persisted merge.json decisions record.
type Artifact struct {
	Merged       bool    `json:"merged"`
	WaitedFor    string  `json:"waited_for,omitempty"`
	WaitSeconds  float64 `json:"wait_seconds"`
	WaitingOnReview bool `json:"waiting_on_review"`
}

// Run executes the merge stage against rc.
func (s *Stage) Run(ctx context.Context, rc *runctx.RunContext) (domainrun.StageOutcome, error) {
	if rc.Forge == nil || rc.Run.PRNumber == 0 {
		return domainrun.StageOutcome{Success: true, Skip: true}, nil
	}

	protection, err := rc.Forge.BranchProtectionRules(ctx, "", rc.Run.BaseBranch)
	if err == nil && protection.RequiredReviews > 0 && !s.AutoApprove {
		art := Artifact{WaitingOnReview: true}
		path := s.writeArtifact(rc.ArtifactDir, art)
		return domainrun.StageOutcome{Success: true, ArtifactPath: path, Skip: true, Fields: map[string]interface{}{"waiting_on_review": true}}, nil
	}

	timeout := s.timeout(rc.Baseline)
	bucket, waited := s.waitForChecks(ctx, rc, timeout)

	if bucket == "fail" {
		art := Artifact{Merged: false, WaitedFor: bucket, WaitSeconds: waited.Seconds()}
		path := s.writeArtifact(rc.ArtifactDir, art)
		return domainrun.StageOutcome{Success: false, ArtifactPath: path, FailureClass: "logic"}, nil
	}

	if rc.Baseline != nil {
		rc.Baseline.RecordCIWait(waited.Seconds())
	}

	if s.AutoApprove {
		_ = rc.Forge.ReviewApprove(ctx, rc.Run.PRNumber)
	}

	strategy := s.Strategy
	if strategy == "" {
		strategy = "squash"
	}
	if err := rc.Forge.MergePR(ctx, rc.Run.PRNumber, strategy, s.DeleteBranch, s.Auto); err != nil {
		return domainrun.StageOutcome{Success: false, FailureClass: "infrastructure"}, err
	}

	art := Artifact{Merged: true, WaitedFor: bucket, WaitSeconds: waited.Seconds()}
	path := s.writeArtifact(rc.ArtifactDir, art)
	return domainrun.StageOutcome{Success: true, ArtifactPath: path}, nil
}

func (s *Stage) writeArtifact(artifactDir string, art Artifact) string {
	path := filepath.Join(artifactDir, "merge.json")
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return ""
	}
	_ = os.WriteFile(path, data, 0o644)
	return path
}

// timeout resolves the adaptive CI-wait ceiling from spec.md §4.10.8 /
// property 14 using the learning baseline's p90 CI-wait history.
func (s *Stage) timeout(base *baseline.Record) time.Duration {
	if base == nil || len(base.CIWaitHistory) == 0 {
		return time.Duration(convergence.CIWaitTimeout(0, false)) * time.Second
	}
	seconds := convergence.CIWaitTimeout(base.P90CIWait(), true)
	return time.Duration(seconds) * time.Second
}

// waitForChecks polls PR checks until they bucket to all-pass, any-fail, or
// the timeout elapses, returning the terminal bucket ("pass"|"fail"|"timeout")
// and how long it waited.
func (s *Stage) waitForChecks(ctx context.Context, rc *runctx.RunContext, timeout time.Duration) (string, time.Duration) {
	interval := s.PollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	sleep := s.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var waited time.Duration
	for {
		checks, err := rc.Forge.PRChecks(ctx, rc.Run.PRNumber)
		if err == nil {
			if bucket := ChecksBucket(checks); bucket != "pending" {
				return bucket, waited
			}
		}
		if waited >= timeout {
			return "timeout", waited
		}
		select {
		case <-ctx.Done():
			return "timeout", waited
		default:
		}
		sleep(interval)
		waited += interval
	}
}

// ChecksBucket reduces a PRCheck list to "pass" (all pass), "fail" (any
// fail), or "pending" (spec.md §4.10.8).
func ChecksBucket(checks []ports.PRCheck) string {
	if len(checks) == 0 {
		return "pending"
	}
	for _, c := range checks {
		if c.Bucket == "fail" {
			return "fail"
		}
	}
	for _, c := range checks {
		if c.Bucket == "pending" {
			return "pending"
		}
	}
	return "pass"
}
