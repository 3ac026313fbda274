// Package deploy implements the deploy stage: pre-deploy gates followed by a
// direct, canary, or blue-green rollout strategy (spec.md §4.10.9).
package deploy

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	"github.com/shipwrightrun/shipwright/internal/executil"
	"github.com/shipwrightrun/shipwright/internal/runctx"
)

// Stage implements stages.Stage for the deploy step.
type Stage struct {
	HealthCheck  func(url string) bool
	Sleep        func(time.Duration)
	HealthClient *http.Client
}

// New returns a deploy Stage with a default HTTP-based health checker.
func New() *Stage {
	s := &Stage{Sleep: time.Sleep, HealthClient: &http.Client{Timeout: 5 * time.Second}}
	s.HealthCheck = s.httpHealthCheck
	return s
}

// Kind identifies this stage to the registry.
func (s *Stage) Kind() domainrun.StageKind { return domainrun.StageDeploy }

func (s *Stage) httpHealthCheck(url string) bool {
	resp, err := s.HealthClient.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

// Artifact is the persisted deploy.json decisions record.
type Artifact struct {
	Strategy     string `json:"strategy"`
	Success      bool   `json:"success"`
	RolledBack   bool   `json:"rolled_back"`
	DeploymentID string `json:"deployment_id,omitempty"`
}

// Run executes the deploy stage against rc.
func (s *Stage) Run(ctx context.Context, rc *runctx.RunContext) (domainrun.StageOutcome, error) {
	spec, _ := rc.Template.StageByKind(domainrun.StageDeploy)
	strategy := spec.ConfigString("strategy", "direct")

	if !s.preDeployGatesPass(ctx, rc, spec) {
		return domainrun.StageOutcome{Success: false, FailureClass: "configuration"}, nil
	}

	var deploymentID string
	if rc.Forge != nil {
		deploymentID, _ = rc.Forge.DeploymentStart(ctx, "production", rc.Run.WorkingBranch)
	}

	var ok bool
	var rolledBack bool
	switch strategy {
	case "canary":
		ok, rolledBack = s.runCanary(ctx, rc.WorkDir, spec)
	case "blue-green":
		ok = s.runBlueGreen(ctx, rc.WorkDir, spec)
	default:
		ok, rolledBack = s.runDirect(ctx, rc.WorkDir, spec)
	}

	if rc.Forge != nil && deploymentID != "" {
		msg := "deployed"
		if !ok {
			msg = "deploy failed"
		}
		_ = rc.Forge.DeploymentComplete(ctx, deploymentID, ok, msg)
	}

	art := Artifact{Strategy: strategy, Success: ok, RolledBack: rolledBack, DeploymentID: deploymentID}
	artifactPath := filepath.Join(rc.ArtifactDir, "deploy.json")
	data, err := json.MarshalIndent(art, "", "  ")
	if err == nil {
		_ = os.WriteFile(artifactPath, data, 0o644)
	}

	if !ok {
		return domainrun.StageOutcome{Success: false, ArtifactPath: artifactPath, FailureClass: "infrastructure"}, nil
	}
	return domainrun.StageOutcome{Success: true, ArtifactPath: artifactPath}, nil
}

func (s *Stage) preDeployGatesPass(ctx context.Context, rc *runctx.RunContext, spec interface{ ConfigInt(string, int) int }) bool {
	if rc.Forge != nil && rc.Run.PRNumber != 0 {
		checks, err := rc.Forge.PRChecks(ctx, rc.Run.PRNumber)
		if err == nil {
			for _, c := range checks {
				if c.Bucket != "pass" {
					return false
				}
			}
		}
	}

	min := spec.ConfigInt("coverage_min", 0)
	if min > 0 {
		if coverage, found := readCoverage(rc.ArtifactDir); found && coverage < float64(min) {
			return false
		}
	}
	return true
}

// readCoverage reads back the coverage percentage the test stage recorded,
// tolerating its absence (spec.md §4.10.9: "when available").
func readCoverage(artifactDir string) (float64, bool) {
	data, err := os.ReadFile(filepath.Join(artifactDir, "test.json"))
	if err != nil {
		return 0, false
	}
	var parsed struct {
		Coverage      float64 `json:"coverage"`
		CoverageFound bool    `json:"coverage_found"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, false
	}
	return parsed.Coverage, parsed.CoverageFound
}

func (s *Stage) run(ctx context.Context, workDir, cmd string) bool {
	if cmd == "" {
		return true
	}
	_, err := executil.Run(ctx, "sh", []string{"-c", cmd}, executil.Options{Dir: workDir})
	return err == nil
}

// pollHealth checks url attempts times, spaced by interval, and reports
// whether at least 2/3 of the checks (per spec.md §4.10.9) succeeded.
func (s *Stage) pollHealth(url string, attempts int, interval time.Duration) bool {
	if url == "" {
		return true
	}
	successes := 0
	for i := 0; i < attempts; i++ {
		if s.HealthCheck(url) {
			successes++
		}
		if i < attempts-1 {
			s.Sleep(interval)
		}
	}
	return HealthyMajority(successes, attempts)
}

// HealthyMajority implements the >=2/3 success threshold from spec.md
// §4.10.9, generalized to any attempt count via a two-thirds ratio.
func HealthyMajority(successes, attempts int) bool {
	if attempts == 0 {
		return true
	}
	return float64(successes)/float64(attempts) >= 2.0/3.0
}

func (s *Stage) runCanary(ctx context.Context, workDir string, spec interface {
	ConfigString(string, string) string
}) (bool, bool) {
	canaryCmd := spec.ConfigString("canary_cmd", "")
	healthURL := spec.ConfigString("health_url", "")
	rollbackCmd := spec.ConfigString("rollback_cmd", "")
	promoteCmd := spec.ConfigString("promote_cmd", "")

	if !s.run(ctx, workDir, canaryCmd) {
		return false, false
	}
	if !s.pollHealth(healthURL, 3, 10*time.Second) {
		s.run(ctx, workDir, rollbackCmd)
		return false, true
	}
	return s.run(ctx, workDir, promoteCmd), false
}

func (s *Stage) runBlueGreen(ctx context.Context, workDir string, spec interface {
	ConfigString(string, string) string
}) bool {
	stagingCmd := spec.ConfigString("staging_cmd", "")
	healthURL := spec.ConfigString("health_url", "")
	switchCmd := spec.ConfigString("switch_cmd", "")

	if !s.run(ctx, workDir, stagingCmd) {
		return false
	}
	if !s.pollHealth(healthURL, 3, 5*time.Second) {
		return false
	}
	return s.run(ctx, workDir, switchCmd)
}

func (s *Stage) runDirect(ctx context.Context, workDir string, spec interface {
	ConfigString(string, string) string
}) (bool, bool) {
	stagingCmd := spec.ConfigString("staging_cmd", "")
	productionCmd := spec.ConfigString("production_cmd", "")
	rollbackCmd := spec.ConfigString("rollback_cmd", "")

	if stagingCmd != "" && !s.run(ctx, workDir, stagingCmd) {
		return false, false
	}
	if s.run(ctx, workDir, productionCmd) {
		return true, false
	}
	if rollbackCmd != "" {
		s.run(ctx, workDir, rollbackCmd)
		return false, true
	}
	return false, false
}
