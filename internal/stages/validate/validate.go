// Package validate implements the validate stage: an optional smoke command
// followed by a bounded health-check poll, reporting the deployment back to
// the tracking issue and the forge wiki (spec.md §4.10.10).
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	"github.com/shipwrightrun/shipwright/internal/executil"
	"github.com/shipwrightrun/shipwright/internal/runctx"
)

const (
	healthCheckAttempts = 5
	healthCheckInterval = 10 * time.Second
)

// Stage implements stages.Stage for the validate step.
type Stage struct {
	HealthCheck  func(url string) bool
	Sleep        func(time.Duration)
	HealthClient *http.Client
}

// New returns a validate Stage with a default HTTP-based health checker.
func New() *Stage {
	s := &Stage{Sleep: time.Sleep, HealthClient: &http.Client{Timeout: 5 * time.Second}}
	s.HealthCheck = s.httpHealthCheck
	return s
}

// Kind identifies this stage to the registry.
func (s *Stage) Kind() domainrun.StageKind { return domainrun.StageValidate }

func (s *Stage) httpHealthCheck(url string) bool {
	resp, err := s.HealthClient.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

// Artifact is the persisted validate.json decisions record.
type Artifact struct {
	SmokePassed   bool `json:"smoke_passed"`
	HealthPassed  bool `json:"health_passed"`
	Attempts      int  `json:"attempts"`
	IncidentOpened bool `json:"incident_opened"`
}

// Run executes the validate stage against rc.
func (s *Stage) Run(ctx context.Context, rc *runctx.RunContext) (domainrun.StageOutcome, error) {
	spec, _ := rc.Template.StageByKind(domainrun.StageValidate)
	smokeCmd := spec.ConfigString("smoke_cmd", "")
	healthURL := spec.ConfigString("health_url", "")

	smokeOK := true
	if smokeCmd != "" {
		_, err := executil.Run(ctx, "sh", []string{"-c", smokeCmd}, executil.Options{Dir: rc.WorkDir})
		smokeOK = err == nil
	}

	healthOK, attempts := true, 0
	if smokeOK && healthURL != "" {
		healthOK, attempts = s.pollUntilHealthy(healthURL)
	}

	success := smokeOK && healthOK
	art := Artifact{SmokePassed: smokeOK, HealthPassed: healthOK, Attempts: attempts}

	if !success {
		art.IncidentOpened = s.openIncident(ctx, rc, smokeOK, attempts)
	} else {
		s.reportSuccess(ctx, rc)
	}

	artifactPath := writeArtifact(rc.ArtifactDir, art)
	if !success {
		return domainrun.StageOutcome{Success: false, ArtifactPath: artifactPath, FailureClass: "infrastructure"}, nil
	}
	return domainrun.StageOutcome{Success: true, ArtifactPath: artifactPath}, nil
}

// pollUntilHealthy checks url up to healthCheckAttempts times, spaced by
// healthCheckInterval, stopping early on the first success.
func (s *Stage) pollUntilHealthy(url string) (bool, int) {
	for attempt := 1; attempt <= healthCheckAttempts; attempt++ {
		if s.HealthCheck(url) {
			return true, attempt
		}
		if attempt < healthCheckAttempts {
			s.Sleep(healthCheckInterval)
		}
	}
	return false, healthCheckAttempts
}

func (s *Stage) openIncident(ctx context.Context, rc *runctx.RunContext, smokeOK bool, attempts int) bool {
	num := issueNumberFromRef(rc.Run.IssueRef)
	if rc.Forge == nil || num == 0 {
		return false
	}
	body := IncidentReport(rc.Run.Goal, smokeOK, attempts)
	_ = rc.Forge.CommentIssue(ctx, num, body)
	_ = rc.Forge.AddLabels(ctx, num, []string{"incident"})
	return true
}

func (s *Stage) reportSuccess(ctx context.Context, rc *runctx.RunContext) {
	num := issueNumberFromRef(rc.Run.IssueRef)
	if rc.Forge != nil && num != 0 {
		_ = rc.Forge.CloseIssue(ctx, num, SummaryTable(rc.Run.Goal, rc.Run.WorkingBranch))
	}
	if rc.Forge != nil {
		_ = rc.Forge.WikiPush(ctx, "deployments/"+rc.Run.ID, SummaryTable(rc.Run.Goal, rc.Run.WorkingBranch))
	}
}

// IncidentReport composes the incident issue body from spec.md §4.10.10.
func IncidentReport(goal string, smokeOK bool, healthAttempts int) string {
	var b strings.Builder
	b.WriteString("## Deployment validation failed\n\n")
	fmt.Fprintf(&b, "Goal: %s\n\n", goal)
	if !smokeOK {
		b.WriteString("- Smoke command failed\n")
	} else {
		fmt.Fprintf(&b, "- Health check failed after %d attempts\n", healthAttempts)
	}
	return b.String()
}

// SummaryTable composes the closing-comment / wiki-report body from
// spec.md §4.10.10.
func SummaryTable(goal, branch string) string {
	var b strings.Builder
	b.WriteString("## Deployment validated\n\n")
	b.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Goal | %s |\n", goal)
	fmt.Fprintf(&b, "| Branch | %s |\n", branch)
	return b.String()
}

func writeArtifact(artifactDir string, art Artifact) string {
	path := filepath.Join(artifactDir, "validate.json")
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
