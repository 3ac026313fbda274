package validate

import (
	"strings"
	"testing"
	"time"
)

func TestPollUntilHealthyStopsOnFirstSuccess(t *testing.T) {
	calls := 0
	s := &Stage{Sleep: func(time.Duration) {}}
	s.HealthCheck = func(string) bool {
		calls++
		return calls == 2
	}
	ok, attempts := s.pollUntilHealthy("http://example")
	if !ok || attempts != 2 {
		t.Fatalf("expected success on attempt 2, got ok=%v attempts=%d", ok, attempts)
	}
}

func TestPollUntilHealthyExhaustsAttempts(t *testing.T) {
	s := &Stage{Sleep: func(time.Duration) {}}
	s.HealthCheck = func(string) bool { return false }
	ok, attempts := s.pollUntilHealthy("http://example")
	if ok || attempts != healthCheckAttempts {
		t.Fatalf("expected failure after %d attempts, got ok=%v attempts=%d", healthCheckAttempts, ok, attempts)
	}
}

func TestIncidentReportMentionsSmokeFailure(t *testing.T) {
	got := IncidentReport("fix the bug", false, 0)
	if !strings.Contains(got, "Smoke command failed") {
		t.Fatalf("expected smoke failure mention, got:\n%s", got)
	}
}

func TestIncidentReportMentionsHealthAttempts(t *testing.T) {
	got := IncidentReport("fix the bug", true, 5)
	if !strings.Contains(got, "5 attempts") {
		t.Fatalf("expected attempt count, got:\n%s", got)
	}
}

func TestSummaryTableIncludesGoalAndBranch(t *testing.T) {
	got := SummaryTable("fix the bug", "shipwright/fix-1")
	if !strings.Contains(got, "fix the bug") || !strings.Contains(got, "shipwright/fix-1") {
		t.Fatalf("expected goal and branch in table, got:\n%s", got)
	}
}

func TestIssueNumberFromRefParsesTrailingDigits(t *testing.T) {
	if got := issueNumberFromRef("owner/repo#42"); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestIssueNumberFromRefReturnsZeroWithoutDigits(t *testing.T) {
	if got := issueNumberFromRef(""); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
