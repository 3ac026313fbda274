package pr

import (
	"testing"

	"github.com/shipwrightrun/shipwright/internal/ports"
)

func TestOnlyArtifactChangesDetectsArtifactOnlyDiff(t *testing.T) {
	if !OnlyArtifactChanges([]string{".shipwright/artifacts/intake.json", ".shipwright/artifacts/plan.md"}) {
		t.Fatal("expected artifact-only diff to be detected")
	}
}

func TestOnlyArtifactChangesDetectsRealChange(t *testing.T) {
	if OnlyArtifactChanges([]string{"internal/server/handler.go"}) {
		t.Fatal("expected a real source change to not match")
	}
}

func TestOnlyArtifactChangesTreatsEmptyDiffAsArtifactOnly(t *testing.T) {
	if !OnlyArtifactChanges(nil) {
		t.Fatal("expected an empty diff to count as artifact-only")
	}
}

func TestBuildTitlePrefersGoal(t *testing.T) {
	if got := BuildTitle("fix the bug", "# Plan\nfirst line"); got != "fix the bug" {
		t.Fatalf("expected goal to win, got %q", got)
	}
}

func TestBuildTitleFallsBackToPlanFirstLine(t *testing.T) {
	if got := BuildTitle("", "# Plan title\nmore text"); got != "# Plan title" {
		t.Fatalf("expected plan first line, got %q", got)
	}
}

func TestBuildBodyIncludesClosesLineWhenIssueSet(t *testing.T) {
	body := BuildBody(Summary{IssueRef: "42", Model: "opus", Agents: 1})
	if !contains(body, "Closes #42") {
		t.Fatalf("expected closes line, got:\n%s", body)
	}
}

func TestBuildBodyOmitsClosesLineWithoutIssue(t *testing.T) {
	body := BuildBody(Summary{Model: "opus", Agents: 1})
	if contains(body, "Closes #") {
		t.Fatalf("expected no closes line, got:\n%s", body)
	}
}

func TestTopContributorsOrdersByCommitsAndExcludesSelf(t *testing.T) {
	contributors := []ports.Contributor{
		{Login: "alice", Commits: 5}, {Login: "bot", Commits: 50}, {Login: "bob", Commits: 10},
	}
	got := TopContributors(contributors, 2, "bot")
	want := []string{"bob", "alice"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
