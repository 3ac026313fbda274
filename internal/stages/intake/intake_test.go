package intake

import "testing"

func TestIssueNumberParsesVariousRefs(t *testing.T) {
	cases := map[string]int{
		"123": 123, "#123": 123, "owner/repo#42": 42, "": 0, "no-digits": 0,
	}
	for ref, want := range cases {
		if got := issueNumber(ref); got != want {
			t.Fatalf("issueNumber(%q) = %d, want %d", ref, got, want)
		}
	}
}

func TestClassifyTaskTypeHeuristicMatchesKeywords(t *testing.T) {
	cases := map[string]string{
		"fix the crash on login":       "bug",
		"refactor the pipeline engine": "refactor",
		"add coverage for retry path":  "testing",
		"patch CVE in auth":            "security",
		"update the README":            "docs",
		"wire up the CI pipeline":      "devops",
		"migrate off the old API":      "migration",
		"rearchitect the storage layer": "architecture",
		"implement dark mode":          "feature",
		"do something unrelated":       "feature",
	}
	for goal, want := range cases {
		if got := ClassifyTaskTypeHeuristic(goal); got != want {
			t.Fatalf("ClassifyTaskTypeHeuristic(%q) = %q, want %q", goal, got, want)
		}
	}
}

func TestParseLLMClassificationAcceptsValidType(t *testing.T) {
	taskType, conf, ok := ParseLLMClassification("type: bug confidence: 85")
	if !ok || taskType != "bug" || conf != 85 {
		t.Fatalf("expected bug/85/true, got %q/%d/%v", taskType, conf, ok)
	}
}

func TestParseLLMClassificationRejectsUnknownType(t *testing.T) {
	if _, _, ok := ParseLLMClassification("type: sorcery confidence: 99"); ok {
		t.Fatal("expected rejection of a type outside the closed vocabulary")
	}
}

func TestParseLLMClassificationRejectsMalformedResponse(t *testing.T) {
	if _, _, ok := ParseLLMClassification("I think it's a bug"); ok {
		t.Fatal("expected rejection of an unstructured response")
	}
}

func TestDetectLanguageFromFilesPrefersFirstMarker(t *testing.T) {
	got := DetectLanguageFromFiles(map[string]bool{"go.mod": true, "package.json": true})
	if got != "go" {
		t.Fatalf("expected go.mod to win, got %q", got)
	}
}

func TestDetectLanguageFromFilesReturnsEmptyWhenAmbiguous(t *testing.T) {
	if got := DetectLanguageFromFiles(map[string]bool{}); got != "" {
		t.Fatalf("expected empty language, got %q", got)
	}
}

func TestDetectTestCommandFromLanguagePrefersMakefile(t *testing.T) {
	if got := DetectTestCommandFromLanguage("go", true); got != "make test" {
		t.Fatalf("expected make test to take priority, got %q", got)
	}
}

func TestDetectTestCommandFromLanguageFallsBackPerLanguage(t *testing.T) {
	cases := map[string]string{"go": "go test ./...", "rust": "cargo test", "python": "pytest", "node": "npm test"}
	for lang, want := range cases {
		if got := DetectTestCommandFromLanguage(lang, false); got != want {
			t.Fatalf("language %q: got %q, want %q", lang, got, want)
		}
	}
}

func TestSlugifyNormalizesAndTruncates(t *testing.T) {
	got := Slugify("Fix the Login Bug!!")
	if got != "fix-the-login-bug" {
		t.Fatalf("unexpected slug: %q", got)
	}
}

func TestSlugifyDefaultsWhenEmpty(t *testing.T) {
	if got := Slugify("!!!"); got != "task" {
		t.Fatalf("expected fallback \"task\", got %q", got)
	}
}

func TestBranchPrefixMapsKnownTaskTypes(t *testing.T) {
	if got := BranchPrefix("bug"); got != "fix" {
		t.Fatalf("expected fix, got %q", got)
	}
	if got := BranchPrefix("unknown-type"); got != "feature" {
		t.Fatalf("expected fallback feature, got %q", got)
	}
}

func TestAdoptedPrefixRequiresOver80Percent(t *testing.T) {
	branches := []string{"feature/a", "feature/b", "feature/c", "feature/d", "bugfix/e"}
	prefix, ok := AdoptedPrefix(branches)
	if ok || prefix != "" {
		t.Fatalf("expected no prefix adopted at exactly 80%%, got %q/%v", prefix, ok)
	}
}

func TestAdoptedPrefixRejectsSplitBranches(t *testing.T) {
	branches := []string{"feature/a", "bugfix/b", "chore/c"}
	if _, ok := AdoptedPrefix(branches); ok {
		t.Fatal("expected no prefix adopted when branches are split three ways")
	}
}

func TestAdoptedPrefixHandlesNoBranches(t *testing.T) {
	if _, ok := AdoptedPrefix(nil); ok {
		t.Fatal("expected false for no branches")
	}
}
