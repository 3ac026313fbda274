package plan

import "testing"

func TestParseValidationAcceptsTrue(t *testing.T) {
	if !ParseValidation("VALID: true\nlooks complete") {
		t.Fatal("expected true to parse as valid")
	}
}

func TestParseValidationRejectsFalse(t *testing.T) {
	if ParseValidation("VALID: false\nscope too large") {
		t.Fatal("expected false to parse as invalid")
	}
}

func TestClassifyFailureModeDetectsEachMode(t *testing.T) {
	cases := map[string]string{
		"VALID: false - requirements are unclear about the target audience": "requirements_unclear",
		"VALID: false - insufficient detail in the implementation steps":    "insufficient_detail",
		"VALID: false - scope too large for a single plan":                 "scope_too_large",
		"VALID: false - this plan is bad":                                  "unknown",
	}
	for resp, want := range cases {
		if got := ClassifyFailureMode(resp); got != want {
			t.Fatalf("ClassifyFailureMode(%q) = %q, want %q", resp, got, want)
		}
	}
}

func TestExtractChecklistParsesCheckboxItems(t *testing.T) {
	plan := "## Implementation Steps\nDo the thing.\n\n## Task Checklist\n- [ ] Write the handler\n- [x] Add tests\n- [ ] Update docs\n\n## Testing Approach\nRun it.\n"
	got := ExtractChecklist(plan)
	want := []string{"Write the handler", "Add tests", "Update docs"}
	if len(got) != len(want) {
		t.Fatalf("expected %d items, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("item %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExtractChecklistReturnsEmptyWhenSectionMissing(t *testing.T) {
	got := ExtractChecklist("## Implementation Steps\nNothing else here.\n")
	if len(got) != 0 {
		t.Fatalf("expected no items, got %v", got)
	}
}

func TestBuildDoDFileRendersUncheckedItems(t *testing.T) {
	out := BuildDoDFile([]string{"Write the handler", "Add tests"})
	want := "# Definition of Done\n\n- [ ] Write the handler\n- [ ] Add tests\n"
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestCorrectiveInstructionVariesByMode(t *testing.T) {
	a := CorrectiveInstruction("scope_too_large")
	b := CorrectiveInstruction("insufficient_detail")
	if a == b {
		t.Fatal("expected mode-specific corrective instructions to differ")
	}
}
