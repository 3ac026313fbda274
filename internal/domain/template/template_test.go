package template

import (
	"testing"

	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
)

func hotfixTemplate() *Template {
	return &Template{
		Name: "hotfix",
		Defaults: Defaults{
			Model: "opus", Agents: 1, TestCmd: "go test ./...",
		},
		Stages: []StageSpec{
			{ID: domainrun.StageIntake, Enabled: true, Gate: GateAuto},
			{ID: domainrun.StagePlan, Enabled: false},
			{ID: domainrun.StageDesign, Enabled: false},
			{ID: domainrun.StageBuild, Enabled: true, Gate: GateAuto},
			{ID: domainrun.StageTest, Enabled: true, Gate: GateAuto},
			{ID: domainrun.StagePR, Enabled: true, Gate: GateApprove},
		},
	}
}

func TestValidateRejectsEmptyStages(t *testing.T) {
	tpl := &Template{Name: "empty"}
	if err := tpl.Validate(); err == nil {
		t.Fatal("expected error for empty stages")
	}
}

func TestValidateRejectsDuplicateStageIDs(t *testing.T) {
	tpl := hotfixTemplate()
	tpl.Stages = append(tpl.Stages, StageSpec{ID: domainrun.StageIntake, Enabled: true})
	if err := tpl.Validate(); err == nil {
		t.Fatal("expected error for duplicate stage id")
	}
}

func TestEnabledStageOrderSkipsDisabled(t *testing.T) {
	tpl := hotfixTemplate()
	got := tpl.EnabledStageOrder()
	want := []domainrun.StageKind{domainrun.StageIntake, domainrun.StageBuild, domainrun.StageTest, domainrun.StagePR}
	if len(got) != len(want) {
		t.Fatalf("expected %d enabled stages, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestStageConfigAccessorsFallback(t *testing.T) {
	s := StageSpec{Config: map[string]interface{}{"retries": float64(3), "coverage_min": float64(80)}}
	if got := s.ConfigInt("retries", 0); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := s.ConfigInt("missing", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
	if got := s.ConfigBool("quality_gates", true); got != true {
		t.Fatalf("expected fallback true, got %v", got)
	}
}
