package review

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shipwrightrun/shipwright/internal/domain/baseline"
	domainevent "github.com/shipwrightrun/shipwright/internal/domain/event"
	"github.com/shipwrightrun/shipwright/internal/engine/compoundquality"
)

type fakeLLM struct {
	resp string
	err  error
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) { return f.resp, f.err }

func TestLLMAuditOffIntensityIsNoop(t *testing.T) {
	a := &LLMAudit{Kind: compoundquality.AuditAdversarial, LLM: &fakeLLM{resp: "[Critical] x"}}
	res, err := a.Run(context.Background(), compoundquality.IntensityOff)
	if err != nil || !res.Pass || len(res.Findings) != 0 {
		t.Fatalf("expected a no-op pass when intensity is off, got %+v err=%v", res, err)
	}
}

func TestLLMAuditTagsFindingsWithFixedKind(t *testing.T) {
	a := &LLMAudit{Kind: compoundquality.AuditArchitecture, LLM: &fakeLLM{resp: "[Critical] layering violation\n[Suggestion] rename\n"}}
	res, err := a.Run(context.Background(), compoundquality.IntensityTargeted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Pass {
		t.Fatal("expected findings to fail the audit")
	}
	if len(res.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(res.Findings))
	}
	for _, f := range res.Findings {
		if f.Kind != compoundquality.FindingArchitecture {
			t.Fatalf("expected architecture kind, got %v", f.Kind)
		}
	}
	if res.Findings[0].Severity != compoundquality.SeverityCritical {
		t.Fatalf("expected critical severity, got %v", res.Findings[0].Severity)
	}
	if res.Findings[1].Severity != compoundquality.SeverityMinor {
		t.Fatalf("expected minor severity for suggestion, got %v", res.Findings[1].Severity)
	}
}

func TestE2EAuditPassesOnSuccessfulCommand(t *testing.T) {
	a := &E2EAudit{WorkDir: t.TempDir(), TestCmd: "true"}
	res, err := a.Run(context.Background(), compoundquality.IntensityTargeted)
	if err != nil || !res.Pass {
		t.Fatalf("expected pass, got %+v err=%v", res, err)
	}
}

func TestE2EAuditFailsOnFailingCommand(t *testing.T) {
	a := &E2EAudit{WorkDir: t.TempDir(), TestCmd: "false"}
	res, err := a.Run(context.Background(), compoundquality.IntensityTargeted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Pass || len(res.Findings) != 1 {
		t.Fatalf("expected one failing finding, got %+v", res)
	}
}

type fakeDoDVerifier struct {
	rate float64
	err  error
}

func (f *fakeDoDVerifier) VerifyDoD(ctx context.Context) (float64, error) { return f.rate, f.err }

func TestDoDAuditPassesAboveThreshold(t *testing.T) {
	a := &DoDAudit{Verifier: &fakeDoDVerifier{rate: 80}}
	res, err := a.Run(context.Background(), compoundquality.IntensityTargeted)
	if err != nil || !res.Pass {
		t.Fatalf("expected pass, got %+v err=%v", res, err)
	}
}

func TestDoDAuditFailsBelowThreshold(t *testing.T) {
	a := &DoDAudit{Verifier: &fakeDoDVerifier{rate: 50}}
	res, err := a.Run(context.Background(), compoundquality.IntensityTargeted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Pass || len(res.Findings) != 1 {
		t.Fatalf("expected a blocking finding below the gate, got %+v", res)
	}
}

type recordingBus struct {
	events []domainevent.Event
}

func (r *recordingBus) Publish(ctx context.Context, evt domainevent.Event) error {
	r.events = append(r.events, evt)
	return nil
}

func writeTestArtifact(t *testing.T, dir string, coverage float64) {
	t.Helper()
	data, _ := json.Marshal(struct {
		Coverage      float64 `json:"coverage"`
		CoverageFound bool    `json:"coverage_found"`
	}{Coverage: coverage, CoverageFound: true})
	if err := os.WriteFile(filepath.Join(dir, "test.json"), data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func TestMultiDimensionalAuditEmitsCoverageEventAndPassesWithinTolerance(t *testing.T) {
	dir := t.TempDir()
	writeTestArtifact(t, dir, 81)
	bus := &recordingBus{}
	a := &MultiDimensionalAudit{
		ArtifactDir: dir,
		Baseline:    &baseline.Record{CoverageBaseline: 82},
		Events:      bus,
		RunID:       "run-1",
	}
	res, err := a.Run(context.Background(), compoundquality.IntensityTargeted)
	if err != nil || !res.Pass {
		t.Fatalf("expected pass within tolerance, got %+v err=%v", res, err)
	}
	if len(bus.events) != 1 || bus.events[0].Type != domainevent.TypeCompoundCoverage {
		t.Fatalf("expected one quality.coverage event, got %+v", bus.events)
	}
}

func TestMultiDimensionalAuditFlagsRegressionBeyondTolerance(t *testing.T) {
	dir := t.TempDir()
	writeTestArtifact(t, dir, 70)
	a := &MultiDimensionalAudit{
		ArtifactDir: dir,
		Baseline:    &baseline.Record{CoverageBaseline: 82},
	}
	res, err := a.Run(context.Background(), compoundquality.IntensityTargeted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Pass || len(res.Findings) != 1 {
		t.Fatalf("expected a blocking coverage regression finding, got %+v", res)
	}
}

func TestMultiDimensionalAuditPassesWhenNoBaseline(t *testing.T) {
	dir := t.TempDir()
	writeTestArtifact(t, dir, 10)
	a := &MultiDimensionalAudit{ArtifactDir: dir}
	res, err := a.Run(context.Background(), compoundquality.IntensityTargeted)
	if err != nil || !res.Pass {
		t.Fatalf("expected pass without a baseline to compare against, got %+v err=%v", res, err)
	}
}
