package stages

import (
	"context"
	"testing"

	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	"github.com/shipwrightrun/shipwright/internal/runctx"
)

type fakeStage struct{ kind domainrun.StageKind }

func (f fakeStage) Kind() domainrun.StageKind { return f.kind }
func (f fakeStage) Run(context.Context, *runctx.RunContext) (domainrun.StageOutcome, error) {
	return domainrun.StageOutcome{Success: true}, nil
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(fakeStage{kind: domainrun.StageBuild}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, ok := r.Get(domainrun.StageBuild)
	if !ok || s.Kind() != domainrun.StageBuild {
		t.Fatalf("expected registered build stage, got %+v ok=%v", s, ok)
	}
}

func TestGetUnknownKindReportsAbsence(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get(domainrun.StageKind("unknown")); ok {
		t.Fatal("expected absence for unregistered kind")
	}
}

func TestRegisterRejectsDuplicateKind(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(fakeStage{kind: domainrun.StageTest})
	if err := r.Register(fakeStage{kind: domainrun.StageTest}); err == nil {
		t.Fatal("expected error registering a duplicate stage kind")
	}
}

func TestRegisterRejectsNil(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nil); err == nil {
		t.Fatal("expected error registering a nil stage")
	}
}
