package retry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shipwrightrun/shipwright/internal/infrastructure/classifier"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stage.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestDecideEscalatesConfigurationErrors(t *testing.T) {
	path := writeLog(t, "Error: ENOENT no such file\n")
	ctrl := New(classifier.New(nil))
	decision, err := ctrl.Decide(context.Background(), "build", path, 1, "")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.Action != "escalate" {
		t.Fatalf("expected escalate, got %s", decision.Action)
	}
}

func TestDecideRetriesLogicOnceAfterDifferentClass(t *testing.T) {
	path := writeLog(t, "AssertionError: expected true\n")
	ctrl := New(classifier.New(nil))
	decision, err := ctrl.Decide(context.Background(), "test", path, 2, classifier.ClassInfra)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.Action != "retry" {
		t.Fatalf("expected retry after a different prior class, got %s", decision.Action)
	}
}

func TestDecideEscalatesRepeatedLogicError(t *testing.T) {
	path := writeLog(t, "AssertionError: expected true\n")
	ctrl := New(classifier.New(nil))
	decision, err := ctrl.Decide(context.Background(), "test", path, 2, classifier.ClassLogic)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.Action != "skip" || decision.Reason != "repeated_logic_error" {
		t.Fatalf("expected skip/repeated_logic_error, got %+v", decision)
	}
}

func TestBackoffNeverExceedsDoubleTheCeiling(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		b := Backoff(attempt)
		if b < 0 || b > 32 {
			t.Fatalf("attempt %d: backoff %v out of expected [0,32] range", attempt, b)
		}
	}
}
