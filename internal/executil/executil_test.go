package executil

import (
	"bytes"
	"context"
	"testing"
)

func TestRunCapturesStdout(t *testing.T) {
	var out bytes.Buffer
	res, err := Run(context.Background(), "echo", []string{"hello"}, Options{Stdout: &out, Stderr: &out})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stdout != "hello" {
		t.Fatalf("expected stdout 'hello', got %q", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", res.ExitCode)
	}
}

func TestRunCapturesNonZeroExitCode(t *testing.T) {
	var out bytes.Buffer
	res, err := Run(context.Background(), "sh", []string{"-c", "exit 3"}, Options{Stdout: &out, Stderr: &out})
	if err == nil {
		t.Fatal("expected an error for a non-zero exit")
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
}

func TestPrimaryOutputPrefersStderr(t *testing.T) {
	got := PrimaryOutput(Result{Stdout: "ok", Stderr: "boom"})
	if got != "boom" {
		t.Fatalf("expected stderr to win, got %q", got)
	}
	got = PrimaryOutput(Result{Stdout: "ok"})
	if got != "ok" {
		t.Fatalf("expected stdout fallback, got %q", got)
	}
}

func TestWithoutAgentEnvStripsClaudeCodeVar(t *testing.T) {
	in := []string{"PATH=/bin", "CLAUDECODE=1", "HOME=/root"}
	out := WithoutAgentEnv(in)
	for _, kv := range out {
		if kv == "CLAUDECODE=1" {
			t.Fatal("expected CLAUDECODE to be stripped")
		}
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 remaining entries, got %d: %v", len(out), out)
	}
}
