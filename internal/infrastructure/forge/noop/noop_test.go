package noop

import (
	"context"
	"testing"
)

func TestEveryOperationIsANeutralNoOp(t *testing.T) {
	f := New()
	ctx := context.Background()

	if meta, err := f.GetIssueMeta(ctx, 1); err != nil || meta.Number != 0 {
		t.Fatalf("expected neutral result, got %+v, %v", meta, err)
	}
	if url, err := f.CreatePR(ctx, "t", "b", "main", "feature", nil, nil, ""); err != nil || url != "" {
		t.Fatalf("expected empty url and no error, got %q, %v", url, err)
	}
	if err := f.MergePR(ctx, 1, "squash", true, false); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
