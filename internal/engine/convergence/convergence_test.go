package convergence

import "testing"

func TestAdjustIsPure(t *testing.T) {
	ctx := Context{LearnedCycles: 3}
	a := Adjust(2, ctx, 1, 5)
	b := Adjust(2, ctx, 1, 5)
	if a != b {
		t.Fatalf("expected identical results for identical inputs, got %+v vs %+v", a, b)
	}
}

func TestAdjustNeverExceedsDoubleBase(t *testing.T) {
	for base := 1; base <= 5; base++ {
		r := Adjust(base, Context{LearnedCycles: 100}, 1, 100)
		if r.NewLimit > 2*base {
			t.Fatalf("base=%d: expected <= %d, got %d", base, 2*base, r.NewLimit)
		}
	}
}

func TestAdjustNeverNegative(t *testing.T) {
	r := Adjust(2, Context{}, 10, 1)
	if r.NewLimit < 0 {
		t.Fatalf("expected non-negative limit, got %d", r.NewLimit)
	}
}

func TestAdjustBudgetExhaustedReturnsZero(t *testing.T) {
	r := Adjust(5, Context{BudgetExhausted: true}, 1, 1)
	if r.NewLimit != 0 || r.Signal != SignalBudgetCap {
		t.Fatalf("expected zero limit with budget_cap signal, got %+v", r)
	}
}

func TestAdjustAccelerationBumpsLimit(t *testing.T) {
	r := Adjust(2, Context{}, 1, 5) // cur=1 < prev/2=2.5
	if r.Signal != SignalAcceleration {
		t.Fatalf("expected acceleration, got %s", r.Signal)
	}
	if r.NewLimit != 3 {
		t.Fatalf("expected limit 3, got %d", r.NewLimit)
	}
}

func TestAdjustDivergenceDecrementsLimit(t *testing.T) {
	r := Adjust(2, Context{}, 5, 1)
	if r.Signal != SignalDivergence {
		t.Fatalf("expected divergence, got %s", r.Signal)
	}
	if r.NewLimit != 1 {
		t.Fatalf("expected limit 1, got %d", r.NewLimit)
	}
}

func TestPlateauFiresOnExactlySecondConsecutiveCycle(t *testing.T) {
	var p PlateauTracker
	if p.Observe(5) {
		t.Fatal("first observation must never plateau")
	}
	if p.Observe(5) != true {
		t.Fatal("expected plateau on second identical cycle")
	}
}

func TestPlateauResetsOnImprovement(t *testing.T) {
	var p PlateauTracker
	p.Observe(5)
	p.Observe(5) // plateau at 2
	if p.Observe(2) {
		t.Fatal("expected no plateau after improvement resets the streak")
	}
}

func TestStuckFiresOnExactlyThirdIdenticalSignature(t *testing.T) {
	var s StuckTracker
	if s.Observe("abc") {
		t.Fatal("first observation must never be stuck")
	}
	if s.Observe("abc") {
		t.Fatal("second observation must never be stuck")
	}
	if !s.Observe("abc") {
		t.Fatal("expected stuck on third identical signature")
	}
}

func TestE4AdaptiveCIWaitMatchesScenario(t *testing.T) {
	if got := CIWaitTimeout(540, true); got != 810 {
		t.Fatalf("expected timeout 810, got %v", got)
	}
}

func TestCIWaitTimeoutDefaultsTo600WithoutHistory(t *testing.T) {
	if got := CIWaitTimeout(0, false); got != 600 {
		t.Fatalf("expected default 600, got %v", got)
	}
}

func TestCIWaitTimeoutClampsToBounds(t *testing.T) {
	if got := CIWaitTimeout(10, true); got != 120 {
		t.Fatalf("expected floor 120, got %v", got)
	}
	if got := CIWaitTimeout(10000, true); got != 1800 {
		t.Fatalf("expected ceiling 1800, got %v", got)
	}
}
