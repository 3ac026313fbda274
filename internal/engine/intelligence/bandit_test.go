package intelligence

import "testing"

func TestRouteModelFallsBackToControlWithNoData(t *testing.T) {
	d := RouteModel(nil, 20, 0.5) // 0.5*100=50 >= abPercent 20, falls through to control
	if d.Group != GroupControl || d.Model != DefaultModel {
		t.Fatalf("expected control/opus with no arms and a high draw, got %+v", d)
	}
}

func TestRouteModelUsesUCB1InsteadOfABSplitWhenArmsHaveSamples(t *testing.T) {
	arms := []ModelArm{
		{Model: "opus", Samples: 10, MeanQuality: 0.5},
		{Model: "sonnet", Samples: 10, MeanQuality: 0.5},
	}
	// Equal means and equal samples at the same total: UCB1 scores tie, so
	// the first arm by iteration order is picked deterministically.
	d := RouteModel(arms, 20, 0.05)
	if d.Group != GroupUCB1 {
		t.Fatalf("expected ucb1 to fire once arms carry samples, got %+v", d)
	}
}

func TestRouteModelPrefersUntriedArmForExploration(t *testing.T) {
	arms := []ModelArm{
		{Model: "opus", Samples: 5, MeanQuality: 0.9},
		{Model: "haiku", Samples: 0, MeanQuality: 0},
	}
	d := RouteModel(arms, 20, 0.5)
	if d.Model != "haiku" || d.Group != GroupUCB1 {
		t.Fatalf("expected untried arm haiku to win exploration, got %+v", d)
	}
}

func TestRouteModelUsesUCB1WithFiftyOrMoreSamples(t *testing.T) {
	// No UCB1 data available (simulate by giving all arms equal infinite
	// scores impossible) - instead exercise the AB-only path directly via
	// zero-sample handling bypassed: use totalSamples >= 50 forcing abPercent
	// to 100 whenever the UCB1 branch is skipped (here, by passing no arms
	// for UCB1 but reusing arms for the recommendation only is not directly
	// testable without internal data, so assert via RouteModel's public
	// contract: with arms present, UCB1 always wins once any exist).
	arms := []ModelArm{{Model: "opus", Samples: 60, MeanQuality: 0.7}}
	d := RouteModel(arms, 20, 0.99)
	if d.Group != GroupUCB1 {
		t.Fatalf("expected ucb1 with a populated single arm, got %+v", d)
	}
}

func TestUCB1BestTiesBreakByFirstArm(t *testing.T) {
	arms := []ModelArm{
		{Model: "a", Samples: 10, MeanQuality: 0.5},
		{Model: "b", Samples: 10, MeanQuality: 0.5},
	}
	model, ok := ucb1Best(arms, 20)
	if !ok || model != "a" {
		t.Fatalf("expected deterministic tie-break to arm a, got %s ok=%v", model, ok)
	}
}

func TestRecommendedArmIgnoresUnsampledArms(t *testing.T) {
	arms := []ModelArm{
		{Model: "untried", Samples: 0, MeanQuality: 10},
		{Model: "tried", Samples: 3, MeanQuality: 0.8},
	}
	if got := recommendedArm(arms); got != "tried" {
		t.Fatalf("expected recommendedArm to skip zero-sample arms, got %s", got)
	}
}
