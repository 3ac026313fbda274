package intelligence

import "math"

// DefaultModel is used whenever the bandit has no outcome data and the A/B
// split falls on the control arm (spec.md §4.11.3).
const DefaultModel = "opus"

// RoutingGroup names which mechanism produced a routing decision, used for
// the intelligence.model_ucb1 / intelligence.model_ab event choice.
type RoutingGroup string

const (
	GroupUCB1    RoutingGroup = "ucb1"
	GroupABTest  RoutingGroup = "ab_test"
	GroupControl RoutingGroup = "control"
)

// ModelArm is one candidate model's outcome history for a given stage.
type ModelArm struct {
	Model   string
	Samples int
	MeanQuality float64 // running mean of the arm's recorded quality/reward
}

// RoutingDecision is the result of a single model-routing call.
type RoutingDecision struct {
	Model string
	Group RoutingGroup
}

// RouteModel implements spec.md §4.11.3: prefer a UCB1 read when the arms
// carry samples; otherwise fall back to an A/B split against the default
// model, graduating to 100% recommended once total samples reach 50.
//
// abPercent is the configured recommendation percentage (default 20); rand01
// is a caller-supplied draw in [0,1) so the function stays pure and testable.
func RouteModel(arms []ModelArm, abPercent int, rand01 float64) RoutingDecision {
	totalSamples := 0
	for _, a := range arms {
		totalSamples += a.Samples
	}

	if totalSamples > 0 {
		if best, ok := ucb1Best(arms, totalSamples); ok {
			return RoutingDecision{Model: best, Group: GroupUCB1}
		}
	}

	if abPercent <= 0 {
		abPercent = 20
	}
	if totalSamples >= 50 {
		abPercent = 100
	}
	if rand01*100 < float64(abPercent) {
		recommended := recommendedArm(arms)
		if recommended != "" {
			return RoutingDecision{Model: recommended, Group: GroupABTest}
		}
	}
	return RoutingDecision{Model: DefaultModel, Group: GroupControl}
}

// ucb1Best picks the arm maximizing mean + sqrt(2*ln(total)/samples). Arms
// with zero samples are treated as having infinite upper-confidence bound so
// every arm gets tried at least once before exploitation narrows in.
func ucb1Best(arms []ModelArm, total int) (string, bool) {
	if len(arms) == 0 {
		return "", false
	}
	bestScore := math.Inf(-1)
	bestModel := ""
	found := false
	for _, a := range arms {
		var score float64
		if a.Samples == 0 {
			score = math.Inf(1)
		} else {
			score = a.MeanQuality + math.Sqrt(2*math.Log(float64(total))/float64(a.Samples))
		}
		if score > bestScore {
			bestScore = score
			bestModel = a.Model
			found = true
		}
	}
	return bestModel, found
}

// recommendedArm returns the highest-mean-quality arm, used as the "optimizer
// recommendation" side of the A/B split.
func recommendedArm(arms []ModelArm) string {
	best := ""
	bestMean := math.Inf(-1)
	for _, a := range arms {
		if a.Samples == 0 {
			continue
		}
		if a.MeanQuality > bestMean {
			bestMean = a.MeanQuality
			best = a.Model
		}
	}
	return best
}
