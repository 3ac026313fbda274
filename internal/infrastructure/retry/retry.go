// Package retry implements the Retry Controller (spec.md §4.5): a bounded,
// classifier-gated retry policy with exponential backoff and jitter.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/shipwrightrun/shipwright/internal/infrastructure/classifier"
	"github.com/shipwrightrun/shipwright/internal/ports"
)

// Controller implements ports.RetryController.
type Controller struct {
	Classifier ports.Classifier
}

// New returns a Controller delegating classification to c.
func New(c ports.Classifier) *Controller {
	return &Controller{Classifier: c}
}

// Decide classifies the failure and returns the retry decision for the given
// attempt (1-indexed) and the previous attempt's class (empty if none).
func (ctrl *Controller) Decide(ctx context.Context, stageID, logPath string, attempt int, prevClass string) (ports.RetryDecision, error) {
	class, _, err := ctrl.Classifier.Classify(ctx, stageID, logPath)
	if err != nil {
		return ports.RetryDecision{}, err
	}

	switch class {
	case classifier.ClassConfig:
		return ports.RetryDecision{Action: "escalate", Reason: "configuration_error", Class: class}, nil
	case classifier.ClassLogic:
		if prevClass != "" && prevClass != classifier.ClassLogic {
			return ports.RetryDecision{Action: "retry", Reason: "logic_after_different_class", Class: class, BackoffSeconds: Backoff(attempt)}, nil
		}
		return ports.RetryDecision{Action: "skip", Reason: "repeated_logic_error", Class: class}, nil
	default: // infrastructure, unknown
		return ports.RetryDecision{Action: "retry", Reason: "retryable", Class: class, BackoffSeconds: Backoff(attempt)}, nil
	}
}

// Backoff computes sleep = min(16, 2^attempt) + random(0..that) seconds
// (spec.md §4.5).
func Backoff(attempt int) float64 {
	base := math.Min(16, math.Pow(2, float64(attempt)))
	return base + rand.Float64()*base
}

// Sleep blocks for the given number of seconds or until ctx is cancelled,
// whichever comes first — the only suspension point the backoff introduces
// (spec.md §5).
func Sleep(ctx context.Context, seconds float64) error {
	if seconds <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
