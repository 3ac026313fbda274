// Package noop implements ports.Forge as a neutral no-op, used when
// --no-github is set or no auth token is present (spec.md §6.3).
package noop

import (
	"context"

	"github.com/shipwrightrun/shipwright/internal/ports"
)

// Forge satisfies ports.Forge with neutral zero-value results and no I/O.
type Forge struct{}

func New() *Forge { return &Forge{} }

func (Forge) GetIssueMeta(context.Context, int) (ports.IssueMeta, error) { return ports.IssueMeta{}, nil }
func (Forge) CommentIssue(context.Context, int, string) error            { return nil }
func (Forge) PostProgressComment(context.Context, int, string) (string, error) {
	return "", nil
}
func (Forge) UpdateComment(context.Context, string, string) error { return nil }
func (Forge) AddLabels(context.Context, int, []string) error      { return nil }
func (Forge) RemoveLabel(context.Context, int, string) error      { return nil }
func (Forge) AssignSelf(context.Context, int) error                { return nil }
func (Forge) CloseIssue(context.Context, int, string) error        { return nil }

func (Forge) ListOpenPRsForBranch(context.Context, string) ([]ports.PRRef, error) { return nil, nil }
func (Forge) CreatePR(context.Context, string, string, string, string, []string, []string, string) (string, error) {
	return "", nil
}
func (Forge) EditPR(context.Context, int, string, string) error          { return nil }
func (Forge) AddReviewer(context.Context, int, string) error             { return nil }
func (Forge) ReviewApprove(context.Context, int) error                   { return nil }
func (Forge) MergePR(context.Context, int, string, bool, bool) error     { return nil }

func (Forge) PRChecks(context.Context, int) ([]ports.PRCheck, error) { return nil, nil }
func (Forge) CreateCheckRun(context.Context, string, string) (string, error) {
	return "", nil
}
func (Forge) UpdateCheckRun(context.Context, string, string, string, string) error { return nil }

func (Forge) BranchProtectionRules(context.Context, string, string) (ports.BranchProtection, error) {
	return ports.BranchProtection{}, nil
}
func (Forge) Codeowners(context.Context, string) ([]string, error)          { return nil, nil }
func (Forge) Contributors(context.Context, string) ([]ports.Contributor, error) { return nil, nil }

func (Forge) DeploymentStart(context.Context, string, string) (string, error) { return "", nil }
func (Forge) DeploymentComplete(context.Context, string, bool, string) error  { return nil }

func (Forge) WikiPush(context.Context, string, string) error { return nil }

var _ ports.Forge = Forge{}
