package ports

import "context"

// IssueMeta is the structured result of Forge.GetIssueMeta (spec.md §6.3).
type IssueMeta struct {
	Number    int
	Title     string
	Body      string
	Labels    []string
	Milestone string
	Assignees []string
	State     string
	Comments  int
}

// PRCheck describes one named CI check bucketed into pending/pass/fail.
type PRCheck struct {
	Name   string
	Bucket string // "pending" | "pass" | "fail"
}

// BranchProtection describes the protection rules on a base branch.
type BranchProtection struct {
	Protected       bool
	RequiredReviews int
	RequiredChecks  []string
}

// Contributor is a repository contributor candidate for reviewer selection.
type Contributor struct {
	Login       string
	Commits     int
}

// Forge is the minimal code-forge adapter consumed by stages (spec.md §6.3).
// Every operation carries an implicit per-call timeout enforced by the
// adapter and is idempotent-on-failure. When the forge is disabled
// (--no-github or no auth token), every operation becomes a no-op returning
// a neutral result — see internal/infrastructure/forge/noop.
type Forge interface {
	GetIssueMeta(ctx context.Context, number int) (IssueMeta, error)
	CommentIssue(ctx context.Context, number int, body string) error
	PostProgressComment(ctx context.Context, number int, body string) (commentID string, err error)
	UpdateComment(ctx context.Context, commentID string, body string) error
	AddLabels(ctx context.Context, number int, labels []string) error
	RemoveLabel(ctx context.Context, number int, label string) error
	AssignSelf(ctx context.Context, number int) error
	CloseIssue(ctx context.Context, number int, comment string) error

	ListOpenPRsForBranch(ctx context.Context, branch string) ([]PRRef, error)
	CreatePR(ctx context.Context, title, body, base, head string, labels, reviewers []string, milestone string) (string, error)
	EditPR(ctx context.Context, number int, title, body string) error
	AddReviewer(ctx context.Context, number int, user string) error
	ReviewApprove(ctx context.Context, number int) error
	MergePR(ctx context.Context, number int, strategy string, deleteBranch bool, auto bool) error

	PRChecks(ctx context.Context, number int) ([]PRCheck, error)
	CreateCheckRun(ctx context.Context, sha, name string) (string, error)
	UpdateCheckRun(ctx context.Context, id, status, conclusion, summary string) error

	BranchProtectionRules(ctx context.Context, repo, branch string) (BranchProtection, error)
	Codeowners(ctx context.Context, repo string) ([]string, error)
	Contributors(ctx context.Context, repo string) ([]Contributor, error)

	DeploymentStart(ctx context.Context, env, ref string) (string, error)
	DeploymentComplete(ctx context.Context, deploymentID string, ok bool, message string) error

	WikiPush(ctx context.Context, page, content string) error
}

// PRRef is a minimal open-PR reference.
type PRRef struct {
	Number int
	URL    string
}
