// Package github implements ports.Forge over google/go-github against the
// real GitHub REST API, authenticated via golang.org/x/oauth2.
package github

import (
	"context"
	"fmt"

	"github.com/google/go-github/v82/github"
	"golang.org/x/oauth2"

	"github.com/shipwrightrun/shipwright/internal/domain/run"
	"github.com/shipwrightrun/shipwright/internal/ports"
)

// Client implements ports.Forge against one owner/repo.
type Client struct {
	gh    *github.Client
	Owner string
	Repo  string
}

// New builds a Client authenticated with token.
func New(ctx context.Context, token, owner, repo string) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, ts)
	return &Client{gh: github.NewClient(httpClient), Owner: owner, Repo: repo}
}

func (c *Client) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return run.NewDomainError(run.ErrCodeInfra, "forge operation failed: "+op, err, map[string]interface{}{
		"owner": c.Owner, "repo": c.Repo,
	})
}

func (c *Client) GetIssueMeta(ctx context.Context, number int) (ports.IssueMeta, error) {
	issue, _, err := c.gh.Issues.Get(ctx, c.Owner, c.Repo, number)
	if err != nil {
		return ports.IssueMeta{}, c.wrap("get_issue_meta", err)
	}
	meta := ports.IssueMeta{Number: number, State: issue.GetState(), Comments: issue.GetComments()}
	meta.Title = issue.GetTitle()
	meta.Body = issue.GetBody()
	if issue.Milestone != nil {
		meta.Milestone = issue.Milestone.GetTitle()
	}
	for _, l := range issue.Labels {
		meta.Labels = append(meta.Labels, l.GetName())
	}
	for _, a := range issue.Assignees {
		meta.Assignees = append(meta.Assignees, a.GetLogin())
	}
	return meta, nil
}

func (c *Client) CommentIssue(ctx context.Context, number int, body string) error {
	_, _, err := c.gh.Issues.CreateComment(ctx, c.Owner, c.Repo, number, &github.IssueComment{Body: &body})
	return c.wrap("comment_issue", err)
}

func (c *Client) PostProgressComment(ctx context.Context, number int, body string) (string, error) {
	comment, _, err := c.gh.Issues.CreateComment(ctx, c.Owner, c.Repo, number, &github.IssueComment{Body: &body})
	if err != nil {
		return "", c.wrap("post_progress_comment", err)
	}
	return fmt.Sprintf("%d", comment.GetID()), nil
}

func (c *Client) UpdateComment(ctx context.Context, commentID string, body string) error {
	id, err := parseCommentID(commentID)
	if err != nil {
		return err
	}
	_, _, ghErr := c.gh.Issues.EditComment(ctx, c.Owner, c.Repo, id, &github.IssueComment{Body: &body})
	return c.wrap("update_comment", ghErr)
}

func (c *Client) AddLabels(ctx context.Context, number int, labels []string) error {
	_, _, err := c.gh.Issues.AddLabelsToIssue(ctx, c.Owner, c.Repo, number, labels)
	return c.wrap("add_labels", err)
}

func (c *Client) RemoveLabel(ctx context.Context, number int, label string) error {
	_, err := c.gh.Issues.RemoveLabelForIssue(ctx, c.Owner, c.Repo, number, label)
	return c.wrap("remove_label", err)
}

func (c *Client) AssignSelf(ctx context.Context, number int) error {
	user, _, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return c.wrap("assign_self:whoami", err)
	}
	_, _, err = c.gh.Issues.AddAssignees(ctx, c.Owner, c.Repo, number, []string{user.GetLogin()})
	return c.wrap("assign_self", err)
}

func (c *Client) CloseIssue(ctx context.Context, number int, comment string) error {
	if comment != "" {
		if err := c.CommentIssue(ctx, number, comment); err != nil {
			return err
		}
	}
	state := "closed"
	_, _, err := c.gh.Issues.Edit(ctx, c.Owner, c.Repo, number, &github.IssueRequest{State: &state})
	return c.wrap("close_issue", err)
}

func (c *Client) ListOpenPRsForBranch(ctx context.Context, branch string) ([]ports.PRRef, error) {
	opts := &github.PullRequestListOptions{Head: c.Owner + ":" + branch, State: "open"}
	prs, _, err := c.gh.PullRequests.List(ctx, c.Owner, c.Repo, opts)
	if err != nil {
		return nil, c.wrap("list_open_prs_for_branch", err)
	}
	out := make([]ports.PRRef, 0, len(prs))
	for _, pr := range prs {
		out = append(out, ports.PRRef{Number: pr.GetNumber(), URL: pr.GetHTMLURL()})
	}
	return out, nil
}

func (c *Client) CreatePR(ctx context.Context, title, body, base, head string, labels, reviewers []string, milestone string) (string, error) {
	newPR := &github.NewPullRequest{Title: &title, Body: &body, Base: &base, Head: &head}
	pr, _, err := c.gh.PullRequests.Create(ctx, c.Owner, c.Repo, newPR)
	if err != nil {
		return "", c.wrap("create_pr", err)
	}
	if len(labels) > 0 {
		_, _, _ = c.gh.Issues.AddLabelsToIssue(ctx, c.Owner, c.Repo, pr.GetNumber(), labels)
	}
	if len(reviewers) > 0 {
		_, _, _ = c.gh.PullRequests.RequestReviewers(ctx, c.Owner, c.Repo, pr.GetNumber(), github.ReviewersRequest{Reviewers: reviewers})
	}
	return pr.GetHTMLURL(), nil
}

func (c *Client) EditPR(ctx context.Context, number int, title, body string) error {
	_, _, err := c.gh.PullRequests.Edit(ctx, c.Owner, c.Repo, number, &github.PullRequest{Title: &title, Body: &body})
	return c.wrap("edit_pr", err)
}

func (c *Client) AddReviewer(ctx context.Context, number int, user string) error {
	_, _, err := c.gh.PullRequests.RequestReviewers(ctx, c.Owner, c.Repo, number, github.ReviewersRequest{Reviewers: []string{user}})
	return c.wrap("add_reviewer", err)
}

func (c *Client) ReviewApprove(ctx context.Context, number int) error {
	event := "APPROVE"
	_, _, err := c.gh.PullRequests.CreateReview(ctx, c.Owner, c.Repo, number, &github.PullRequestReviewRequest{Event: &event})
	return c.wrap("review_approve", err)
}

func (c *Client) MergePR(ctx context.Context, number int, strategy string, deleteBranch bool, auto bool) error {
	opts := &github.PullRequestOptions{MergeMethod: strategy}
	_, _, err := c.gh.PullRequests.Merge(ctx, c.Owner, c.Repo, number, "", opts)
	if err != nil {
		return c.wrap("merge_pr", err)
	}
	if deleteBranch {
		pr, _, prErr := c.gh.PullRequests.Get(ctx, c.Owner, c.Repo, number)
		if prErr == nil && pr.Head != nil {
			_, _ = c.gh.Git.DeleteRef(ctx, c.Owner, c.Repo, "heads/"+pr.Head.GetRef())
		}
	}
	return nil
}

func (c *Client) PRChecks(ctx context.Context, number int) ([]ports.PRCheck, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, c.Owner, c.Repo, number)
	if err != nil {
		return nil, c.wrap("pr_checks:get", err)
	}
	sha := pr.GetHead().GetSHA()
	runs, _, err := c.gh.Checks.ListCheckRunsForRef(ctx, c.Owner, c.Repo, sha, nil)
	if err != nil {
		return nil, c.wrap("pr_checks", err)
	}
	out := make([]ports.PRCheck, 0, len(runs.CheckRuns))
	for _, r := range runs.CheckRuns {
		bucket := "pending"
		switch r.GetStatus() {
		case "completed":
			if r.GetConclusion() == "success" {
				bucket = "pass"
			} else {
				bucket = "fail"
			}
		}
		out = append(out, ports.PRCheck{Name: r.GetName(), Bucket: bucket})
	}
	return out, nil
}

func (c *Client) CreateCheckRun(ctx context.Context, sha, name string) (string, error) {
	run, _, err := c.gh.Checks.CreateCheckRun(ctx, c.Owner, c.Repo, github.CreateCheckRunOptions{Name: name, HeadSHA: sha})
	if err != nil {
		return "", c.wrap("create_check_run", err)
	}
	return fmt.Sprintf("%d", run.GetID()), nil
}

func (c *Client) UpdateCheckRun(ctx context.Context, id, status, conclusion, summary string) error {
	checkID, err := parseCommentID(id)
	if err != nil {
		return err
	}
	opts := github.UpdateCheckRunOptions{Status: &status, Output: &github.CheckRunOutput{Title: github.Ptr(summary), Summary: &summary}}
	if conclusion != "" {
		opts.Conclusion = &conclusion
	}
	_, _, ghErr := c.gh.Checks.UpdateCheckRun(ctx, c.Owner, c.Repo, checkID, opts)
	return c.wrap("update_check_run", ghErr)
}

func (c *Client) BranchProtectionRules(ctx context.Context, repo, branch string) (ports.BranchProtection, error) {
	prot, _, err := c.gh.Repositories.GetBranchProtection(ctx, c.Owner, c.Repo, branch)
	if err != nil {
		return ports.BranchProtection{}, c.wrap("branch_protection", err)
	}
	required := 0
	var checks []string
	if prot.GetRequiredPullRequestReviews() != nil {
		required = prot.RequiredPullRequestReviews.RequiredApprovingReviewCount
	}
	if prot.RequiredStatusChecks != nil {
		checks = prot.RequiredStatusChecks.Contexts
	}
	return ports.BranchProtection{Protected: true, RequiredReviews: required, RequiredChecks: checks}, nil
}

func (c *Client) Codeowners(ctx context.Context, repo string) ([]string, error) {
	content, _, _, err := c.gh.Repositories.GetContents(ctx, c.Owner, c.Repo, "CODEOWNERS", nil)
	if err != nil {
		return nil, nil // absence is tolerated, not an error (spec.md §4.10.7 reviewer selection fallback)
	}
	raw, err := content.GetContent()
	if err != nil {
		return nil, c.wrap("codeowners", err)
	}
	return []string{raw}, nil
}

func (c *Client) Contributors(ctx context.Context, repo string) ([]ports.Contributor, error) {
	users, _, err := c.gh.Repositories.ListContributors(ctx, c.Owner, c.Repo, nil)
	if err != nil {
		return nil, c.wrap("contributors", err)
	}
	out := make([]ports.Contributor, 0, len(users))
	for _, u := range users {
		out = append(out, ports.Contributor{Login: u.GetLogin(), Commits: u.GetContributions()})
	}
	return out, nil
}

func (c *Client) DeploymentStart(ctx context.Context, env, ref string) (string, error) {
	dep, _, err := c.gh.Repositories.CreateDeployment(ctx, c.Owner, c.Repo, &github.DeploymentRequest{Ref: &ref, Environment: &env})
	if err != nil {
		return "", c.wrap("deployment_start", err)
	}
	return fmt.Sprintf("%d", dep.GetID()), nil
}

func (c *Client) DeploymentComplete(ctx context.Context, deploymentID string, ok bool, message string) error {
	id, err := parseCommentID(deploymentID)
	if err != nil {
		return err
	}
	state := "success"
	if !ok {
		state = "failure"
	}
	_, _, ghErr := c.gh.Repositories.CreateDeploymentStatus(ctx, c.Owner, c.Repo, int64(id), &github.DeploymentStatusRequest{
		State: &state, Description: &message,
	})
	return c.wrap("deployment_complete", ghErr)
}

func (c *Client) WikiPush(ctx context.Context, page, content string) error {
	// go-github has no wiki API; wiki pages are a separate git repository
	// (<repo>.wiki.git) pushed to via internal/agent's git layer instead.
	return run.NewDomainError(run.ErrCodeInfra, "wiki_push is not supported by the REST API adapter", nil, map[string]interface{}{"page": page})
}

func parseCommentID(s string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(s, "%d", &id)
	if err != nil {
		return 0, run.NewValidationError("invalid forge id", map[string]interface{}{"id": s})
	}
	return id, nil
}

var _ ports.Forge = (*Client)(nil)
