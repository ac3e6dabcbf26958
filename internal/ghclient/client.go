// Package ghclient wraps the host VCS provider (GitHub) behind the narrow
// surface the coordination core actually needs: PR metadata, check runs,
// comments, and push/PR-create operations. It is the one place go-github is
// imported; every other package talks to the small interfaces defined here,
// which keeps the provider swappable and the retryable-error classification
// (IsRetryable) in one spot. The client itself neither caches nor retries.
package ghclient

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/go-github/v58/github"
	"golang.org/x/oauth2"
)

// Client is a thin wrapper around the go-github REST client scoped
// to one owner/repo pair.
type Client struct {
	api   *github.Client
	owner string
	repo  string
}

// New builds a Client authenticated with token (usually sourced from
// GITHUB_TOKEN or a secret-storage integration the core treats as opaque).
func New(ctx context.Context, token, owner, repo string) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	return &Client{api: github.NewClient(tc), owner: owner, repo: repo}
}

// NewFromEnv reads GITHUB_TOKEN from the environment; it is the default
// construction path for the CLI entry point.
func NewFromEnv(ctx context.Context, owner, repo string) (*Client, error) {
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("ghclient: GITHUB_TOKEN is not set")
	}
	return New(ctx, token, owner, repo), nil
}

// Owner and Repo expose the scoped coordinates for components (worktree,
// review state) that key persistence by (repo, ...).
func (c *Client) Owner() string { return c.owner }
func (c *Client) Repo() string  { return c.repo }
func (c *Client) FullName() string {
	return fmt.Sprintf("%s/%s", c.owner, c.repo)
}

// CurrentUser returns the login of the token's identity, used by the bot
// detector to learn its own identity once at startup.
func (c *Client) CurrentUser(ctx context.Context) (string, error) {
	user, _, err := c.api.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("ghclient: get current user: %w", err)
	}
	return user.GetLogin(), nil
}

// PRInfo is the subset of pull-request metadata the core reasons about.
type PRInfo struct {
	Number       int
	Title        string
	Author       string
	State        string
	Merged       bool
	HeadSHA      string
	HeadRef      string
	BaseRef      string
	LastCommitBy string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GetPR fetches current metadata for a pull request, including the author
// of its most recent commit (needed by the bot detector).
func (c *Client) GetPR(ctx context.Context, number int) (*PRInfo, error) {
	pr, _, err := c.api.PullRequests.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		return nil, fmt.Errorf("ghclient: get PR #%d: %w", number, err)
	}

	info := &PRInfo{
		Number:    pr.GetNumber(),
		Title:     pr.GetTitle(),
		Author:    pr.GetUser().GetLogin(),
		State:     pr.GetState(),
		Merged:    pr.GetMerged(),
		HeadSHA:   pr.GetHead().GetSHA(),
		HeadRef:   pr.GetHead().GetRef(),
		BaseRef:   pr.GetBase().GetRef(),
		CreatedAt: pr.GetCreatedAt().Time,
		UpdatedAt: pr.GetUpdatedAt().Time,
	}

	// The head commit is the PR's most recent one.
	last, _, err := c.api.Repositories.GetCommit(ctx, c.owner, c.repo, info.HeadSHA, nil)
	if err == nil && last != nil {
		info.LastCommitBy = last.GetCommit().GetAuthor().GetLogin()
		if info.LastCommitBy == "" {
			info.LastCommitBy = last.GetAuthor().GetLogin()
		}
	}

	return info, nil
}

// CheckRun is a normalized view over GitHub's two overlapping check APIs
// (Checks API `conclusion`/`status`, legacy Commit Status API `state`).
type CheckRun struct {
	Name       string
	Conclusion string // success, failure, neutral, cancelled, timed_out, action_required, skipped, ""
	Status     string // queued, in_progress, completed, ""
	State      string // legacy status-API state: success, failure, error, pending, ""
}

// ListChecks returns both check-runs and legacy commit statuses for the
// given ref, since GitHub Actions and third-party CI sometimes use either.
func (c *Client) ListChecks(ctx context.Context, ref string) ([]CheckRun, error) {
	var out []CheckRun

	runs, _, err := c.api.Checks.ListCheckRunsForRef(ctx, c.owner, c.repo, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("ghclient: list check runs: %w", err)
	}
	if runs != nil {
		for _, r := range runs.CheckRuns {
			out = append(out, CheckRun{
				Name:       r.GetName(),
				Conclusion: r.GetConclusion(),
				Status:     r.GetStatus(),
			})
		}
	}

	statuses, _, err := c.api.Repositories.ListStatuses(ctx, c.owner, c.repo, ref, nil)
	if err != nil {
		return out, fmt.Errorf("ghclient: list statuses: %w", err)
	}
	for _, s := range statuses {
		out = append(out, CheckRun{
			Name:  s.GetContext(),
			State: s.GetState(),
		})
	}

	return out, nil
}

// IssueComment is a normalized comment on an issue or PR timeline.
type IssueComment struct {
	ID        int64
	Author    string
	Body      string
	CreatedAt time.Time
}

// ListIssueComments returns comments on the given issue/PR number, newest
// last — used both by the check waiter (bot-comment detection) and the
// override manager (slash-command parsing).
func (c *Client) ListIssueComments(ctx context.Context, number int) ([]IssueComment, error) {
	comments, _, err := c.api.Issues.ListComments(ctx, c.owner, c.repo, number, &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, fmt.Errorf("ghclient: list comments on #%d: %w", number, err)
	}
	out := make([]IssueComment, 0, len(comments))
	for _, cm := range comments {
		out = append(out, IssueComment{
			ID:        cm.GetID(),
			Author:    cm.GetUser().GetLogin(),
			Body:      cm.GetBody(),
			CreatedAt: cm.GetCreatedAt().Time,
		})
	}
	return out, nil
}

// GetPullRequestDiff fetches the unified diff for a pull request, used by
// the review orchestrator's AI review pass.
func (c *Client) GetPullRequestDiff(ctx context.Context, number int) (string, error) {
	diff, _, err := c.api.PullRequests.GetRaw(ctx, c.owner, c.repo, number, github.RawOptions{Type: github.Diff})
	if err != nil {
		return "", fmt.Errorf("ghclient: get diff for PR #%d: %w", number, err)
	}
	return diff, nil
}

// CreatePR opens a pull request from head into base.
func (c *Client) CreatePR(ctx context.Context, title, head, base, body string, draft bool) (*PRInfo, error) {
	pr, _, err := c.api.PullRequests.Create(ctx, c.owner, c.repo, &github.NewPullRequest{
		Title: &title,
		Head:  &head,
		Base:  &base,
		Body:  &body,
		Draft: &draft,
	})
	if err != nil {
		return nil, fmt.Errorf("ghclient: create PR: %w", err)
	}
	return &PRInfo{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		HeadRef: pr.GetHead().GetRef(),
		BaseRef: pr.GetBase().GetRef(),
		State:   pr.GetState(),
	}, nil
}

// ListOpenIssues lists open issues with the given labels (empty means all),
// used by the batching engine's candidate pool.
func (c *Client) ListOpenIssues(ctx context.Context, labels []string) ([]*github.Issue, error) {
	issues, _, err := c.api.Issues.ListByRepo(ctx, c.owner, c.repo, &github.IssueListByRepoOptions{
		State:       "open",
		Labels:      labels,
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, fmt.Errorf("ghclient: list open issues: %w", err)
	}
	// Exclude pull requests, which the Issues API also returns.
	filtered := issues[:0]
	for _, iss := range issues {
		if iss.IsPullRequest() {
			continue
		}
		filtered = append(filtered, iss)
	}
	return filtered, nil
}

// IsRetryable reports whether err looks like a transient network/5xx
// failure worth retrying, vs. an auth/4xx failure that should surface
// immediately. Mirrors the error-kind taxonomy of the error-handling design.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if rateErr, ok := err.(*github.RateLimitError); ok {
		_ = rateErr
		return true
	}
	if abuseErr, ok := err.(*github.AbuseRateLimitError); ok {
		_ = abuseErr
		return true
	}
	if ghErr, ok := err.(*github.ErrorResponse); ok {
		code := ghErr.Response.StatusCode
		if code == 408 || code == 429 || code >= 500 {
			return true
		}
		return false
	}
	// Unrecognized errors (network timeouts, DNS failures) are treated as
	// retryable by default; explicit 4xx classification above is the
	// carve-out for non-retryable cases.
	return true
}
