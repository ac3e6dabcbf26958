// Package autofix wires together the grace period (C8), the spec pipeline
// (C5), the worktree manager (C3/C6), and the PR review orchestrator (C12)
// into the end-to-end issue-to-PR flow described in §4.14: an issue trigger
// starts a grace period, then on expiry without cancellation runs a spec,
// builds it in a worktree, opens a PR, and starts review — which never
// merges.
package autofix

import (
	"context"
	"fmt"
	"time"

	"autoclaude/internal/agent"
	"autoclaude/internal/audit"
	"autoclaude/internal/override"
	"autoclaude/internal/pipeline"
	"autoclaude/internal/review"
	"autoclaude/internal/worktree"
)

// Trigger describes the issue-trigger event that starts the flow: a label
// added, a manual kick, or a batch commitment.
type Trigger struct {
	Repo         string
	Issue        int
	IssueTitle   string
	IssueBody    string
	TriggerLabel string
	Actor        string
	Slug         string // kebab-case slug for the spec/worktree/branch
}

// Deps bundles the Runner's collaborators.
type Deps struct {
	Overrides  *override.Manager
	Pipeline   *pipeline.Pipeline
	Worktrees  *worktree.Manager
	Reviewer   *review.Orchestrator
	Audit      *audit.Logger
	BuildAgent agent.Client
	BuildModel string

	// GraceWindow overrides override.DefaultGraceWindow when non-zero.
	GraceWindow time.Duration
	// AutoApprovePlan bypasses the human-review checkpoint (§4.5.4),
	// recording the bypass as an audit event, rather than gating on a
	// "/approve" comment.
	AutoApprovePlan bool
	// PollInterval governs how often the grace-period wait checks for
	// cancellation.
	PollInterval time.Duration
	// TargetBranch is the PR's base branch.
	TargetBranch string
	// ProjectDir is the main repository checkout the spec directory is
	// created under; defaults to "." if empty.
	ProjectDir string
}

// Runner drives one issue trigger through the full autofix pipeline.
type Runner struct {
	deps Deps
}

// New returns a Runner.
func New(d Deps) *Runner {
	if d.PollInterval <= 0 {
		d.PollInterval = 5 * time.Second
	}
	if d.TargetBranch == "" {
		d.TargetBranch = "main"
	}
	if d.ProjectDir == "" {
		d.ProjectDir = "."
	}
	return &Runner{deps: d}
}

// Result summarizes the outcome of one Run call.
type Result struct {
	Cancelled bool
	PRNumber  int
	PRURL     string
}

// Run executes the six steps of §4.14 for trigger, in order. An error from
// any step aborts the flow; the caller is responsible for surfacing it
// (e.g. as an issue comment).
func (r *Runner) Run(ctx context.Context, trigger Trigger) (*Result, error) {
	op := r.startAudit("autofix_run", trigger)
	finished := false
	defer func() {
		if op != nil && !finished {
			op.Finish(audit.ResultSuccess, "")
		}
	}()

	cancelled, err := r.waitGracePeriod(ctx, trigger)
	if err != nil {
		finished = true
		r.finishAuditErr(op, err)
		return nil, err
	}
	if cancelled {
		return &Result{Cancelled: true}, nil
	}

	specDir, rc, err := r.runSpecPipeline(ctx, trigger)
	if err != nil {
		finished = true
		r.finishAuditErr(op, err)
		return nil, fmt.Errorf("autofix: spec pipeline: %w", err)
	}

	if err := r.approvePlan(specDir); err != nil {
		finished = true
		r.finishAuditErr(op, err)
		return nil, fmt.Errorf("autofix: approval: %w", err)
	}

	if err := r.buildInWorktree(ctx, trigger, rc); err != nil {
		finished = true
		r.finishAuditErr(op, err)
		return nil, fmt.Errorf("autofix: build: %w", err)
	}

	prInfo, err := r.pushAndOpenPR(ctx, trigger, rc)
	if err != nil {
		finished = true
		r.finishAuditErr(op, err)
		return nil, fmt.Errorf("autofix: push/PR: %w", err)
	}

	if r.deps.Reviewer != nil {
		if _, err := r.deps.Reviewer.Start(prInfo.Number, trigger.Repo, prInfo.URL, worktree.BranchName(trigger.Slug), "autofix", nil); err != nil {
			finished = true
			r.finishAuditErr(op, err)
			return nil, fmt.Errorf("autofix: start review: %w", err)
		}
	}

	return &Result{PRNumber: prInfo.Number, PRURL: prInfo.URL}, nil
}

func (r *Runner) startAudit(action string, trigger Trigger) *audit.Operation {
	if r.deps.Audit == nil {
		return nil
	}
	return r.deps.Audit.StartOperation(action, audit.ActorAutomation).
		WithRepo(trigger.Repo).WithIssue(trigger.Issue)
}

func (r *Runner) finishAuditErr(op *audit.Operation, err error) {
	if op != nil {
		op.Finish(audit.ResultFailure, err.Error())
	}
}

// waitGracePeriod starts the grace period and polls until it expires or is
// cancelled (§4.8). Returns true if cancelled.
func (r *Runner) waitGracePeriod(ctx context.Context, trigger Trigger) (bool, error) {
	if _, err := r.deps.Overrides.StartGracePeriod(trigger.Issue, trigger.TriggerLabel, trigger.Actor, r.deps.GraceWindow); err != nil {
		return false, fmt.Errorf("autofix: start grace period: %w", err)
	}

	ticker := time.NewTicker(r.deps.PollInterval)
	defer ticker.Stop()

	for {
		entry, err := r.deps.Overrides.GetGracePeriod(trigger.Issue)
		if err != nil {
			return false, fmt.Errorf("autofix: check grace period: %w", err)
		}
		if entry == nil {
			return true, nil
		}
		if !entry.Valid(time.Now().UTC()) {
			return entry.Cancelled, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}
