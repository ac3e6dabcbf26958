package autofix

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"autoclaude/internal/agent"
	"autoclaude/internal/audit"
	"autoclaude/internal/ghclient"
	"autoclaude/internal/pipeline"
)

// runSpecPipeline synthesizes a task from the issue (or batch) and invokes
// the full C5 pipeline against it, returning the spec directory and the
// RunContext the build step needs (implementation plan, requirements).
func (r *Runner) runSpecPipeline(ctx context.Context, trigger Trigger) (string, *pipeline.RunContext, error) {
	specDir := filepath.Join(r.deps.ProjectDir, ".auto-claude", "specs", trigger.Slug)
	rc := pipeline.NewRunContext(specDir, r.deps.ProjectDir, trigger.Slug)
	rc.Agent = r.deps.BuildAgent
	rc.Model = r.deps.BuildModel
	rc.Requirements = pipeline.Requirements{
		TaskDescription: fmt.Sprintf("Resolve issue #%d: %s\n\n%s", trigger.Issue, trigger.IssueTitle, trigger.IssueBody),
		CreatedAt:       time.Now().UTC(),
	}

	assessment := pipeline.HeuristicAssess(rc.Requirements, 1)
	order := phasesForAssessment(assessment)

	res := r.deps.Pipeline.Run(ctx, rc, order)
	if res.Err != nil {
		return "", nil, res.Err
	}
	return specDir, rc, nil
}

func phasesForAssessment(a pipeline.ComplexityAssessment) []string {
	if a.Complexity == pipeline.TierSimple {
		return []string{pipeline.PhaseDiscovery, pipeline.PhaseHistoricalContext, pipeline.PhaseQuickSpec, pipeline.PhaseValidation}
	}
	phases := []string{pipeline.PhaseDiscovery, pipeline.PhaseHistoricalContext, pipeline.PhaseRequirements, pipeline.PhaseComplexityAssessment}
	if a.NeedsResearch {
		phases = append(phases, pipeline.PhaseResearch)
	}
	phases = append(phases, pipeline.PhaseContext, pipeline.PhaseSpecWriting)
	if a.NeedsSelfCritique {
		phases = append(phases, pipeline.PhaseSelfCritique)
	}
	phases = append(phases, pipeline.PhasePlanning, pipeline.PhaseValidation)
	return phases
}

// approvePlan either auto-approves the spec directory (bypass, audited) or
// leaves it pending a human "/approve" comment command — in which case the
// caller's comment-handling loop is expected to call pipeline.Approve
// itself once that arrives. This function only handles the auto-approve
// path; RequireApproval enforces the gate either way.
func (r *Runner) approvePlan(specDir string) error {
	if !r.deps.AutoApprovePlan {
		return nil
	}
	approval, err := pipeline.Approve(specDir, "autofix-auto-approve")
	if err != nil {
		return err
	}
	approval.Bypassed = true
	if r.deps.Audit != nil {
		r.deps.Audit.StartOperation("autofix_auto_approve", audit.ActorAutomation).Finish(audit.ResultSuccess, "")
	}
	return nil
}

// buildInWorktree creates (or reuses) the task's worktree and invokes the
// external build agent with its working directory set to the worktree, so
// the agent's file edits land on the task branch.
func (r *Runner) buildInWorktree(ctx context.Context, trigger Trigger, rc *pipeline.RunContext) error {
	if err := pipeline.RequireApproval(rc.SpecDir, r.deps.AutoApprovePlan); err != nil {
		return err
	}

	info, err := r.deps.Worktrees.GetOrCreateWorktree(ctx, trigger.Slug)
	if err != nil {
		return fmt.Errorf("autofix: create worktree: %w", err)
	}

	var plan pipeline.ImplementationPlan
	if err := pipeline.ReadImplementationPlan(rc.SpecDir, &plan); err != nil {
		return err
	}

	resp, err := r.deps.BuildAgent.Run(ctx, agent.Request{
		Phase:  "autofix_build",
		Model:  r.deps.BuildModel,
		Prompt: buildPrompt(plan),
		Dir:    info.Path,
	})
	if err != nil {
		return fmt.Errorf("autofix: build agent: %w", err)
	}
	if resp.IsError {
		return fmt.Errorf("autofix: build agent reported an error: %s", resp.Text)
	}
	return nil
}

func buildPrompt(plan pipeline.ImplementationPlan) string {
	return fmt.Sprintf("Implement the following plan in this working directory, committing as you go:\n\n%+v", plan)
}

// pushAndOpenPR pushes the task branch and opens a PR targeting the
// configured target branch.
func (r *Runner) pushAndOpenPR(ctx context.Context, trigger Trigger, rc *pipeline.RunContext) (*ghclient.PRInfo, error) {
	if err := r.deps.Worktrees.PushBranch(ctx, trigger.Slug, false); err != nil {
		return nil, fmt.Errorf("autofix: push: %w", err)
	}

	title := fmt.Sprintf("Fix #%d: %s", trigger.Issue, trigger.IssueTitle)
	body := fmt.Sprintf("Resolves #%d.\n\nGenerated by the autofix pipeline from spec %s.", trigger.Issue, trigger.Slug)

	info, err := r.deps.Worktrees.CreatePullRequest(ctx, trigger.Slug, r.deps.TargetBranch, title, body, false)
	if err != nil {
		return nil, fmt.Errorf("autofix: open PR: %w", err)
	}
	return info, nil
}

