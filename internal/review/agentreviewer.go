package review

import (
	"context"
	"encoding/json"
	"fmt"

	"autoclaude/internal/agent"
	"autoclaude/internal/ghclient"
)

// AgentReviewer drives the AI review pass over a PR's current diff,
// grounded on the same agent.Client request/parse shape the C5 pipeline
// uses for its phases (one prompt in, one JSON envelope out).
type AgentReviewer struct {
	Client agent.Client
	Gh     *ghclient.Client
	Model  string
}

type reviewFindingEnvelope struct {
	Findings []struct {
		FilePath    string `json:"file_path"`
		Description string `json:"description"`
		Severity    string `json:"severity"`
	} `json:"findings"`
}

// Review fetches the PR diff and review comments, asks the agent for
// findings, and returns them with generated ids.
func (r *AgentReviewer) Review(ctx context.Context, s *State) ([]Finding, error) {
	diff, err := r.Gh.GetPullRequestDiff(ctx, s.PRNumber)
	if err != nil {
		return nil, fmt.Errorf("review: fetch diff: %w", err)
	}

	resp, err := r.Client.Run(ctx, agent.Request{
		Phase:  "pr_review",
		Model:  r.Model,
		Prompt: reviewPrompt(s, diff),
	})
	if err != nil {
		return nil, fmt.Errorf("review: agent call: %w", err)
	}

	var env reviewFindingEnvelope
	if err := json.Unmarshal([]byte(resp.Text), &env); err != nil {
		return nil, fmt.Errorf("review: parse findings: %w", err)
	}

	findings := make([]Finding, 0, len(env.Findings))
	for i, f := range env.Findings {
		findings = append(findings, Finding{
			ID:          fmt.Sprintf("%s-f%d", s.CorrelationID, i),
			FilePath:    f.FilePath,
			Description: f.Description,
			Severity:    f.Severity,
		})
	}
	return findings, nil
}

func reviewPrompt(s *State, diff string) string {
	return fmt.Sprintf(
		"Review this pull request diff for %s PR #%d and report concrete findings.\n"+
			"Respond as JSON: {\"findings\":[{\"file_path\":\"\",\"description\":\"\",\"severity\":\"low|medium|high|critical\"}]}\n"+
			"Report only real, actionable issues; an empty findings array means the PR is clean.\n\n%s",
		s.Repo, s.PRNumber, diff)
}

// AgentFixer applies a fix for one finding by asking the agent to edit the
// checked-out worktree, then committing the result.
type AgentFixer struct {
	Client agent.Client
	Model  string
	// WorkDir resolves the directory the agent/commit should run in for a
	// given review State — the task's worktree for autofix-originated PRs,
	// or the current checkout for a standalone `autoclaude review`. Must
	// be set.
	WorkDir func(s *State) string
	Commit  func(ctx context.Context, dir, message string) (string, error)
}

// Fix invokes the agent with its working directory set via WorkDir (the
// task's worktree, so edits land on the PR branch) and commits the result.
func (r *AgentFixer) Fix(ctx context.Context, s *State, f Finding) (AppliedFix, error) {
	dir := r.WorkDir(s)
	resp, err := r.Client.Run(ctx, agent.Request{
		Phase:  "pr_fix",
		Model:  r.Model,
		Prompt: fixPrompt(f),
		Dir:    dir,
	})
	if err != nil || resp.IsError {
		return AppliedFix{FindingID: f.ID, FilePath: f.FilePath, Description: f.Description, Success: false, Error: errString(err, resp)}, nil
	}

	sha, err := r.Commit(ctx, dir, fmt.Sprintf("fix: %s", f.Description))
	if err != nil {
		return AppliedFix{FindingID: f.ID, FilePath: f.FilePath, Description: f.Description, Success: false, Error: err.Error()}, nil
	}

	return AppliedFix{
		FindingID:   f.ID,
		FilePath:    f.FilePath,
		Description: f.Description,
		CommitSHA:   sha,
		Success:     true,
	}, nil
}

func fixPrompt(f Finding) string {
	return fmt.Sprintf("Fix the following review finding in %s:\n\n%s\n\nCommit your change when done.", f.FilePath, f.Description)
}

func errString(err error, resp agent.Response) string {
	if err != nil {
		return err.Error()
	}
	return resp.Text
}
