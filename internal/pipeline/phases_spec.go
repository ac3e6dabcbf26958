package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"autoclaude/internal/agent"
	"autoclaude/internal/lock"
)

// SpecWritingPhase authors spec.md, honoring the required sections.
type SpecWritingPhase struct{}

func (SpecWritingPhase) Name() string { return PhaseSpecWriting }

func (SpecWritingPhase) Run(ctx context.Context, rc *RunContext) error {
	resp, err := rc.Agent.Run(ctx, agent.Request{
		Phase: PhaseSpecWriting,
		Model: rc.Model,
		Prompt: fmt.Sprintf(
			"Write spec.md for task %q with required sections '## Overview', '## Architecture', and '## Implementation'. "+
				"Prior phase context:\n%s",
			rc.Requirements.TaskDescription, rc.CompactionBlock(specWritingInputOrder),
		),
	})
	if err != nil {
		return fmt.Errorf("pipeline: spec_writing: %w", err)
	}
	return lock.AtomicWrite(filepath.Join(rc.SpecDir, "spec.md"), []byte(resp.Text), 0o644)
}

func (SpecWritingPhase) ValidateOutputs(specDir string) error {
	if err := requireArtifacts(specDir, PhaseSpecWriting); err != nil {
		return err
	}
	return validateSpecSections(specDir)
}

var specWritingInputOrder = []string{
	PhaseDiscovery, PhaseHistoricalContext, PhaseRequirements,
	PhaseComplexityAssessment, PhaseResearch, PhaseContext,
}

// SelfCritiquePhase deeply reviews and edits the already-written spec,
// recording what it found and fixed.
type SelfCritiquePhase struct{}

func (SelfCritiquePhase) Name() string { return PhaseSelfCritique }

type critiqueVerdict struct {
	IssuesFound    []string `json:"issues_found"`
	IssuesFixed    []string `json:"issues_fixed"`
	RevisedSpec    string   `json:"revised_spec,omitempty"`
	CritiqueSummary string  `json:"critique_summary"`
}

func (SelfCritiquePhase) Run(ctx context.Context, rc *RunContext) error {
	specPath := filepath.Join(rc.SpecDir, "spec.md")
	specText, err := os.ReadFile(specPath)
	if err != nil {
		return fmt.Errorf("pipeline: self_critique: read spec.md: %w", err)
	}

	resp, err := rc.Agent.Run(ctx, agent.Request{
		Phase: PhaseSelfCritique,
		Model: rc.Model,
		Prompt: fmt.Sprintf(
			"Critique this spec for gaps, ambiguity, and missing edge cases. If you fix issues, include the full revised spec under \"revised_spec\". "+
				"Emit JSON {issues_found, issues_fixed, revised_spec?, critique_summary}.\n\n%s",
			specText,
		),
	})
	if err != nil {
		return fmt.Errorf("pipeline: self_critique: %w", err)
	}

	var verdict critiqueVerdict
	if jsonErr := json.Unmarshal([]byte(resp.Text), &verdict); jsonErr != nil {
		verdict = critiqueVerdict{CritiqueSummary: resp.Text}
	}
	if verdict.RevisedSpec != "" {
		if err := lock.AtomicWrite(specPath, []byte(verdict.RevisedSpec), 0o644); err != nil {
			return fmt.Errorf("pipeline: self_critique: write revised spec: %w", err)
		}
	}

	return writeJSONArtifact(rc.SpecDir, "critique_report.json", CritiqueRecord{
		IssuesFound:     verdict.IssuesFound,
		IssuesFixed:     verdict.IssuesFixed,
		NoIssuesFound:   len(verdict.IssuesFound) == 0,
		CritiqueSummary: verdict.CritiqueSummary,
		CreatedAt:       time.Now().UTC(),
	})
}

func (SelfCritiquePhase) ValidateOutputs(specDir string) error {
	if err := requireArtifacts(specDir, PhaseSelfCritique); err != nil {
		return err
	}
	return validateSpecSections(specDir)
}

// PlanningPhase produces the ordered implementation plan.
type PlanningPhase struct{}

func (PlanningPhase) Name() string { return PhasePlanning }

func (PlanningPhase) Run(ctx context.Context, rc *RunContext) error {
	resp, err := rc.Agent.Run(ctx, agent.Request{
		Phase: PhasePlanning,
		Model: rc.Model,
		Prompt: fmt.Sprintf(
			"Produce an implementation plan for spec %q as JSON matching ImplementationPlan "+
				"(spec_name, workflow_type, total_phases, recommended_workers, phases[{id, name, description, depends_on, subtasks[{id, description, service, status, files_to_create, files_to_modify, patterns_from, verification{type, run, url, scenario}}]}]).",
			rc.SpecName,
		),
	})
	if err != nil {
		return fmt.Errorf("pipeline: planning: %w", err)
	}

	var plan ImplementationPlan
	if jsonErr := json.Unmarshal([]byte(resp.Text), &plan); jsonErr != nil {
		plan = synthesizeMinimalPlan(rc)
	}
	plan.SpecName = rc.SpecName
	plan.TotalPhases = len(plan.Phases)
	plan.Metadata.CreatedAt = time.Now().UTC()
	plan.Metadata.Complexity = rc.Complexity.Complexity

	return writeJSONArtifact(rc.SpecDir, "implementation_plan.json", plan)
}

func (PlanningPhase) ValidateOutputs(specDir string) error {
	if err := requireArtifacts(specDir, PhasePlanning); err != nil {
		return err
	}
	var plan ImplementationPlan
	if err := readJSONArtifact(specDir, "implementation_plan.json", &plan); err != nil {
		return err
	}
	if len(plan.Phases) == 0 {
		return fmt.Errorf("pipeline: implementation_plan.json has no phases")
	}
	return nil
}

// synthesizeMinimalPlan builds a one-phase, one-subtask plan when the agent
// didn't emit a parseable plan — used by both PlanningPhase's fallback and
// QuickSpecPhase's spec.md §4.5.3 contract.
func synthesizeMinimalPlan(rc *RunContext) ImplementationPlan {
	kind := rc.Requirements.WorkflowKind
	if kind == "" {
		kind = WorkflowFeature
	}
	return ImplementationPlan{
		SpecName:           rc.SpecName,
		WorkflowKind:       kind,
		RecommendedWorkers: 1,
		Phases: []PlanPhase{
			{
				ID:   1,
				Name: "implement",
				Subtasks: []Subtask{
					{
						ID:           "1",
						Description:  rc.Requirements.TaskDescription,
						Status:       SubtaskPending,
						Verification: VerificationBlock{Type: "manual"},
					},
				},
			},
		},
	}
}

// QuickSpecPhase is the simple-tier combined agent call: one invocation
// writes both spec.md and a minimal implementation plan. If the agent only
// produced the spec, a synthetic minimal plan is created (spec.md §4.5.3).
type QuickSpecPhase struct{}

func (QuickSpecPhase) Name() string { return PhaseQuickSpec }

type quickSpecResponse struct {
	SpecMarkdown string               `json:"spec_markdown"`
	Plan         *ImplementationPlan  `json:"implementation_plan,omitempty"`
}

func (QuickSpecPhase) Run(ctx context.Context, rc *RunContext) error {
	resp, err := rc.Agent.Run(ctx, agent.Request{
		Phase: PhaseQuickSpec,
		Model: rc.Model,
		Prompt: fmt.Sprintf(
			"This is a simple task: %q. Emit JSON {spec_markdown, implementation_plan?} where spec_markdown has "+
				"'## Overview', '## Architecture', '## Implementation' sections and implementation_plan (if included) is a minimal one-phase, one-subtask plan.",
			rc.Requirements.TaskDescription,
		),
	})
	if err != nil {
		return fmt.Errorf("pipeline: quick_spec: %w", err)
	}

	var qr quickSpecResponse
	if jsonErr := json.Unmarshal([]byte(resp.Text), &qr); jsonErr != nil || qr.SpecMarkdown == "" {
		return fmt.Errorf("pipeline: quick_spec: agent did not return spec_markdown")
	}

	if err := lock.AtomicWrite(filepath.Join(rc.SpecDir, "spec.md"), []byte(qr.SpecMarkdown), 0o644); err != nil {
		return fmt.Errorf("pipeline: quick_spec: write spec.md: %w", err)
	}

	plan := qr.Plan
	if plan == nil {
		synthesized := synthesizeMinimalPlan(rc)
		plan = &synthesized
	}
	plan.SpecName = rc.SpecName
	plan.TotalPhases = len(plan.Phases)
	plan.Metadata.CreatedAt = time.Now().UTC()
	plan.Metadata.Complexity = rc.Complexity.Complexity

	return writeJSONArtifact(rc.SpecDir, "implementation_plan.json", plan)
}

func (QuickSpecPhase) ValidateOutputs(specDir string) error {
	if err := requireArtifacts(specDir, PhaseQuickSpec); err != nil {
		return err
	}
	return validateSpecSections(specDir)
}
