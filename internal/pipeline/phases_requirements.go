package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"autoclaude/internal/agent"
)

// RequirementsPhase elicits or synthesizes structured requirements from the
// task description already present on rc (set by the caller before the run
// starts — the task description is the pipeline's one required input).
type RequirementsPhase struct{}

func (RequirementsPhase) Name() string { return PhaseRequirements }

type requirementsVerdict struct {
	WorkflowKind string   `json:"workflow_kind"`
	Services     []string `json:"services"`
	Context      string   `json:"context"`
}

func (RequirementsPhase) Run(ctx context.Context, rc *RunContext) error {
	resp, err := rc.Agent.Run(ctx, agent.Request{
		Phase: PhaseRequirements,
		Model: rc.Model,
		Prompt: fmt.Sprintf(
			"Given the task description %q, emit JSON {workflow_kind: feature|bugfix|refactor|docs|test, services: [...], context: \"...\"}.",
			rc.Requirements.TaskDescription,
		),
	})
	if err != nil {
		return fmt.Errorf("pipeline: requirements: %w", err)
	}

	var verdict requirementsVerdict
	if jsonErr := json.Unmarshal([]byte(resp.Text), &verdict); jsonErr != nil {
		// Fall back to a minimal synthesized record rather than aborting —
		// the task description alone is enough to proceed.
		verdict = requirementsVerdict{WorkflowKind: string(WorkflowFeature)}
	}

	rc.Requirements.WorkflowKind = WorkflowKind(verdict.WorkflowKind)
	rc.Requirements.Services = verdict.Services
	if verdict.Context != "" {
		rc.Requirements.Context = verdict.Context
	}
	rc.Requirements.CreatedAt = time.Now().UTC()

	return writeJSONArtifact(rc.SpecDir, "requirements.json", rc.Requirements)
}

func (RequirementsPhase) ValidateOutputs(specDir string) error {
	if err := requireArtifacts(specDir, PhaseRequirements); err != nil {
		return err
	}
	var r Requirements
	if err := readJSONArtifact(specDir, "requirements.json", &r); err != nil {
		return err
	}
	if r.TaskDescription == "" {
		return fmt.Errorf("pipeline: requirements.json missing task_description")
	}
	return nil
}

// ComplexityAssessmentPhase runs the AI classifier (preferred) and falls
// back to HeuristicAssess on failure or malformed output, per spec.md
// §4.5.1.
type ComplexityAssessmentPhase struct {
	// EstimatedFiles seeds the heuristic path's file-count signal; the AI
	// path ignores it and reports its own estimate.
	EstimatedFiles int
}

func (ComplexityAssessmentPhase) Name() string { return PhaseComplexityAssessment }

func (p ComplexityAssessmentPhase) Run(ctx context.Context, rc *RunContext) error {
	assessment, err := p.assess(ctx, rc)
	if err != nil {
		return err
	}
	rc.Complexity = assessment
	return writeJSONArtifact(rc.SpecDir, "complexity_assessment.json", assessment)
}

func (p ComplexityAssessmentPhase) assess(ctx context.Context, rc *RunContext) (ComplexityAssessment, error) {
	resp, err := rc.Agent.Run(ctx, agent.Request{
		Phase: PhaseComplexityAssessment,
		Model: rc.Model,
		Prompt: fmt.Sprintf(
			"Classify the complexity of this task as simple|standard|complex. Task: %q. Project index and requirements are available as prior phase context. "+
				"Emit JSON {complexity, confidence, reasoning, signals, estimated_files, estimated_services, external_integrations, infrastructure_changes, recommended_phases, needs_research, needs_self_critique}.",
			rc.Requirements.TaskDescription,
		),
	})
	if err == nil {
		if assessment, parseErr := parseAIComplexity(resp.Text); parseErr == nil {
			return assessment, nil
		}
	}
	return HeuristicAssess(rc.Requirements, p.EstimatedFiles), nil
}

func (ComplexityAssessmentPhase) ValidateOutputs(specDir string) error {
	if err := requireArtifacts(specDir, PhaseComplexityAssessment); err != nil {
		return err
	}
	var a ComplexityAssessment
	if err := readJSONArtifact(specDir, "complexity_assessment.json", &a); err != nil {
		return err
	}
	switch a.Complexity {
	case TierSimple, TierStandard, TierComplex:
		return nil
	default:
		return fmt.Errorf("pipeline: complexity_assessment.json has invalid tier %q", a.Complexity)
	}
}

// ResearchPhase validates external dependencies named in requirements or
// complexity signals (names, APIs, gotchas).
type ResearchPhase struct{}

func (ResearchPhase) Name() string { return PhaseResearch }

func (ResearchPhase) Run(ctx context.Context, rc *RunContext) error {
	if len(rc.Complexity.ExternalIntegrations) == 0 {
		return writeJSONArtifact(rc.SpecDir, "research.json", ResearchRecord{
			ResearchSkipped: true,
			Reason:          "no external integrations flagged by complexity assessment",
			CreatedAt:       time.Now().UTC(),
		})
	}

	resp, err := rc.Agent.Run(ctx, agent.Request{
		Phase: PhaseResearch,
		Model: rc.Model,
		Prompt: fmt.Sprintf(
			"Research these external integrations for correctness and gotchas, one bullet per integration: %v",
			rc.Complexity.ExternalIntegrations,
		),
	})
	if err != nil {
		return fmt.Errorf("pipeline: research: %w", err)
	}
	return writeJSONArtifact(rc.SpecDir, "research.json", ResearchRecord{
		IntegrationsResearched: rc.Complexity.ExternalIntegrations,
		Reason:                 resp.Text,
		CreatedAt:              time.Now().UTC(),
	})
}

func (ResearchPhase) ValidateOutputs(specDir string) error {
	return requireArtifacts(specDir, PhaseResearch)
}

// ContextPhase locates files-to-modify and files-to-reference, scoped to
// the services the task touches.
type ContextPhase struct{}

func (ContextPhase) Name() string { return PhaseContext }

type contextVerdict struct {
	FilesToModify    []string `json:"files_to_modify"`
	FilesToReference []string `json:"files_to_reference"`
}

func (ContextPhase) Run(ctx context.Context, rc *RunContext) error {
	resp, err := rc.Agent.Run(ctx, agent.Request{
		Phase: PhaseContext,
		Model: rc.Model,
		Prompt: fmt.Sprintf(
			"Given the project index and task %q, list files to modify and files to reference as JSON {files_to_modify, files_to_reference}.",
			rc.Requirements.TaskDescription,
		),
	})
	if err != nil {
		return fmt.Errorf("pipeline: context: %w", err)
	}

	var verdict contextVerdict
	_ = json.Unmarshal([]byte(resp.Text), &verdict) // best-effort; empty lists are valid

	return writeJSONArtifact(rc.SpecDir, "context.json", ContextRecord{
		TaskDescription:  rc.Requirements.TaskDescription,
		ScopedServices:   rc.Requirements.Services,
		FilesToModify:    verdict.FilesToModify,
		FilesToReference: verdict.FilesToReference,
		CreatedAt:        time.Now().UTC(),
	})
}

func (ContextPhase) ValidateOutputs(specDir string) error {
	return requireArtifacts(specDir, PhaseContext)
}
