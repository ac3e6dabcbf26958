// Package pipeline runs a task's spec/plan generation as an ordered
// sequence of phases, choosing which phases to run from a complexity
// assessment, compacting each phase's output into a running context so
// later phases see a bounded-size summary instead of raw artifacts, and
// gating the resulting plan behind a human-review approval before any build
// step is allowed to consume it.
package pipeline

import "time"

// Tier classifies how much process a task needs.
type Tier string

const (
	TierSimple   Tier = "simple"
	TierStandard Tier = "standard"
	TierComplex  Tier = "complex"
)

// WorkflowKind mirrors the task's shape, carried through requirements and
// into the implementation plan.
type WorkflowKind string

const (
	WorkflowFeature  WorkflowKind = "feature"
	WorkflowBugfix   WorkflowKind = "bugfix"
	WorkflowRefactor WorkflowKind = "refactor"
	WorkflowDocs     WorkflowKind = "docs"
	WorkflowTest     WorkflowKind = "test"
)

// Requirements is the requirements.json artifact.
type Requirements struct {
	TaskDescription string       `json:"task_description"`
	WorkflowKind    WorkflowKind `json:"workflow_kind"`
	Services        []string     `json:"services,omitempty"`
	Context         string       `json:"context,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// ContextRecord is the context.json artifact.
type ContextRecord struct {
	TaskDescription  string    `json:"task_description"`
	ScopedServices   []string  `json:"scoped_services,omitempty"`
	FilesToModify    []string  `json:"files_to_modify,omitempty"`
	FilesToReference []string  `json:"files_to_reference,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ResearchRecord is the research.json artifact.
type ResearchRecord struct {
	IntegrationsResearched []string  `json:"integrations_researched"`
	ResearchSkipped        bool      `json:"research_skipped,omitempty"`
	Reason                 string    `json:"reason,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}

// GraphHints is the graph_hints.json artifact, produced by an optional
// historical-memory service (e.g. Graphiti). Absent or disabled is the
// common case; an empty Hints slice is always valid.
type GraphHints struct {
	Enabled   bool      `json:"enabled"`
	Reason    string    `json:"reason,omitempty"`
	Hints     []string  `json:"hints"`
	CreatedAt time.Time `json:"created_at"`
}

// ComplexityAssessment is the complexity_assessment.json artifact.
type ComplexityAssessment struct {
	Complexity              Tier      `json:"complexity"`
	Confidence              float64   `json:"confidence"`
	Reasoning               string    `json:"reasoning"`
	Signals                 []string  `json:"signals,omitempty"`
	EstimatedFiles          int       `json:"estimated_files"`
	EstimatedServices       int       `json:"estimated_services"`
	ExternalIntegrations    []string  `json:"external_integrations,omitempty"`
	InfrastructureChanges   bool      `json:"infrastructure_changes"`
	PhasesToRun             []string  `json:"phases_to_run,omitempty"`
	NeedsResearch           bool      `json:"needs_research"`
	NeedsSelfCritique       bool      `json:"needs_self_critique"`
	CreatedAt               time.Time `json:"created_at"`
	// FromHeuristic records whether the AI classifier failed and this
	// assessment came from the fallback rule set (§4.5.1).
	FromHeuristic bool `json:"from_heuristic,omitempty"`
}

// CritiqueRecord is the critique_report.json artifact.
type CritiqueRecord struct {
	IssuesFound    []string  `json:"issues_found,omitempty"`
	IssuesFixed    []string  `json:"issues_fixed,omitempty"`
	NoIssuesFound  bool      `json:"no_issues_found,omitempty"`
	CritiqueSummary string   `json:"critique_summary"`
	CreatedAt      time.Time `json:"created_at"`
}

// VerificationBlock records how a subtask's completion is checked.
type VerificationBlock struct {
	Type     string `json:"type"` // "command", "url", "manual"
	Run      string `json:"run,omitempty"`
	URL      string `json:"url,omitempty"`
	Scenario string `json:"scenario,omitempty"`
}

// SubtaskStatus enumerates a subtask's lifecycle.
type SubtaskStatus string

const (
	SubtaskPending    SubtaskStatus = "pending"
	SubtaskInProgress SubtaskStatus = "in_progress"
	SubtaskCompleted  SubtaskStatus = "completed"
	SubtaskBlocked    SubtaskStatus = "blocked"
	SubtaskFailed     SubtaskStatus = "failed"
	SubtaskStuck      SubtaskStatus = "stuck"
)

// Subtask is one unit of work within a plan phase.
type Subtask struct {
	ID              string             `json:"id"`
	Description     string             `json:"description"`
	Service         string             `json:"service,omitempty"`
	Status          SubtaskStatus      `json:"status"`
	FilesToCreate   []string           `json:"files_to_create,omitempty"`
	FilesToModify   []string           `json:"files_to_modify,omitempty"`
	PatternsFrom    []string           `json:"patterns_from,omitempty"`
	Verification    VerificationBlock  `json:"verification"`
}

// PlanPhase is one ordered phase of an implementation plan (distinct from
// the pipeline Phase interface below — this is plan-document data, not
// pipeline-execution code).
type PlanPhase struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	DependsOn   []int     `json:"depends_on,omitempty"`
	Subtasks    []Subtask `json:"subtasks"`
}

// PlanMetadata carries bookkeeping that doesn't belong to any one phase.
type PlanMetadata struct {
	CreatedAt         time.Time `json:"created_at"`
	Complexity        Tier      `json:"complexity,omitempty"`
	EstimatedSessions int       `json:"estimated_sessions,omitempty"`
}

// ImplementationPlan is the implementation_plan.json artifact.
type ImplementationPlan struct {
	SpecName          string       `json:"spec_name"`
	WorkflowKind      WorkflowKind `json:"workflow_type"`
	TotalPhases       int          `json:"total_phases"`
	RecommendedWorkers int         `json:"recommended_workers"`
	Phases            []PlanPhase  `json:"phases"`
	Metadata          PlanMetadata `json:"metadata"`
}
