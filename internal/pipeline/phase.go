package pipeline

import (
	"context"

	"autoclaude/internal/agent"
)

// Phase names, used both as registry keys and as the strings persisted in
// ComplexityAssessment.PhasesToRun / ImplementationPlan.
const (
	PhaseDiscovery            = "discovery"
	PhaseHistoricalContext    = "historical_context"
	PhaseRequirements         = "requirements"
	PhaseComplexityAssessment = "complexity_assessment"
	PhaseResearch             = "research"
	PhaseContext              = "context"
	PhaseQuickSpec            = "quick_spec"
	PhaseSpecWriting          = "spec_writing"
	PhaseSelfCritique         = "self_critique"
	PhasePlanning             = "planning"
	PhaseValidation           = "validation"
)

// phaseOutputFiles maps each phase to the artifact file(s) it is
// responsible for, relative to the spec directory — used both by
// ValidateOutputs implementations and by the compaction step to know what
// to gather after a phase succeeds.
var phaseOutputFiles = map[string][]string{
	PhaseDiscovery:            {"project_index.json"},
	PhaseHistoricalContext:    {"graph_hints.json"},
	PhaseRequirements:         {"requirements.json"},
	PhaseComplexityAssessment: {"complexity_assessment.json"},
	PhaseResearch:             {"research.json"},
	PhaseContext:              {"context.json"},
	PhaseQuickSpec:            {"spec.md", "implementation_plan.json"},
	PhaseSpecWriting:          {"spec.md"},
	PhaseSelfCritique:         {"critique_report.json"},
	PhasePlanning:             {"implementation_plan.json"},
	PhaseValidation:           {},
}

// RunContext is threaded through every phase invocation. It carries the
// task's identity, the accumulating requirements/complexity state that
// later phases read, and the compaction summaries produced by earlier
// phases (read-only context, per spec.md §4.5.2).
type RunContext struct {
	SpecDir    string
	ProjectDir string
	SpecName   string

	Requirements Requirements
	Complexity   ComplexityAssessment

	// Compaction holds phase name -> ≤500-word summary, in phase order.
	Compaction map[string]string

	Agent      agent.Client
	Model      string
	QuickModel string

	// Extras carries phase-local inputs that don't belong on RunContext
	// itself (e.g. a duplicate-detector hint, a batch correlation id).
	Extras map[string]string
}

// NewRunContext returns a RunContext with its maps initialized.
func NewRunContext(specDir, projectDir, specName string) *RunContext {
	return &RunContext{
		SpecDir:    specDir,
		ProjectDir: projectDir,
		SpecName:   specName,
		Compaction: map[string]string{},
		Extras:     map[string]string{},
	}
}

// CompactionBlock concatenates all recorded summaries, each labeled by
// phase, in a stable order — the "read-only context" later phases receive.
func (rc *RunContext) CompactionBlock(order []string) string {
	var out string
	for _, name := range order {
		summary, ok := rc.Compaction[name]
		if !ok {
			continue
		}
		out += "## " + name + "\n" + summary + "\n\n"
	}
	return out
}

// Phase is one step of the pipeline. Name must match one of the Phase*
// constants and a phaseOutputFiles entry. Run performs the phase's work
// (typically: build a prompt from rc, call rc.Agent, write artifacts under
// rc.SpecDir). ValidateOutputs is called once after Run returns without
// error; a phase is only considered successful if both return nil.
type Phase interface {
	Name() string
	Run(ctx context.Context, rc *RunContext) error
	ValidateOutputs(specDir string) error
}

// Registry is the phase dispatch table (spec.md §9's "phase registry is a
// map[string]Phase" design note, realized literally).
type Registry map[string]Phase

// Get returns the phase for name, or (nil, false) if unregistered.
func (r Registry) Get(name string) (Phase, bool) {
	p, ok := r[name]
	return p, ok
}
