package pipeline

import (
	"context"
	"fmt"
)

// ValidationPhase schema-validates every artifact present in the spec
// directory. It produces no new files and never calls the agent; its job
// is only to catch a malformed artifact before a build is allowed to
// consume the plan.
type ValidationPhase struct{}

func (ValidationPhase) Name() string { return PhaseValidation }

func (ValidationPhase) Run(_ context.Context, _ *RunContext) error {
	return nil
}

func (ValidationPhase) ValidateOutputs(specDir string) error {
	checks := []struct {
		file string
		fn   func() error
	}{
		{"requirements.json", func() error {
			var r Requirements
			return readJSONArtifact(specDir, "requirements.json", &r)
		}},
		{"complexity_assessment.json", func() error {
			var a ComplexityAssessment
			if err := readJSONArtifact(specDir, "complexity_assessment.json", &a); err != nil {
				return err
			}
			switch a.Complexity {
			case TierSimple, TierStandard, TierComplex:
				return nil
			default:
				return fmt.Errorf("invalid tier %q", a.Complexity)
			}
		}},
		{"context.json", func() error {
			var c ContextRecord
			return readJSONArtifact(specDir, "context.json", &c)
		}},
		{"research.json", func() error {
			var r ResearchRecord
			return readJSONArtifact(specDir, "research.json", &r)
		}},
		{"spec.md", func() error { return validateSpecSections(specDir) }},
		{"implementation_plan.json", func() error {
			var p ImplementationPlan
			if err := readJSONArtifact(specDir, "implementation_plan.json", &p); err != nil {
				return err
			}
			if len(p.Phases) == 0 {
				return fmt.Errorf("no phases")
			}
			for _, ph := range p.Phases {
				for _, st := range ph.Subtasks {
					switch st.Status {
					case SubtaskPending, SubtaskInProgress, SubtaskCompleted, SubtaskBlocked, SubtaskFailed, SubtaskStuck:
					default:
						return fmt.Errorf("subtask %s has invalid status %q", st.ID, st.Status)
					}
				}
			}
			return nil
		}},
	}

	var failures []string
	for _, c := range checks {
		if !artifactExists(specDir, c.file) {
			continue // only produced by certain tiers/phase sets
		}
		if err := c.fn(); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", c.file, err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("pipeline: validation failed: %v", failures)
	}
	return nil
}
