package autofix

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoclaude/internal/agent"
	"autoclaude/internal/override"
	"autoclaude/internal/pipeline"
)

type fakeAgent struct {
	responses map[string]string
	lastDir   string
}

func (f *fakeAgent) Run(_ context.Context, req agent.Request) (agent.Response, error) {
	f.lastDir = req.Dir
	if text, ok := f.responses[req.Phase]; ok {
		return agent.Response{Text: text}, nil
	}
	return agent.Response{Text: "{}"}, nil
}

func TestRunner_WaitGracePeriod_ExpiresWithoutCancellation(t *testing.T) {
	dir := t.TempDir()
	overrides := override.New(dir)
	r := New(Deps{Overrides: overrides, GraceWindow: 20 * time.Millisecond, PollInterval: 5 * time.Millisecond})

	cancelled, err := r.waitGracePeriod(context.Background(), Trigger{Issue: 1, TriggerLabel: "autofix", Actor: "alice"})
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestRunner_WaitGracePeriod_DetectsCancellation(t *testing.T) {
	dir := t.TempDir()
	overrides := override.New(dir)
	r := New(Deps{Overrides: overrides, GraceWindow: time.Minute, PollInterval: 5 * time.Millisecond})

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = overrides.CancelGracePeriod(2, "bob")
	}()

	cancelled, err := r.waitGracePeriod(context.Background(), Trigger{Issue: 2, TriggerLabel: "autofix", Actor: "alice"})
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestRunner_WaitGracePeriod_RespectsContextCancellation(t *testing.T) {
	dir := t.TempDir()
	overrides := override.New(dir)
	r := New(Deps{Overrides: overrides, GraceWindow: time.Minute, PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.waitGracePeriod(ctx, Trigger{Issue: 3, TriggerLabel: "autofix", Actor: "alice"})
	assert.Error(t, err)
}

func TestRunner_RunSpecPipeline_SimpleIssueUsesQuickSpec(t *testing.T) {
	projectDir := t.TempDir()

	plan := pipeline.ImplementationPlan{Phases: []pipeline.PlanPhase{{
		ID: 1, Name: "implement",
		Subtasks: []pipeline.Subtask{{ID: "1", Description: "fix typo", Status: pipeline.SubtaskPending, Verification: pipeline.VerificationBlock{Type: "manual"}}},
	}}}
	planJSON, _ := json.Marshal(plan)
	quickResp, _ := json.Marshal(map[string]json.RawMessage{
		"spec_markdown":        mustJSONString("## Overview\nx\n\n## Architecture\nx\n\n## Implementation\nx\n"),
		"implementation_plan": planJSON,
	})

	fa := &fakeAgent{responses: map[string]string{
		pipeline.PhaseDiscovery: `{"languages":["go"]}`,
		pipeline.PhaseQuickSpec: string(quickResp),
	}}

	r := New(Deps{Pipeline: pipeline.New(pipeline.Deps{Agent: fa}), BuildAgent: fa, ProjectDir: projectDir})
	specDir, rc, err := r.runSpecPipeline(context.Background(), Trigger{
		Repo: "acme/widgets", Issue: 9, IssueTitle: "typo in README", Slug: "009-fix-readme-typo",
	})
	require.NoError(t, err)
	assert.NotNil(t, rc)

	var gotPlan pipeline.ImplementationPlan
	require.NoError(t, pipeline.ReadImplementationPlan(specDir, &gotPlan))
	require.Len(t, gotPlan.Phases, 1)
}

func mustJSONString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func TestPhasesForAssessment_SimpleTierIsQuickSpecOnly(t *testing.T) {
	order := phasesForAssessment(pipeline.ComplexityAssessment{Complexity: pipeline.TierSimple})
	assert.Equal(t, []string{pipeline.PhaseDiscovery, pipeline.PhaseHistoricalContext, pipeline.PhaseQuickSpec, pipeline.PhaseValidation}, order)
}

func TestPhasesForAssessment_ComplexTierIncludesResearchAndCritique(t *testing.T) {
	order := phasesForAssessment(pipeline.ComplexityAssessment{Complexity: pipeline.TierComplex, NeedsResearch: true, NeedsSelfCritique: true})
	assert.Contains(t, order, pipeline.PhaseResearch)
	assert.Contains(t, order, pipeline.PhaseSelfCritique)
}
