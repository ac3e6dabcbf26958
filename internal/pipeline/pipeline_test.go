package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoclaude/internal/agent"
	"autoclaude/internal/retry"
)

// fakeAgent returns a scripted response per phase name, so tests can drive
// the pipeline through a known sequence of phase outputs without a real
// agent binary.
type fakeAgent struct {
	responses map[string]string
	calls     []string
}

func (f *fakeAgent) Run(_ context.Context, req agent.Request) (agent.Response, error) {
	f.calls = append(f.calls, req.Phase)
	text, ok := f.responses[req.Phase]
	if !ok {
		return agent.Response{Text: "{}"}, nil
	}
	return agent.Response{Text: text}, nil
}

func newQuickSpecAgent() *fakeAgent {
	plan := ImplementationPlan{
		Phases: []PlanPhase{{
			ID:   1,
			Name: "implement",
			Subtasks: []Subtask{{
				ID:           "1",
				Description:  "fix the README heading typo",
				Status:       SubtaskPending,
				Verification: VerificationBlock{Type: "manual"},
			}},
		}},
	}
	planJSON, _ := json.Marshal(plan)
	quickResp, _ := json.Marshal(map[string]json.RawMessage{
		"spec_markdown": mustJSONString(
			"## Overview\nfix typo\n\n## Architecture\nn/a\n\n## Implementation\nedit README.md\n",
		),
		"implementation_plan": planJSON,
	})
	return &fakeAgent{responses: map[string]string{
		PhaseDiscovery: `{"languages":["go"]}`,
		PhaseQuickSpec: string(quickResp),
	}}
}

func mustJSONString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func TestPipeline_SimpleTierQuickSpecFlow(t *testing.T) {
	specDir := t.TempDir()
	rc := NewRunContext(specDir, t.TempDir(), "001-fix-readme-typo")
	rc.Requirements = Requirements{TaskDescription: "fix the typo in README heading", CreatedAt: time.Now().UTC()}

	fa := newQuickSpecAgent()
	rc.Agent = fa
	rc.Model = "sonnet"

	p := New(Deps{Agent: fa, Model: "sonnet", QuickModel: "haiku"})
	order := phasesForTier(TierSimple, false, false)
	res := p.Run(context.Background(), rc, order)
	require.NoError(t, res.Err)
	assert.Equal(t, []string{PhaseDiscovery, PhaseHistoricalContext, PhaseQuickSpec, PhaseValidation}, res.PhasesRun)

	assert.True(t, artifactExists(specDir, "spec.md"))
	assert.True(t, artifactExists(specDir, "implementation_plan.json"))
	assert.True(t, artifactExists(specDir, "graph_hints.json"))

	var plan ImplementationPlan
	require.NoError(t, readJSONArtifact(specDir, "implementation_plan.json", &plan))
	require.Len(t, plan.Phases, 1)
	assert.Equal(t, "001-fix-readme-typo", plan.SpecName)
}

func TestPipeline_QuickSpecSynthesizesPlanWhenAgentOmitsIt(t *testing.T) {
	specDir := t.TempDir()
	rc := NewRunContext(specDir, t.TempDir(), "002-small-fix")
	rc.Requirements = Requirements{TaskDescription: "small fix: rename a variable"}

	specOnly, _ := json.Marshal(map[string]string{
		"spec_markdown": "## Overview\nx\n\n## Architecture\nx\n\n## Implementation\nx\n",
	})
	fa := &fakeAgent{responses: map[string]string{PhaseQuickSpec: string(specOnly)}}
	rc.Agent = fa

	p := New(Deps{Agent: fa})
	res := p.Run(context.Background(), rc, []string{PhaseQuickSpec})
	require.NoError(t, res.Err)

	var plan ImplementationPlan
	require.NoError(t, readJSONArtifact(specDir, "implementation_plan.json", &plan))
	require.Len(t, plan.Phases, 1)
	assert.Equal(t, "small fix: rename a variable", plan.Phases[0].Subtasks[0].Description)
}

func TestPipeline_DegradesToStubAfterRetriesExhausted(t *testing.T) {
	specDir := t.TempDir()
	rc := NewRunContext(specDir, t.TempDir(), "003-stub")
	rc.Requirements = Requirements{TaskDescription: "some task"}

	fa := &fakeAgent{responses: map[string]string{PhaseSpecWriting: "not json and not markdown sections either"}}
	rc.Agent = fa

	p := New(Deps{Agent: fa, RetryOptions: noBackoffRetry(2)})
	res := p.Run(context.Background(), rc, []string{PhaseSpecWriting})
	require.NoError(t, res.Err, "spec_writing degrades to a stub instead of aborting")

	data, err := os.ReadFile(filepath.Join(specDir, "spec.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "## Overview")
	assert.Contains(t, string(data), "## Architecture")
	assert.Contains(t, string(data), "## Implementation")
}

func TestHeuristicAssess_SimpleTier(t *testing.T) {
	req := Requirements{TaskDescription: "minor typo fix in README"}
	a := HeuristicAssess(req, 1)
	assert.Equal(t, TierSimple, a.Complexity)
	assert.True(t, a.FromHeuristic)
}

func TestHeuristicAssess_ComplexTierOnMultipleIntegrations(t *testing.T) {
	req := Requirements{TaskDescription: "integrate Stripe and Twilio billing notifications"}
	a := HeuristicAssess(req, 5)
	assert.Equal(t, TierComplex, a.Complexity)
	assert.True(t, a.NeedsResearch)
	assert.True(t, a.NeedsSelfCritique)
}

func TestHeuristicAssess_StandardTierIsDefault(t *testing.T) {
	req := Requirements{TaskDescription: "add a new settings page section"}
	a := HeuristicAssess(req, 4)
	assert.Equal(t, TierStandard, a.Complexity)
}

func TestCompactor_FallsBackToTruncatedRawOnAgentError(t *testing.T) {
	failing := &erroringAgent{}
	c := NewCompactor(failing, "haiku")
	out := c.Compact(context.Background(), "discovery", map[string][]byte{"project_index.json": []byte("some output")})
	assert.Contains(t, out, "some output")
}

type erroringAgent struct{}

func (erroringAgent) Run(context.Context, agent.Request) (agent.Response, error) {
	return agent.Response{}, errAgentUnavailable
}

type staticErr struct{ msg string }

func (e *staticErr) Error() string { return e.msg }

var errAgentUnavailable = &staticErr{"agent unavailable"}

func TestTruncateWords_CapsAtLimit(t *testing.T) {
	words := make([]string, 600)
	for i := range words {
		words[i] = "word"
	}
	long := ""
	for _, w := range words {
		long += w + " "
	}
	out := truncateWords(long, 500)
	assert.Contains(t, out, "…[truncated]")
}

func TestApproval_InvalidatedWhenPlanChangesAfterApproval(t *testing.T) {
	specDir := t.TempDir()
	require.NoError(t, writeJSONArtifact(specDir, "implementation_plan.json", ImplementationPlan{SpecName: "x"}))

	_, err := Approve(specDir, "alice")
	require.NoError(t, err)

	status, _, err := CheckApproval(specDir)
	require.NoError(t, err)
	assert.Equal(t, ApprovalValid, status)

	require.NoError(t, writeJSONArtifact(specDir, "implementation_plan.json", ImplementationPlan{SpecName: "y"}))
	status, _, err = CheckApproval(specDir)
	require.NoError(t, err)
	assert.Equal(t, ApprovalStalePlanChanged, status)

	err = RequireApproval(specDir, false)
	require.Error(t, err)
	require.NoError(t, RequireApproval(specDir, true))
}

func noBackoffRetry(attempts int) retry.Options {
	return retry.Options{
		MaxAttempts: attempts,
		IsRetryable: func(error) bool { return true },
		Backoff:     func(int) time.Duration { return 0 },
	}
}
