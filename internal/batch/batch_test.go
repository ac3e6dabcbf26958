package batch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoclaude/internal/agent"
)

func TestPregroup_LabelMatchWinsOverKeyword(t *testing.T) {
	issues := []Issue{
		{Number: 1, Title: "fix crash", Labels: []string{"bug"}},
		{Number: 2, Title: "app crashes on start", Labels: nil},
		{Number: 3, Title: "unrelated", Body: "nothing matches here"},
	}
	buckets := Pregroup(issues)
	assert.Contains(t, buckets["bug"], issues[0])
	assert.Contains(t, buckets["bug"], issues[1])
	assert.Len(t, buckets["singleton-3"], 1)
}

type scriptedAgent struct {
	responses map[string]string
}

func (s *scriptedAgent) Run(_ context.Context, req agent.Request) (agent.Response, error) {
	return agent.Response{Text: s.responses[req.Phase]}, nil
}

func TestBuildBatches_SingletonBucketSkipsAI(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	fa := &scriptedAgent{responses: map[string]string{}}
	grouper := NewGrouper(fa, "sonnet")

	issues := []Issue{{Number: 42, Title: "totally unique issue"}}
	batches, err := BuildBatches(context.Background(), grouper, store, "acme/widgets", issues)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, StatusPending, batches[0].Status)
	assert.Equal(t, []int{42}, batches[0].IssueNumbers())
}

func TestBuildBatches_MultiItemBucketValidatedAndPersisted(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	groupResp, _ := json.Marshal(aiGroupResponse{Batches: []aiBatchProposal{
		{Theme: "auth bugs", IssueNumbers: []int{1, 2}},
	}})
	validateResp, _ := json.Marshal(Validation{IsValid: true, Confidence: 0.9, CommonTheme: "auth bugs"})

	fa := &scriptedAgent{responses: map[string]string{
		"batch_grouping":   string(groupResp),
		"batch_validation": string(validateResp),
	}}
	grouper := NewGrouper(fa, "sonnet")

	issues := []Issue{
		{Number: 1, Title: "auth fails on login", Labels: []string{"bug"}},
		{Number: 2, Title: "auth token expires early", Labels: []string{"bug"}},
	}
	batches, err := BuildBatches(context.Background(), grouper, store, "acme/widgets", issues)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.ElementsMatch(t, []int{1, 2}, batches[0].IssueNumbers())
	assert.Equal(t, "auth bugs", batches[0].CommonThemes[0])
}

func TestBuildBatches_InvalidBatchSplitsToSuggestedSubBatches(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	groupResp, _ := json.Marshal(aiGroupResponse{Batches: []aiBatchProposal{
		{Theme: "misc bugs", IssueNumbers: []int{1, 2, 3, 4}},
	}})
	validateResp, _ := json.Marshal(Validation{
		IsValid:         false,
		Reasoning:       "two unrelated problems mixed together",
		SuggestedSplits: [][]int{{1, 2}, {3, 4}},
	})

	fa := &scriptedAgent{responses: map[string]string{
		"batch_grouping":   string(groupResp),
		"batch_validation": string(validateResp),
	}}
	grouper := NewGrouper(fa, "sonnet")

	issues := []Issue{
		{Number: 1, Title: "bug a", Labels: []string{"bug"}},
		{Number: 2, Title: "bug b", Labels: []string{"bug"}},
		{Number: 3, Title: "bug c", Labels: []string{"bug"}},
		{Number: 4, Title: "bug d", Labels: []string{"bug"}},
	}
	batches, err := BuildBatches(context.Background(), grouper, store, "acme/widgets", issues)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	for _, b := range batches {
		assert.Len(t, b.IssueNumbers(), 2)
	}
}

func TestStore_CreateRejectsIssueAlreadyInAnotherBatch(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	_, err := store.Create([]Item{{IssueNumber: 7}}, "acme/widgets", 7)
	require.NoError(t, err)

	_, err = store.Create([]Item{{IssueNumber: 7}}, "acme/widgets", 7)
	require.Error(t, err)
	var already *ErrAlreadyBatched
	assert.ErrorAs(t, err, &already)
}

func TestStore_UpdateStatusRejectsTransitionFromTerminal(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	b, err := store.Create([]Item{{IssueNumber: 9}}, "acme/widgets", 9)
	require.NoError(t, err)

	require.NoError(t, store.UpdateStatus(b, StatusCompleted))
	err = store.UpdateStatus(b, StatusAnalyzing)
	require.Error(t, err)
}
