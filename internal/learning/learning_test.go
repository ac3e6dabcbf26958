package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveCorrectness_ReviewApprove(t *testing.T) {
	merged := OutcomeMerged
	o := Outcome{PredictionType: PredictionReviewApprove, ActualOutcome: &merged}
	o.DeriveCorrectness()
	require.NotNil(t, o.WasCorrect)
	assert.True(t, *o.WasCorrect)
}

func TestDeriveCorrectness_OverriddenIsAlwaysWrong(t *testing.T) {
	overridden := OutcomeOverridden
	o := Outcome{PredictionType: PredictionReviewApprove, ActualOutcome: &overridden}
	o.DeriveCorrectness()
	require.NotNil(t, o.WasCorrect)
	assert.False(t, *o.WasCorrect)
}

func TestDeriveCorrectness_TriageSpamClosedIsCorrect(t *testing.T) {
	closed := OutcomeClosed
	o := Outcome{PredictionType: PredictionTriageSpam, ActualOutcome: &closed}
	o.DeriveCorrectness()
	require.NotNil(t, o.WasCorrect)
	assert.True(t, *o.WasCorrect)
}

func TestDeriveCorrectness_RequestChangesMergedWithoutModificationIsWrong(t *testing.T) {
	merged := OutcomeMerged
	o := Outcome{PredictionType: PredictionReviewRequestChanges, ActualOutcome: &merged}
	o.DeriveCorrectness()
	require.NotNil(t, o.WasCorrect)
	assert.False(t, *o.WasCorrect)
}

func TestStore_RecordThenResolveDerivesCorrectness(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	require.NoError(t, store.Record(Outcome{
		ReviewID:       "r1",
		Repo:           "acme/widgets",
		PredictionType: PredictionReviewApprove,
		CreatedAt:      time.Now().UTC(),
	}))

	require.NoError(t, store.ResolveOutcome("acme/widgets", "r1", OutcomeMerged, 2*time.Hour, "lgtm"))

	outcomes, err := store.Load("acme/widgets")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].IsPending())
	require.NotNil(t, outcomes[0].WasCorrect)
	assert.True(t, *outcomes[0].WasCorrect)
}

func TestStore_ResolveOutcomeUnknownReviewIDErrors(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	err := store.ResolveOutcome("acme/widgets", "missing", OutcomeMerged, 0, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAccuracy_AggregatesByTypeAndPending(t *testing.T) {
	merged := OutcomeMerged
	outcomes := []Outcome{
		{Repo: "acme/widgets", PredictionType: PredictionReviewApprove, ActualOutcome: &merged, WasCorrect: boolPtr(true)},
		{Repo: "acme/widgets", PredictionType: PredictionReviewApprove},
		{Repo: "other/repo", PredictionType: PredictionReviewApprove, ActualOutcome: &merged, WasCorrect: boolPtr(true)},
	}
	report := Accuracy(outcomes, AccuracyQuery{Repo: "acme/widgets"})
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Correct)
	assert.Equal(t, 1, report.Pending)
}

func TestDetectPatterns_RequiresThreshold(t *testing.T) {
	var outcomes []Outcome
	for i := 0; i < 19; i++ {
		outcomes = append(outcomes, Outcome{FileTypes: []string{"go"}, WasCorrect: boolPtr(true), ActualOutcome: outcomePtr(OutcomeMerged)})
	}
	assert.Empty(t, DetectPatterns(outcomes, 20))

	outcomes = append(outcomes, Outcome{FileTypes: []string{"go"}, WasCorrect: boolPtr(false), ActualOutcome: outcomePtr(OutcomeMerged)})
	patterns := DetectPatterns(outcomes, 20)
	require.Len(t, patterns, 1)
	assert.Equal(t, "go", patterns[0].Value)
	assert.Equal(t, 20, patterns[0].Total)
}

func boolPtr(b bool) *bool                     { return &b }
func outcomePtr(o ActualOutcome) *ActualOutcome { return &o }
