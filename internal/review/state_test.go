package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveAndLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	s := New(42, "acme/widgets", "https://example.invalid/pull/42", "auto-claude/fix-42")
	s.TriggeredBy = "alice"
	require.NoError(t, store.Save(s))

	loaded, err := store.Load(42)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, s.PRNumber, loaded.PRNumber)
	assert.Equal(t, StatusPending, loaded.Status)
	assert.Equal(t, "alice", loaded.TriggeredBy)
}

func TestStore_LoadMissingReturnsNil(t *testing.T) {
	store := NewStore(t.TempDir())
	s, err := store.Load(999)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestStore_LoadAllActiveFiltersTerminal(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	active := New(1, "acme/widgets", "u1", "b1")
	require.NoError(t, store.Save(active))

	done := New(2, "acme/widgets", "u2", "b2")
	done.MarkCompleted(StatusCompleted)
	require.NoError(t, store.Save(done))

	activeList, err := store.LoadAllActive()
	require.NoError(t, err)
	require.Len(t, activeList, 1)
	assert.Equal(t, 1, activeList[0].PRNumber)
}

func TestStore_DeleteRemovesStateAndIndex(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	s := New(7, "acme/widgets", "u", "b")
	require.NoError(t, store.Save(s))

	deleted, err := store.Delete(7)
	require.NoError(t, err)
	assert.True(t, deleted)

	loaded, err := store.Load(7)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	active, err := store.LoadAllActive()
	require.NoError(t, err)
	assert.Empty(t, active, "index no longer lists the deleted review")
}

func TestState_ShouldContinueRespectsCancellationAndIterationCap(t *testing.T) {
	s := New(1, "acme/widgets", "u", "b")
	s.MaxIterations = 2
	assert.True(t, s.ShouldContinue())

	s.StartIteration()
	s.StartIteration()
	assert.False(t, s.ShouldContinue(), "iteration cap reached")

	s2 := New(1, "acme/widgets", "u", "b")
	s2.RequestCancellation("maintainer")
	assert.False(t, s2.ShouldContinue())
}

func TestState_AddAppliedFixMovesFindingToResolved(t *testing.T) {
	s := New(1, "acme/widgets", "u", "b")
	s.PendingFindingIDs = []string{"f1", "f2"}

	s.AddAppliedFix(AppliedFix{FixID: "x", FindingID: "f1", Success: true})

	assert.Equal(t, []string{"f2"}, s.PendingFindingIDs)
	assert.Equal(t, []string{"f1"}, s.ResolvedFindingIDs)
}

func TestState_MarkCompletedSetsTerminalAndTimestamp(t *testing.T) {
	s := New(1, "acme/widgets", "u", "b")
	s.MarkCompleted(StatusReadyToMerge)
	assert.True(t, s.Status.IsTerminal())
	require.NotNil(t, s.CompletedAt)
}
