package override

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseComment_RecognizesCommand(t *testing.T) {
	cmd, ok := ParseComment("please /cancel-autofix now, it's wrong", "maintainer")
	require.True(t, ok)
	assert.Equal(t, CmdCancelAutofix, cmd.Command)
}

func TestParseComment_IgnoresUnrecognizedSlash(t *testing.T) {
	_, ok := ParseComment("/definitely-not-a-command", "maintainer")
	assert.False(t, ok)
}

func TestParseComment_NoSlashAtAll(t *testing.T) {
	_, ok := ParseComment("this PR looks good to me", "maintainer")
	assert.False(t, ok)
}

func TestGracePeriod_ValidWithinWindow(t *testing.T) {
	m := New(t.TempDir())
	entry, err := m.StartGracePeriod(101, "auto-fix", "alice", 0)
	require.NoError(t, err)
	assert.True(t, entry.Valid(time.Now()))
}

func TestGracePeriod_CancelMakesInvalid(t *testing.T) {
	m := New(t.TempDir())
	_, err := m.StartGracePeriod(101, "auto-fix", "alice", time.Hour)
	require.NoError(t, err)

	require.NoError(t, m.CancelGracePeriod(101, "maintainer"))

	entry, err := m.GetGracePeriod(101)
	require.NoError(t, err)
	assert.False(t, entry.Valid(time.Now()))

	records, err := m.History()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, CmdCancelAutofix, records[0].Type)
}

func TestGracePeriod_ExpiresAutonomously(t *testing.T) {
	m := New(t.TempDir())
	_, err := m.StartGracePeriod(101, "auto-fix", "alice", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	entry, err := m.GetGracePeriod(101)
	require.NoError(t, err)
	assert.False(t, entry.Valid(time.Now()))
}

func TestRecordOverride_AppendOnlyWithCap(t *testing.T) {
	m := New(t.TempDir())
	for i := 0; i < MaxHistory+10; i++ {
		issue := i
		_, err := m.RecordOverride(Record{Type: CmdNotSpam, Actor: "bot", Issue: &issue})
		require.NoError(t, err)
	}

	records, err := m.History()
	require.NoError(t, err)
	assert.Len(t, records, MaxHistory)
	assert.Equal(t, 10, *records[0].Issue, "oldest entries evicted FIFO")
}

func TestUndoLast_SwapsStatesAndLinks(t *testing.T) {
	m := New(t.TempDir())
	issue := 55
	original, err := m.RecordOverride(Record{
		Type:          CmdNotDuplicate,
		Actor:         "bot",
		Issue:         &issue,
		OriginalState: "duplicate",
		NewState:      "not_duplicate",
	})
	require.NoError(t, err)

	undo, err := m.UndoLast(&issue, nil, "maintainer")
	require.NoError(t, err)
	assert.Equal(t, "not_duplicate", undo.OriginalState)
	assert.Equal(t, "duplicate", undo.NewState)
	assert.Equal(t, original.ID, undo.LinkedTo)

	records, err := m.History()
	require.NoError(t, err)
	assert.Len(t, records, 2, "undo never mutates the original entry in place")
}

func TestUndoLast_NothingToUndo(t *testing.T) {
	m := New(t.TempDir())
	issue := 1
	_, err := m.UndoLast(&issue, nil, "maintainer")
	assert.Error(t, err)
}
