package workspace

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoclaude/internal/worktree"
)

type fakeSandbox struct {
	root   string
	closed bool
}

func (f *fakeSandbox) Root() string  { return f.root }
func (f *fakeSandbox) Close() error { f.closed = true; return nil }

type fakeMemory struct{ closed bool }

func (f *fakeMemory) Close(ctx context.Context) error { f.closed = true; return nil }

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@e.com", "GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@e.com")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644))
	run("add", ".")
	run("commit", "-m", "init")
	return dir
}

func TestOpen_WithWorkingCapabilities(t *testing.T) {
	dir := initRepo(t)
	wm := worktree.New(dir, nil)

	ws, err := Open(context.Background(), wm, "task-a",
		func(root string) (Sandbox, error) { return &fakeSandbox{root: root}, nil },
		func(ctx context.Context) (MemoryService, error) { return &fakeMemory{}, nil },
	)
	require.NoError(t, err)
	assert.NotNil(t, ws.Sandbox)
	assert.NotNil(t, ws.Memory)
}

func TestOpen_DegradesGracefullyWhenCapabilitiesFail(t *testing.T) {
	dir := initRepo(t)
	wm := worktree.New(dir, nil)

	ws, err := Open(context.Background(), wm, "task-b",
		func(root string) (Sandbox, error) { return nil, errors.New("no sandbox available") },
		func(ctx context.Context) (MemoryService, error) { return nil, errors.New("memory unreachable") },
	)
	require.NoError(t, err)
	assert.Nil(t, ws.Sandbox)
	assert.Nil(t, ws.Memory)
	assert.DirExists(t, ws.Worktree.Path)
}

func TestClose_RemovesWorktreeDespiteCleanupOrdering(t *testing.T) {
	dir := initRepo(t)
	wm := worktree.New(dir, nil)

	sb := &fakeSandbox{}
	mem := &fakeMemory{}
	ws, err := Open(context.Background(), wm, "task-c",
		func(root string) (Sandbox, error) { sb.root = root; return sb, nil },
		func(ctx context.Context) (MemoryService, error) { return mem, nil },
	)
	require.NoError(t, err)

	require.NoError(t, ws.Close(context.Background(), false))
	assert.True(t, sb.closed)
	assert.True(t, mem.closed)
	assert.NoDirExists(t, ws.Worktree.Path)
}
