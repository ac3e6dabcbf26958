package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// initRepo creates a throwaway git repo with one commit on main, returning
// its path. Tests in this file exercise real git plumbing, mirroring how
// the teacher project's internal/git tests spin up scratch repos.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", ".")
	run("commit", "-m", "initial commit")
	return dir
}

func TestCreateWorktree_UsesAutoClaudeNamespace(t *testing.T) {
	dir := initRepo(t)
	m := New(dir, nil)

	info, err := m.CreateWorktree(context.Background(), "fix-typo")
	require.NoError(t, err)
	require.Equal(t, "auto-claude/fix-typo", info.Branch)
	require.DirExists(t, info.Path)
}

func TestCreateWorktree_RefusesFlatNamespaceBranch(t *testing.T) {
	dir := initRepo(t)
	cmd := exec.Command("git", "branch", "auto-claude")
	cmd.Dir = dir
	require.NoError(t, cmd.Run())

	m := New(dir, nil)
	_, err := m.CreateWorktree(context.Background(), "fix-typo")
	require.ErrorIs(t, err, ErrNamespaceConflict)
}

func TestGetOrCreateWorktree_Idempotent(t *testing.T) {
	dir := initRepo(t)
	m := New(dir, nil)

	first, err := m.GetOrCreateWorktree(context.Background(), "slug-a")
	require.NoError(t, err)
	second, err := m.GetOrCreateWorktree(context.Background(), "slug-a")
	require.NoError(t, err)

	require.Equal(t, first.Path, second.Path)
	require.Equal(t, first.Branch, second.Branch)
}

func TestMergeWorktree_AlreadyUpToDateIsSuccess(t *testing.T) {
	dir := initRepo(t)
	m := New(dir, nil)

	_, err := m.CreateWorktree(context.Background(), "noop")
	require.NoError(t, err)

	err = m.MergeWorktree(context.Background(), "noop", false, false)
	require.NoError(t, err)
}

func TestMergeWorktree_MergesCommittedChanges(t *testing.T) {
	dir := initRepo(t)
	m := New(dir, nil)

	info, err := m.CreateWorktree(context.Background(), "feature-a")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(info.Path, "new.txt"), []byte("data\n"), 0o644))
	for _, args := range [][]string{{"add", "."}, {"commit", "-m", "add new.txt"}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = info.Path
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}

	require.NoError(t, m.MergeWorktree(context.Background(), "feature-a", false, true))
	require.NoFileExists(t, info.Path+"/.git")
	require.FileExists(t, filepath.Join(dir, "new.txt"))
}

func TestRemoveWorktree_FallsBackToFilesystemRemoval(t *testing.T) {
	dir := initRepo(t)
	m := New(dir, nil)

	info, err := m.CreateWorktree(context.Background(), "disposable")
	require.NoError(t, err)

	// Corrupt the worktree's git metadata link so `git worktree remove`
	// itself fails, forcing the filesystem fallback path.
	require.NoError(t, os.RemoveAll(filepath.Join(info.Path, ".git")))

	require.NoError(t, m.RemoveWorktree(context.Background(), "disposable", false))
	require.NoDirExists(t, info.Path)
}

func TestDetectBaseBranch_PrefersMain(t *testing.T) {
	dir := initRepo(t)
	m := New(dir, nil)

	branch, err := m.DetectBaseBranch(context.Background())
	require.NoError(t, err)
	require.Equal(t, "main", branch)
}
