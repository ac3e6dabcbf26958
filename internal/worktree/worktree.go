// Package worktree manages per-task git worktrees: creation under the
// auto-claude/* branch namespace, idempotent lookup, merge-back with
// gitignore/.auto-claude unstaging, removal, and push/PR-create wrapped in
// retry. It shells out to the git binary the same way the teacher's
// internal/git package shells out for commit operations.
package worktree

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"autoclaude/internal/ghclient"
	"autoclaude/internal/retry"
)

// BranchNamespace is the prefix every task branch lives under.
const BranchNamespace = "auto-claude"

// ErrNamespaceConflict is returned when a flat branch named exactly
// "auto-claude" exists, which would shadow the auto-claude/* namespace
// (git stores branch refs as files under .git/refs/heads/).
var ErrNamespaceConflict = errors.New("worktree: a branch literally named 'auto-claude' exists and blocks the auto-claude/* namespace; rename or delete it")

// ErrMergeConflict is returned when a merge-back hits a real conflict.
var ErrMergeConflict = errors.New("worktree: merge conflict")

// ErrNotFound is returned when a lookup finds no worktree for the slug.
var ErrNotFound = errors.New("worktree: not found")

// Info describes one task worktree.
type Info struct {
	Slug   string
	Path   string
	Branch string
}

// Stats carries activity metrics used by stale-worktree cleanup.
type Stats struct {
	CommitCount        int
	FilesChanged        int
	Additions           int
	Deletions           int
	LastCommitAt        time.Time
	DaysSinceLastCommit int
}

// Manager owns worktree lifecycle for one repository checkout.
type Manager struct {
	projectDir   string
	worktreesDir string // e.g. <projectDir>/.auto-claude/worktrees/tasks
	baseBranch   string // cached after first detection
	gh           *ghclient.Client
	runTimeout   time.Duration
}

// New returns a Manager rooted at projectDir. gh may be nil if push/PR
// operations are not needed (e.g. pure local merge workflows).
func New(projectDir string, gh *ghclient.Client) *Manager {
	return &Manager{
		projectDir:   projectDir,
		worktreesDir: filepath.Join(projectDir, ".auto-claude", "worktrees", "tasks"),
		gh:           gh,
		runTimeout:   60 * time.Second,
	}
}

func (m *Manager) runGit(ctx context.Context, dir string, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.runTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	} else {
		cmd.Dir = m.projectDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func (m *Manager) branchExists(ctx context.Context, branch string) bool {
	_, _, err := m.runGit(ctx, "", "rev-parse", "--verify", branch)
	return err == nil
}

func (m *Manager) currentBranch(ctx context.Context) (string, error) {
	out, stderr, err := m.runGit(ctx, "", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("worktree: get current branch: %s", stderr)
	}
	return strings.TrimSpace(out), nil
}

// DetectBaseBranch resolves the base branch by priority: DEFAULT_BRANCH env
// var (if it exists) -> main -> master -> current branch (with the caller
// expected to log a warning in that last case). Caches the answer.
func (m *Manager) DetectBaseBranch(ctx context.Context) (string, error) {
	if m.baseBranch != "" {
		return m.baseBranch, nil
	}

	if env := os.Getenv("DEFAULT_BRANCH"); env != "" {
		if m.branchExists(ctx, env) {
			m.baseBranch = env
			return env, nil
		}
	}
	for _, candidate := range []string{"main", "master"} {
		if m.branchExists(ctx, candidate) {
			m.baseBranch = candidate
			return candidate, nil
		}
	}
	current, err := m.currentBranch(ctx)
	if err != nil {
		return "", err
	}
	m.baseBranch = current
	return current, nil
}

func (m *Manager) checkNamespaceConflict(ctx context.Context) error {
	if m.branchExists(ctx, BranchNamespace) {
		return ErrNamespaceConflict
	}
	return nil
}

// BranchName returns the conventional branch name for a task slug.
func BranchName(slug string) string { return fmt.Sprintf("%s/%s", BranchNamespace, slug) }

// Path returns where slug's worktree would live, whether or not it exists.
func (m *Manager) Path(slug string) string { return filepath.Join(m.worktreesDir, slug) }

// Exists reports whether a worktree for slug is currently checked out.
func (m *Manager) Exists(slug string) bool {
	_, err := os.Stat(m.Path(slug))
	return err == nil
}

// CreateWorktree creates a new worktree for slug on branch auto-claude/slug,
// branched from the remote base branch if reachable, else the local base.
func (m *Manager) CreateWorktree(ctx context.Context, slug string) (*Info, error) {
	if err := m.checkNamespaceConflict(ctx); err != nil {
		return nil, err
	}

	base, err := m.DetectBaseBranch(ctx)
	if err != nil {
		return nil, err
	}

	// Best-effort fetch of the remote base; a failure here (offline, no
	// remote configured) just means we fall back to the local ref.
	_, _, _ = m.runGit(ctx, "", "fetch", "origin", base)

	startPoint := base
	if m.branchExists(ctx, "origin/"+base) {
		startPoint = "origin/" + base
	}

	branch := BranchName(slug)
	path := m.Path(slug)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("worktree: create parent dir: %w", err)
	}

	_, stderr, err := m.runGit(ctx, "", "worktree", "add", "-b", branch, path, startPoint)
	if err != nil {
		return nil, fmt.Errorf("worktree: git worktree add failed: %s", stderr)
	}

	return &Info{Slug: slug, Path: path, Branch: branch}, nil
}

// GetOrCreateWorktree is idempotent: if a worktree for slug already exists
// it is returned as-is, otherwise one is created.
func (m *Manager) GetOrCreateWorktree(ctx context.Context, slug string) (*Info, error) {
	if info, err := m.GetWorktreeInfo(ctx, slug); err == nil {
		return info, nil
	}
	return m.CreateWorktree(ctx, slug)
}

// GetWorktreeInfo returns Info for an existing worktree, or ErrNotFound.
func (m *Manager) GetWorktreeInfo(ctx context.Context, slug string) (*Info, error) {
	path := m.Path(slug)
	if _, err := os.Stat(path); err != nil {
		return nil, ErrNotFound
	}
	return &Info{Slug: slug, Path: path, Branch: BranchName(slug)}, nil
}

// ListWorktrees enumerates all task worktrees currently on disk.
func (m *Manager) ListWorktrees() ([]*Info, error) {
	entries, err := os.ReadDir(m.worktreesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("worktree: list: %w", err)
	}
	var out []*Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		out = append(out, &Info{Slug: e.Name(), Path: filepath.Join(m.worktreesDir, e.Name()), Branch: BranchName(e.Name())})
	}
	return out, nil
}

// RemoveWorktree force-removes the worktree, prunes stale metadata, and
// optionally deletes the branch. Falls back to a bare filesystem removal if
// the git command itself fails (e.g. the worktree metadata is already
// corrupt).
func (m *Manager) RemoveWorktree(ctx context.Context, slug string, deleteBranch bool) error {
	path := m.Path(slug)
	_, stderr, err := m.runGit(ctx, "", "worktree", "remove", "--force", path)
	if err != nil {
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("worktree: remove failed (%s) and filesystem fallback failed: %w", stderr, rmErr)
		}
	}
	_, _, _ = m.runGit(ctx, "", "worktree", "prune")

	if deleteBranch {
		_, _, _ = m.runGit(ctx, "", "branch", "-D", BranchName(slug))
	}
	return nil
}

var (
	filesChangedRe = regexp.MustCompile(`(\d+) files? changed`)
	insertionsRe   = regexp.MustCompile(`(\d+) insertions?`)
	deletionsRe    = regexp.MustCompile(`(\d+) deletions?`)
)

// GetStats computes commit/diff activity for slug's worktree relative to
// the base branch, used to power stale-worktree cleanup thresholds.
func (m *Manager) GetStats(ctx context.Context, slug string) (*Stats, error) {
	info, err := m.GetWorktreeInfo(ctx, slug)
	if err != nil {
		return nil, err
	}
	base, err := m.DetectBaseBranch(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}

	if out, _, err := m.runGit(ctx, info.Path, "rev-list", "--count", base+"..HEAD"); err == nil {
		if n, convErr := strconv.Atoi(strings.TrimSpace(out)); convErr == nil {
			stats.CommitCount = n
		}
	}

	if out, _, err := m.runGit(ctx, info.Path, "log", "-1", "--format=%cI"); err == nil {
		if ts, parseErr := time.Parse(time.RFC3339, strings.TrimSpace(out)); parseErr == nil {
			stats.LastCommitAt = ts
			stats.DaysSinceLastCommit = int(time.Since(ts).Hours() / 24)
		}
	}

	if out, _, err := m.runGit(ctx, info.Path, "diff", "--shortstat", base+"...HEAD"); err == nil {
		if m := filesChangedRe.FindStringSubmatch(out); m != nil {
			stats.FilesChanged, _ = strconv.Atoi(m[1])
		}
		if m := insertionsRe.FindStringSubmatch(out); m != nil {
			stats.Additions, _ = strconv.Atoi(m[1])
		}
		if m := deletionsRe.FindStringSubmatch(out); m != nil {
			stats.Deletions, _ = strconv.Atoi(m[1])
		}
	}

	return stats, nil
}

// unstageAutoClaudeAndGitignored unstages files that are gitignored on the
// base branch, plus anything under the dotted .auto-claude/ tree — these
// are task-local artifacts that must never propagate into base. It checks
// only the dotted path, per the distinction between "installed" .auto-claude/
// and a non-dotted "auto-claude/" source tree that might legitimately be
// part of the merged content (e.g. when this system builds itself).
func (m *Manager) unstageAutoClaudeAndGitignored(ctx context.Context) error {
	out, _, err := m.runGit(ctx, "", "diff", "--cached", "--name-only")
	if err != nil {
		return nil // nothing staged, or diff failed — non-fatal
	}
	var toUnstage []string
	for _, f := range strings.Split(strings.TrimSpace(out), "\n") {
		if f == "" {
			continue
		}
		if strings.HasPrefix(f, ".auto-claude/") {
			toUnstage = append(toUnstage, f)
			continue
		}
		if _, _, ignErr := m.runGit(ctx, "", "check-ignore", "-q", f); ignErr == nil {
			toUnstage = append(toUnstage, f)
		}
	}
	if len(toUnstage) == 0 {
		return nil
	}
	args := append([]string{"reset", "HEAD", "--"}, toUnstage...)
	_, _, _ = m.runGit(ctx, "", args...)
	return nil
}

// CommitAll stages every change under dir and commits it with message,
// returning the new commit SHA. Used by the review/fix loop (C12) to
// commit an agent's edits inside a task worktree. A no-op working tree
// (nothing to commit) is not an error — it returns the current HEAD SHA.
func (m *Manager) CommitAll(ctx context.Context, dir, message string) (string, error) {
	if _, stderr, err := m.runGit(ctx, dir, "add", "-A"); err != nil {
		return "", fmt.Errorf("worktree: stage changes: %s", stderr)
	}
	if out, stderr, err := m.runGit(ctx, dir, "commit", "-m", message); err != nil {
		// git prints "nothing to commit" on stdout, not stderr.
		if !strings.Contains(out+stderr, "nothing to commit") {
			return "", fmt.Errorf("worktree: commit: %s", stderr)
		}
	}
	out, stderr, err := m.runGit(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("worktree: resolve HEAD: %s", stderr)
	}
	return strings.TrimSpace(out), nil
}

// MergeWorktree merges slug's branch into the base branch with --no-ff. If
// noCommit is set, the merge is staged only (--no-commit), then
// gitignored/.auto-claude files are unstaged so they never land in base.
// "Already up to date" is treated as success, not an error. A real conflict
// aborts the merge and returns ErrMergeConflict.
func (m *Manager) MergeWorktree(ctx context.Context, slug string, noCommit, deleteAfter bool) error {
	info, err := m.GetWorktreeInfo(ctx, slug)
	if err != nil {
		return err
	}
	base, err := m.DetectBaseBranch(ctx)
	if err != nil {
		return err
	}

	current, err := m.currentBranch(ctx)
	if err != nil {
		return err
	}
	if current != base {
		if _, stderr, err := m.runGit(ctx, "", "checkout", base); err != nil {
			return fmt.Errorf("worktree: checkout base branch: %s", stderr)
		}
	}

	args := []string{"merge", "--no-ff", info.Branch}
	if noCommit {
		args = append(args, "--no-commit")
	} else {
		args = append(args, "-m", fmt.Sprintf("auto-claude: merge %s", info.Branch))
	}

	stdout, stderr, mergeErr := m.runGit(ctx, "", args...)
	if mergeErr != nil {
		combined := strings.ToLower(stdout + stderr)
		if strings.Contains(combined, "already up to date") || strings.Contains(combined, "already up-to-date") {
			if deleteAfter {
				return m.RemoveWorktree(ctx, slug, true)
			}
			return nil
		}
		_, _, _ = m.runGit(ctx, "", "merge", "--abort")
		if strings.Contains(combined, "conflict") {
			return ErrMergeConflict
		}
		return fmt.Errorf("worktree: merge failed: %s", stderr)
	}

	if noCommit {
		if err := m.unstageAutoClaudeAndGitignored(ctx); err != nil {
			return err
		}
	}

	if deleteAfter {
		return m.RemoveWorktree(ctx, slug, true)
	}
	return nil
}

// PushBranch pushes slug's branch to origin, retrying transient
// network/5xx failures with exponential backoff; auth/permission failures
// surface immediately.
func (m *Manager) PushBranch(ctx context.Context, slug string, force bool) error {
	info, err := m.GetWorktreeInfo(ctx, slug)
	if err != nil {
		return err
	}

	args := []string{"push", "-u", "origin", info.Branch}
	if force {
		args = []string{"push", "--force-with-lease", "-u", "origin", info.Branch}
	}

	return retry.Do(ctx, retry.Options{
		MaxAttempts: 3,
		IsRetryable: isRetryablePushError,
		Backoff:     retry.Exponential(2*time.Second, 30*time.Second),
	}, func(ctx context.Context) error {
		_, stderr, err := m.runGit(ctx, info.Path, args...)
		if err != nil {
			return fmt.Errorf("worktree: push failed: %s", stderr)
		}
		return nil
	})
}

func isRetryablePushError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, fatal := range []string{"permission denied", "authentication failed", "403", "404"} {
		if strings.Contains(msg, fatal) {
			return false
		}
	}
	return true
}

// CreatePullRequest opens a PR from slug's branch into target (or the
// detected base branch if target is empty).
func (m *Manager) CreatePullRequest(ctx context.Context, slug, target, title, body string, draft bool) (*ghclient.PRInfo, error) {
	if m.gh == nil {
		return nil, errors.New("worktree: no VCS client configured for PR creation")
	}
	info, err := m.GetWorktreeInfo(ctx, slug)
	if err != nil {
		return nil, err
	}
	if target == "" {
		target, err = m.DetectBaseBranch(ctx)
		if err != nil {
			return nil, err
		}
	}

	var pr *ghclient.PRInfo
	err = retry.Do(ctx, retry.Options{
		MaxAttempts: 3,
		IsRetryable: ghclient.IsRetryable,
		Backoff:     retry.Exponential(2*time.Second, 30*time.Second),
	}, func(ctx context.Context) error {
		var createErr error
		pr, createErr = m.gh.CreatePR(ctx, title, info.Branch, target, body, draft)
		return createErr
	})
	return pr, err
}

// DetectFileRenames returns a map of old->new paths for files the target
// branch has renamed since mergeBase, used to compute "path-mapped AI
// merges" where a worktree modified a file at its now-stale location.
func (m *Manager) DetectFileRenames(ctx context.Context, mergeBase, target string) (map[string]string, error) {
	out, stderr, err := m.runGit(ctx, "", "diff", "--name-status", "-M", mergeBase, target)
	if err != nil {
		return nil, fmt.Errorf("worktree: diff for renames: %s", stderr)
	}

	renames := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || !strings.HasPrefix(fields[0], "R") {
			continue
		}
		renames[fields[1]] = fields[2]
	}
	return renames, nil
}
