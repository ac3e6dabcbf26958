// Package specnum coordinates globally unique, monotonically increasing
// spec ids across a main checkout and all of its task worktrees, so two
// parallel spec-creation flows in sibling worktrees never collide on the
// same NNN prefix.
package specnum

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"autoclaude/internal/lock"
)

var prefixPattern = regexp.MustCompile(`^(\d{3})-`)

// Coordinator reserves spec numbers under a single repo-root sentinel lock.
type Coordinator struct {
	repoRoot     string
	specsRelPath string // e.g. "specs"
	worktreeGlob string // directory, relative to repoRoot, whose subdirectories are worktree roots
	lockTimeout  time.Duration
}

// New returns a Coordinator rooted at repoRoot. worktreesDir is the
// directory (relative to repoRoot) under which task worktrees live, e.g.
// ".auto-claude/worktrees/tasks".
func New(repoRoot, worktreesDir string) *Coordinator {
	return &Coordinator{
		repoRoot:     repoRoot,
		specsRelPath: "specs",
		worktreeGlob: worktreesDir,
		lockTimeout:  5 * time.Second,
	}
}

func (c *Coordinator) sentinelPath() string {
	return filepath.Join(c.repoRoot, ".auto-claude", "spec_number.lock")
}

// scanDirs returns every directory whose spec-number scan should be
// considered: the main repo's specs/ dir plus specs/ inside each extant
// worktree.
func (c *Coordinator) scanDirs() []string {
	dirs := []string{filepath.Join(c.repoRoot, c.specsRelPath)}

	worktreesRoot := filepath.Join(c.repoRoot, c.worktreeGlob)
	entries, err := os.ReadDir(worktreesRoot)
	if err != nil {
		return dirs
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dirs = append(dirs, filepath.Join(worktreesRoot, e.Name(), c.specsRelPath))
	}
	return dirs
}

func maxExistingNumber(dirs []string) int {
	max := 0
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			m := prefixPattern.FindStringSubmatch(e.Name())
			if m == nil {
				continue
			}
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			if n > max {
				max = n
			}
		}
	}
	return max
}

// ReserveNext scans the main repo and all worktrees for the highest
// existing NNN-slug directory, creates the next spec directory with the
// placeholder name "pending", and returns its path — all inside one
// exclusive critical section, so the scan-then-mkdir is indivisible across
// processes.
func (c *Coordinator) ReserveNext() (string, int, error) {
	var (
		dirPath string
		number  int
	)
	err := lock.WithLock(c.sentinelPath(), c.lockTimeout, func() error {
		number = maxExistingNumber(c.scanDirs()) + 1
		dirPath = filepath.Join(c.repoRoot, c.specsRelPath, fmt.Sprintf("%03d-pending", number))
		return os.MkdirAll(dirPath, 0o755)
	})
	if err != nil {
		return "", 0, fmt.Errorf("specnum: reserve: %w", err)
	}
	return dirPath, number, nil
}

// Rename moves a reserved placeholder directory to its final NNN-slug name,
// preserving the number prefix already embedded in oldPath's directory
// name and substituting only the descriptive slug.
func Rename(oldPath, newSlug string) (string, error) {
	base := filepath.Base(oldPath)
	m := prefixPattern.FindStringSubmatch(base)
	if m == nil {
		return "", fmt.Errorf("specnum: %q has no NNN- prefix", base)
	}
	newPath := filepath.Join(filepath.Dir(oldPath), fmt.Sprintf("%s-%s", m[1], newSlug))
	if err := os.Rename(oldPath, newPath); err != nil {
		return "", fmt.Errorf("specnum: rename %s -> %s: %w", oldPath, newPath, err)
	}
	return newPath, nil
}
