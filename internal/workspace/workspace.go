// Package workspace binds a task to a worktree plus optional best-effort
// capabilities (a filesystem sandbox, a memory service), and tears them
// down on completion. Every capability degrades gracefully: if the sandbox
// or memory service cannot be initialized, the workspace proceeds without
// it and the caller is told via a warning, never an error.
package workspace

import (
	"context"
	"fmt"
	"log"

	"autoclaude/internal/worktree"
)

// Sandbox restricts filesystem operations an agent may perform to a single
// worktree path. The core treats the actual enforcement mechanism as an
// external collaborator; this is the narrow capability interface it needs.
type Sandbox interface {
	Root() string
	Close() error
}

// MemoryService is the optional Graphiti-style memory sink/source. A nil
// implementation is always valid — callers must tolerate it.
type MemoryService interface {
	Close(ctx context.Context) error
}

// SandboxFactory constructs a Sandbox scoped to root, or returns an error if
// the sandbox mechanism is unavailable (e.g. the OS doesn't support the
// isolation primitive). Injected so tests can simulate unavailability.
type SandboxFactory func(root string) (Sandbox, error)

// MemoryFactory constructs a MemoryService, or returns an error if the
// backend is unreachable (missing credentials, network down).
type MemoryFactory func(ctx context.Context) (MemoryService, error)

// Workspace is a task's isolated execution environment.
type Workspace struct {
	Slug    string
	Worktree *worktree.Info
	Sandbox  Sandbox // nil if unavailable
	Memory   MemoryService // nil if unavailable

	wm *worktree.Manager
}

// Warnf is called for non-fatal degradation notices; defaults to log.Printf
// but tests may override it to capture output instead of writing to stderr.
var Warnf = log.Printf

// Open binds slug to a worktree (creating it if necessary), then
// best-effort initializes sandbox and memory. Only a worktree failure is
// fatal; sandbox/memory failures are logged and skipped.
func Open(ctx context.Context, wm *worktree.Manager, slug string, sandboxFactory SandboxFactory, memoryFactory MemoryFactory) (*Workspace, error) {
	info, err := wm.GetOrCreateWorktree(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("workspace: open worktree: %w", err)
	}

	ws := &Workspace{Slug: slug, Worktree: info, wm: wm}

	if sandboxFactory != nil {
		sb, err := sandboxFactory(info.Path)
		if err != nil {
			Warnf("workspace: sandbox unavailable for %s, proceeding without isolation: %v", slug, err)
		} else {
			ws.Sandbox = sb
		}
	}

	if memoryFactory != nil {
		mem, err := memoryFactory(ctx)
		if err != nil {
			Warnf("workspace: memory service unavailable for %s, proceeding without it: %v", slug, err)
		} else {
			ws.Memory = mem
		}
	}

	return ws, nil
}

// Close tears down best-effort capabilities and removes the worktree.
// Partial-cleanup failures are logged, never raised, so a flaky sandbox or
// memory backend never blocks worktree teardown.
func (ws *Workspace) Close(ctx context.Context, deleteBranch bool) error {
	if ws.Memory != nil {
		if err := ws.Memory.Close(ctx); err != nil {
			Warnf("workspace: memory close failed for %s: %v", ws.Slug, err)
		}
	}
	if ws.Sandbox != nil {
		if err := ws.Sandbox.Close(); err != nil {
			Warnf("workspace: sandbox close failed for %s: %v", ws.Slug, err)
		}
	}
	if err := ws.wm.RemoveWorktree(ctx, ws.Slug, deleteBranch); err != nil {
		return fmt.Errorf("workspace: remove worktree: %w", err)
	}
	return nil
}
