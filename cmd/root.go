// Package cmd implements the autoclaude CLI: the cobra command tree that
// drives the spec pipeline, PR review orchestration, status reporting, and
// configuration management described in SPEC_FULL.md §6.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"autoclaude/internal/agent"
	"autoclaude/internal/audit"
	"autoclaude/internal/autofix"
	"autoclaude/internal/botdetect"
	"autoclaude/internal/checkwaiter"
	"autoclaude/internal/config"
	"autoclaude/internal/ghclient"
	"autoclaude/internal/override"
	"autoclaude/internal/pipeline"
	"autoclaude/internal/review"
	"autoclaude/internal/specnum"
	"autoclaude/internal/worktree"
)

var (
	version    = "dev"
	commitHash = "unknown"
	buildDate  = "unknown"
)

// SetVersionInfo records the build-time version metadata injected via
// -ldflags, mirroring the teacher's main.go wiring.
func SetVersionInfo(v, c, d string) {
	version, commitHash, buildDate = v, c, d
}

var rootCmd = &cobra.Command{
	Use:   "autoclaude",
	Short: "Autonomous spec-to-PR and PR-review coordination core",
	Long: "autoclaude turns a triggering issue into a reviewed pull request: it " +
		"generates an implementation spec, builds it in an isolated worktree, " +
		"opens a PR, and drives an AI review/fix loop against it — without ever " +
		"merging on its own.",
}

// Execute runs the command tree, returning the first error encountered.
func Execute() error {
	return rootCmd.Execute()
}

// env bundles every collaborator the commands share, built once per
// invocation from the repo-level config and ambient environment.
type env struct {
	cfg         *config.Config
	gh          *ghclient.Client
	wt          *worktree.Manager
	aud         *audit.Logger
	ac          agent.Client
	repo        string
	botIdentity string
}

func newEnv(ctx context.Context, repoFlag string) (*env, error) {
	cfg, err := config.LoadSimplified()
	if err != nil {
		return nil, fmt.Errorf("cmd: load config: %w", err)
	}

	owner, repo, err := splitRepo(repoFlag)
	if err != nil {
		return nil, err
	}

	gh, err := ghclient.NewFromEnv(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	aud, err := audit.NewLogger(".auto-claude/audit")
	if err != nil {
		return nil, fmt.Errorf("cmd: open audit log: %w", err)
	}

	var ac agent.Client
	binPath := cfg.AISettings.ClaudePath
	if binPath == "" {
		binPath = "claude"
	}
	ac, err = agent.NewCLIClient(binPath, cfg.AISettings.Model)
	if err != nil {
		return nil, fmt.Errorf("cmd: resolve agent CLI: %w", err)
	}

	botIdentity, err := gh.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("cmd: resolve bot identity: %w", err)
	}

	return &env{
		cfg:         cfg,
		gh:          gh,
		wt:          worktree.New(".", gh),
		aud:         aud,
		ac:          ac,
		repo:        gh.FullName(),
		botIdentity: botIdentity,
	}, nil
}

// splitRepo parses "owner/name" into its parts. An empty flag falls back to
// GITHUB_REPOSITORY (the Actions convention).
func splitRepo(flag string) (owner, name string, err error) {
	spec := flag
	if spec == "" {
		spec = os.Getenv("GITHUB_REPOSITORY")
	}
	parts := strings.SplitN(spec, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("cmd: --repo must be \"owner/name\" (got %q)", spec)
	}
	return parts[0], parts[1], nil
}

func (e *env) orchestrator() *review.Orchestrator {
	waiter := checkwaiter.New(e.gh, checkwaiter.Config{})
	detector := botdetect.New(".auto-claude/botstate", e.botIdentity)
	overrides := override.New(".auto-claude/overrides")
	store := review.NewStore(".auto-claude/reviews")

	reviewer := &review.AgentReviewer{Client: e.ac, Gh: e.gh, Model: e.cfg.AISettings.Model}
	fixer := &review.AgentFixer{Client: e.ac, Model: e.cfg.AISettings.Model, WorkDir: e.fixWorkDir, Commit: e.wt.CommitAll}

	return review.NewOrchestrator(review.Deps{
		Store:      store,
		Waiter:     waiter,
		Detector:   detector,
		Overrides:  overrides,
		Audit:      e.aud,
		Reviewer:   reviewer,
		Fixer:      fixer,
		Authorizer: review.NewWhitelistAuthorizer(e.cfg.AutomationSettings.AuthorizedUsers),
	})
}

func (e *env) pipeline() *pipeline.Pipeline {
	return pipeline.New(pipeline.Deps{
		Agent:                    e.ac,
		Model:                    e.cfg.AISettings.Model,
		QuickModel:               e.cfg.AISettings.Model,
		HistoricalContextEnabled: false,
	})
}

func (e *env) autofixRunner() *autofix.Runner {
	return autofix.New(autofix.Deps{
		Overrides:       override.New(".auto-claude/overrides"),
		Pipeline:        e.pipeline(),
		Worktrees:       e.wt,
		Reviewer:        e.orchestrator(),
		Audit:           e.aud,
		BuildAgent:      e.ac,
		BuildModel:      e.cfg.AISettings.Model,
		GraceWindow:     e.cfg.GraceWindow(),
		AutoApprovePlan: e.cfg.AutomationSettings.AutoApprovePlan,
		TargetBranch:    e.cfg.AutomationSettings.TargetBranch,
	})
}

// fixWorkDir resolves where the fixer should run: the task worktree for a
// PR opened by autofix (branch name auto-claude/<slug>), or the current
// checkout for any other PR — e.g. one reviewed directly via
// `autoclaude review`, assumed already checked out by the caller.
func (e *env) fixWorkDir(s *review.State) string {
	const prefix = worktree.BranchNamespace + "/"
	if !strings.HasPrefix(s.BranchName, prefix) {
		return "."
	}
	slug := strings.TrimPrefix(s.BranchName, prefix)
	if e.wt.Exists(slug) {
		return e.wt.Path(slug)
	}
	return "."
}

func (e *env) specCoordinator() *specnum.Coordinator {
	return specnum.New(".", ".auto-claude/worktrees/tasks")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
