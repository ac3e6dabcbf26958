package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"autoclaude/internal/pipeline"
	"autoclaude/internal/specnum"
)

var (
	specFlag       string
	specModelFlag  string
	specProjectDir string
	specListFlag   bool
)

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Generate an implementation spec for a task",
	Long: "Runs the phased spec pipeline (discovery, requirements, complexity " +
		"assessment, research, spec writing, self-critique, planning, " +
		"validation) against a task description and reserves a numbered " +
		"spec directory for it.",
	RunE: runSpec,
}

func init() {
	specCmd.Flags().StringVar(&specFlag, "spec", "", "task description for the new spec")
	specCmd.Flags().StringVar(&specModelFlag, "model", "", "override the configured agent model")
	specCmd.Flags().StringVar(&specProjectDir, "project-dir", ".", "project directory the spec is generated for")
	specCmd.Flags().BoolVar(&specListFlag, "list", false, "list existing specs instead of generating one")
	rootCmd.AddCommand(specCmd)
}

func runSpec(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if specListFlag {
		return listSpecs(specProjectDir)
	}

	if specFlag == "" {
		return fmt.Errorf("cmd: --spec <task description> is required")
	}

	e, err := newEnv(ctx, "")
	if err != nil {
		return err
	}
	if specModelFlag != "" {
		e.cfg.AISettings.Model = specModelFlag
	}

	coord := e.specCoordinator()
	specDir, number, err := coord.ReserveNext()
	if err != nil {
		return fmt.Errorf("cmd: reserve spec number: %w", err)
	}

	rc := pipeline.NewRunContext(specDir, specProjectDir, filepath.Base(specDir))
	rc.Agent = e.ac
	rc.Model = e.cfg.AISettings.Model
	rc.QuickModel = e.cfg.AISettings.Model
	rc.Requirements.TaskDescription = specFlag

	p := e.pipeline()

	// Bootstrap the phases that decide the phase order (discovery,
	// historical_context, requirements, complexity_assessment), then run
	// whatever the assessment decided, skipping phases already completed.
	bootstrap := []string{pipeline.PhaseDiscovery, pipeline.PhaseHistoricalContext, pipeline.PhaseRequirements, pipeline.PhaseComplexityAssessment}
	res := p.Run(ctx, rc, bootstrap)
	if res.Err != nil {
		return fmt.Errorf("cmd: spec pipeline bootstrap: %w", res.Err)
	}

	done := map[string]bool{}
	for _, name := range res.PhasesRun {
		done[name] = true
	}
	var remaining []string
	for _, name := range rc.Complexity.PhasesToRun {
		if !done[name] {
			remaining = append(remaining, name)
		}
	}

	if len(remaining) > 0 {
		res = p.Run(ctx, rc, remaining)
		if res.Err != nil {
			return fmt.Errorf("cmd: spec pipeline: %w", res.Err)
		}
	}

	finalDir, err := pipelineRenameSpec(specDir, number, rc)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "spec %s ready at %s (complexity: %s)\n", filepath.Base(finalDir), finalDir, rc.Complexity.Complexity)
	return nil
}

// pipelineRenameSpec moves the reserved placeholder directory to its final
// NNN-slug name once the spec's title/slug is known.
func pipelineRenameSpec(specDir string, number int, rc *pipeline.RunContext) (string, error) {
	slug := slugify(rc.Requirements.TaskDescription)
	if slug == "" {
		slug = fmt.Sprintf("task-%d", number)
	}
	newPath, err := specnum.Rename(specDir, slug)
	if err != nil {
		return specDir, nil // non-fatal: leave it under the placeholder name
	}
	return newPath, nil
}

// slugify reduces a free-text task description to a short kebab-case slug
// suitable for a spec/worktree/branch name.
func slugify(text string) string {
	var b []byte
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b = append(b, byte(r))
		case r >= 'A' && r <= 'Z':
			b = append(b, byte(r-'A'+'a'))
		case r == ' ' || r == '-' || r == '_':
			if len(b) > 0 && b[len(b)-1] != '-' {
				b = append(b, '-')
			}
		}
		if len(b) >= 40 {
			break
		}
	}
	for len(b) > 0 && b[len(b)-1] == '-' {
		b = b[:len(b)-1]
	}
	return string(b)
}

func listSpecs(projectDir string) error {
	specsDir := filepath.Join(projectDir, "specs")
	entries, err := os.ReadDir(specsDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("no specs yet")
			return nil
		}
		return fmt.Errorf("cmd: list specs: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			fmt.Println(e.Name())
		}
	}
	return nil
}
