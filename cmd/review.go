package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var reviewRepoFlag string

var reviewCmd = &cobra.Command{
	Use:   "review <pr-number>",
	Short: "Start (or resume) the AI review/fix loop for a pull request",
	Args:  cobra.ExactArgs(1),
	RunE:  runReview,
}

func init() {
	reviewCmd.Flags().StringVar(&reviewRepoFlag, "repo", "", "owner/name (defaults to GITHUB_REPOSITORY)")
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	prNumber, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("cmd: %q is not a PR number", args[0])
	}

	e, err := newEnv(ctx, reviewRepoFlag)
	if err != nil {
		return err
	}

	pr, err := e.gh.GetPR(ctx, prNumber)
	if err != nil {
		return fmt.Errorf("cmd: fetch PR #%d: %w", prNumber, err)
	}

	orch := e.orchestrator()
	prURL := fmt.Sprintf("https://github.com/%s/pull/%d", e.repo, prNumber)
	if _, err := orch.Start(prNumber, e.repo, prURL, pr.HeadRef, pr.Author, nil); err != nil {
		return fmt.Errorf("cmd: start review: %w", err)
	}

	state, err := orch.Run(ctx, prNumber)
	if err != nil {
		return fmt.Errorf("cmd: run review: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "PR #%d: %s (iteration %d/%d)\n", prNumber, state.Status, state.CurrentIteration, state.MaxIterations)
	return nil
}
