package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"autoclaude/internal/review"
	"autoclaude/internal/tui"
)

var statusWatchFlag bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show active spec/review state",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusWatchFlag, "watch", false, "open a live-updating dashboard instead of a one-shot report")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	store := review.NewStore(".auto-claude/reviews")

	if statusWatchFlag {
		p := tea.NewProgram(tui.New(store, 0))
		_, err := p.Run()
		return err
	}

	states, err := store.LoadAllActive()
	if err != nil {
		return fmt.Errorf("cmd: load active reviews: %w", err)
	}
	if len(states) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no active reviews")
		return nil
	}
	for _, s := range states {
		fmt.Fprintf(cmd.OutOrStdout(), "#%d %s: %s (iteration %d/%d)\n", s.PRNumber, s.Repo, s.Status, s.CurrentIteration, s.MaxIterations)
	}
	return nil
}
