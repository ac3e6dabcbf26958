package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"autoclaude/internal/config"
	"autoclaude/internal/override"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show, edit, or set repo-level automation config",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadSimplified()
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one automation setting and persist it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := applyConfigSet(cfg, args[0], args[1]); err != nil {
			return err
		}
		return cfg.Save()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(config.ConfigFile); os.IsNotExist(err) {
			if err := config.CreateDefault(); err != nil {
				return err
			}
		}
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}
		c := exec.Command(editor, config.ConfigFile)
		c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
		return c.Run()
	},
}

// configBundle is the YAML-portable snapshot of a repo's automation state:
// the config file plus the override/grace-period ledger, so a repo's
// automation setup can be handed to another machine or checked into a
// private dotfiles repo as one file.
type configBundle struct {
	Config          *config.Config    `yaml:"config"`
	OverrideHistory []override.Record `yaml:"override_history,omitempty"`
}

var configExportCmd = &cobra.Command{
	Use:   "export <file.yaml>",
	Short: "Export config and override history as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		history, err := override.New(".auto-claude/overrides").History()
		if err != nil {
			return fmt.Errorf("cmd: read override history: %w", err)
		}
		data, err := yaml.Marshal(configBundle{Config: cfg, OverrideHistory: history})
		if err != nil {
			return fmt.Errorf("cmd: encode config bundle: %w", err)
		}
		if err := os.WriteFile(args[0], data, 0o644); err != nil {
			return fmt.Errorf("cmd: write %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported config and %d override record(s) to %s\n", len(history), args[0])
		return nil
	},
}

var configImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import and save config from a YAML export (override history is informational and not replayed)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("cmd: read %s: %w", args[0], err)
		}
		var bundle configBundle
		if err := yaml.Unmarshal(data, &bundle); err != nil {
			return fmt.Errorf("cmd: decode %s: %w", args[0], err)
		}
		if bundle.Config == nil {
			return fmt.Errorf("cmd: %s has no config section", args[0])
		}
		if err := bundle.Config.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported config from %s (%d override record(s) in the export are informational only)\n", args[0], len(bundle.OverrideHistory))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configEditCmd, configExportCmd, configImportCmd)
	rootCmd.AddCommand(configCmd)
}

// applyConfigSet supports the handful of settings most commonly tuned from
// the CLI; anything more structural is edited via `config edit`.
func applyConfigSet(cfg *config.Config, key, value string) error {
	switch key {
	case "automation_settings.grace_window_minutes":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("cmd: %s must be an integer: %w", key, err)
		}
		cfg.AutomationSettings.GraceWindowMinutes = n
	case "automation_settings.trigger_label":
		cfg.AutomationSettings.TriggerLabel = value
	case "automation_settings.target_branch":
		cfg.AutomationSettings.TargetBranch = value
	case "automation_settings.auto_approve_plan":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cmd: %s must be a bool: %w", key, err)
		}
		cfg.AutomationSettings.AutoApprovePlan = b
	case "ai_settings.ai_provider":
		cfg.AISettings.AIProvider = value
	case "ai_settings.model":
		cfg.AISettings.Model = value
	case "review_settings.max_concurrent_reviews":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("cmd: %s must be an integer: %w", key, err)
		}
		cfg.ReviewSettings.MaxConcurrentReviews = n
	default:
		return fmt.Errorf("cmd: unknown config key %q (use `config edit` for anything else)", key)
	}
	return nil
}
