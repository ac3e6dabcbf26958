// Package config loads and persists the repo-level automation configuration:
// grace windows, batch thresholds, duplicate-detection provider selection,
// review concurrency, verification commands, and comment throttling. It
// follows the teacher's JSON-file-with-merge-defaults pattern (read, merge
// missing fields from defaults in memory; a missing file is written out from
// defaults), generalized from a per-PR task
// config to a single repo-wide config governing every component in
// internal/autofix, internal/batch, internal/duplicate, and internal/review.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ConfigFile is the repo-relative path to the automation config. It is a
// var, not a const, so tests can redirect it into a temp directory.
var ConfigFile = ".auto-claude/config.json"

type Config struct {
	AutomationSettings   AutomationSettings   `json:"automation_settings"`
	DuplicateSettings    DuplicateSettings    `json:"duplicate_settings"`
	ReviewSettings       ReviewSettings       `json:"review_settings"`
	AISettings           AISettings           `json:"ai_settings"`
	VerificationSettings VerificationSettings `json:"verification_settings"`
	UpdateCheck          UpdateCheck          `json:"update_check"`
	CommentSettings      CommentSettings      `json:"comment_settings"`
}

// AutomationSettings governs the issue-to-PR autofix flow (internal/autofix,
// internal/override, internal/batch).
type AutomationSettings struct {
	GraceWindowMinutes int    `json:"grace_window_minutes"` // override.Manager's grace period (default 15, per spec.md §3)
	TriggerLabel       string `json:"trigger_label"`        // issue label that starts a grace period
	AutoApprovePlan    bool   `json:"auto_approve_plan"`    // bypass the human "/approve" checkpoint
	TargetBranch       string `json:"target_branch"`        // base branch for opened PRs
	MaxBatchSize       int    `json:"max_batch_size"`       // internal/batch.Grouper.MaxBatchSize
	MinBatchSize       int    `json:"min_batch_size"`       // internal/batch.Grouper.MinBatchSize
	// AuthorizedUsers restricts who may trigger a review action
	// (review.WhitelistAuthorizer). Empty means unrestricted.
	AuthorizedUsers []string `json:"authorized_users,omitempty"`
}

// DuplicateSettings selects and tunes the embedding provider used by
// internal/duplicate.
type DuplicateSettings struct {
	Provider            string  `json:"provider"`              // "openai", "voyage", "local", or "auto"
	Model               string  `json:"model"`                 // embedding model name
	LocalBinPath        string  `json:"local_bin_path"`         // binary path when provider is "local"
	CacheTTLHours       int     `json:"cache_ttl_hours"`        // default 24
	DuplicateThreshold  float64 `json:"duplicate_threshold"`    // default 0.85
	SimilarThreshold    float64 `json:"similar_threshold"`      // default 0.70
	MaxCandidatesReturn int     `json:"max_candidates_returned"`
}

// ReviewSettings governs internal/review's concurrency and iteration budget.
type ReviewSettings struct {
	MaxConcurrentReviews int `json:"max_concurrent_reviews"` // default 3
	MaxIterations        int `json:"max_iterations"`         // default 5
}

type AISettings struct {
	AIProvider               string  `json:"ai_provider"`                // "claude", "cursor", or "auto"
	Model                    string  `json:"model"`                      // e.g. "sonnet", "opus", "auto"
	PromptProfile            string  `json:"prompt_profile"`             // named prompt-style override
	ClaudePath               string  `json:"claude_path"`                // custom path to the agent CLI
	UserLanguage             string  `json:"user_language"`              // e.g. "Japanese", "English"
	OutputFormat             string  `json:"output_format"`              // "json"
	MaxRetries               int     `json:"max_retries"`                // retry setting (default 5); the pipeline's phase retry budget does not read it
	ValidationEnabled        *bool   `json:"validation_enabled"`         // enable two-stage validation
	QualityThreshold         float64 `json:"quality_threshold"`          // minimum score to accept (0.0-1.0)
	VerboseMode              bool    `json:"verbose_mode"`               // detailed progress/error output
	StreamProcessingEnabled  bool    `json:"stream_processing_enabled"`  // stream agent output as events
	RealtimeSavingEnabled    bool    `json:"realtime_saving_enabled"`    // persist phase artifacts as they stream
	SkipClaudeAuthCheck      bool    `json:"skip_claude_auth_check"`     // skip the CLI's auth preflight
	PartialResponseThreshold float64 `json:"partial_response_threshold"` // minimum completeness to accept a partial response
}

type VerificationSettings struct {
	BuildCommand    string            `json:"build_command"`
	TestCommand     string            `json:"test_command"`
	LintCommand     string            `json:"lint_command"`
	FormatCommand   string            `json:"format_command"`
	CustomRules     map[string]string `json:"custom_rules"`     // task-type to command mapping
	MandatoryChecks []string          `json:"mandatory_checks"` // required verification types
	OptionalChecks  []string          `json:"optional_checks"`  // optional verification types
	TimeoutMinutes  int               `json:"timeout_minutes"`
	Enabled         bool              `json:"enabled"`
}

type UpdateCheck struct {
	Enabled           bool      `json:"enabled"`
	IntervalHours     int       `json:"interval_hours"`
	NotifyPrereleases bool      `json:"notify_prereleases"`
	LastCheck         time.Time `json:"last_check"`
}

type CommentSettings struct {
	Enabled       bool                `json:"enabled"`
	AutoCommentOn AutoCommentSettings `json:"auto_comment_on"`
	Throttling    ThrottlingSettings  `json:"throttling"`
	Templates     CommentTemplates    `json:"templates"`
}

type AutoCommentSettings struct {
	FindingResolved bool `json:"finding_resolved"`
	ReviewStarted   bool `json:"review_started"`
	MaxIterations   bool `json:"max_iterations_reached"`
	GraceCancelled  bool `json:"grace_period_cancelled"`
	BatchCreated    bool `json:"batch_created"`
}

type ThrottlingSettings struct {
	Enabled              bool `json:"enabled"`
	MaxCommentsPerHour   int  `json:"max_comments_per_hour"`
	BatchSimilarComments bool `json:"batch_similar_comments"`
	BatchWindowMinutes   int  `json:"batch_window_minutes"`
}

type CommentTemplates struct {
	FindingResolved string `json:"finding_resolved"`
	ReviewStarted   string `json:"review_started"`
	MaxIterations   string `json:"max_iterations_reached"`
	GraceCancelled  string `json:"grace_period_cancelled"`
}

func defaultConfig() *Config {
	validationTrue := true
	return &Config{
		AutomationSettings: AutomationSettings{
			GraceWindowMinutes: 15,
			TriggerLabel:       "autofix",
			AutoApprovePlan:    false,
			TargetBranch:       "main",
			MaxBatchSize:       5,
			MinBatchSize:       2,
		},
		DuplicateSettings: DuplicateSettings{
			Provider:            "auto",
			Model:               "",
			CacheTTLHours:       24,
			DuplicateThreshold:  0.85,
			SimilarThreshold:    0.70,
			MaxCandidatesReturn: 5,
		},
		ReviewSettings: ReviewSettings{
			MaxConcurrentReviews: 3,
			MaxIterations:        5,
		},
		AISettings: AISettings{
			AIProvider:               "auto",
			Model:                    "auto",
			UserLanguage:             "English",
			OutputFormat:             "json",
			MaxRetries:               5,
			ValidationEnabled:        &validationTrue,
			QualityThreshold:         0.8,
			VerboseMode:              false,
			ClaudePath:               "",
			PartialResponseThreshold: 0.7,
		},
		VerificationSettings: VerificationSettings{
			BuildCommand:    "go build ./...",
			TestCommand:     "go test ./...",
			LintCommand:     "golangci-lint run",
			FormatCommand:   "gofmt -l .",
			CustomRules:     make(map[string]string),
			MandatoryChecks: []string{"build"},
			OptionalChecks:  []string{"test", "lint"},
			TimeoutMinutes:  5,
			Enabled:         true,
		},
		UpdateCheck: UpdateCheck{
			Enabled:           true,
			IntervalHours:     24,
			NotifyPrereleases: false,
			LastCheck:         time.Time{},
		},
		CommentSettings: CommentSettings{
			Enabled: false, // disabled by default for gradual adoption
			AutoCommentOn: AutoCommentSettings{
				FindingResolved: true,
				ReviewStarted:   true,
				MaxIterations:   true,
				GraceCancelled:  true,
				BatchCreated:    false,
			},
			Throttling: ThrottlingSettings{
				Enabled:              true,
				MaxCommentsPerHour:   20,
				BatchSimilarComments: true,
				BatchWindowMinutes:   30,
			},
			Templates: CommentTemplates{
				FindingResolved: "default",
				ReviewStarted:   "default",
				MaxIterations:   "default",
				GraceCancelled:  "default",
			},
		},
	}
}

func Load() (*Config, error) {
	if _, err := os.Stat(ConfigFile); os.IsNotExist(err) {
		config := defaultConfig()
		if err := save(config); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return config, nil
	}

	data, err := os.ReadFile(ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	mergeWithDefaults(&config)

	return &config, nil
}

func save(config *Config) error {
	dir := filepath.Dir(ConfigFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(ConfigFile, data, 0644)
}

func mergeWithDefaults(config *Config) {
	defaults := defaultConfig()

	if config.AutomationSettings.GraceWindowMinutes == 0 {
		config.AutomationSettings.GraceWindowMinutes = defaults.AutomationSettings.GraceWindowMinutes
	}
	if config.AutomationSettings.TriggerLabel == "" {
		config.AutomationSettings.TriggerLabel = defaults.AutomationSettings.TriggerLabel
	}
	if config.AutomationSettings.TargetBranch == "" {
		config.AutomationSettings.TargetBranch = defaults.AutomationSettings.TargetBranch
	}
	if config.AutomationSettings.MaxBatchSize == 0 {
		config.AutomationSettings.MaxBatchSize = defaults.AutomationSettings.MaxBatchSize
	}
	if config.AutomationSettings.MinBatchSize == 0 {
		config.AutomationSettings.MinBatchSize = defaults.AutomationSettings.MinBatchSize
	}

	if config.DuplicateSettings.Provider == "" {
		config.DuplicateSettings.Provider = defaults.DuplicateSettings.Provider
	}
	if config.DuplicateSettings.CacheTTLHours == 0 {
		config.DuplicateSettings.CacheTTLHours = defaults.DuplicateSettings.CacheTTLHours
	}
	if config.DuplicateSettings.DuplicateThreshold == 0 {
		config.DuplicateSettings.DuplicateThreshold = defaults.DuplicateSettings.DuplicateThreshold
	}
	if config.DuplicateSettings.SimilarThreshold == 0 {
		config.DuplicateSettings.SimilarThreshold = defaults.DuplicateSettings.SimilarThreshold
	}
	if config.DuplicateSettings.MaxCandidatesReturn == 0 {
		config.DuplicateSettings.MaxCandidatesReturn = defaults.DuplicateSettings.MaxCandidatesReturn
	}

	if config.ReviewSettings.MaxConcurrentReviews == 0 {
		config.ReviewSettings.MaxConcurrentReviews = defaults.ReviewSettings.MaxConcurrentReviews
	}
	if config.ReviewSettings.MaxIterations == 0 {
		config.ReviewSettings.MaxIterations = defaults.ReviewSettings.MaxIterations
	}

	if config.AISettings.AIProvider == "" {
		config.AISettings.AIProvider = defaults.AISettings.AIProvider
	}
	if config.AISettings.Model == "" {
		config.AISettings.Model = defaults.AISettings.Model
	}
	if config.AISettings.UserLanguage == "" {
		config.AISettings.UserLanguage = defaults.AISettings.UserLanguage
	}
	if config.AISettings.OutputFormat == "" {
		config.AISettings.OutputFormat = defaults.AISettings.OutputFormat
	}
	if config.AISettings.MaxRetries == 0 {
		config.AISettings.MaxRetries = defaults.AISettings.MaxRetries
	}
	if config.AISettings.QualityThreshold == 0 {
		config.AISettings.QualityThreshold = defaults.AISettings.QualityThreshold
	}
	if config.AISettings.PartialResponseThreshold == 0 {
		config.AISettings.PartialResponseThreshold = defaults.AISettings.PartialResponseThreshold
	}
	if config.AISettings.ValidationEnabled == nil {
		config.AISettings.ValidationEnabled = defaults.AISettings.ValidationEnabled
	}

	if config.VerificationSettings.BuildCommand == "" {
		config.VerificationSettings.BuildCommand = defaults.VerificationSettings.BuildCommand
	}
	if config.VerificationSettings.TestCommand == "" {
		config.VerificationSettings.TestCommand = defaults.VerificationSettings.TestCommand
	}
	if config.VerificationSettings.LintCommand == "" {
		config.VerificationSettings.LintCommand = defaults.VerificationSettings.LintCommand
	}
	if config.VerificationSettings.FormatCommand == "" {
		config.VerificationSettings.FormatCommand = defaults.VerificationSettings.FormatCommand
	}
	if config.VerificationSettings.CustomRules == nil {
		config.VerificationSettings.CustomRules = make(map[string]string)
	}
	if len(config.VerificationSettings.MandatoryChecks) == 0 {
		config.VerificationSettings.MandatoryChecks = defaults.VerificationSettings.MandatoryChecks
	}
	if len(config.VerificationSettings.OptionalChecks) == 0 {
		config.VerificationSettings.OptionalChecks = defaults.VerificationSettings.OptionalChecks
	}
	if config.VerificationSettings.TimeoutMinutes == 0 {
		config.VerificationSettings.TimeoutMinutes = defaults.VerificationSettings.TimeoutMinutes
	}

	if config.UpdateCheck.IntervalHours == 0 {
		config.UpdateCheck.IntervalHours = defaults.UpdateCheck.IntervalHours
	}

	if config.CommentSettings.Throttling.MaxCommentsPerHour == 0 {
		config.CommentSettings.Throttling.MaxCommentsPerHour = defaults.CommentSettings.Throttling.MaxCommentsPerHour
	}
	if config.CommentSettings.Throttling.BatchWindowMinutes == 0 {
		config.CommentSettings.Throttling.BatchWindowMinutes = defaults.CommentSettings.Throttling.BatchWindowMinutes
	}
	if config.CommentSettings.Templates.FindingResolved == "" {
		config.CommentSettings.Templates.FindingResolved = defaults.CommentSettings.Templates.FindingResolved
	}
	if config.CommentSettings.Templates.ReviewStarted == "" {
		config.CommentSettings.Templates.ReviewStarted = defaults.CommentSettings.Templates.ReviewStarted
	}
	if config.CommentSettings.Templates.MaxIterations == "" {
		config.CommentSettings.Templates.MaxIterations = defaults.CommentSettings.Templates.MaxIterations
	}
	if config.CommentSettings.Templates.GraceCancelled == "" {
		config.CommentSettings.Templates.GraceCancelled = defaults.CommentSettings.Templates.GraceCancelled
	}
}

// Save persists the configuration to ConfigFile.
func (c *Config) Save() error {
	return save(c)
}

// GraceWindow returns AutomationSettings.GraceWindowMinutes as a duration.
func (c *Config) GraceWindow() time.Duration {
	return time.Duration(c.AutomationSettings.GraceWindowMinutes) * time.Minute
}

// CacheTTL returns DuplicateSettings.CacheTTLHours as a duration.
func (c *DuplicateSettings) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// CreateDefault creates the default configuration file.
func CreateDefault() error {
	config := defaultConfig()
	return save(config)
}
