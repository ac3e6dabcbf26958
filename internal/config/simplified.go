package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SimplifiedConfig represents the minimal configuration format.
type SimplifiedConfig struct {
	// Level 1: minimal configuration (just 2 fields)
	Language   string `json:"language,omitempty"`
	AIProvider string `json:"ai_provider,omitempty"`

	// Level 2: basic configuration (optional)
	Model      string                 `json:"model,omitempty"`
	Automation map[string]interface{} `json:"automation,omitempty"`

	// Level 3: advanced configuration (optional)
	AI       map[string]interface{} `json:"ai,omitempty"`
	Advanced map[string]interface{} `json:"advanced,omitempty"`
}

// LoadSimplified loads a simplified config and converts it to the full
// config, falling back to standard config loading if the file isn't in
// simplified form.
func LoadSimplified() (*Config, error) {
	if config, err := tryLoadSimplifiedConfig(); err == nil && config != nil {
		return config, nil
	}
	return Load()
}

func tryLoadSimplifiedConfig() (*Config, error) {
	if _, err := os.Stat(ConfigFile); os.IsNotExist(err) {
		return nil, err
	}

	data, err := os.ReadFile(ConfigFile)
	if err != nil {
		return nil, err
	}

	var simplified SimplifiedConfig
	if err := json.Unmarshal(data, &simplified); err != nil {
		return nil, err
	}

	var rawConfig map[string]interface{}
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return nil, err
	}

	_, hasLanguage := rawConfig["language"]
	_, hasProvider := rawConfig["ai_provider"]
	_, hasAutomationSettings := rawConfig["automation_settings"]

	if (hasLanguage || hasProvider) && !hasAutomationSettings {
		return convertSimplifiedToFull(&simplified), nil
	}

	return nil, fmt.Errorf("not a simplified config")
}

func convertSimplifiedToFull(simplified *SimplifiedConfig) *Config {
	config := defaultConfig()

	if simplified.Language != "" {
		config.AISettings.UserLanguage = simplified.Language
	}
	if simplified.AIProvider != "" {
		config.AISettings.AIProvider = simplified.AIProvider
	}
	if simplified.Model != "" {
		config.AISettings.Model = simplified.Model
	}
	if simplified.Automation != nil {
		applySimplifiedAutomation(config, simplified.Automation)
	}
	if simplified.AI != nil {
		applyAdvancedAISettings(config, simplified.AI)
	}
	if simplified.Advanced != nil {
		applyAdvancedSettings(config, simplified.Advanced)
	}

	return config
}

func applySimplifiedAutomation(config *Config, automation map[string]interface{}) {
	if window, ok := automation["grace_window_minutes"].(float64); ok {
		config.AutomationSettings.GraceWindowMinutes = int(window)
	}
	if label, ok := automation["trigger_label"].(string); ok {
		config.AutomationSettings.TriggerLabel = label
	}
	if autoApprove, ok := automation["auto_approve_plan"].(bool); ok {
		config.AutomationSettings.AutoApprovePlan = autoApprove
	}
	if branch, ok := automation["target_branch"].(string); ok {
		config.AutomationSettings.TargetBranch = branch
	}
}

func applyAdvancedAISettings(config *Config, aiSettings map[string]interface{}) {
	if provider, ok := aiSettings["provider"].(string); ok {
		config.AISettings.AIProvider = provider
	}
	if model, ok := aiSettings["model"].(string); ok {
		config.AISettings.Model = model
	}
	if profile, ok := aiSettings["prompt_profile"].(string); ok {
		config.AISettings.PromptProfile = profile
	}

	// Support both "verbose" and "verbose_mode" for backward compatibility.
	if verbose, ok := aiSettings["verbose"].(bool); ok {
		config.AISettings.VerboseMode = verbose
	}
	if verboseMode, ok := aiSettings["verbose_mode"].(bool); ok {
		config.AISettings.VerboseMode = verboseMode
	}

	if validation, ok := aiSettings["validation"].(bool); ok {
		config.AISettings.ValidationEnabled = &validation
	}
	if validationEnabled, ok := aiSettings["validation_enabled"].(bool); ok {
		config.AISettings.ValidationEnabled = &validationEnabled
	}

	if streamProcessing, ok := aiSettings["stream_processing_enabled"].(bool); ok {
		config.AISettings.StreamProcessingEnabled = streamProcessing
	}
	if realtimeSaving, ok := aiSettings["realtime_saving_enabled"].(bool); ok {
		config.AISettings.RealtimeSavingEnabled = realtimeSaving
	}
	if skipClaudeAuthCheck, ok := aiSettings["skip_claude_auth_check"].(bool); ok {
		config.AISettings.SkipClaudeAuthCheck = skipClaudeAuthCheck
	}
}

func applyAdvancedSettings(config *Config, advanced map[string]interface{}) {
	if maxRetries, ok := advanced["max_retries"].(float64); ok {
		config.AISettings.MaxRetries = int(maxRetries)
	}
	if timeoutSeconds, ok := advanced["timeout_seconds"].(float64); ok {
		config.VerificationSettings.TimeoutMinutes = int(timeoutSeconds) / 60
	}
	if dupThreshold, ok := advanced["duplicate_threshold"].(float64); ok {
		config.DuplicateSettings.DuplicateThreshold = dupThreshold
	}
	if simThreshold, ok := advanced["similar_threshold"].(float64); ok {
		config.DuplicateSettings.SimilarThreshold = simThreshold
	}
	if maxConcurrent, ok := advanced["max_concurrent_reviews"].(float64); ok {
		config.ReviewSettings.MaxConcurrentReviews = int(maxConcurrent)
	}
}

// DetectProjectType detects the project type based on files in the repository.
func DetectProjectType() string {
	if fileExists("go.mod") {
		return "go"
	}
	if fileExists("package.json") {
		return "node"
	}
	if fileExists("Cargo.toml") {
		return "rust"
	}
	if fileExists("requirements.txt") || fileExists("setup.py") || fileExists("pyproject.toml") {
		return "python"
	}
	if fileExists("pom.xml") || fileExists("build.gradle") {
		return "java"
	}
	if fileExists("Gemfile") {
		return "ruby"
	}
	if fileExists("composer.json") {
		return "php"
	}
	if fileExists("*.csproj") || fileExists("*.sln") {
		return "dotnet"
	}
	return "generic"
}

func fileExists(pattern string) bool {
	if strings.Contains(pattern, "*") {
		matches, _ := filepath.Glob(pattern)
		return len(matches) > 0
	}
	_, err := os.Stat(pattern)
	return err == nil
}

// GetDefaultCommandsForProject returns default verification commands based
// on project type.
func GetDefaultCommandsForProject(projectType string) (build, test, lint string) {
	switch projectType {
	case "go":
		return "go build ./...", "go test ./...", "golangci-lint run"
	case "node":
		return "npm run build", "npm test", "npm run lint"
	case "rust":
		return "cargo build", "cargo test", "cargo clippy"
	case "python":
		return "python -m py_compile .", "pytest", "pylint ."
	case "java":
		if fileExists("pom.xml") {
			return "mvn compile", "mvn test", "mvn checkstyle:check"
		}
		return "gradle build", "gradle test", "gradle check"
	case "ruby":
		return "bundle install", "bundle exec rspec", "rubocop"
	case "php":
		return "composer install", "phpunit", "phpcs"
	case "dotnet":
		return "dotnet build", "dotnet test", "dotnet format --verify-no-changes"
	default:
		return "make build", "make test", "make lint"
	}
}

// ApplySmartDefaults applies intelligent defaults to configuration: project
// type detection for verification commands, and agent-binary detection for
// AI provider selection.
func ApplySmartDefaults(config *Config) {
	projectType := DetectProjectType()

	if projectType != "go" {
		build, test, lint := GetDefaultCommandsForProject(projectType)

		if config.VerificationSettings.BuildCommand == "go build ./..." {
			config.VerificationSettings.BuildCommand = build
		}
		if config.VerificationSettings.TestCommand == "go test ./..." {
			config.VerificationSettings.TestCommand = test
		}
		if config.VerificationSettings.LintCommand == "golangci-lint run" {
			config.VerificationSettings.LintCommand = lint
		}
	}

	if config.AISettings.AIProvider == "auto" {
		cursorAvailable := CheckCursorAvailable()
		claudeAvailable := CheckClaudeAvailable()

		if cursorAvailable {
			config.AISettings.AIProvider = "cursor"
			if config.AISettings.Model == "auto" || config.AISettings.Model == "" {
				config.AISettings.Model = "grok"
			}
		} else if claudeAvailable {
			config.AISettings.AIProvider = "claude"
			if config.AISettings.Model == "auto" || config.AISettings.Model == "" {
				config.AISettings.Model = "sonnet"
			}
		}
	}
}

// CheckCursorAvailable checks if the Cursor CLI is available.
func CheckCursorAvailable() bool {
	return binAvailable("cursor")
}

// CheckClaudeAvailable checks if the Claude CLI is available.
func CheckClaudeAvailable() bool {
	return binAvailable("claude")
}

func binAvailable(name string) bool {
	paths := []string{
		name,
		filepath.Join("/usr/local/bin", name),
		filepath.Join(os.Getenv("HOME"), ".local", "bin", name),
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}

	pathEnv := os.Getenv("PATH")
	for _, dir := range strings.Split(pathEnv, ":") {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// GetProviderDisplayName returns the display name for the AI provider.
func GetProviderDisplayName(provider, model string) string {
	providerNames := map[string]string{
		"cursor": "Cursor CLI",
		"claude": "Claude Code",
	}

	pName := providerNames[provider]
	if pName == "" {
		pName = provider
	}

	if model != "" && model != "auto" {
		return fmt.Sprintf("%s (%s)", pName, model)
	}
	return pName
}

// CreateSimplifiedConfig creates a minimal configuration file.
func CreateSimplifiedConfig(simplified *SimplifiedConfig) error {
	dir := filepath.Dir(ConfigFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(simplified, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(ConfigFile, data, 0644)
}

// ValidationReport contains the results of config validation.
type ValidationReport struct {
	IsValid     bool
	Suggestions []string
	Warnings    []string
	Errors      []string
}

// ValidateConfig checks the current configuration for issues.
func ValidateConfig() (*ValidationReport, error) {
	report := &ValidationReport{
		IsValid:     true,
		Suggestions: []string{},
		Warnings:    []string{},
		Errors:      []string{},
	}

	config, err := Load()
	if err != nil {
		report.IsValid = false
		report.Errors = append(report.Errors, fmt.Sprintf("Failed to load configuration: %v", err))
		return report, nil
	}

	if config.AISettings.AIProvider == "" || config.AISettings.AIProvider == "auto" {
		if !CheckCursorAvailable() && !CheckClaudeAvailable() {
			report.Warnings = append(report.Warnings, "No AI providers detected. Please install Cursor CLI or Claude Code.")
		}
	}

	if config.AISettings.PartialResponseThreshold != 0 && config.AISettings.PartialResponseThreshold != 0.7 {
		report.Suggestions = append(report.Suggestions, "Consider leaving 'partial_response_threshold' at its default of 0.7 unless agent responses are routinely truncated.")
	}

	if !config.VerificationSettings.Enabled {
		report.Warnings = append(report.Warnings, "'verification_settings.enabled' is false, verification commands will be ignored")
	}

	projectType := DetectProjectType()
	if projectType == "node" && strings.Contains(config.VerificationSettings.BuildCommand, "go build") {
		report.Suggestions = append(report.Suggestions, "Detected Node.js project but using Go build commands. Consider updating verification commands.")
	}

	if config.AutomationSettings.MinBatchSize > config.AutomationSettings.MaxBatchSize {
		report.Errors = append(report.Errors, "'automation_settings.min_batch_size' exceeds 'max_batch_size'")
		report.IsValid = false
	}

	return report, nil
}

// MigrateToSimplified converts a full config to simplified format.
func MigrateToSimplified(config *Config) (*SimplifiedConfig, error) {
	simplified := &SimplifiedConfig{
		Language:   config.AISettings.UserLanguage,
		AIProvider: config.AISettings.AIProvider,
	}

	if config.AISettings.Model != "" && config.AISettings.Model != "auto" {
		simplified.Model = config.AISettings.Model
	}

	defaults := defaultConfig()
	automationChanged := config.AutomationSettings.GraceWindowMinutes != defaults.AutomationSettings.GraceWindowMinutes ||
		config.AutomationSettings.TriggerLabel != defaults.AutomationSettings.TriggerLabel ||
		config.AutomationSettings.AutoApprovePlan != defaults.AutomationSettings.AutoApprovePlan ||
		config.AutomationSettings.TargetBranch != defaults.AutomationSettings.TargetBranch
	if automationChanged {
		simplified.Automation = map[string]interface{}{
			"grace_window_minutes": config.AutomationSettings.GraceWindowMinutes,
			"trigger_label":        config.AutomationSettings.TriggerLabel,
			"auto_approve_plan":    config.AutomationSettings.AutoApprovePlan,
			"target_branch":        config.AutomationSettings.TargetBranch,
		}
	}

	needsAdvanced := false
	advanced := make(map[string]interface{})

	if config.AISettings.MaxRetries != defaults.AISettings.MaxRetries {
		advanced["max_retries"] = config.AISettings.MaxRetries
		needsAdvanced = true
	}
	if config.DuplicateSettings.DuplicateThreshold != defaults.DuplicateSettings.DuplicateThreshold {
		advanced["duplicate_threshold"] = config.DuplicateSettings.DuplicateThreshold
		needsAdvanced = true
	}
	if config.ReviewSettings.MaxConcurrentReviews != defaults.ReviewSettings.MaxConcurrentReviews {
		advanced["max_concurrent_reviews"] = config.ReviewSettings.MaxConcurrentReviews
		needsAdvanced = true
	}

	if needsAdvanced {
		simplified.Advanced = advanced
	}

	return simplified, nil
}
