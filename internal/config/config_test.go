package config

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := defaultConfig()

	assert.Equal(t, 15, config.AutomationSettings.GraceWindowMinutes)
	assert.Equal(t, "autofix", config.AutomationSettings.TriggerLabel)
	assert.Equal(t, 5, config.AutomationSettings.MaxBatchSize)
	assert.Equal(t, 2, config.AutomationSettings.MinBatchSize)

	assert.Equal(t, 0.85, config.DuplicateSettings.DuplicateThreshold)
	assert.Equal(t, 0.70, config.DuplicateSettings.SimilarThreshold)

	assert.Equal(t, "English", config.AISettings.UserLanguage)
	assert.Equal(t, "json", config.AISettings.OutputFormat)
	assert.Equal(t, 3, config.ReviewSettings.MaxConcurrentReviews)
}

func TestConfigMergeWithDefaults(t *testing.T) {
	tests := []struct {
		name                string
		config              Config
		expectedGraceWindow int
		expectedLanguage    string
	}{
		{
			name:                "empty config gets defaults",
			config:              Config{},
			expectedGraceWindow: 15,
			expectedLanguage:    "English",
		},
		{
			name: "partial config preserves existing values",
			config: Config{
				AutomationSettings: AutomationSettings{GraceWindowMinutes: 120},
				AISettings:         AISettings{UserLanguage: "Japanese"},
			},
			expectedGraceWindow: 120,
			expectedLanguage:    "Japanese",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mergeWithDefaults(&tt.config)

			assert.Equal(t, tt.expectedGraceWindow, tt.config.AutomationSettings.GraceWindowMinutes)
			assert.Equal(t, tt.expectedLanguage, tt.config.AISettings.UserLanguage)
			assert.NotEmpty(t, tt.config.AutomationSettings.TriggerLabel)
			assert.NotZero(t, tt.config.DuplicateSettings.DuplicateThreshold)
			assert.NotZero(t, tt.config.ReviewSettings.MaxIterations)
		})
	}
}

func TestConfigSaveAndLoad(t *testing.T) {
	tempDir := t.TempDir()
	originalWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tempDir))
	defer os.Chdir(originalWd)

	originalConfig := defaultConfig()
	originalConfig.AutomationSettings.GraceWindowMinutes = 15
	originalConfig.AISettings.UserLanguage = "Japanese"

	require.NoError(t, originalConfig.Save())
	assert.FileExists(t, ConfigFile)

	loadedConfig, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15, loadedConfig.AutomationSettings.GraceWindowMinutes)
	assert.Equal(t, "Japanese", loadedConfig.AISettings.UserLanguage)
}

func TestConfigJSONSerialization(t *testing.T) {
	config := defaultConfig()
	config.AutomationSettings.TriggerLabel = "needs-autofix"

	jsonData, err := json.MarshalIndent(config, "", "  ")
	require.NoError(t, err)

	jsonStr := string(jsonData)
	assert.Contains(t, jsonStr, "trigger_label")
	assert.Contains(t, jsonStr, "needs-autofix")

	var loadedConfig Config
	require.NoError(t, json.Unmarshal(jsonData, &loadedConfig))
	assert.Equal(t, "needs-autofix", loadedConfig.AutomationSettings.TriggerLabel)
}

func TestBackwardCompatibility(t *testing.T) {
	// Old config files that predate AutomationSettings/DuplicateSettings
	// still load: unknown keys are ignored and every new field gets its
	// default value.
	oldConfigJSON := `{
		"ai_settings": {
			"user_language": "English",
			"output_format": "json",
			"max_retries": 5
		}
	}`

	var config Config
	require.NoError(t, json.Unmarshal([]byte(oldConfigJSON), &config))

	mergeWithDefaults(&config)

	assert.Equal(t, "English", config.AISettings.UserLanguage)
	assert.Equal(t, "json", config.AISettings.OutputFormat)
	assert.Equal(t, 5, config.AISettings.MaxRetries)

	assert.Equal(t, 15, config.AutomationSettings.GraceWindowMinutes)
	assert.Equal(t, 0.85, config.DuplicateSettings.DuplicateThreshold)
}

func TestConfigCreateDefault(t *testing.T) {
	tempDir := t.TempDir()
	originalWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tempDir))
	defer os.Chdir(originalWd)

	require.NoError(t, CreateDefault())
	assert.FileExists(t, ConfigFile)

	config, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "autofix", config.AutomationSettings.TriggerLabel)
	assert.Equal(t, 15, config.AutomationSettings.GraceWindowMinutes)
}

func TestGraceWindowDuration(t *testing.T) {
	config := defaultConfig()
	config.AutomationSettings.GraceWindowMinutes = 90
	assert.Equal(t, 90*60, int(config.GraceWindow().Seconds()))
}

func TestDuplicateCacheTTLDuration(t *testing.T) {
	config := defaultConfig()
	config.DuplicateSettings.CacheTTLHours = 48
	assert.Equal(t, 48, int(config.DuplicateSettings.CacheTTL().Hours()))
}
