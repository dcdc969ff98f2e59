package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv 清空测试涉及的环境变量，避免宿主环境干扰
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GOOGLE_API_KEY", "GENAI_API_KEY", "GENAI_BASE_URL",
		"GENAI_TIMEOUT_SECONDS", "GENAI_MAX_ATTEMPTS", "GENAI_RETRY_BACKOFF_SECONDS",
		"GENAI_REQUESTS_PER_MINUTE", "PROMPTS_FILE", "OUTPUT_DIR",
		"OSS_ENDPOINT", "OSS_REGION", "OSS_ACCESS_KEY", "OSS_SECRET_KEY", "OSS_BUCKET", "OSS_PREFIX",
		"LOG_LEVEL", "LOG_FORMAT", "LOG_OUTPUT", "LOG_FILE",
	} {
		t.Setenv(key, "")
	}
}

func TestConfigFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_API_KEY", "key-123")

	cfg, err := configFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "key-123", cfg.GenAIAPIKey)
	assert.Equal(t, 60*time.Second, cfg.GenAITimeout)
	assert.Equal(t, 3, cfg.GenAIMaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.GenAIRetryBackoff)
	assert.Equal(t, 0, cfg.GenAIRequestsPerMinute)
	assert.Equal(t, "prompts.json", cfg.PromptsFile)
	assert.Equal(t, "generated_images", cfg.OutputDir)
	assert.Equal(t, "stderr", cfg.LogOutput)
	assert.False(t, cfg.OSSEnabled())
}

func TestConfigFromEnvMissingKey(t *testing.T) {
	clearEnv(t)

	_, err := configFromEnv()
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestConfigFromEnvFallbackKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("GENAI_API_KEY", "fallback")

	cfg, err := configFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "fallback", cfg.GenAIAPIKey)
}

func TestConfigFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_API_KEY", "k")
	t.Setenv("GENAI_MAX_ATTEMPTS", "5")
	t.Setenv("GENAI_RETRY_BACKOFF_SECONDS", "0.5")
	t.Setenv("GENAI_REQUESTS_PER_MINUTE", "10")
	t.Setenv("OSS_BUCKET", "images")

	cfg, err := configFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.GenAIMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.GenAIRetryBackoff)
	assert.Equal(t, 10, cfg.GenAIRequestsPerMinute)
	assert.True(t, cfg.OSSEnabled())
}

func TestConfigFromEnvRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"GENAI_MAX_ATTEMPTS":          "0",
		"GENAI_TIMEOUT_SECONDS":       "soon",
		"GENAI_RETRY_BACKOFF_SECONDS": "-1",
		"GENAI_REQUESTS_PER_MINUTE":   "-3",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("GOOGLE_API_KEY", "k")
			t.Setenv(key, value)

			_, err := configFromEnv()
			assert.Error(t, err)
		})
	}
}
