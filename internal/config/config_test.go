package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PROJECT_ID", "proj")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "vertex", cfg.LLMProvider)
	assert.Equal(t, "documents", cfg.FirestoreCollection)
	assert.Equal(t, 5, cfg.MaxConcurrentDocuments)
	assert.Equal(t, 10, cfg.WorkerPoolSize)
	assert.Equal(t, 15*time.Minute, cfg.DocumentTimeout)
	assert.Equal(t, 50, cfg.MaxImagesPerChunk)
	assert.Equal(t, 20<<20, cfg.MaxImageBytes)
	assert.Equal(t, 150, cfg.ImageDPI)
	assert.True(t, cfg.UseFirestore())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PROJECT_ID", "")
	t.Setenv("LLM_PROVIDER", "Ollama")
	t.Setenv("MAX_CONCURRENT_DOCUMENTS", "20")
	t.Setenv("DOCUMENT_TIMEOUT", "2m")
	t.Setenv("LLM_REQUESTS_PER_SECOND", "1.5")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.LLMProvider)
	assert.Equal(t, 20, cfg.MaxConcurrentDocuments)
	assert.Equal(t, 2*time.Minute, cfg.DocumentTimeout)
	assert.Equal(t, 1.5, cfg.LLMRequestsPerSecond)
	assert.False(t, cfg.UseFirestore())
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"concurrency out of range": {"PROJECT_ID": "p", "MAX_CONCURRENT_DOCUMENTS": "101"},
		"not an int":               {"PROJECT_ID": "p", "WORKER_POOL_SIZE": "many"},
		"vertex without project":   {"PROJECT_ID": ""},
		"openai without key":       {"LLM_PROVIDER": "openai", "OPENAI_API_KEY": ""},
		"unknown provider":         {"LLM_PROVIDER": "carrier-pigeon"},
		"bad timeout":              {"PROJECT_ID": "p", "DOCUMENT_TIMEOUT": "soon"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
