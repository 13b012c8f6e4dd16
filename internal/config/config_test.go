// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// DEFAULTS AND VALIDATION
// =============================================================================

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.NativeURL = deriveNativeURL(cfg.LLM.BaseURL)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsNegativeCaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Documents.MaxContextChars = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_context_chars")

	cfg = DefaultConfig()
	cfg.Documents.MaxCharsPerDoc = -5
	assert.Error(t, cfg.Validate())
}

func TestValidate_ZeroCapsAllowed(t *testing.T) {
	// Zero is a legal drop-everything cap, not a config error.
	cfg := DefaultConfig()
	cfg.Documents.MaxContextChars = 0
	cfg.Documents.MaxCharsPerDoc = 0
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadPortAndContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Budget.FallbackContextTokens = 0
	assert.Error(t, cfg.Validate())
}

// =============================================================================
// LOADING AND OVERRIDES
// =============================================================================

func TestLoad_TOMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
debug = true

[llm]
base_url = "http://localhost:11434/v1"
model = "from-file"

[documents]
max_chars_per_doc = 2000
`), 0o644))

	// Env wins over the file.
	t.Setenv("LLM_MODEL_NAME", "from-env")
	t.Setenv("DOC_CONTEXT_MAX_CHARS", "9000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "from-env", cfg.LLM.Model)
	assert.Equal(t, 9000, cfg.Documents.MaxContextChars)
	assert.Equal(t, 2000, cfg.Documents.MaxCharsPerDoc)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.NativeURL)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, "gemma3-prod", cfg.LLM.Model)
	assert.Equal(t, 12000, cfg.Documents.MaxContextChars)
	assert.True(t, cfg.Budget.Enabled)
}

func TestLoad_LegacyEnvAliases(t *testing.T) {
	t.Setenv("MAX_CONTEXT_CHARS", "7000")
	t.Setenv("MAX_DOC_CHARS", "1500")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Documents.MaxContextChars)
	assert.Equal(t, 1500, cfg.Documents.MaxCharsPerDoc)
}

func TestLoad_VisionOverrideTriState(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Nil(t, cfg.LLM.VisionSupport, "unset means auto-detect")

	t.Setenv("LLM_SUPPORTS_VISION", "true")
	cfg, err = Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.NotNil(t, cfg.LLM.VisionSupport)
	assert.True(t, *cfg.LLM.VisionSupport)

	t.Setenv("LLM_SUPPORTS_VISION", "false")
	cfg, err = Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.NotNil(t, cfg.LLM.VisionSupport)
	assert.False(t, *cfg.LLM.VisionSupport)
}

func TestDeriveNativeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://ollama:11434/v1", "http://ollama:11434"},
		{"http://ollama:11434/v1/", "http://ollama:11434"},
		{"http://ollama:11434", "http://ollama:11434"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, deriveNativeURL(tc.in), tc.in)
	}
}

// =============================================================================
// PROMPT STORE
// =============================================================================

func TestPromptStore_DefaultWithoutPath(t *testing.T) {
	s := NewPromptStore("", zap.NewNop())
	assert.Equal(t, DefaultSystemPrompt, s.Template())
	assert.Contains(t, s.Template(), "{{current_time_local}}")
}

func TestPromptStore_LoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("Custom prompt. Time: {{current_time_local}}\n"), 0o644))

	s := NewPromptStore(path, zap.NewNop())
	assert.Equal(t, "Custom prompt. Time: {{current_time_local}}", s.Template())
}

func TestPromptStore_EmptyFileKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("   \n"), 0o644))

	s := NewPromptStore(path, zap.NewNop())
	assert.Equal(t, DefaultSystemPrompt, s.Template())
}

func TestPromptStore_ReloadPicksUpChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o644))

	s := NewPromptStore(path, zap.NewNop())
	require.Equal(t, "first", s.Template())

	require.NoError(t, os.WriteFile(path, []byte("second"), 0o644))
	s.reload()
	assert.Equal(t, "second", s.Template())
}
