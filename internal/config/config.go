// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading for ephemerai.
//
// Configuration sources (in order of precedence):
//   - Environment variables (LLM_BASE_URL, TIKA_URL, DOC_CONTEXT_MAX_CHARS, ...)
//   - ~/.ephemerai/config.toml
//   - Built-in defaults
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete ephemerai configuration.
type Config struct {
	LLM       LLMConfig      `toml:"llm"`
	Tika      TikaConfig     `toml:"tika"`
	Documents DocumentConfig `toml:"documents"`
	Budget    BudgetConfig   `toml:"budget"`
	Server    ServerConfig   `toml:"server"`

	// Debug enables verbose status output: raw collaborator error detail
	// in advisories and debug-level logging.
	Debug bool `toml:"debug"`
}

// LLMConfig describes the model backend.
type LLMConfig struct {
	// BaseURL is the OpenAI-compatible endpoint root, typically Ollama's
	// /v1 surface.
	BaseURL string `toml:"base_url"`

	// NativeURL is the Ollama-native API root used for model metadata and
	// tokenization probes. Derived from BaseURL (trimming a /v1 suffix)
	// when empty.
	NativeURL string `toml:"native_url"`

	// Model is the model identifier sent with every request.
	Model string `toml:"model"`

	// VisionSupport overrides vision-capability detection.
	// nil = auto-detect from backend metadata and model-name heuristics.
	VisionSupport *bool `toml:"vision_support"`

	// RequestTimeoutS bounds non-streaming collaborator calls, in seconds.
	RequestTimeoutS int `toml:"request_timeout_s"`

	// SystemPromptPath is an optional template file for the system message.
	// The template may contain a {{current_time_local}} placeholder.
	SystemPromptPath string `toml:"system_prompt_path"`

	// Timezone is the IANA zone used to render the system message
	// timestamp (default: host local time).
	Timezone string `toml:"timezone"`
}

// TikaConfig describes the document-parsing backend.
type TikaConfig struct {
	// URL is the Tika server root.
	URL string `toml:"url"`

	// TimeoutS bounds a single parse request, in seconds.
	TimeoutS int `toml:"timeout_s"`
}

// DocumentConfig holds the ingestion character caps and prompts.
type DocumentConfig struct {
	// MaxContextChars is the aggregate character cap across all extracted
	// documents in one turn. Zero means "drop everything", not unlimited.
	MaxContextChars int `toml:"max_context_chars"`

	// MaxCharsPerDoc is the per-document character cap. Zero means
	// "drop everything", not unlimited.
	MaxCharsPerDoc int `toml:"max_chars_per_doc"`

	// DefaultUploadPrompt substitutes for an empty user message when files
	// were uploaded, so the model always receives a textual instruction.
	DefaultUploadPrompt string `toml:"default_upload_prompt"`

	// ImageWarnBytes is the size above which an uploaded image produces a
	// may-be-slow advisory. The image is still accepted.
	ImageWarnBytes int64 `toml:"image_warn_bytes"`
}

// BudgetConfig holds the token-budgeting knobs.
type BudgetConfig struct {
	// Enabled toggles context budgeting. When false every turn is sent
	// without estimation or eviction.
	Enabled bool `toml:"enabled"`

	// FallbackContextTokens is the context ceiling used when the backend
	// does not report a context size.
	FallbackContextTokens int `toml:"fallback_context_tokens"`

	// ImageTokenCost is the per-image token cost used when the backend
	// does not report one.
	ImageTokenCost int `toml:"image_token_cost"`
}

// ServerConfig holds the HTTP front-end settings.
type ServerConfig struct {
	// Port for the HTTP server.
	Port int `toml:"port"`

	// SubmitPerMinute caps chat submissions per minute (token bucket).
	// Zero disables the limiter.
	SubmitPerMinute int `toml:"submit_per_minute"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:         "http://ollama:11434/v1",
			Model:           "gemma3-prod",
			RequestTimeoutS: 5,
		},
		Tika: TikaConfig{
			URL:      "http://tika-server:9998",
			TimeoutS: 15,
		},
		Documents: DocumentConfig{
			MaxContextChars:     12000,
			MaxCharsPerDoc:      4000,
			DefaultUploadPrompt: "Please analyze the uploaded files.",
			ImageWarnBytes:      50 * 1024 * 1024,
		},
		Budget: BudgetConfig{
			Enabled:               true,
			FallbackContextTokens: 128000,
			ImageTokenCost:        768,
		},
		Server: ServerConfig{
			Port:            8080,
			SubmitPerMinute: 30,
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the config file (if present) and applies environment
// variable overrides, then validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".ephemerai", "config.toml")
		}
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.LLM.NativeURL == "" {
		cfg.LLM.NativeURL = deriveNativeURL(cfg.LLM.BaseURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// deriveNativeURL strips an OpenAI-compatibility /v1 suffix to find the
// Ollama-native API root.
func deriveNativeURL(baseURL string) string {
	trimmed := strings.TrimRight(baseURL, "/")
	return strings.TrimSuffix(trimmed, "/v1")
}

// applyEnvOverrides applies environment variable overrides. The variable
// names match the deployment environment of the original containers.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
		cfg.LLM.NativeURL = "" // re-derive from the new base
	}
	if v := os.Getenv("LLM_MODEL_NAME"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("TIKA_URL"); v != "" {
		cfg.Tika.URL = v
	}
	if v, ok := envInt("TIKA_TIMEOUT_S"); ok {
		cfg.Tika.TimeoutS = v
	}
	if v, ok := envIntFirst("DOC_CONTEXT_MAX_CHARS", "MAX_CONTEXT_CHARS"); ok {
		cfg.Documents.MaxContextChars = v
	}
	if v, ok := envIntFirst("DOC_CONTEXT_MAX_CHARS_PER_DOC", "MAX_DOC_CHARS"); ok {
		cfg.Documents.MaxCharsPerDoc = v
	}
	if v := os.Getenv("DEFAULT_UPLOAD_PROMPT"); v != "" {
		cfg.Documents.DefaultUploadPrompt = v
	}
	if v := os.Getenv("LLM_SUPPORTS_VISION"); v != "" {
		b := parseBoolish(v)
		cfg.LLM.VisionSupport = &b
	}
	if v := os.Getenv("EPHEMERAI_DEBUG"); v != "" {
		cfg.Debug = parseBoolish(v)
	}
	if v, ok := envInt("EPHEMERAI_PORT"); ok {
		cfg.Server.Port = v
	}
	if v := os.Getenv("SYSTEM_PROMPT_PATH"); v != "" {
		cfg.LLM.SystemPromptPath = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func envIntFirst(names ...string) (int, bool) {
	for _, name := range names {
		if v, ok := envInt(name); ok {
			return v, true
		}
	}
	return 0, false
}

// parseBoolish accepts the loose truthy forms accepted historically.
func parseBoolish(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks invariants the rest of the system relies on.
func (c *Config) Validate() error {
	var errs []error

	if _, err := url.Parse(c.LLM.BaseURL); err != nil || c.LLM.BaseURL == "" {
		errs = append(errs, fmt.Errorf("llm.base_url %q is not a valid URL", c.LLM.BaseURL))
	}
	if _, err := url.Parse(c.Tika.URL); err != nil || c.Tika.URL == "" {
		errs = append(errs, fmt.Errorf("tika.url %q is not a valid URL", c.Tika.URL))
	}

	// Character caps are non-negative; zero means "drop everything".
	if c.Documents.MaxContextChars < 0 {
		errs = append(errs, fmt.Errorf("documents.max_context_chars must be >= 0, got %d", c.Documents.MaxContextChars))
	}
	if c.Documents.MaxCharsPerDoc < 0 {
		errs = append(errs, fmt.Errorf("documents.max_chars_per_doc must be >= 0, got %d", c.Documents.MaxCharsPerDoc))
	}

	if c.Budget.FallbackContextTokens <= 0 {
		errs = append(errs, fmt.Errorf("budget.fallback_context_tokens must be > 0, got %d", c.Budget.FallbackContextTokens))
	}
	if c.Budget.ImageTokenCost < 0 {
		errs = append(errs, fmt.Errorf("budget.image_token_cost must be >= 0, got %d", c.Budget.ImageTokenCost))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	if c.LLM.Timezone != "" {
		if _, err := time.LoadLocation(c.LLM.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("llm.timezone %q: %w", c.LLM.Timezone, err))
		}
	}

	return errors.Join(errs...)
}
