// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tokens estimates token counts for context budgeting.
//
// The estimator prefers the backend's exact tokenizer endpoint and falls
// back to a character-ratio heuristic when the endpoint is missing or the
// backend is unreachable. Budget math never fails: estimation degrades,
// it does not error.
package tokens

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/ephemerai/internal/ollama"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// charsPerToken is the heuristic ratio used when exact tokenization is
	// unavailable. Deliberately below the usual English average of ~4 so
	// the estimate overshoots and the budget errs toward safety.
	charsPerToken = 3.5

	// maxCacheEntries bounds the estimate cache. When the cap is hit the
	// cache is reset wholesale; entries are tiny and recency tracking
	// would cost more than re-estimating.
	maxCacheEntries = 4096
)

// =============================================================================
// TOKENIZER AVAILABILITY
// =============================================================================

// availability is the latched state of the backend tokenizer endpoint.
type availability int

const (
	// tokenizerUnknown means no probe has answered definitively yet.
	tokenizerUnknown availability = iota
	// tokenizerAvailable means the endpoint has answered at least once.
	tokenizerAvailable
	// tokenizerUnavailable means the endpoint returned 404. Latched for
	// the estimator's lifetime; a backend does not grow the endpoint
	// mid-flight.
	tokenizerUnavailable
)

// Tokenizer is the exact-count source, satisfied by *ollama.Client.
type Tokenizer interface {
	Tokenize(ctx context.Context, modelName, text string) (int, error)
}

// =============================================================================
// ESTIMATOR
// =============================================================================

// Estimator computes token counts for text with caching and graceful
// degradation. Safe for concurrent use.
type Estimator struct {
	tokenizer Tokenizer
	modelName string
	logger    *zap.Logger

	mu    sync.Mutex
	state availability
	cache map[string]int
}

// NewEstimator creates an estimator for the given model. A nil tokenizer
// pins the estimator to the heuristic.
func NewEstimator(tokenizer Tokenizer, modelName string, logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	state := tokenizerUnknown
	if tokenizer == nil {
		state = tokenizerUnavailable
	}
	return &Estimator{
		tokenizer: tokenizer,
		modelName: modelName,
		logger:    logger,
		state:     state,
		cache:     make(map[string]int),
	}
}

// Estimate returns the token count for text. Exact when the backend
// tokenizer is available, heuristic otherwise. Never returns an error.
func (e *Estimator) Estimate(ctx context.Context, text string) int {
	if text == "" {
		return 0
	}

	key := cacheKey(text)

	e.mu.Lock()
	if n, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return n
	}
	state := e.state
	e.mu.Unlock()

	n, exact := 0, false
	if state != tokenizerUnavailable {
		n, exact = e.tryExact(ctx, text)
	}
	if !exact {
		n = Heuristic(text)
	}

	e.mu.Lock()
	if len(e.cache) >= maxCacheEntries {
		e.cache = make(map[string]int)
	}
	e.cache[key] = n
	e.mu.Unlock()
	return n
}

// tryExact asks the backend tokenizer. A 404 latches unavailability;
// transient failures leave the state untouched so later calls retry.
func (e *Estimator) tryExact(ctx context.Context, text string) (int, bool) {
	n, err := e.tokenizer.Tokenize(ctx, e.modelName, text)
	if err == nil {
		e.mu.Lock()
		e.state = tokenizerAvailable
		e.mu.Unlock()
		return n, true
	}

	if ollama.IsUnsupported(err) {
		e.mu.Lock()
		e.state = tokenizerUnavailable
		e.mu.Unlock()
		e.logger.Info("backend has no tokenizer endpoint, using heuristic estimation")
	} else {
		e.logger.Debug("tokenize call failed, falling back to heuristic", zap.Error(err))
	}
	return 0, false
}

// Exact reports whether estimates are currently backed by the real
// tokenizer. Used by status surfaces only; budget math treats exact and
// heuristic counts identically.
func (e *Estimator) Exact() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == tokenizerAvailable
}

// Reset clears the estimate cache. Called when a new conversation starts.
func (e *Estimator) Reset() {
	e.mu.Lock()
	e.cache = make(map[string]int)
	e.mu.Unlock()
}

// =============================================================================
// HEURISTIC
// =============================================================================

// Heuristic converts character length to a token estimate. Empty text is
// zero tokens; any non-empty text counts at least one.
func Heuristic(text string) int {
	if text == "" {
		return 0
	}
	n := int(float64(len(text)) / charsPerToken)
	if n < 1 {
		return 1
	}
	return n
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
