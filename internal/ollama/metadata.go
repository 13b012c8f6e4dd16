// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// DERIVED METADATA
// =============================================================================

// ModelMetadata is the subset of /api/show facts the budgeting and vision
// layers consume, extracted from the loosely-typed model_info map.
type ModelMetadata struct {
	// ContextLength is the model's context window in tokens.
	// Zero means the backend did not report one.
	ContextLength int

	// HasVisionKeys reports whether model_info contains architecture keys
	// associated with image input (vision, clip, projector, mmproj).
	HasVisionKeys bool

	// Capabilities is the backend-reported capability list, when present.
	Capabilities []string

	// ImageTokenCost is the per-image token cost reported by the backend.
	// Zero means not reported; callers use their configured default.
	ImageTokenCost int
}

// HasCapability reports whether the backend listed the named capability.
func (m *ModelMetadata) HasCapability(name string) bool {
	for _, c := range m.Capabilities {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// extractMetadata pulls the interesting facts out of a show response.
func extractMetadata(resp *ShowModelResponse) *ModelMetadata {
	md := &ModelMetadata{Capabilities: resp.Capabilities}

	for key, val := range resp.ModelInfo {
		lower := strings.ToLower(key)
		switch {
		case strings.HasSuffix(lower, ".context_length"):
			if n, ok := asInt(val); ok && n > 0 {
				md.ContextLength = n
			}
		case strings.HasSuffix(lower, ".image_token_count"),
			strings.HasSuffix(lower, ".vision.num_image_tokens"):
			if n, ok := asInt(val); ok && n > 0 {
				md.ImageTokenCost = n
			}
		}
		if strings.Contains(lower, "vision") ||
			strings.Contains(lower, "clip") ||
			strings.Contains(lower, "projector") ||
			strings.Contains(lower, "mmproj") {
			md.HasVisionKeys = true
		}
	}
	return md
}

// asInt converts the JSON number forms that appear in model_info.
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

// =============================================================================
// INSPECTOR
// =============================================================================

const (
	metadataTTL = 60 * time.Second
	healthTTL   = 5 * time.Second
)

// Inspector caches model metadata and reachability probes so that
// per-turn budgeting never waits on a slow backend twice in a row.
// Metadata is cached for 60 seconds, health probes for 5.
type Inspector struct {
	client *Client
	logger *zap.Logger

	mu        sync.Mutex
	meta      map[string]metaEntry
	healthy   bool
	healthyAt time.Time
}

type metaEntry struct {
	md      *ModelMetadata
	fetched time.Time
}

// NewInspector wraps a client with TTL caching.
func NewInspector(client *Client, logger *zap.Logger) *Inspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inspector{
		client: client,
		logger: logger,
		meta:   make(map[string]metaEntry),
	}
}

// Metadata returns cached metadata for the model, refreshing after the
// TTL. An unreachable backend returns an error; callers fall back to
// their configured defaults.
func (i *Inspector) Metadata(ctx context.Context, modelName string) (*ModelMetadata, error) {
	i.mu.Lock()
	if entry, ok := i.meta[modelName]; ok && time.Since(entry.fetched) < metadataTTL {
		i.mu.Unlock()
		return entry.md, nil
	}
	i.mu.Unlock()

	resp, err := i.client.ShowModel(ctx, modelName)
	if err != nil {
		i.logger.Debug("model metadata fetch failed",
			zap.String("model", modelName), zap.Error(err))
		return nil, err
	}
	md := extractMetadata(resp)

	i.mu.Lock()
	i.meta[modelName] = metaEntry{md: md, fetched: time.Now()}
	i.mu.Unlock()

	i.logger.Debug("model metadata refreshed",
		zap.String("model", modelName),
		zap.Int("context_length", md.ContextLength),
		zap.Bool("vision_keys", md.HasVisionKeys))
	return md, nil
}

// Invalidate drops the cached metadata for a model so the next Metadata
// call hits the backend.
func (i *Inspector) Invalidate(modelName string) {
	i.mu.Lock()
	delete(i.meta, modelName)
	i.mu.Unlock()
}

// Healthy reports backend reachability, probing at most once per 5s.
func (i *Inspector) Healthy(ctx context.Context) bool {
	i.mu.Lock()
	if time.Since(i.healthyAt) < healthTTL {
		ok := i.healthy
		i.mu.Unlock()
		return ok
	}
	i.mu.Unlock()

	err := i.client.CheckRunning(ctx)

	i.mu.Lock()
	i.healthy = err == nil
	i.healthyAt = time.Now()
	ok := i.healthy
	i.mu.Unlock()
	return ok
}
