// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package vision decides whether the active model accepts image input.
//
// Detection order: explicit configuration override, then model-name
// heuristics, then backend metadata. An unreachable backend resolves to
// false so images are dropped with an advisory rather than sent to a
// model that will reject or silently ignore them.
package vision

import (
	"context"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/ephemerai/internal/ollama"
)

// =============================================================================
// NAME HEURISTICS
// =============================================================================

// visionNamePattern matches model names that are known multimodal
// families. Checked before backend metadata because it is free and the
// common local deployments name their models after the family.
var visionNamePattern = regexp.MustCompile(`(?i)(vision|llava|moondream|bakllava|qwen[.-]?vl|qwen2[.-]?vl|minicpm-v|gpt-4o|gemma3|pixtral|llama3\.2-vision)`)

// NameSuggestsVision reports whether the model name alone implies image
// support.
func NameSuggestsVision(modelName string) bool {
	return visionNamePattern.MatchString(modelName)
}

// =============================================================================
// DETECTOR
// =============================================================================

// MetadataSource supplies backend model metadata, satisfied by
// *ollama.Inspector.
type MetadataSource interface {
	Metadata(ctx context.Context, modelName string) (*ollama.ModelMetadata, error)
}

// visionTTL bounds how long a resolved answer is trusted. A model swapped
// behind the same name is picked up within a minute, matching the
// inspector's metadata cache.
const visionTTL = 60 * time.Second

// Detector resolves and caches the vision capability of the active model.
// Safe for concurrent use.
type Detector struct {
	override *bool
	source   MetadataSource
	logger   *zap.Logger

	mu       sync.Mutex
	resolved map[string]resolvedEntry
}

type resolvedEntry struct {
	value bool
	at    time.Time
}

// NewDetector creates a detector. A non-nil override short-circuits all
// probing.
func NewDetector(override *bool, source MetadataSource, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		override: override,
		source:   source,
		logger:   logger,
		resolved: make(map[string]resolvedEntry),
	}
}

// Supported reports whether the model accepts images. Answers are cached
// per model name for visionTTL; Invalidate drops them immediately when
// the deployment is known to have changed.
func (d *Detector) Supported(ctx context.Context, modelName string) bool {
	if d.override != nil {
		return *d.override
	}

	d.mu.Lock()
	if e, ok := d.resolved[modelName]; ok && time.Since(e.at) < visionTTL {
		d.mu.Unlock()
		return e.value
	}
	d.mu.Unlock()

	v := d.probe(ctx, modelName)

	d.mu.Lock()
	d.resolved[modelName] = resolvedEntry{value: v, at: time.Now()}
	d.mu.Unlock()
	return v
}

func (d *Detector) probe(ctx context.Context, modelName string) bool {
	if NameSuggestsVision(modelName) {
		d.logger.Debug("vision inferred from model name", zap.String("model", modelName))
		return true
	}

	if d.source == nil {
		return false
	}
	md, err := d.source.Metadata(ctx, modelName)
	if err != nil {
		d.logger.Debug("vision probe failed, assuming text-only",
			zap.String("model", modelName), zap.Error(err))
		return false
	}
	if md.HasCapability("vision") || md.HasVisionKeys {
		d.logger.Debug("vision confirmed by backend metadata", zap.String("model", modelName))
		return true
	}
	return false
}

// Invalidate forgets the cached answer for a model. The session calls
// this alongside metadata invalidation so a model swap behind the same
// name is picked up.
func (d *Detector) Invalidate(modelName string) {
	d.mu.Lock()
	delete(d.resolved, modelName)
	d.mu.Unlock()
}
