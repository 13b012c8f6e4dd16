// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import "time"

// =============================================================================
// MODEL LISTING
// =============================================================================

// ModelInfo describes one locally available model.
type ModelInfo struct {
	Name       string    `json:"name"`
	Model      string    `json:"model"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
}

// ListModelsResponse is the response from GET /api/tags.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// =============================================================================
// MODEL METADATA
// =============================================================================

// ShowModelRequest is the request body for POST /api/show.
type ShowModelRequest struct {
	Name string `json:"name"`
}

// ShowModelResponse is the response from POST /api/show. ModelInfo is a
// loosely-typed map whose keys are architecture-prefixed, for example
// "llama.context_length" or "clip.vision.image_size".
type ShowModelResponse struct {
	Modelfile    string                 `json:"modelfile,omitempty"`
	Parameters   string                 `json:"parameters,omitempty"`
	Template     string                 `json:"template,omitempty"`
	Details      ModelDetails           `json:"details,omitempty"`
	ModelInfo    map[string]interface{} `json:"model_info,omitempty"`
	Capabilities []string               `json:"capabilities,omitempty"`
}

// ModelDetails holds structural facts about a model.
type ModelDetails struct {
	Family            string   `json:"family,omitempty"`
	Families          []string `json:"families,omitempty"`
	ParameterSize     string   `json:"parameter_size,omitempty"`
	QuantizationLevel string   `json:"quantization_level,omitempty"`
}

// =============================================================================
// TOKENIZATION
// =============================================================================

// TokenizeRequest is the request body for POST /api/tokenize.
type TokenizeRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

// TokenizeResponse is the response from POST /api/tokenize.
type TokenizeResponse struct {
	Tokens []int `json:"tokens"`
}
