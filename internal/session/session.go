// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session orchestrates one browser session's conversation: it
// runs uploads through ingestion, enforces the context budget, encodes
// the payload, streams the model's reply, and owns every per-session
// cache so a new conversation starts genuinely clean.
package session

import (
	"context"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/jeranaias/ephemerai/internal/assemble"
	"github.com/jeranaias/ephemerai/internal/budget"
	"github.com/jeranaias/ephemerai/internal/encode"
	"github.com/jeranaias/ephemerai/internal/ingest"
	"github.com/jeranaias/ephemerai/internal/llm"
	"github.com/jeranaias/ephemerai/internal/model"
	"github.com/jeranaias/ephemerai/internal/ollama"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Chatter streams completions, satisfied by *llm.Client.
type Chatter interface {
	StreamChat(ctx context.Context, messages []openai.ChatCompletionMessage, onDelta func(string)) (llm.Usage, error)
}

// Normalizer ingests uploads, satisfied by *ingest.Normalizer.
type Normalizer interface {
	Normalize(ctx context.Context, uploads []ingest.Upload) ingest.Result
}

// Enforcer runs the budget state machine, satisfied by *budget.Enforcer.
type Enforcer interface {
	Enforce(ctx context.Context, baseTokens int, limits budget.Limits, in assemble.Input) budget.Decision
}

// MetadataSource supplies backend metadata, satisfied by *ollama.Inspector.
type MetadataSource interface {
	Metadata(ctx context.Context, modelName string) (*ollama.ModelMetadata, error)
}

// VisionSource resolves image support, satisfied by *vision.Detector.
type VisionSource interface {
	Supported(ctx context.Context, modelName string) bool
}

// Estimator prices text, satisfied by *tokens.Estimator.
type Estimator interface {
	Estimate(ctx context.Context, text string) int
	Reset()
}

// ParseCache is the session-scoped document cache, satisfied by
// *tika.Parser.
type ParseCache interface {
	Clear()
}

// PromptSource serves the system prompt template, satisfied by
// *config.PromptStore.
type PromptSource interface {
	Template() string
}

// =============================================================================
// SESSION
// =============================================================================

// Config carries the session-level knobs.
type Config struct {
	ModelName             string
	DefaultUploadPrompt   string
	FallbackContextTokens int
	ImageTokenCost        int
	Location              *time.Location
	Debug                 bool
}

// Session owns one conversation and its derived state. All methods are
// safe for concurrent use, but submissions serialize: one turn streams
// at a time.
type Session struct {
	cfg        Config
	normalizer Normalizer
	enforcer   Enforcer
	estimator  Estimator
	metadata   MetadataSource
	vision     VisionSource
	chatter    Chatter
	prompts    PromptSource
	parseCache ParseCache
	logger     *zap.Logger

	mu   sync.Mutex
	conv *model.Conversation

	// lastUsage is the backend-reported usage from the previous turn.
	// When valid it seeds the next turn's base token count exactly;
	// otherwise the base is re-estimated heuristically. The two sources
	// are never mixed within one turn.
	lastUsage      llm.Usage
	lastUsageValid bool

	// lastVision tracks the vision answer used for the previous turn so
	// a capability flip invalidates the usage seed, whose prompt shape
	// no longer matches what will be sent.
	lastVision      bool
	lastVisionKnown bool

	// visionDropNoticed dedups the dropped-images advisory per session.
	visionDropNoticed bool

	advisories []model.Advisory
}

// New creates a session with an empty conversation.
func New(cfg Config, normalizer Normalizer, enforcer Enforcer, estimator Estimator,
	metadata MetadataSource, vision VisionSource, chatter Chatter,
	prompts PromptSource, parseCache ParseCache, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:        cfg,
		normalizer: normalizer,
		enforcer:   enforcer,
		estimator:  estimator,
		metadata:   metadata,
		vision:     vision,
		chatter:    chatter,
		prompts:    prompts,
		parseCache: parseCache,
		logger:     logger,
		conv:       model.NewConversation(cfg.ModelName),
	}
}

// Conversation returns the live conversation. Callers must treat it as
// read-only.
func (s *Session) Conversation() *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv
}

// Advisories drains the advisories accumulated since the last call.
func (s *Session) Advisories() []model.Advisory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.advisories
	s.advisories = nil
	return out
}

// NewConversation discards the history and every per-session cache.
func (s *Session) NewConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conv = model.NewConversation(s.cfg.ModelName)
	s.lastUsageValid = false
	s.lastVisionKnown = false
	s.visionDropNoticed = false
	s.advisories = nil
	s.estimator.Reset()
	if s.parseCache != nil {
		s.parseCache.Clear()
	}
	s.logger.Info("conversation cleared")
}

// =============================================================================
// SUBMISSION
// =============================================================================

// Submit processes one user submission end to end. onDelta receives
// streamed response fragments. The returned turn is the assistant turn
// (streamed reply, rejection notice, or failure notice); nil means the
// submission was empty and nothing happened.
func (s *Session) Submit(ctx context.Context, text string, uploads []ingest.Upload, onDelta func(string)) (*model.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ing := s.normalizer.Normalize(ctx, uploads)
	s.advisories = append(s.advisories, ing.Advisories...)

	in := assemble.Input{
		UserText:            text,
		Markers:             ing.Markers,
		Images:              ing.Images,
		Documents:           ing.Documents,
		DefaultUploadPrompt: s.cfg.DefaultUploadPrompt,
	}

	limits, visionOK := s.resolveTurnContext(ctx)
	baseTokens := s.baseTokens(ctx, visionOK)

	decision := s.enforcer.Enforce(ctx, baseTokens, limits, in)
	if decision.Turn == nil {
		return nil, nil
	}
	s.advisories = append(s.advisories, decision.Advisories...)

	if decision.State == budget.StateRejected {
		// No backend call, and the oversized turn never enters the
		// history: only the notice does, so the conversation stays usable.
		notice := model.NewAssistantNotice(decision.RejectionNotice)
		s.conv.Append(notice)
		s.lastUsageValid = false
		return notice, nil
	}
	s.conv.Append(decision.Turn)

	return s.stream(ctx, visionOK, onDelta)
}

// stream encodes the conversation and runs the model call, folding the
// outcome into the conversation whatever happens.
func (s *Session) stream(ctx context.Context, visionOK bool, onDelta func(string)) (*model.Turn, error) {
	payload := encode.Encode(s.conv.Turns, encode.Options{
		SystemTemplate:  s.prompts.Template(),
		Location:        s.cfg.Location,
		VisionSupported: visionOK,
	})
	if payload.DroppedImages > 0 && !s.visionDropNoticed {
		s.visionDropNoticed = true
		s.advisories = append(s.advisories, model.NewAdvisory(model.AdvisoryVision,
			"This model cannot see images, so uploaded pictures were not sent. Their names remain in the transcript."))
	}

	reply := model.NewStreamingAssistantTurn()
	s.conv.Append(reply)

	usage, err := s.chatter.StreamChat(ctx, payload.Messages, func(delta string) {
		reply.AppendDelta(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	})
	if err != nil {
		reply.FinalizeStream(0, 0)
		if reply.Text == "" {
			reply.Text = llm.UserMessage(err)
		}
		adv := model.NewAdvisory(model.AdvisoryStream, llm.UserMessage(err))
		if s.cfg.Debug {
			adv.Detail = err.Error()
		}
		s.advisories = append(s.advisories, adv)
		s.lastUsageValid = false
		s.logger.Warn("model call failed", zap.Error(err))
		return reply, err
	}

	reply.FinalizeStream(usage.PromptTokens, usage.CompletionTokens)
	s.lastUsage = usage
	s.lastUsageValid = usage.PromptTokens > 0
	return reply, nil
}

// =============================================================================
// BUDGET SEEDING
// =============================================================================

// resolveTurnContext fetches the per-turn backend facts: budget limits
// and vision support. Metadata failures degrade to configured fallbacks.
func (s *Session) resolveTurnContext(ctx context.Context) (budget.Limits, bool) {
	contextLength, imageCostOverride := 0, 0
	if md, err := s.metadata.Metadata(ctx, s.cfg.ModelName); err == nil {
		contextLength = md.ContextLength
		imageCostOverride = md.ImageTokenCost
	}
	limits := budget.ResolveLimits(contextLength, s.cfg.FallbackContextTokens,
		imageCostOverride, s.cfg.ImageTokenCost)

	visionOK := s.vision.Supported(ctx, s.cfg.ModelName)
	if !visionOK {
		// Images never reach a text-only model, so they cost nothing.
		limits.ImageTokenCost = 0
	}
	if s.lastVisionKnown && visionOK != s.lastVision {
		// The payload shape changed under us; the previous usage figure
		// no longer describes what the next request will contain.
		s.lastUsageValid = false
		s.logger.Info("vision capability changed, discarding usage seed",
			zap.Bool("vision", visionOK))
	}
	s.lastVision = visionOK
	s.lastVisionKnown = true
	return limits, visionOK
}

// baseTokens prices the existing history: the backend's exact usage from
// the previous turn when available, otherwise a heuristic estimate of
// the flattened history. Exactly one source per turn.
func (s *Session) baseTokens(ctx context.Context, visionOK bool) int {
	if s.lastUsageValid {
		return s.lastUsage.PromptTokens + s.lastUsage.CompletionTokens
	}
	base := s.estimator.Estimate(ctx, assemble.FlattenHistory(s.conv.Turns))
	if visionOK {
		base += s.historyImageCount() * s.cfg.ImageTokenCost
	}
	return base
}

func (s *Session) historyImageCount() int {
	n := 0
	for _, t := range s.conv.Turns {
		for _, p := range t.Parts {
			if p.IsImage() {
				n++
			}
		}
	}
	return n
}
