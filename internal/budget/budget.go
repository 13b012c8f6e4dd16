// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package budget enforces the context-window budget for outgoing turns.
//
// Every submission passes through a small state machine: estimate the
// full payload, and if it exceeds the ceiling, evict attached documents
// most-recently-added first until it fits. When nothing is left to evict
// and the payload still does not fit, the turn is rejected with a
// synthesized notice instead of a doomed backend call.
package budget

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jeranaias/ephemerai/internal/assemble"
	"github.com/jeranaias/ephemerai/internal/model"
)

// =============================================================================
// LIMITS
// =============================================================================

const (
	// ceilingFraction is applied to a backend-reported context length,
	// reserving headroom for the response and per-message overhead.
	ceilingFraction = 0.95

	// warnFraction of the ceiling triggers the near-limit advisory.
	warnFraction = 0.85
)

// Limits is the resolved budget for one submission.
type Limits struct {
	// Ceiling is the hard token budget for the outgoing payload.
	Ceiling int

	// WarnAt is the near-limit threshold.
	WarnAt int

	// ImageTokenCost is the per-image charge.
	ImageTokenCost int
}

// ResolveLimits computes the budget from backend metadata. A reported
// context length is discounted by the headroom fraction; the fallback is
// used as-is because it is already a conservative figure, not a real
// window measurement.
func ResolveLimits(contextLength, fallbackTokens, imageCostOverride, imageCostDefault int) Limits {
	ceiling := fallbackTokens
	if contextLength > 0 {
		ceiling = int(float64(contextLength) * ceilingFraction)
	}
	cost := imageCostDefault
	if imageCostOverride > 0 {
		cost = imageCostOverride
	}
	return Limits{
		Ceiling:        ceiling,
		WarnAt:         int(float64(ceiling) * warnFraction),
		ImageTokenCost: cost,
	}
}

// =============================================================================
// DECISION
// =============================================================================

// State is the terminal state of one enforcement pass.
type State int

const (
	// StateFits means the payload fit without intervention.
	StateFits State = iota

	// StateEvicted means the payload fits after dropping documents.
	StateEvicted

	// StateRejected means the payload cannot fit even with every
	// document evicted. No backend call should be made.
	StateRejected
)

// Decision is the outcome of enforcing the budget on one submission.
type Decision struct {
	State State

	// Turn is the built user turn, rebuilt if eviction occurred. On a
	// rejected decision it must not be appended to the history; callers
	// record only the rejection notice.
	Turn *model.Turn

	// TotalTokens is the estimated payload size for the decided turn.
	TotalTokens int

	// Limits echoes the budget the decision was made against.
	Limits Limits

	// NearLimit is set when the accepted payload crosses the warn
	// threshold.
	NearLimit bool

	// Evicted lists dropped document filenames, most recent first.
	Evicted []string

	// Advisories raised during enforcement: at most one eviction notice
	// plus the near-limit warning.
	Advisories []model.Advisory

	// RejectionNotice is the synthesized assistant reply for a rejected
	// turn.
	RejectionNotice string
}

// =============================================================================
// ENFORCER
// =============================================================================

// Estimator supplies token counts, satisfied by *tokens.Estimator.
type Estimator interface {
	Estimate(ctx context.Context, text string) int
}

// Enforcer runs the budget state machine.
type Enforcer struct {
	estimator Estimator
	enabled   bool
	logger    *zap.Logger
	printer   *message.Printer
}

// NewEnforcer creates an enforcer. When enabled is false every turn
// passes through untouched.
func NewEnforcer(estimator Estimator, enabled bool, logger *zap.Logger) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{
		estimator: estimator,
		enabled:   enabled,
		logger:    logger,
		printer:   message.NewPrinter(language.English),
	}
}

// Enforce decides whether the submission fits the budget, evicting
// documents if needed. baseTokens is the cost of the existing history,
// seeded by the session from backend usage or heuristic estimation.
func (e *Enforcer) Enforce(ctx context.Context, baseTokens int, limits Limits, in assemble.Input) Decision {
	turn := assemble.BuildTurn(in)
	if turn == nil {
		return Decision{State: StateFits}
	}
	if !e.enabled {
		return Decision{State: StateFits, Turn: turn, Limits: limits}
	}

	total := e.estimatePayload(ctx, baseTokens, limits, turn, len(in.Images))
	if total <= limits.Ceiling {
		return e.accept(StateFits, turn, total, limits, nil)
	}

	// Evicting: drop documents most-recently-added first, rebuilding the
	// turn after each pass so its synthetic block and markers shrink.
	working := in
	var evicted []string
	for len(working.Documents) > 0 {
		last := working.Documents[len(working.Documents)-1]
		evicted = append(evicted, last.Filename)
		working = dropDocument(working, last.Filename)

		turn = assemble.BuildTurn(working)
		if turn == nil {
			break
		}
		total = e.estimatePayload(ctx, baseTokens, limits, turn, len(working.Images))
		if total <= limits.Ceiling {
			e.logger.Info("documents evicted to fit context budget",
				zap.Strings("evicted", evicted),
				zap.Int("total_tokens", total),
				zap.Int("ceiling", limits.Ceiling))
			return e.accept(StateEvicted, turn, total, limits, evicted)
		}
	}

	e.logger.Warn("submission rejected, payload exceeds context budget with all documents evicted",
		zap.Int("total_tokens", total),
		zap.Int("ceiling", limits.Ceiling))
	return Decision{
		State:       StateRejected,
		Turn:        assemble.BuildTurn(in),
		TotalTokens: total,
		Limits:      limits,
		Evicted:     evicted,
		RejectionNotice: e.printer.Sprintf(
			"This message is too large to send: it needs roughly %d tokens but the model can accept about %d. "+
				"Shorten the message or start a new conversation.",
			total, limits.Ceiling),
	}
}

// estimatePayload prices a candidate turn on top of the history base.
func (e *Enforcer) estimatePayload(ctx context.Context, baseTokens int, limits Limits, turn *model.Turn, imageCount int) int {
	text := assemble.FlattenHistory([]*model.Turn{turn})
	return baseTokens + e.estimator.Estimate(ctx, text) + imageCount*limits.ImageTokenCost
}

// accept finalizes a fitting decision, attaching the eviction advisory
// (at most one, whatever the count) and the near-limit warning.
func (e *Enforcer) accept(state State, turn *model.Turn, total int, limits Limits, evicted []string) Decision {
	d := Decision{
		State:       state,
		Turn:        turn,
		TotalTokens: total,
		Limits:      limits,
		Evicted:     evicted,
	}
	if len(evicted) > 0 {
		d.Advisories = append(d.Advisories, model.NewAdvisory(model.AdvisoryBudget,
			fmt.Sprintf("Dropped %s to fit the conversation in the model's context window.",
				humanList(evicted))))
	}
	if total >= limits.WarnAt {
		d.NearLimit = true
		d.Advisories = append(d.Advisories, model.NewAdvisory(model.AdvisoryBudget,
			e.printer.Sprintf("The conversation is using about %d of %d available tokens. Consider starting a new conversation soon.",
				total, limits.Ceiling)))
	}
	return d
}

// =============================================================================
// EVICTION HELPERS
// =============================================================================

// dropDocument removes a document and its marker from the input. Image
// markers survive even when an image shares the document's filename.
func dropDocument(in assemble.Input, filename string) assemble.Input {
	out := in

	docs := make([]model.DocumentEntry, 0, len(in.Documents))
	for _, d := range in.Documents {
		if d.Filename != filename {
			docs = append(docs, d)
		}
	}
	out.Documents = docs

	imageNames := make(map[string]bool, len(in.Images))
	for _, img := range in.Images {
		imageNames[img.Filename] = true
	}

	markers := make([]model.ContentPart, 0, len(in.Markers))
	for _, m := range in.Markers {
		if m.Attachment == filename && !imageNames[filename] {
			continue
		}
		markers = append(markers, m)
	}
	out.Markers = markers
	return out
}

// humanList joins filenames for the eviction advisory.
func humanList(names []string) string {
	switch len(names) {
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		s := ""
		for i, n := range names[:len(names)-1] {
			if i > 0 {
				s += ", "
			}
			s += n
		}
		return s + ", and " + names[len(names)-1]
	}
}
