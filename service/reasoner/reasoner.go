// Package reasoner decides disputes. An OpenAI-compatible chat model is asked
// first; a keyword rule answers when no model is configured or the call fails.
package reasoner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brojonat/arbiter/service/config"
)

// Decisions the escrow program accepts.
const (
	DecisionMaker = "maker"
	DecisionTaker = "taker"
)

// DefaultInstructions is the system prompt used when the oracle context has
// no label.
const DefaultInstructions = "You arbitrate escrow disputes between a maker and a taker. " +
	"Read the dispute and answer with exactly one word: maker or taker."

// ErrUndecided is returned when an answer names neither party.
var ErrUndecided = errors.New("answer names neither maker nor taker")

// Reasoner answers a prompt under the given instructions.
type Reasoner interface {
	Reason(ctx context.Context, instructions, prompt string) (string, error)
}

// MapDecision maps a free-text answer to a decision. An answer that mentions
// the taker decides for the taker, even if it also mentions the maker.
func MapDecision(answer string) (string, error) {
	a := strings.ToLower(answer)
	switch {
	case strings.Contains(a, DecisionTaker):
		return DecisionTaker, nil
	case strings.Contains(a, DecisionMaker):
		return DecisionMaker, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUndecided, answer)
	}
}

// New builds the reasoner described by cfg: the keyword rule alone when no
// REASONER_URL is set, otherwise the chat model backed by the keyword rule.
func New(cfg *config.Config, logger *slog.Logger) Reasoner {
	if cfg.ReasonerURL == "" {
		return Keyword{}
	}
	return &Fallback{
		Primary:   NewOpenAIClient(cfg.ReasonerURL, cfg.ReasonerAPIKey, cfg.ReasonerModel, cfg.ReasonerTimeout),
		Secondary: Keyword{},
		Logger:    logger,
	}
}

// Keyword decides by whichever party the prompt names last.
type Keyword struct{}

func (Keyword) Reason(ctx context.Context, instructions, prompt string) (string, error) {
	p := strings.ToLower(prompt)
	maker := strings.LastIndex(p, DecisionMaker)
	taker := strings.LastIndex(p, DecisionTaker)
	switch {
	case maker < 0 && taker < 0:
		return "", fmt.Errorf("%w: prompt names neither party", ErrUndecided)
	case taker > maker:
		return DecisionTaker, nil
	default:
		return DecisionMaker, nil
	}
}

// Fallback asks Primary and, when it fails, Secondary.
type Fallback struct {
	Primary   Reasoner
	Secondary Reasoner
	Logger    *slog.Logger
}

func (f *Fallback) Reason(ctx context.Context, instructions, prompt string) (string, error) {
	answer, err := f.Primary.Reason(ctx, instructions, prompt)
	if err == nil {
		return answer, nil
	}
	if f.Logger != nil {
		f.Logger.WarnContext(ctx, "primary reasoner failed, falling back", "error", err)
	}
	return f.Secondary.Reason(ctx, instructions, prompt)
}
