package briefing

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/researcher/models"
	"github.com/mohammad-safakhou/researcher/provider"
	"github.com/mohammad-safakhou/researcher/utils"
	"github.com/sirupsen/logrus"
)

// DegradedMessage is the draft produced when no completion service is configured.
const DegradedMessage = "LLM not available. Cannot generate briefing."

// Options is shared by the planner and synthesizer.
type Options struct {
	// Degraded skips every completion call.
	Degraded bool
}

// Synthesizer writes and revises briefings. It keeps no state between calls.
type Synthesizer struct {
	llm      provider.Completer
	degraded bool
	log      *logrus.Entry
}

func NewSynthesizer(llm provider.Completer, opts Options) *Synthesizer {
	return &Synthesizer{
		llm:      llm,
		degraded: opts.Degraded || llm == nil,
		log:      logrus.WithField("component", "synthesizer"),
	}
}

// Draft writes a briefing from the approved sources. A completion failure is
// reported inside the returned text rather than as an error.
func (s *Synthesizer) Draft(ctx context.Context, query string, approved []models.Source) string {
	if s.degraded {
		return DegradedMessage
	}
	out, err := s.llm.Complete(ctx, DraftPrompt(query, approved))
	if err != nil {
		s.log.WithError(err).Error("draft generation failed")
		return fmt.Sprintf("Error generating briefing: %v", err)
	}
	return out
}

// Revise asks for an improved version of draft and falls back to draft on failure.
func (s *Synthesizer) Revise(ctx context.Context, query, draft string) string {
	if s.degraded {
		return draft
	}
	out, err := s.llm.Complete(ctx, fmt.Sprintf(revisePrompt, query, draft))
	if err != nil {
		s.log.WithError(err).Warn("revision failed, keeping draft")
		return draft
	}
	return out
}

// DraftPrompt renders the writer prompt. Sources are numbered from 1.
func DraftPrompt(query string, approved []models.Source) string {
	var b strings.Builder
	for i, src := range approved {
		fmt.Fprintf(&b, "\n[%d] %s: %s\nSource: %s\nContent: %s...\n",
			i+1,
			strings.ToUpper(string(src.Type)),
			src.Title,
			src.Source,
			utils.TruncateRunes(src.Content, sourceExcerptChars),
		)
	}
	return fmt.Sprintf(draftPrompt, query, b.String())
}
