// Package speech renders assistant replies as audio. Synthesis is best
// effort: failures are logged and the reply goes out without audio.
package speech

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/soyeahso/callpilot/internal/logging"
	"github.com/soyeahso/callpilot/internal/resilience"
)

// Synthesizer turns text into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

var (
	boldRe   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe = regexp.MustCompile(`\*(.+?)\*`)
	codeRe   = regexp.MustCompile("`([^`]*)`")
)

// StripMarkdown removes bold, italic and inline code markers, keeping the
// enclosed text.
func StripMarkdown(text string) string {
	text = boldRe.ReplaceAllString(text, "$1")
	text = italicRe.ReplaceAllString(text, "$1")
	text = codeRe.ReplaceAllString(text, "$1")
	return text
}

// PrepareText strips markdown and truncates to at most maxChars runes.
func PrepareText(text string, maxChars int) string {
	text = strings.TrimSpace(StripMarkdown(text))
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) > maxChars {
		return string(runes[:maxChars])
	}
	return text
}

// Speaker wraps a Synthesizer with text preparation, a timeout and a
// circuit breaker.
type Speaker struct {
	synth    Synthesizer
	maxChars int
	timeout  time.Duration
	breaker  *resilience.Breaker
	log      *logging.Logger
}

// NewSpeaker creates a Speaker. A nil synth yields a Speaker that never
// produces audio.
func NewSpeaker(synth Synthesizer, maxChars int, timeout time.Duration, log *logging.Logger) *Speaker {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Speaker{
		synth:    synth,
		maxChars: maxChars,
		timeout:  timeout,
		breaker:  resilience.New(resilience.Config{Name: "speech"}, log),
		log:      log.Sub("speech"),
	}
}

// Enabled reports whether a synthesizer is configured.
func (s *Speaker) Enabled() bool {
	return s != nil && s.synth != nil
}

// Speak returns audio for text, or nil when synthesis is disabled, the
// text is empty, or the synthesizer failed.
func (s *Speaker) Speak(ctx context.Context, text string) []byte {
	if !s.Enabled() {
		return nil
	}
	prepared := PrepareText(text, s.maxChars)
	if prepared == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var audio []byte
	err := s.breaker.Execute(func() error {
		var err error
		audio, err = s.synth.Synthesize(ctx, prepared)
		return err
	})
	if err != nil {
		s.log.Warn().Err(err).Int("chars", len([]rune(prepared))).Msg("speech synthesis failed")
		return nil
	}
	return audio
}
