package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/soyeahso/callpilot/internal/dialogue"
	"github.com/soyeahso/callpilot/internal/domain"
	"github.com/soyeahso/callpilot/internal/llm"
	"github.com/soyeahso/callpilot/internal/logging"
	"github.com/soyeahso/callpilot/internal/observe"
)

// ReplyAIError is shown when the model could not be reached.
const ReplyAIError = "Sorry, I hit an AI error. Please try again."

// ErrExtraction wraps provider failures during extraction. It never leaves
// Extract; it only appears in logs.
var ErrExtraction = errors.New("extraction failed")

// ExtractorConfig tunes the model call.
type ExtractorConfig struct {
	HistoryTurns int
	Timeout      time.Duration
	Temperature  *float64
	MaxTokens    int
	Metrics      *observe.Metrics
}

// Extractor asks the model for a reply and slot values for one turn.
type Extractor struct {
	client llm.Client
	cfg    ExtractorConfig
	log    *logging.Logger
}

// NewExtractor creates an Extractor over client.
func NewExtractor(client llm.Client, cfg ExtractorConfig, log *logging.Logger) *Extractor {
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 12
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.Noop()
	}
	return &Extractor{client: client, cfg: cfg, log: log.Sub("extractor")}
}

// Extract implements dialogue.Extractor. Provider errors and timeouts turn
// into the apology reply with Failed set.
func (e *Extractor) Extract(ctx context.Context, text string, history []domain.Turn, slots domain.SlotState) dialogue.ExtractResult {
	msgs := historyMessages(history, text, e.cfg.HistoryTurns)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: slotHint(slots, text)})

	req := llm.CompletionRequest{
		System:      systemPrompt,
		Messages:    msgs,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		JSON:        true,
		Schema:      responseSchema,
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.client.Complete(ctx, req)
	e.cfg.Metrics.RecordExtraction(ctx, err != nil, time.Since(start))
	if err != nil {
		e.log.Warn().Err(fmt.Errorf("%w: %w", ErrExtraction, err)).Msg("model call failed")
		return dialogue.ExtractResult{Reply: ReplyAIError, Failed: true}
	}

	reply, ext, ok := parseReply(resp.Content)
	if !ok {
		e.log.Debug().Str("provider", resp.Provider).Msg("model output did not match the reply shape")
	}
	e.log.Debug().
		Str("provider", resp.Provider).
		Int("inputTokens", resp.Usage.InputTokens).
		Int("outputTokens", resp.Usage.OutputTokens).
		Dur("duration", resp.Duration).
		Msg("extraction complete")

	return dialogue.ExtractResult{Reply: reply, Slots: ext}
}

// fenceRe matches a whole response wrapped in a markdown code fence.
var fenceRe = regexp.MustCompile("(?s)^```[A-Za-z]*\\s*(.*?)\\s*```$")

// parseReply validates {"reply": string, "extract": {name,date,time: string|null}}.
// On any mismatch it returns the trimmed raw text and an empty extraction.
func parseReply(raw string) (string, domain.Extraction, bool) {
	fallback := strings.TrimSpace(raw)

	body := fallback
	if m := fenceRe.FindStringSubmatch(body); m != nil {
		body = m[1]
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &top); err != nil || top == nil {
		return fallback, domain.Extraction{}, false
	}

	var reply string
	rawReply, ok := top["reply"]
	if !ok || json.Unmarshal(rawReply, &reply) != nil {
		return fallback, domain.Extraction{}, false
	}

	var fields map[string]json.RawMessage
	rawExtract, ok := top["extract"]
	if !ok || json.Unmarshal(rawExtract, &fields) != nil || fields == nil {
		return fallback, domain.Extraction{}, false
	}

	var ext domain.Extraction
	for key, dst := range map[string]**string{"name": &ext.Name, "date": &ext.Date, "time": &ext.Time} {
		v, ok, valid := optionalString(fields[key])
		if !valid {
			return fallback, domain.Extraction{}, false
		}
		if ok {
			*dst = &v
		}
	}
	return strings.TrimSpace(reply), ext, true
}

// optionalString decodes a string-or-null value. A missing field counts as
// null.
func optionalString(raw json.RawMessage) (value string, present, valid bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false, true
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false, false
	}
	return value, true, true
}
