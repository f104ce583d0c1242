package agent

import (
	"fmt"
	"strings"

	"github.com/soyeahso/callpilot/internal/domain"
	"github.com/soyeahso/callpilot/internal/llm"
)

const systemPrompt = `You are CallPilot, an AI receptionist.
Help the user schedule an appointment by collecting: name, date, time.
Ask ONE follow-up question if something is missing.
Keep replies short and clear.
Always answer with a single JSON object of the form
{"reply": "<your message to the user>", "extract": {"name": <string or null>, "date": <string or null>, "time": <string or null>}}
Fill a field in "extract" only when the user stated it; use null otherwise.`

// responseSchema is the structured output contract in the OpenAPI subset
// the Generative Language API accepts.
var responseSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"reply": map[string]any{"type": "STRING"},
		"extract": map[string]any{
			"type": "OBJECT",
			"properties": map[string]any{
				"name": map[string]any{"type": "STRING", "nullable": true},
				"date": map[string]any{"type": "STRING", "nullable": true},
				"time": map[string]any{"type": "STRING", "nullable": true},
			},
			"required": []string{"name", "date", "time"},
		},
	},
	"required": []string{"reply", "extract"},
}

// slotHint is the trailing user message carrying the known slots.
func slotHint(slots domain.SlotState, text string) string {
	return fmt.Sprintf("Known slots so far: %s\nUser message: %s", slots, text)
}

// historyMessages converts the transcript into model messages. Empty turns
// are dropped, only the last limit turns are kept, and a trailing user turn
// equal to current is removed because current is sent separately.
func historyMessages(history []domain.Turn, current string, limit int) []llm.Message {
	msgs := make([]llm.Message, 0, len(history))
	for _, t := range history {
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		role := llm.RoleUser
		if t.Role == domain.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: content})
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role == llm.RoleUser && msgs[n-1].Content == strings.TrimSpace(current) {
		msgs = msgs[:n-1]
	}
	return msgs
}
