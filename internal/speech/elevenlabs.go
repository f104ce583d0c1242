package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/coder/websocket"

	"github.com/soyeahso/callpilot/internal/config"
)

const (
	defaultEndpoint     = "wss://api.elevenlabs.io"
	streamInputPathFmt  = "/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	defaultModel        = "eleven_multilingual_v2"
	defaultOutputFormat = "mp3_44100_128"
)

// ElevenLabs synthesizes speech over the stream-input WebSocket API.
type ElevenLabs struct {
	apiKey       string
	voiceID      string
	model        string
	outputFormat string
	endpoint     string
}

// NewElevenLabs creates a client. apiKey and voiceID are required.
func NewElevenLabs(apiKey, voiceID, model, outputFormat, endpoint string) (*ElevenLabs, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	if model == "" {
		model = defaultModel
	}
	if outputFormat == "" {
		outputFormat = defaultOutputFormat
	}
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &ElevenLabs{
		apiKey:       apiKey,
		voiceID:      voiceID,
		model:        model,
		outputFormat: outputFormat,
		endpoint:     strings.TrimSuffix(endpoint, "/"),
	}, nil
}

// New builds the configured synthesizer, or nil when speech is disabled.
func New(cfg config.SpeechConfig) (Synthesizer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Provider {
	case "", "elevenlabs":
		return NewElevenLabs(cfg.APIKey, cfg.VoiceID, cfg.Model, cfg.OutputFormat, cfg.Endpoint)
	default:
		return nil, fmt.Errorf("unknown speech provider %q", cfg.Provider)
	}
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// initMessage opens the stream and authenticates.
type initMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

type textMessage struct {
	Text string `json:"text"`
}

type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (e *ElevenLabs) url() string {
	return e.endpoint + fmt.Sprintf(streamInputPathFmt, e.voiceID, e.model, e.outputFormat)
}

// Synthesize sends text as a single chunk, flushes, and concatenates the
// audio chunks until the server marks the stream final or closes it.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, error) {
	conn, _, err := websocket.Dial(ctx, e.url(), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	conn.SetReadLimit(8 << 20)

	msgs := []any{
		initMessage{
			Text:          " ",
			VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
			XiAPIKey:      e.apiKey,
		},
		textMessage{Text: text + " "},
		textMessage{Text: ""},
	}
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: encode: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	var audio []byte
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && len(audio) > 0 {
				return audio, nil
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}

		var resp audioResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("elevenlabs: %s: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			audio = append(audio, chunk...)
		}
		if resp.IsFinal {
			if len(audio) == 0 {
				return nil, errors.New("elevenlabs: empty audio")
			}
			return audio, nil
		}
	}
}
