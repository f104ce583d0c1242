package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/callpilot/internal/config"
	"github.com/soyeahso/callpilot/internal/logging"
)

func TestStripMarkdown(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Done, I rescheduled it to **Friday** at **5pm**.", "Done, I rescheduled it to Friday at 5pm."},
		{"an *italic* word", "an italic word"},
		{"run `make`", "run make"},
		{"plain", "plain"},
		{"Reply **yes** or **no**.", "Reply yes or no."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripMarkdown(tt.in))
	}
}

func TestPrepareTextTruncatesRunes(t *testing.T) {
	assert.Equal(t, "héll", PrepareText("  **héllo** ", 4))
	assert.Equal(t, "hello", PrepareText("hello", 0))
	assert.Equal(t, strings.Repeat("é", 600), PrepareText(strings.Repeat("é", 700), 600))
}

type fakeSynth struct {
	calls atomic.Int32
	err   error
	got   string
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.calls.Add(1)
	f.got = text
	if f.err != nil {
		return nil, f.err
	}
	return []byte("audio:" + text), nil
}

func TestSpeakerPreparesText(t *testing.T) {
	f := &fakeSynth{}
	s := NewSpeaker(f, 10, time.Second, logging.Nop())

	audio := s.Speak(context.Background(), "**Hello** there, friend")
	assert.Equal(t, "Hello ther", f.got)
	assert.Equal(t, []byte("audio:Hello ther"), audio)
}

func TestSpeakerSwallowsErrors(t *testing.T) {
	f := &fakeSynth{err: errors.New("quota")}
	s := NewSpeaker(f, 600, time.Second, logging.Nop())
	assert.Nil(t, s.Speak(context.Background(), "hi"))
}

func TestSpeakerBreakerStopsCalling(t *testing.T) {
	f := &fakeSynth{err: errors.New("down")}
	s := NewSpeaker(f, 600, time.Second, logging.Nop())
	for i := 0; i < 10; i++ {
		assert.Nil(t, s.Speak(context.Background(), "hi"))
	}
	assert.EqualValues(t, 5, f.calls.Load())
}

func TestSpeakerDisabled(t *testing.T) {
	var s *Speaker
	assert.False(t, s.Enabled())
	assert.Nil(t, s.Speak(context.Background(), "hi"))

	s = NewSpeaker(nil, 600, 0, logging.Nop())
	assert.False(t, s.Enabled())
	assert.Nil(t, s.Speak(context.Background(), "hi"))
}

func TestSpeakerSkipsEmptyText(t *testing.T) {
	f := &fakeSynth{}
	s := NewSpeaker(f, 600, time.Second, logging.Nop())
	assert.Nil(t, s.Speak(context.Background(), "  ** **  "))
	assert.EqualValues(t, 0, f.calls.Load())
}

func TestNewFromConfig(t *testing.T) {
	synth, err := New(config.SpeechConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, synth)

	synth, err = New(config.SpeechConfig{Enabled: true, APIKey: "k", VoiceID: "v"})
	require.NoError(t, err)
	assert.IsType(t, &ElevenLabs{}, synth)

	_, err = New(config.SpeechConfig{Enabled: true, APIKey: "k"})
	assert.Error(t, err)

	_, err = New(config.SpeechConfig{Enabled: true, Provider: "other", APIKey: "k", VoiceID: "v"})
	assert.Error(t, err)
}

// elevenLabsServer mimics the stream-input endpoint. It records the
// messages it receives and answers with the given chunks.
func elevenLabsServer(t *testing.T, chunks [][]byte, received chan<- map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice-1/stream-input", r.URL.Path)
		assert.Equal(t, "eleven_multilingual_v2", r.URL.Query().Get("model_id"))
		assert.Equal(t, "mp3_44100_128", r.URL.Query().Get("output_format"))

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg map[string]any
			_ = json.Unmarshal(data, &msg)
			if received != nil {
				received <- msg
			}
			if msg["text"] == "" {
				break
			}
		}
		for _, c := range chunks {
			resp, _ := json.Marshal(map[string]any{
				"audio":   base64.StdEncoding.EncodeToString(c),
				"isFinal": false,
			})
			_ = conn.Write(ctx, websocket.MessageText, resp)
		}
		final, _ := json.Marshal(map[string]any{"audio": nil, "isFinal": true})
		_ = conn.Write(ctx, websocket.MessageText, final)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestElevenLabsSynthesize(t *testing.T) {
	received := make(chan map[string]any, 8)
	srv := elevenLabsServer(t, [][]byte{[]byte("abc"), []byte("def")}, received)
	defer srv.Close()

	el, err := NewElevenLabs("key-1", "voice-1", "", "", wsURL(srv))
	require.NoError(t, err)

	audio, err := el.Synthesize(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdef"), audio)

	first := <-received
	assert.Equal(t, "key-1", first["xi_api_key"])
	assert.Equal(t, " ", first["text"])
	second := <-received
	assert.Equal(t, "Hello ", second["text"])
	flush := <-received
	assert.Equal(t, "", flush["text"])
}

func TestElevenLabsErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		_, _, _ = conn.Read(r.Context())
		resp, _ := json.Marshal(map[string]any{"error": "quota_exceeded", "message": "out of credits"})
		_ = conn.Write(r.Context(), websocket.MessageText, resp)
		// Drain until the client goes away.
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	el, err := NewElevenLabs("k", "voice-1", "", "", wsURL(srv))
	require.NoError(t, err)
	_, err = el.Synthesize(context.Background(), "Hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota_exceeded")
}

func TestElevenLabsDialFailure(t *testing.T) {
	el, err := NewElevenLabs("k", "v", "", "", "ws://127.0.0.1:1")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = el.Synthesize(ctx, "x")
	assert.Error(t, err)
}
