package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/callpilot/internal/agent"
	"github.com/soyeahso/callpilot/internal/config"
	"github.com/soyeahso/callpilot/internal/domain"
)

func newChatCmd() *cobra.Command {
	var (
		conversation string
		audioDir     string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant in the terminal",
		Long: "Starts an interactive conversation. Type /reset to start over with a " +
			"new conversation and /quit to exit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := config.RequireServing(&cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			r := &repl{
				runner:   a.runner,
				in:       cmd.InOrStdin(),
				out:      cmd.OutOrStdout(),
				audioDir: audioDir,
				audioExt: audioExtension(cfg.Speech.OutputFormat),
			}
			return r.run(ctx, conversation)
		},
	}

	cmd.Flags().StringVar(&conversation, "conversation", "", "resume a conversation by id")
	cmd.Flags().StringVar(&audioDir, "audio-dir", "", "save synthesized replies to this directory")

	return cmd
}

// repl drives one terminal session.
type repl struct {
	runner   *agent.Runner
	in       io.Reader
	out      io.Writer
	audioDir string
	audioExt string

	id    string
	saved int
}

func (r *repl) run(ctx context.Context, id string) error {
	sess, err := r.runner.Start(ctx, id)
	if err != nil {
		return err
	}
	r.id = sess.ConversationID
	if sess.Created {
		fmt.Fprintf(r.out, "Conversation %s\n", r.id)
	} else {
		fmt.Fprintf(r.out, "Resuming conversation %s\n", r.id)
		for _, t := range sess.Turns {
			r.print(t)
		}
	}
	fmt.Fprintln(r.out, "Type /reset to start over, /quit to exit.")

	scanner := bufio.NewScanner(r.in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			newID, err := r.runner.Reset(ctx, r.id)
			if err != nil {
				return err
			}
			r.id = newID
			fmt.Fprintf(r.out, "Started a new conversation %s\n", r.id)
			continue
		}

		_, err := r.runner.HandleTurn(ctx, r.id, line, func(t domain.Turn) {
			r.print(t)
			r.saveAudio(t)
		})
		switch {
		case errors.Is(err, agent.ErrEmptyMessage):
			continue
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return err
		}
	}
}

func (r *repl) print(t domain.Turn) {
	who := "You"
	if t.Role == domain.RoleAssistant {
		who = "Assistant"
	}
	fmt.Fprintf(r.out, "%s: %s\n", who, t.Content)
}

func (r *repl) saveAudio(t domain.Turn) {
	if r.audioDir == "" || len(t.Audio) == 0 {
		return
	}
	if err := os.MkdirAll(r.audioDir, 0o755); err != nil {
		log.Warn().Err(err).Msg("creating audio directory")
		return
	}
	r.saved++
	path := filepath.Join(r.audioDir, fmt.Sprintf("%s-%03d.%s", r.id, r.saved, r.audioExt))
	if err := os.WriteFile(path, t.Audio, 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("saving audio")
	}
}

// audioExtension maps an ElevenLabs output format like mp3_44100_128 to a
// file extension.
func audioExtension(format string) string {
	codec, _, _ := strings.Cut(format, "_")
	switch codec {
	case "", "mp3":
		return "mp3"
	case "ulaw", "alaw":
		return "raw"
	default:
		return codec
	}
}
