package cli

import (
	"context"
	"fmt"

	"github.com/soyeahso/callpilot/internal/agent"
	"github.com/soyeahso/callpilot/internal/config"
	"github.com/soyeahso/callpilot/internal/hooks"
	"github.com/soyeahso/callpilot/internal/ledger"
	"github.com/soyeahso/callpilot/internal/llm"
	"github.com/soyeahso/callpilot/internal/observe"
	"github.com/soyeahso/callpilot/internal/speech"
	"github.com/soyeahso/callpilot/internal/store"
	"github.com/soyeahso/callpilot/internal/store/postgres"
	"github.com/soyeahso/callpilot/internal/version"
)

// stores is the persistence pair selected by store.driver.
type stores struct {
	ledger        ledger.Ledger
	conversations agent.ConversationStore
	close         func()
}

func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	switch cfg.Store.Driver {
	case "memory":
		log.Warn().Msg("using in-memory store, nothing survives a restart")
		return &stores{
			ledger:        ledger.NewMemory(),
			conversations: agent.NewMemoryConversationStore(),
			close:         func() {},
		}, nil

	case "postgres":
		db, err := postgres.Open(ctx, cfg.Store.DSN, cfg.Store.MaxConns, log)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return &stores{
			ledger:        postgres.NewLedger(db),
			conversations: postgres.NewConversations(db),
			close:         db.Close,
		}, nil

	default:
		if err := paths.EnsureDirs(); err != nil {
			return nil, fmt.Errorf("creating data directories: %w", err)
		}
		path := paths.DatabasePath(cfg)
		db, err := store.Open(path, log)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		log.Info().Str("path", path).Msg("using SQLite store")
		return &stores{
			ledger:        store.NewLedger(db),
			conversations: store.NewConversations(db),
			close:         func() { db.Close() },
		}, nil
	}
}

// app is the wired turn pipeline shared by serve and chat.
type app struct {
	runner   *agent.Runner
	hooks    *hooks.Manager
	provider *observe.Provider // nil unless metrics are enabled
	llmName  string
	speech   bool

	stores *stores
}

func newApp(ctx context.Context, cfg config.Config, withMetrics bool) (_ *app, err error) {
	registry, err := llm.NewRegistryFromConfig(cfg.LLM, log)
	if err != nil {
		return nil, err
	}
	client := agent.NewFailoverClient(registry, log)

	a := &app{hooks: hooks.NewManager(log), llmName: client.Name()}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()
	a.hooks.RegisterCommands(cfg.Hooks)

	metrics := observe.Noop()
	if withMetrics && cfg.Metrics.Enabled {
		a.provider, err = observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version.Version})
		if err != nil {
			return nil, err
		}
		metrics = a.provider.Metrics
	}

	var speaker *speech.Speaker
	synth, err := speech.New(cfg.Speech)
	if err != nil {
		return nil, err
	}
	if synth != nil {
		speaker = speech.NewSpeaker(synth, cfg.Speech.MaxChars, cfg.SpeechTimeout(), log)
		a.speech = true
	}

	a.stores, err = openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	extractor := agent.NewExtractor(client, agent.ExtractorConfig{
		HistoryTurns: cfg.Booking.HistoryTurns,
		Timeout:      cfg.LLMTimeout(),
		Temperature:  cfg.LLM.Temperature,
		MaxTokens:    cfg.LLM.MaxTokens,
		Metrics:      metrics,
	}, log)

	a.runner = agent.NewRunner(agent.RunnerConfig{MaxInputChars: cfg.Booking.MaxInputChars}, agent.Deps{
		Ledger:        a.stores.ledger,
		Conversations: a.stores.conversations,
		Extractor:     extractor,
		Speaker:       speaker,
		Hooks:         a.hooks,
		Metrics:       metrics,
	}, log)

	log.Info().
		Strs("llm", registry.List()).
		Bool("speech", a.speech).
		Str("store", cfg.Store.Driver).
		Msg("turn pipeline ready")
	return a, nil
}

func (a *app) Close(ctx context.Context) {
	if a.provider != nil {
		if err := a.provider.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("metrics shutdown")
		}
	}
	if a.stores != nil {
		a.stores.close()
	}
}
