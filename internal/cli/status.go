package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/callpilot/internal/config"
	"github.com/soyeahso/callpilot/internal/version"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "CallPilot %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:   %s\n", paths.Config)
			fmt.Fprintf(out, "Data:     %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:     %s\n\n", paths.Logs)

			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(out, "Config error: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Gateway:  port=%d bind=%s auth=%s tls=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode, cfg.Gateway.TLS.Enabled)

			chain := append([]string{cfg.LLM.Provider}, cfg.LLM.Fallbacks...)
			models := make([]string, 0, len(chain))
			for _, name := range chain {
				entry := cfg.LLM.Providers[name]
				desc := name
				if entry.Model != "" {
					desc += " model=" + entry.Model
				}
				if entry.APIKey != "" {
					desc += " (key set)"
				}
				models = append(models, desc)
			}
			fmt.Fprintf(out, "LLM:      %s timeout=%s\n", strings.Join(models, ", then "), cfg.LLMTimeout())

			if cfg.Speech.Enabled {
				fmt.Fprintf(out, "Speech:   %s voice=%s model=%s format=%s\n",
					cfg.Speech.Provider, cfg.Speech.VoiceID, cfg.Speech.Model, cfg.Speech.OutputFormat)
			} else {
				fmt.Fprintln(out, "Speech:   disabled")
			}

			storeInfo := cfg.Store.Driver
			if cfg.Store.Driver == "sqlite" {
				storeInfo += " path=" + paths.DatabasePath(cfg)
			}
			fmt.Fprintf(out, "Store:    %s\n", storeInfo)
			fmt.Fprintf(out, "Booking:  maxInputChars=%d historyTurns=%d\n",
				cfg.Booking.MaxInputChars, cfg.Booking.HistoryTurns)
			if cfg.Metrics.Enabled {
				fmt.Fprintf(out, "Metrics:  %s\n", cfg.Metrics.Path)
			}

			hookCount := len(cfg.Hooks.AppointmentBooked) + len(cfg.Hooks.AppointmentRescheduled) +
				len(cfg.Hooks.AppointmentCancelled) + len(cfg.Hooks.GatewayStart) + len(cfg.Hooks.GatewayStop)
			if hookCount > 0 {
				fmt.Fprintf(out, "Hooks:    %d command(s)\n", hookCount)
			}

			fmt.Fprintln(out)
			if err := config.RequireServing(&cfg); err != nil {
				fmt.Fprintf(out, "Not ready: %v\n", err)
			} else {
				fmt.Fprintln(out, "Ready to serve.")
			}
			return nil
		},
	}
}
