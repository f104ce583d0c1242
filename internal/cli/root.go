package cli

import (
	"errors"
	"io"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/soyeahso/callpilot/internal/config"
	"github.com/soyeahso/callpilot/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	// resolved in PersistentPreRunE
	paths     config.Paths
	log       *logging.Logger
	logCloser io.Closer
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "callpilot",
		Short: "CallPilot, an appointment booking assistant",
		Long: "CallPilot books, reschedules and cancels appointments through a chat " +
			"conversation, using an LLM for slot extraction and optional text-to-speech.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			if err := loadEnvFiles(paths.EnvFile, ".env"); err != nil {
				return err
			}

			opts := logging.Options{Level: "info"}
			if cfg, err := config.Load(paths.Config); err == nil {
				opts = logging.Options{
					Level: cfg.Logging.Level,
					Style: cfg.Logging.ConsoleStyle,
					File:  cfg.Logging.File,
				}
			}
			if logLevel != "" {
				opts.Level = logLevel
			}
			log, logCloser, err = logging.NewFromOptions(opts)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logCloser != nil {
				return logCloser.Close()
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.callpilot/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newAppointmentCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// loadEnvFiles loads each existing dotenv file. Variables already set in
// the environment win.
func loadEnvFiles(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// loadConfig reads the config file with environment overrides applied.
func loadConfig() (config.Config, error) {
	return config.Load(paths.Config)
}

// Execute runs the root command.
func Execute() error {
	cmd := newRootCmd()
	err := cmd.Execute()
	if err != nil {
		cmd.PrintErrln("Error:", err)
	}
	return err
}
