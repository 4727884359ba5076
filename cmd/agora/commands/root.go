package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dyluth/agora/internal/config"
	"github.com/dyluth/agora/internal/logging"
	"github.com/dyluth/agora/internal/printer"
)

const defaultConfigFile = "agora.yml"

var (
	version string
	commit  string
	date    string

	configFile string
	logLevel   string
	logFormat  string

	// v collects flag and AGORA_* environment overrides.
	v = config.NewViper()

	// logger is built in PersistentPreRunE and shared by every command.
	logger = zap.NewNop()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "agora",
	Short: "Agora - credit-bidding conversation scheduler",
	Long: `Agora simulates a group conversation between AI personas.

Every round each participant bids credits for the next turn, the highest
bidder speaks, and their reply is appended to a shared history file.
Conversations can be watched live, replayed, or served over HTTP as
Server-Sent Events.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(logLevel, logFormat)
		if err != nil {
			return printer.Error(
				"invalid logging flags",
				err.Error(),
				[]string{"Use --log-level debug|info|warn|error and --log-format json|console"},
			)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Errors are printed by the printer package, not by cobra
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(ver, c, d string) {
	version = ver
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", ver, c, d)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", defaultConfigFile, "Configuration file (built-in defaults are used if the default file is absent)")
	flags.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", logging.FormatConsole, "Log format (console or json)")
	flags.String("instance", "", "Instance name used to namespace Redis keys")
	flags.String("ledger", "", "Path of the conversation history file")
	flags.String("redis-url", "", "Redis URL for event fan-out and run records (redis://host:port)")

	_ = v.BindPFlag(config.KeyInstance, flags.Lookup("instance"))
	_ = v.BindPFlag(config.KeyLedgerPath, flags.Lookup("ledger"))
	_ = v.BindPFlag(config.KeyRedisURL, flags.Lookup("redis-url"))
}

// bindFlags binds command flags to configuration keys. Binding happens when
// a command runs so that commands sharing a key each bind their own flag.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for key, name := range keys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			return fmt.Errorf("unknown flag %q for key %s", name, key)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// loadConfig reads the configuration file, falling back to built-in defaults
// when the default file does not exist, and applies flag and environment
// overrides.
func loadConfig(cmd *cobra.Command) (*config.SimulationConfig, error) {
	cfg, err := readConfigFile(cmd)
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyOverrides(v); err != nil {
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{"Check the command-line flags and AGORA_* environment variables"},
		)
	}
	return cfg, nil
}

func readConfigFile(cmd *cobra.Command) (*config.SimulationConfig, error) {
	_, statErr := os.Stat(configFile)
	explicit := cmd.Flags().Changed("config")

	if errors.Is(statErr, fs.ErrNotExist) && !explicit {
		logger.Debug("no configuration file, using defaults", zap.String("path", configFile))
		return config.Default(), nil
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"failed to load configuration",
			err.Error(),
			map[string]string{"File": configFile},
			[]string{
				fmt.Sprintf("Fix %s and try again", configFile),
				"Remove --config to run with built-in defaults",
			},
		)
	}
	return cfg, nil
}
