// Package cmd provides the CLI commands for sourcecolon.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sourcecolon/sourcecolon/internal/config"
	scerrors "github.com/sourcecolon/sourcecolon/internal/errors"
	"github.com/sourcecolon/sourcecolon/internal/logging"
	"github.com/sourcecolon/sourcecolon/pkg/version"
)

const (
	// DefaultConfigFile is read when --config is not given.
	DefaultConfigFile = "sourcecolon.yaml"

	indexDirName = "index.bleve"
	descFileName = "descriptions.db"
)

var (
	configPath     string
	debugMode      bool
	logFile        string
	loggingCleanup func()
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sourcecolon",
		Short: "Source code cross-reference and search engine",
		Long: `sourcecolon indexes a source tree, renders hyperlinked cross-references
of every file it understands and serves them over HTTP.

Configuration is read from a YAML file (--config) and SOURCECOLON_*
environment variables. A running server can be reconfigured with
'sourcecolon config push'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("sourcecolon version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", DefaultConfigFile, "Configuration file")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to "+logging.DefaultLogDir())
	cmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newDescCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints a failure for humans.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, scerrors.FormatForCLI(err))
	}
	return err
}

// startLogging installs the slog default. --debug logs at debug level to the
// rotating file under the log directory; otherwise the configuration's
// verbose flag picks the level and only stderr (plus --log-file) is used.
func startLogging(_ *cobra.Command, _ []string) error {
	var lc logging.Config
	if debugMode {
		lc = logging.DebugConfig()
	} else {
		verbose := false
		if cfg, err := config.Load(configPath); err == nil {
			verbose = cfg.Verbose
		}
		lc = logging.ForVerbose(verbose)
		lc.FilePath = logFile
	}

	cleanup, err := logging.SetupDefault(lc)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	loggingCleanup = cleanup
	if debugMode {
		slog.Info("debug_logging_enabled", slog.String("log_file", logging.DefaultLogPath()))
	}
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// loadStore reads the configuration into a new store.
func loadStore() (*config.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return config.NewStore(cfg), nil
}

func indexPath(dataRoot string) string {
	if dataRoot == "" {
		return ""
	}
	return filepath.Join(dataRoot, indexDirName)
}

func descPath(dataRoot string) string {
	return filepath.Join(dataRoot, descFileName)
}
