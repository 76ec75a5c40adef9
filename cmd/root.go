// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kv4sh0x/capture-cli/internal/config"
	"github.com/kv4sh0x/capture-cli/internal/faults"
	"github.com/kv4sh0x/capture-cli/internal/observability"
	"github.com/kv4sh0x/capture-cli/internal/orchestrator"
)

// NewRootCmd builds the root command. The command is self-contained (own
// viper instance, own settings) so tests can execute it repeatedly.
func NewRootCmd() *cobra.Command {
	var (
		cfgFile  string
		v        = viper.New()
		settings *config.Config
	)

	rootCmd := &cobra.Command{
		Use:     "capture <config-path> <output-path>",
		Short:   "Capture renders a web page to a screenshot with a headless browser.",
		Version: Version,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return faults.Usagef("expected exactly 2 arguments (config path, output path), got %d", len(args))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Runs before any command, setting up harness settings and logging.
			if err := initializeSettings(v, cfgFile); err != nil {
				// Initialize a fallback logger so the failure is still reported.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "capture"})
				return faults.New(faults.ClassConfig, err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "capture"})
				return faults.New(faults.ClassConfig, err)
			}
			settings = cfg

			observability.InitializeLogger(settings.Logger)
			observability.GetLogger().Debug("Starting capture-cli", zap.String("version", Version))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(cmd.Context(), settings, args[0], args[1])
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "harness settings file (default is ./capture.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// runCapture resolves the two positional paths, loads the capture config and
// hands the job to the pipeline runner.
func runCapture(ctx context.Context, settings *config.Config, configArg, outputArg string) error {
	logger := observability.GetLogger()

	configPath, err := homedir.Expand(configArg)
	if err != nil {
		return faults.New(faults.ClassUsage, fmt.Errorf("could not resolve config path %q: %w", configArg, err))
	}
	outputPath, err := homedir.Expand(outputArg)
	if err != nil {
		return faults.New(faults.ClassUsage, fmt.Errorf("could not resolve output path %q: %w", outputArg, err))
	}

	job, err := config.LoadCaptureConfig(configPath, logger)
	if err != nil {
		return faults.New(faults.ClassConfig, err)
	}

	runner, err := orchestrator.New(settings, logger)
	if err != nil {
		return faults.New(faults.ClassConfig, err)
	}

	return runner.Run(ctx, job, outputPath)
}

// Execute runs the root command against os.Args and reports the outcome.
// The caller maps the returned error to the process exit code.
func Execute(ctx context.Context) error {
	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		logger := observability.GetLogger()
		if class := faults.ClassOf(err); class != "" {
			logger.Error("Capture failed.", zap.String("fault", string(class)), zap.Error(err))
		} else {
			logger.Error("Capture failed.", zap.Error(err))
		}
	}
	observability.Sync()
	return err
}

// initializeSettings reads the harness settings file and ENV variables if set.
func initializeSettings(v *viper.Viper, cfgFile string) error {
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".capture"))
		}
		v.SetConfigName("capture")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("CAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading settings file: %w", err)
		}
		// Settings file not found; proceed with defaults/env vars.
	}
	return nil
}
