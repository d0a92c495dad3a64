package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Brownie44l1/asl-api/internal/config"
	"github.com/Brownie44l1/asl-api/internal/logger"
	"github.com/Brownie44l1/asl-api/internal/model"
)

// app carries what every subcommand shares once flags are parsed.
type app struct {
	v          *viper.Viper
	configFile string
	settings   *config.Settings
	logger     *slog.Logger

	// loaderFor picks the model loader; newLoader outside tests.
	loaderFor func(config.ModelSettings, *slog.Logger) (model.Loader, string, error)
}

func newRootCommand() *cobra.Command {
	a := &app{v: config.New(), loaderFor: newLoader}

	rootCmd := &cobra.Command{
		Use:           "asl-api",
		Short:         "ASL alphabet image classifier",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initialize()
		},
	}

	if err := setupFlags(rootCmd, a); err != nil {
		// Only fails on a programming error in flag names.
		panic(err)
	}

	rootCmd.AddCommand(serveCommand(a), predictCommand(a))
	return rootCmd
}

func setupFlags(rootCmd *cobra.Command, a *app) error {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Config file (default ./config.yaml or $HOME/.config/asl-api/config.yaml)")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("model", "", "Path to the model file, plain or gzip-compressed")
	flags.String("metadata", "", "Path to the model metadata JSON")
	flags.String("backend", "", "Inference backend: auto, onnx or tflite")

	for key, flag := range map[string]string{
		"debug":          "debug",
		"model.path":     "model",
		"model.metadata": "metadata",
		"model.backend":  "backend",
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}

// initialize loads settings and installs the logger before any subcommand
// runs.
func (a *app) initialize() error {
	settings, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.settings = settings

	log, err := logger.New(settings.Log.Level, settings.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	a.logger = log
	slog.SetDefault(log)

	if used := a.v.ConfigFileUsed(); used != "" {
		a.logger.Debug("config file loaded", "path", used)
	}
	return nil
}
