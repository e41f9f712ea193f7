package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AltairaLabs/realtime-voice/logger"
)

const (
	flagConfig   = "config"
	flagVerbose  = "verbose"
	flagLogLevel = "log-level"
	flagEnvFile  = "env-file"
)

var rootCmd = &cobra.Command{
	Use:           "realtime-voice",
	Short:         "Talk to a realtime speech-to-speech model from the terminal",
	Version:       GetVersion(),
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `realtime-voice connects to the OpenAI (or Azure OpenAI) realtime API,
streams microphone audio to the model and plays its replies, with barge-in
when you start speaking or type a new message.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := loadEnvFile(viper.GetString(flagEnvFile)); err != nil {
			return err
		}
		if lvl := viper.GetString(flagLogLevel); lvl != "" {
			logger.SetLevel(logger.ParseLevel(lvl))
		}
		if cmd.Flags().Changed(flagVerbose) {
			logger.SetVerbose(viper.GetBool(flagVerbose))
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP(flagConfig, "c", "", "Path to a YAML config file")
	pf.BoolP(flagVerbose, "v", false, "Enable debug logging")
	pf.String(flagLogLevel, "", "Log level (debug, info, warn, error)")
	pf.String(flagEnvFile, ".env", "Environment file loaded before reading configuration")

	_ = viper.BindPFlag(flagConfig, pf.Lookup(flagConfig))
	_ = viper.BindPFlag(flagVerbose, pf.Lookup(flagVerbose))
	_ = viper.BindPFlag(flagLogLevel, pf.Lookup(flagLogLevel))
	_ = viper.BindPFlag(flagEnvFile, pf.Lookup(flagEnvFile))

	viper.SetEnvPrefix("REALTIME")
	viper.AutomaticEnv()
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	logger.Debug("loaded environment file", "path", path)
	return nil
}

func setupVersion() {
	rootCmd.SetVersionTemplate(GetVersionInfo() + "\n")
}

// Execute runs the root command.
func Execute() {
	setupVersion()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}
