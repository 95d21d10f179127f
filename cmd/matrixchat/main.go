package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/RichardoC/matrixchat/internal/config"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "matrixchat",
	Short: "Persistent multi-conversation chat backed by an LLM provider",
	Long: `matrixchat stores conversations and their messages, asks an OpenAI-compatible
provider for each reply and serves everything over a small JSON API.
Use "serve" to run the API and "chat" for a terminal client.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; the environment may already be set.
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load .env: %w", err)
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func newLogger(c config.Log) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("cannot parse LOG_LEVEL: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

func main() {
	rootCmd.AddCommand(
		NewServeCommand(),
		NewChatCommand(),
	)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to a YAML config file; environment variables override its values")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
