package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skillgate/skillgate/pkg/logger"
)

func init() {
	// Environment variables
	viper.SetEnvPrefix("SKILLGATE")
	viper.AutomaticEnv()

	// Config file support
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.skillgate")
	viper.AddConfigPath(".")

	// Load config file if it exists (ignore errors if it doesn't)
	_ = viper.ReadInConfig()
}

var rootCmd = &cobra.Command{
	Use:   "skillgate",
	Short: "Resolve tasks against a skill corpus and gate the generated output",
	Long: `Skillgate matches a task against a corpus of skill definitions, gates the
invocation on the inputs the definition requires, assembles a grounded
instruction and validates the generated response against the definition's
output contract before anything reaches the caller.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := logger.SetLogLevel(viper.GetString("log_level")); err != nil {
			logger.L.WithError(err).Warn("invalid log level, keeping the default")
		}
		logger.SetLogFormat(viper.GetString("log_format"))
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
		os.Exit(1)
	},
}

func main() {
	// Add global flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "fmt", "Log format (fmt, json)")
	rootCmd.PersistentFlags().String("provider", "", "Generator provider (anthropic, openai, or google)")
	rootCmd.PersistentFlags().String("model", "", "Generator model (overrides the provider default)")
	rootCmd.PersistentFlags().Int("max-tokens", 0, "Maximum tokens per generated response (overrides config)")
	rootCmd.PersistentFlags().String("corpus", "", "Corpus directory with definition documents (default: builtin corpus)")

	// Bind flags to viper
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("provider", rootCmd.PersistentFlags().Lookup("provider"))
	viper.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))
	viper.BindPFlag("max_tokens", rootCmd.PersistentFlags().Lookup("max-tokens"))
	viper.BindPFlag("corpus", rootCmd.PersistentFlags().Lookup("corpus"))

	// Add subcommands
	rootCmd.AddCommand(withTracing(submitCmd))
	rootCmd.AddCommand(definitionsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)

	// Cancel long-running work on Ctrl+C
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := initTracing(ctx)
	if err != nil {
		logger.L.WithError(err).Warn("failed to initialize tracing")
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer shutdownTracing(context.Background())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
