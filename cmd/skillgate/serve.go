package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skillgate/skillgate/pkg/catalog"
	"github.com/skillgate/skillgate/pkg/engine"
	"github.com/skillgate/skillgate/pkg/generator"
	"github.com/skillgate/skillgate/pkg/logger"
	"github.com/skillgate/skillgate/pkg/presenter"
	"github.com/skillgate/skillgate/pkg/server"
)

// ServeConfig holds configuration for the serve command
type ServeConfig struct {
	Host      string
	Port      int
	Corpus    string
	Watch     bool
	NoJournal bool
}

// NewServeConfig creates a new ServeConfig with default values
func NewServeConfig() *ServeConfig {
	return &ServeConfig{
		Host: "localhost",
		Port: 8080,
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the resolution engine over HTTP",
	Long: `Start a local HTTP server exposing the resolution engine: submit tasks,
list and inspect definitions, reload the corpus, and check health.

The server will be available at http://localhost:8080 by default. With
--watch the corpus directory is watched and reloaded on change; a rejected
reload keeps the previous catalog serving.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getServeConfigFromFlags(cmd)
		runServeCommand(ctx, config)
	},
}

func init() {
	defaults := NewServeConfig()
	serveCmd.Flags().String("host", defaults.Host, "Host to bind the server to")
	serveCmd.Flags().Int("port", defaults.Port, "Port to bind the server to")
	serveCmd.Flags().Bool("watch", defaults.Watch, "Reload the corpus when its directory changes")
	serveCmd.Flags().Bool("no-journal", defaults.NoJournal, "Disable invocation journaling")
}

// getServeConfigFromFlags extracts serve configuration from command flags
func getServeConfigFromFlags(cmd *cobra.Command) *ServeConfig {
	config := NewServeConfig()

	config.Corpus = viper.GetString("corpus")
	if host, err := cmd.Flags().GetString("host"); err == nil {
		config.Host = host
	}
	if port, err := cmd.Flags().GetInt("port"); err == nil {
		config.Port = port
	}
	if watch, err := cmd.Flags().GetBool("watch"); err == nil {
		config.Watch = watch
	}
	if noJournal, err := cmd.Flags().GetBool("no-journal"); err == nil {
		config.NoJournal = noJournal
	}

	return config
}

// validateServeConfig validates the serve configuration
func validateServeConfig(config *ServeConfig) error {
	if config.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	// Check if host is a valid hostname or IP address
	if config.Host != "localhost" && config.Host != "0.0.0.0" {
		if ip := net.ParseIP(config.Host); ip == nil {
			// Not an IP, check if it's a valid hostname
			if strings.Contains(config.Host, " ") || strings.Contains(config.Host, ":") {
				return fmt.Errorf("invalid host: %s", config.Host)
			}
		}
	}

	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", config.Port)
	}

	if config.Port < 1024 {
		logger.G(context.Background()).WithField("port", config.Port).Warn("using privileged port (< 1024) may require elevated permissions")
	}

	if config.Watch && config.Corpus == "" {
		return fmt.Errorf("--watch needs --corpus: the built-in corpus cannot change")
	}

	return nil
}

// runServeCommand starts the engine HTTP server
func runServeCommand(ctx context.Context, config *ServeConfig) {
	if err := validateServeConfig(config); err != nil {
		presenter.Error(err, "invalid server configuration")
		os.Exit(1)
	}

	logger.G(ctx).WithFields(map[string]interface{}{
		"host": config.Host,
		"port": config.Port,
	}).Info("Starting engine server")

	store, fsys, err := loadCorpus(ctx, config.Corpus)
	if err != nil {
		exitCorpusError(err)
	}

	gen, err := generator.New(ctx, generator.Config{
		Provider:  viper.GetString("provider"),
		Model:     viper.GetString("model"),
		MaxTokens: viper.GetInt("max_tokens"),
	})
	if err != nil {
		presenter.Error(err, "failed to create the generator")
		os.Exit(1)
	}

	engCfg := engine.DefaultConfig()
	if maxTokens := viper.GetInt("max_tokens"); maxTokens > 0 {
		engCfg.MaxTokens = maxTokens
	}

	opts := []engine.Option{engine.WithConfig(engCfg)}
	if !config.NoJournal {
		if j := openJournal(ctx); j != nil {
			defer j.Close()
			opts = append(opts, engine.WithJournal(j))
		}
	}

	eng := engine.New(store, gen, opts...)

	srv, err := server.NewServer(eng, fsys, &server.Config{
		Host: config.Host,
		Port: config.Port,
	})
	if err != nil {
		presenter.Error(err, "failed to create the server")
		os.Exit(1)
	}

	if config.Watch {
		watcher := catalog.NewWatcher(store, config.Corpus, catalog.DefaultDebounce)
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				logger.G(ctx).WithError(err).Error("corpus watcher stopped")
			}
		}()
		presenter.Info(fmt.Sprintf("Watching %s for corpus changes", config.Corpus))
	}

	presenter.Success(fmt.Sprintf("Engine server starting on http://%s:%d", config.Host, config.Port))
	presenter.Info("Press Ctrl+C to stop the server")

	if err := srv.Start(ctx); err != nil {
		logger.G(ctx).WithError(err).Error("engine server error")
		presenter.Error(err, "engine server failed")
		os.Exit(1)
	}

	presenter.Info("Engine server stopped")
}
