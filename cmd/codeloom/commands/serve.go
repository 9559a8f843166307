package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cobra"

	"github.com/codeloom-ai/codeloom/internal/config"
	"github.com/codeloom-ai/codeloom/internal/event"
	"github.com/codeloom-ai/codeloom/internal/logging"
	"github.com/codeloom-ai/codeloom/internal/permission"
	"github.com/codeloom-ai/codeloom/internal/provider"
	"github.com/codeloom-ai/codeloom/internal/run"
	"github.com/codeloom-ai/codeloom/internal/server"
	"github.com/codeloom-ai/codeloom/internal/storage"
	"github.com/codeloom-ai/codeloom/internal/store"
	"github.com/codeloom-ai/codeloom/internal/tool"
)

var (
	servePort int
	serveDir  string
	serveMock bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the codeloom server",
	Long: `Start codeloom as a headless server exposing the session, run,
permission, and event APIs over HTTP.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
	serveCmd.Flags().BoolVar(&serveMock, "mock", false, "Use a scripted mock provider instead of a real backend")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Port = servePort
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logging.Init(logging.Config{
		Level:  logging.ParseLevel(level),
		Pretty: logPretty || cfg.LogPretty,
	})

	log := logging.Component("serve")
	log.Info().Str("version", Version).Str("directory", workDir).Msg("starting codeloom")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return err
	}

	files := storage.New(cfg.DataDir)
	st := store.New(files)
	bus := event.NewBus()
	defer bus.Close()

	arbiter := permission.NewArbiter(bus)
	providers := provider.NewRegistry()
	tools := tool.NewRegistry()

	defaultProviderID, defaultModelID := config.SplitModel(cfg.Model)
	if serveMock {
		providers.Register(provider.NewScripted("mock",
			[]*schema.Message{
				provider.TextChunk("Hello from the mock provider."),
				provider.FinishChunk("stop", 10, 8),
			},
		))
		defaultProviderID = "mock"
		defaultModelID = "scripted"
	}
	if defaultProviderID == "" {
		log.Warn().Msg("no default model configured, submissions must name a provider")
	}

	runner := run.New(st, bus, arbiter, providers, tools, run.Config{
		DefaultProviderID: defaultProviderID,
		DefaultModelID:    defaultModelID,
		MaxTokens:         cfg.MaxTokens,
		MaxSteps:          cfg.MaxSteps,
	})

	serverCfg := server.DefaultConfig()
	serverCfg.Port = cfg.Port

	srv := server.New(serverCfg, st, bus, arbiter, runner)

	go func() {
		log.Info().Int("port", cfg.Port).Msg("server listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
	return nil
}
