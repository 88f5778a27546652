package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"homehealth-sync-service/internal/api"
	"homehealth-sync-service/internal/auth"
	"homehealth-sync-service/internal/config"
	"homehealth-sync-service/internal/logger"
	"homehealth-sync-service/internal/metrics"
	"homehealth-sync-service/internal/remote"
	"homehealth-sync-service/internal/remote/gcal"
	"homehealth-sync-service/internal/remote/sheets"
	"homehealth-sync-service/internal/store"
	"homehealth-sync-service/internal/sync"
)

const shutdownTimeout = 15 * time.Second

var configPath string

var rootCmd = &cobra.Command{
	Use:           "homehealth-sync",
	Short:         "Keeps the local patient and appointment store in sync with the patient sheet and the calendar",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}
		cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the scheduler and the sync engine",
	RunE:  runServe,
}

type configKey struct{}

func configFrom(cmd *cobra.Command) *config.Config {
	return cmd.Context().Value(configKey{}).(*config.Config)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	rootCmd.AddCommand(serveCmd, syncCmd, dedupCmd, queueCmd)
}

func main() {
	defer logger.Sync()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// engine is everything a command needs to drive the sync manager.
type engine struct {
	manager *sync.Manager
	auth    *auth.Provider
}

func newEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	stateStore, err := store.Open(ctx, cfg.StateStorage)
	if err != nil {
		return nil, fmt.Errorf("failed to init state store: %w", err)
	}

	provider, err := auth.New(cfg.Auth)
	if err != nil {
		stateStore.Close()
		return nil, fmt.Errorf("failed to init auth: %w", err)
	}
	loc, err := cfg.Remote.Location()
	if err != nil {
		stateStore.Close()
		return nil, err
	}

	httpClient := &http.Client{}
	sheetsClient := sheets.New(&remote.HTTPClient{
		BaseURL: cfg.Remote.SheetsBaseURL,
		Auth:    provider,
		Client:  httpClient,
		Timeout: cfg.Remote.RequestTimeout,
	})
	calendarClient := gcal.New(&remote.HTTPClient{
		BaseURL: cfg.Remote.CalendarBaseURL,
		Auth:    provider,
		Client:  httpClient,
		Timeout: cfg.Remote.RequestTimeout,
	}, loc)

	manager, err := sync.NewManager(cfg, sync.Deps{
		Store:    stateStore,
		Sheets:   sheetsClient,
		Calendar: calendarClient,
		Auth:     provider,
		Metrics:  metrics.New(),
	})
	if err != nil {
		stateStore.Close()
		return nil, fmt.Errorf("failed to init sync manager: %w", err)
	}
	return &engine{manager: manager, auth: provider}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := configFrom(cmd)
	logger.Log.Info("Starting home health sync service")

	eng, err := newEngine(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	syncManager := eng.manager
	defer syncManager.Close()

	if err := syncManager.Start(); err != nil {
		return fmt.Errorf("failed to start sync manager: %w", err)
	}

	scheduler := sync.NewScheduler(cfg.Scheduler, syncManager)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer scheduler.Stop()

	handler := api.NewHandler(syncManager, eng.auth, cfg.Server)
	router := handler.Routes()

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logger.Log.Error("Server failed", zap.Error(err))
	}

	logger.Log.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.Warn("Server shutdown failed", zap.Error(err))
	}
	return nil
}
