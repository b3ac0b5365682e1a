package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sagarc03/blobcache/config"
	"github.com/sagarc03/blobcache/httpapi"
	"github.com/sagarc03/blobcache/reaper/expiry"
	"github.com/sagarc03/blobcache/reaper/orphan"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and background reapers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 8080, "HTTP server port")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, err := config.FromContext(ctx)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}

	engine, closeEngine, err := buildEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer closeEngine()

	var verifier httpapi.RequestVerifier
	if cfg.Auth.Enabled {
		verifier = &httpapi.BearerVerifier{Token: cfg.Auth.Token}
	}

	handler := httpapi.NewHandler(httpapi.HandlerConfig{
		Verifier:      verifier,
		CORS:          cfg.CORS,
		MaxUploadSize: cfg.Server.MaxUploadSize,
	}, engine)

	expiryReaper := expiry.New(engine, expiry.Config{
		Schedule:  cfg.Reaper.CleanupCron,
		BatchSize: cfg.Reaper.CleanupBatchSize,
	})
	if err := expiryReaper.Start(ctx); err != nil {
		return fmt.Errorf("start expiry reaper: %w", err)
	}
	defer expiryReaper.Stop()

	orphanReaper := orphan.New(engine.Backend(), engine.Metadata(), orphan.Config{
		Schedule:    cfg.Reaper.OrphanCron,
		GraceWindow: time.Duration(cfg.Reaper.OrphanGraceWindow) * time.Second,
	})
	if err := orphanReaper.Start(ctx); err != nil {
		return fmt.Errorf("start orphan reaper: %w", err)
	}
	defer orphanReaper.Stop()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	basePath := fmt.Sprintf("/%s/%s", trimSlashes(cfg.Server.APIBase), trimSlashes(cfg.Server.APIVersion))

	mux := http.NewServeMux()
	mux.Handle(basePath+"/", http.StripPrefix(basePath, handler.Router()))

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		cancel()
	}()

	slog.Info("starting server", "addr", addr, "base_path", basePath)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func trimSlashes(s string) string {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
