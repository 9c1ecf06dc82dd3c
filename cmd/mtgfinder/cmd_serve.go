package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codyseavey/mtg-finder/internal/api"
	"github.com/codyseavey/mtg-finder/internal/services"
)

var serveFlags struct {
	port int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the weekly update schedule",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&serveFlags.port, "port", 0, "Listen port (overrides PORT)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	port := a.cfg.Port
	if serveFlags.port > 0 {
		port = serveFlags.port
	}

	// Create a cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.cfg.AutoUpdate {
		job := services.NewUpdateJob(a.updater, a.cfg.AcquisitionTimeout, a.log)
		if err := a.sched.AddJob(a.cfg.UpdateSchedule, job); err != nil {
			return err
		}
		a.sched.Start()
		defer a.sched.Stop()

		// Acquire any dataset that has never been collected
		go func() {
			if err := a.updater.EnsureInitialized(ctx); err != nil {
				a.log.Error().Err(err).Msg("First-run acquisition failed")
			}
		}()
	}

	router := api.SetupRouter(ctx, api.RouterConfig{
		AllowedOrigins:   a.cfg.CORSAllowedOrigins,
		RateLimit:        a.cfg.APIRateLimit,
		RateBurst:        a.cfg.APIRateBurst,
		FrontendDistPath: a.cfg.FrontendDistPath,
		UpdateTimeout:    a.cfg.AcquisitionTimeout,
	}, a.finder, a.updater, a.log)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Int("port", port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}
	a.log.Info().Msg("Shutting down server...")

	// Stop background updates
	cancel()

	// Give outstanding requests a deadline to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("Server forced to shutdown")
	}

	a.log.Info().Msg("Server exited")
	return nil
}
