package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/EpicMandM/evcharge-booking/internal/app"
	"github.com/EpicMandM/evcharge-booking/internal/config"
	"github.com/EpicMandM/evcharge-booking/internal/logger"
	"github.com/rs/cors"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log := logger.New()
	if err := run(log); err != nil {
		log.Error("Application error", logger.Error(err))
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	envPath := getEnvOrDefault("ENV_FILE", ".env")
	cfg, err := config.LoadWithFile(envPath)
	if err != nil {
		log.Error("Failed to load configuration", logger.Error(err), logger.F("path", envPath))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, log)
	if err := application.Initialize(ctx); err != nil {
		return err
	}
	defer func() {
		if err := application.Close(context.Background()); err != nil {
			log.Error("Failed to close application", logger.Error(err))
		}
	}()

	c := cors.New(corsOptions(getEnvOrDefault("CORS_ORIGINS", "*")))

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           c.Handler(application.Handler()),
		ReadTimeout:       7 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server listening", logger.F("ADDR", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("Server stopped")
	return nil
}

// corsOptions allows credentials only for an explicit origin list.
func corsOptions(rawOrigins string) cors.Options {
	origins := corsOrigins(rawOrigins)
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: len(origins) > 0 && !slices.Contains(origins, "*"),
	}
}

func corsOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
