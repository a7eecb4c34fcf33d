package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/brandonphelps/rusty-pellets/internal/config"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("Server failed: %v", err)
	}
}

func run() error {
	var configPath, addr, backend string

	flagSet := pflag.NewFlagSet("servo-bridge", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", getEnv(config.EnvPrefix+"CONFIG", ""), "path to a YAML config file")
	flagSet.StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	flagSet.StringVar(&backend, "backend", "", "bus backend: mock, socketcan or replay (overrides bus.backend)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("addr") {
		cfg.Server.Addr = addr
	}
	if flagSet.Changed("backend") {
		cfg.Bus.Backend = backend
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	closeLog, err := setupLogging(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	app, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: app.router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s (bus backend %s, %d servos)", cfg.Server.Addr, cfg.Bus.Backend, cfg.Servo.Count)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-sigCh:
	}

	log.Println("Shutting down server...")
	app.wsService.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}

	return nil
}

// setupLogging tees the standard logger and gin's output into a rotating
// file when one is configured.
func setupLogging(cfg config.LogConfig) (func(), error) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if cfg.File == "" {
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}

	w := io.MultiWriter(os.Stderr, rotator)
	log.SetOutput(w)
	gin.DefaultWriter = w
	gin.DefaultErrorWriter = w

	return func() {
		log.SetOutput(os.Stderr)
		rotator.Close()
	}, nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
