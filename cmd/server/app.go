package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/brandonphelps/rusty-pellets/api/handlers"
	"github.com/brandonphelps/rusty-pellets/internal/auth"
	"github.com/brandonphelps/rusty-pellets/internal/buffer"
	"github.com/brandonphelps/rusty-pellets/internal/can"
	"github.com/brandonphelps/rusty-pellets/internal/config"
	"github.com/brandonphelps/rusty-pellets/internal/db"
	"github.com/brandonphelps/rusty-pellets/internal/logger"
	"github.com/brandonphelps/rusty-pellets/internal/repository"
	"github.com/brandonphelps/rusty-pellets/internal/servo"
	"github.com/brandonphelps/rusty-pellets/internal/session"
	"github.com/brandonphelps/rusty-pellets/internal/ws"
)

// app holds every long-lived component of the bridge.
type app struct {
	router    *gin.Engine
	broker    *session.Broker
	wsService *ws.Service
	frames    *buffer.FrameRing
	recorder  *logger.CandumpLogger
	dbOpen    bool
}

// openTransport builds the configured bus backend.
func openTransport(cfg config.BusConfig) (can.Transport, error) {
	switch cfg.Backend {
	case config.BackendMock:
		return can.NewMock(), nil
	case config.BackendSocketCAN:
		return can.OpenSocketCAN(cfg.Interface)
	case config.BackendReplay:
		f, err := os.Open(cfg.ReplayFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open replay file: %w", err)
		}
		defer f.Close()
		return can.NewReplay(f, cfg.ReplayLoop)
	default:
		return nil, fmt.Errorf("unknown bus backend %q", cfg.Backend)
	}
}

// newApp wires the bus, controller, broker, storage and HTTP routes.
func newApp(cfg *config.Config) (*app, error) {
	a := &app{}

	transport, err := openTransport(cfg.Bus)
	if err != nil {
		return nil, err
	}
	tap := can.NewTap(transport)

	if cfg.Trace.Frames > 0 {
		a.frames = buffer.NewFrameRing(cfg.Trace.Frames)
		tap.AddObserver(a.frames)
	}

	if cfg.Bus.RecordFile != "" {
		a.recorder, err = logger.NewCandumpLogger(cfg.Bus.RecordFile, logger.WithInterface(cfg.Bus.Interface))
		if err != nil {
			transport.Close()
			return nil, fmt.Errorf("failed to open bus recorder: %w", err)
		}
		tap.AddObserver(a.recorder)
	}

	controller, err := servo.NewController(tap, cfg.Servo.Count)
	if err != nil {
		a.closeRecorder()
		transport.Close()
		return nil, err
	}

	var opts []session.Option
	if cfg.Storage.DBPath != "" {
		repo, err := openRepository(cfg.Storage.DBPath)
		if err != nil {
			a.closeRecorder()
			transport.Close()
			return nil, err
		}
		a.dbOpen = true
		opts = append(opts, session.WithRepository(repo))
	}

	a.broker = session.NewBroker(controller, opts...)
	a.wsService = ws.NewService(a.broker, ws.Config{
		TickPeriod:     cfg.Session.TickPeriod,
		QueueSize:      cfg.Session.QueueSize,
		WriteTimeout:   cfg.Session.WriteTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	var wsMiddleware []gin.HandlerFunc
	if cfg.Auth.Secret != "" {
		verifier, err := auth.NewVerifier(cfg.Auth.Secret)
		if err != nil {
			a.Close()
			return nil, err
		}
		wsMiddleware = append(wsMiddleware, verifier.RequireToken())
	}

	a.router = newRouter(a, wsMiddleware)
	return a, nil
}

// openRepository opens the session database and closes records left
// active by a previous run.
func openRepository(dbPath string) (*repository.SessionRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	database, err := db.InitDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	repo := repository.NewSessionRepository(database)

	n, err := repo.MarkStaleEnded(context.Background(), time.Now().UTC())
	if err != nil {
		db.CloseDB()
		return nil, err
	}
	if n > 0 {
		log.Printf("Closed %d stale sessions from a previous run", n)
	}

	return repo, nil
}

// newRouter builds the gin engine.
func newRouter(a *app, wsMiddleware []gin.HandlerFunc) *gin.Engine {
	r := gin.Default()

	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"connected": a.wsService.IsConnected(),
		})
	})

	handlers.NewWebSocketHandler(a.wsService.Handler(), wsMiddleware...).RegisterRoutes(r)

	api := r.Group("/api")
	{
		handlers.NewSessionHandler(a.broker, a.frames).RegisterRoutes(api)
	}

	return r
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func (a *app) closeRecorder() {
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			log.Printf("Failed to close bus recorder: %v", err)
		}
	}
}

// Close stops the running session and releases the bus and storage.
func (a *app) Close() {
	if a.wsService != nil {
		a.wsService.Close()
	}
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			log.Printf("Failed to close bus transport: %v", err)
		}
	}
	a.closeRecorder()
	if a.dbOpen {
		db.CloseDB()
	}
}
