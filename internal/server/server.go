// Package server assembles the collector's HTTP and websocket surface.
package server

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/teslashibe/go-pathsync/internal/config"
	"github.com/teslashibe/go-pathsync/pkg/collector"
	"github.com/teslashibe/go-pathsync/pkg/hub"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	Store    collector.Store
	Redis    *redis.Client
	Hub      *collector.Hub
	Watch    *hub.Hub
	Registry *prometheus.Registry
}

func NewServer(cfg config.Config, store collector.Store, redisClient *redis.Client, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics, err := collector.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(cors.New())
	if cfg.Debug {
		app.Use(logger.New())
	}

	s := &Server{
		App:      app,
		Cfg:      cfg,
		Store:    store,
		Redis:    redisClient,
		Hub:      collector.NewHub(store, log, collector.WithMetrics(metrics)),
		Watch:    hub.New("watch", redisClient, log),
		Registry: reg,
	}
	s.Hub.OnUpdate(func(update collector.SegmentUpdate) {
		if err := s.Watch.BroadcastJSON(update.PathID, update); err != nil {
			log.Warn("watch broadcast failed", "path", update.PathID, "error", err)
		}
	})

	registerRoutes(s)
	return s, nil
}

// Start runs the watch hub until ctx is done.
func (s *Server) Start(ctx context.Context) {
	go s.Watch.Run(ctx)
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		status := fiber.Map{"status": "ok", "sessions": s.Hub.SessionCount()}
		if s.Redis != nil {
			if err := s.Redis.Ping(c.UserContext()).Err(); err != nil {
				status["status"] = "degraded"
				status["redis"] = err.Error()
				return c.Status(fiber.StatusServiceUnavailable).JSON(status)
			}
		}
		return c.JSON(status)
	})

	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})))

	s.Hub.RegisterRoutes(s.App)
	s.App.Get("/ws/watch/:pathId", s.Watch.Handler())

	api := s.App.Group("/api")
	s.Hub.RegisterAPIRoutes(api)
	api.Get("/watch/stats", func(c *fiber.Ctx) error {
		return c.JSON(s.Watch.Stats())
	})
}
