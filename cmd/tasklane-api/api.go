// Package main provides the Tasklane API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/tasklane/tasklane/pkg/engine"
	"github.com/tasklane/tasklane/pkg/store"
	"github.com/tasklane/tasklane/pkg/web"
	"github.com/tasklane/tasklane/pkg/workflow"
)

type API struct {
	logger      *slog.Logger
	engine      *engine.Engine
	store       store.Store
	definitions workflow.Repository
}

func NewAPI(
	logger *slog.Logger,
	eng *engine.Engine,
	taskStore store.Store,
	definitions workflow.Repository,
) *API {
	return &API{
		logger:      logger,
		engine:      eng,
		store:       taskStore,
		definitions: definitions,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.engine, a.store, a.definitions)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Tasklane API")
	})

	handlers.RegisterRoutes(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
