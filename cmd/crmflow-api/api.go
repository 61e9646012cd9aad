// Package main provides the crmflow API server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/crmflow/pkg/canvas"
	"github.com/dukex/crmflow/pkg/catalog"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/history"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/scheduler"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/dukex/crmflow/pkg/simulator"
	"github.com/dukex/crmflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout     = 10 * time.Second
	editorSweepInterval = time.Minute
)

type API struct {
	logger    *slog.Logger
	eventBus  eventbus.EventBus
	validate  *validator.Validate
	catalog   *catalog.Catalog
	workflows *services.Workflow
	runs      *services.Runs
	simulator *simulator.Simulator
	scheduler *scheduler.Scheduler
	editors   *canvas.Manager
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	runHistory history.History,
	eventBus eventbus.EventBus,
	tracer trace.Tracer,
	editorOpts ...canvas.ManagerOption,
) *API {
	workflows := services.NewWorkflow(persistence,
		services.WithLogger(logger),
		services.WithPublisher(eventBus),
		services.WithTracer(tracer),
	)

	sim := simulator.New(runHistory, logger,
		simulator.WithPublisher(eventBus),
		simulator.WithTracer(tracer),
	)

	runs := services.NewRuns(workflows, sim, runHistory, logger)

	return &API{
		logger:    logger,
		eventBus:  eventBus,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		catalog:   catalog.NewDefault(logger),
		workflows: workflows,
		runs:      runs,
		simulator: sim,
		scheduler: scheduler.New(workflows, runs, logger),
		editors: canvas.NewManager(workflows, logger,
			append([]canvas.ManagerOption{canvas.WithSessionOptions(canvas.WithTracer(tracer))}, editorOpts...)...,
		),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.workflows,
		a.runs,
		a.editors,
		a.catalog,
		a.validate,
		web.WithScheduler(a.scheduler),
		web.WithLogger(a.logger),
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("crmflow API")
	})

	handlers.Routes(app)

	return app
}

// Subscribe routes workflow lifecycle events to the scheduler and starts consuming the bus.
func (a *API) Subscribe(ctx context.Context) error {
	if err := a.scheduler.Subscribe(a.eventBus); err != nil {
		return err
	}

	return a.eventBus.Subscribe(ctx)
}

// Start serves the API and runs the scheduler until ctx is done, then drains in-flight runs.
func (a *API) Start(ctx context.Context, port int) error {
	if err := a.Subscribe(ctx); err != nil {
		return err
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}

	app := a.App()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
	})

	g.Go(func() error {
		return a.editors.Run(ctx, editorSweepInterval)
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		a.logger.InfoContext(shutdownCtx, "Shutting down")

		err := errors.Join(
			app.ShutdownWithContext(shutdownCtx),
			a.scheduler.Stop(shutdownCtx),
		)

		a.simulator.Wait()

		return err
	})

	a.logger.InfoContext(ctx, "crmflow API listening", "port", port)

	return g.Wait()
}
