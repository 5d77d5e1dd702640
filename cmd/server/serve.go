package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"exoweb/internal/admin"
	"exoweb/internal/api"
	"exoweb/internal/auth"
	"exoweb/internal/config"
	"exoweb/internal/engine"
	"exoweb/internal/instrument"
	"exoweb/internal/logging"
	"exoweb/internal/metadata"
	"exoweb/internal/model"
	"exoweb/internal/provider"
	"exoweb/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	// 1. Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logrus.NewEntry(logging.New(cfg.Log))
	log.WithFields(logrus.Fields{"port": cfg.Server.Port, "driver": cfg.Database.Driver}).Info("config loaded")

	// 2. Connect to database and bootstrap system tables
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	if err := db.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	log.Info("system tables ready")

	// 3. Load definitions; a definitions file is written through to the store
	var conditionTypes []metadata.ConditionTypeDefinition
	if cfg.Model.Definitions != "" {
		defs, err := metadata.LoadFile(cfg.Model.Definitions)
		if err != nil {
			return err
		}
		if err := metadata.SaveAll(ctx, db, defs); err != nil {
			return fmt.Errorf("save definitions: %w", err)
		}
		conditionTypes = defs.ConditionTypes
	}
	reg := metadata.NewRegistry()
	if err := metadata.LoadAll(ctx, db, reg, log); err != nil {
		return err
	}
	defs := reg.Definitions()
	defs.ConditionTypes = conditionTypes

	// 4. Build the model
	objects := provider.NewStore(db, log)
	types := provider.NewTypeLoader(objects)
	types.Known = objects
	m := model.New(
		model.WithLogger(log),
		model.WithIDPrefix(cfg.Model.IDPrefix),
		model.WithFormats(engine.Formats{}),
		model.WithTypeLoader(types),
	)
	m.SetGhostLoader(provider.NewObjectLoader(m, objects))
	if cfg.Journal.Enabled {
		journal := instrument.NewEventBuffer(db, cfg.Journal.BatchSize, cfg.Journal.FlushInterval, log)
		defer journal.Stop()
		instrument.Record(m, journal)
		log.Info("change journal enabled")
	}
	res, err := engine.Build(m, defs)
	if err != nil {
		return err
	}
	for _, t := range res.Types {
		provider.RegisterKnown(t, objects)
	}

	// 5. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler:          api.ErrorHandler(log),
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "model": m.ID()})
	})

	var middleware []fiber.Handler
	if cfg.Auth.Enabled {
		middleware = append(middleware, auth.Middleware(cfg.Auth.JWTSecret))
	} else {
		log.Warn("authentication disabled")
	}
	admin.RegisterAdminRoutes(app, admin.NewHandler(db, reg, m, log), middleware...)
	api.RegisterRoutes(app, api.NewHandler(m, types, objects, log), middleware...)

	// 6. Start server
	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		log.WithField("addr", addr).Info("starting server")
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}
