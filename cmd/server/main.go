package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/vendora/webhook-engine/internal/config"
	"github.com/vendora/webhook-engine/internal/consumer"
	"github.com/vendora/webhook-engine/internal/database"
	"github.com/vendora/webhook-engine/internal/engine"
	"github.com/vendora/webhook-engine/internal/handlers"
	"github.com/vendora/webhook-engine/internal/logger"
	"github.com/vendora/webhook-engine/internal/provider"
	"github.com/vendora/webhook-engine/internal/rabbitmq"
	"github.com/vendora/webhook-engine/internal/registry"
	"github.com/vendora/webhook-engine/internal/routes"
	"github.com/vendora/webhook-engine/internal/sweeper"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	log, err := logger.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, log); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	if cfg.Database.Migrate {
		if err := database.RunMigrations(&cfg.Database, log); err != nil {
			log.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	// Endpoint registry: the in-memory index is a cache of the
	// database and must be rebuilt before dispatch starts.
	reg := registry.New(db, log)
	if err := reg.Load(); err != nil {
		log.Fatal("Failed to load endpoint registry", zap.Error(err))
	}

	eng := engine.New(db, reg, &cfg.Dispatcher, log)
	if err := eng.Recover(); err != nil {
		log.Fatal("Failed to recover unprocessed events", zap.Error(err))
	}
	eng.Start()
	defer eng.Stop()

	sw := sweeper.New(db, &cfg.Retention, log)
	sw.Start()
	defer sw.Stop()

	// Broker ingestion bridge is optional: producers can also POST to
	// /api/v1/events directly.
	var rmq *rabbitmq.Connection
	if cfg.RabbitMQ.BrokerEnabled() {
		rmq = rabbitmq.NewConnection(&cfg.RabbitMQ, log)
		if err := rmq.Connect(); err != nil {
			log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer rmq.Close()

		ingest := consumer.NewIngestConsumer(&cfg.RabbitMQ, rmq, eng, log)
		if err := ingest.Start(); err != nil {
			log.Fatal("Failed to start ingest consumer", zap.Error(err))
		}
		defer ingest.Stop()
	}

	stripe := provider.NewStripeGateway(eng, cfg.Stripe.WebhookSecret, log)

	app := fiber.New(fiber.Config{
		AppName:      "Webhook Engine",
		ServerHeader: "Fiber",
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	routes.SetupRoutes(app,
		handlers.NewHealthHandler(db, rmq),
		handlers.NewEndpointsHandler(reg, log),
		handlers.NewEventsHandler(db, eng, log),
		handlers.NewProviderHandler(stripe, log),
	)

	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		log.Info("Server starting",
			zap.String("address", addr),
		)
		if err := app.Listen(addr); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		log.Error("Error during server shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}
