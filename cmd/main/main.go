package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cron "github.com/robfig/cron/v3"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"

	pkgCampaign "github.com/cnkaya/go-whatsapp-campaign-engine/pkg/campaign"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/env"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/log"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/router"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/store"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/transport"
	pkgWhatsApp "github.com/cnkaya/go-whatsapp-campaign-engine/pkg/whatsapp"

	"github.com/cnkaya/go-whatsapp-campaign-engine/internal"
)

type Server struct {
	Address string
	Port    string
}

func main() {
	ctx := context.Background()

	// Intialize Cron
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
	), cron.WithSeconds())

	// Initialize Fiber
	app := fiber.New(fiber.Config{
		ErrorHandler:   router.HttpErrorHandler,
		BodyLimit:      router.BodyLimitBytes(),
		ReadBufferSize: 8192, // Increase from default 4096 to handle larger headers (JWT tokens)
	})

	// Request ID + panic recovery (structured JSON)
	app.Use(router.HttpRequestID())
	app.Use(router.RecoveryMiddleware())

	// Router Compression
	app.Use(compress.New(compress.Config{
		Level: compress.Level(router.GZipLevel),
		Next: func(c *fiber.Ctx) bool {
			return strings.Contains(c.Path(), "docs")
		},
	}))

	// Router CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins: router.CORSOrigin,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE",
	}))

	// Router Security
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))

	// Router Cache
	app.Use(router.HttpCacheInMemory(router.CacheTTLSeconds))

	// Router RealIP + request context enrichment
	app.Use(router.HttpRealIP())

	// Router Default Handler
	app.Get("/favicon.ico", router.ResponseNoContent)

	// Open Console Database
	db, err := store.Open()
	if err != nil {
		log.Print(nil).Fatal(err.Error())
	}
	if err := db.Init(ctx); err != nil {
		log.Print(nil).Fatal(err.Error())
	}

	// Open WhatsApp Device Datastore
	container, err := pkgWhatsApp.OpenDatastore(ctx)
	if err != nil {
		log.Print(nil).Fatal(err.Error())
	}
	var factory pkgWhatsApp.ClientFactory
	if container != nil {
		factory = pkgWhatsApp.NewClientFactory(container, env.GetEnvStringOrDefault("WHATSAPP_PROXY_URL", ""))
	}
	registry := pkgWhatsApp.NewRegistry(db, factory)

	// Build Channel Adapters and Campaign Engine
	adapters := map[string]transport.Adapter{
		store.ChannelHostedAPI: transport.NewHostedAPIFromEnv(),
		store.ChannelPersonal:  transport.NewPersonal(registry),
	}
	materializer := pkgCampaign.NewMaterializer(db)
	dispatcher := pkgCampaign.NewDispatcher(db, adapters)
	manager := pkgCampaign.NewManager(dispatcher)

	deps := internal.Dependencies{
		Store:        db,
		Registry:     registry,
		Materializer: materializer,
		Manager:      manager,
	}

	// Load Internal Routes
	internal.Routes(app, deps)

	// Running Startup Tasks
	internal.Startup(ctx, deps)

	// Running Routines Tasks
	internal.Routines(c, deps)
	c.Start()

	// Get Server Configuration with defaults
	var serverConfig Server

	// SERVER_ADDRESS: default "0.0.0.0" (all interfaces)
	serverConfig.Address = env.GetEnvStringOrDefault("SERVER_ADDRESS", "0.0.0.0")

	// SERVER_PORT: default "7001"
	serverConfig.Port = env.GetEnvStringOrDefault("SERVER_PORT", "7001")

	// Start Server
	go func() {
		if err := app.Listen(serverConfig.Address + ":" + serverConfig.Port); err != nil {
			log.Print(nil).Fatal(err.Error())
		}
	}()

	// Watch for Shutdown Signal
	sigShutdown := make(chan os.Signal, 1)
	signal.Notify(sigShutdown, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sigShutdown
	// Wait 5 Seconds Before Graceful Shutdown
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	// Try To Shutdown Server
	if err := app.ShutdownWithContext(ctxShutdown); err != nil {
		log.Print(nil).Error(err.Error())
	}

	// Park Running Campaigns and Close Connections
	manager.Shutdown()
	registry.Shutdown(ctxShutdown)
	if err := db.Close(); err != nil {
		log.Print(nil).Error(err.Error())
	}

	// Try To Shutdown Cron
	c.Stop()
}
