package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/Orik-dev/kcalbot/app/repository"
	"github.com/Orik-dev/kcalbot/internal/pkg/bot"
	"github.com/Orik-dev/kcalbot/internal/pkg/cache"
	"github.com/Orik-dev/kcalbot/internal/pkg/database"
	"github.com/Orik-dev/kcalbot/internal/pkg/env"
	"github.com/Orik-dev/kcalbot/internal/pkg/gpt"
	"github.com/Orik-dev/kcalbot/internal/pkg/mealflow"
	"github.com/Orik-dev/kcalbot/internal/pkg/payment"
	"github.com/Orik-dev/kcalbot/internal/pkg/photostore"
	"github.com/Orik-dev/kcalbot/internal/pkg/quota"
	"github.com/Orik-dev/kcalbot/internal/pkg/router"
	"github.com/Orik-dev/kcalbot/internal/pkg/staging"
	"github.com/Orik-dev/kcalbot/internal/pkg/sweeper"
)

func main() {
	env.SetupEnvFile()
	if env.IsDev() {
		log.SetLevel(log.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// An unreachable datastore at boot is the one genuinely fatal class.
	db, err := database.Connect()
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	redisClient, err := cache.Connect(ctx)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}

	repos := repository.NewRepositories(db, redisClient)
	quotaSvc := quota.NewService(db)
	stager := staging.NewService(redisClient)
	gptClient := gpt.NewClient()

	var photos mealflow.PhotoStore
	photoCfg, err := photostore.LoadConfig()
	if err != nil {
		log.Fatalf("photo store config: %v", err)
	}
	if store, err := photostore.NewStore(photoCfg); err != nil {
		log.Warnf("Photo store unavailable, meals will be recorded without photos: %v", err)
	} else if store != nil {
		photos = store
	}

	gateway := payment.NewGateway()
	paymentSvc := payment.NewService(db, gateway)

	flow := mealflow.NewService(quotaSvc, gptClient, gptClient, stager, repos.Meals, photos)

	tgBot, err := bot.New(repos.Users, repos.Meals, flow, paymentSvc)
	if err != nil {
		log.Fatalf("bot: %v", err)
	}

	autopay := payment.NewAutopayEngine(db, paymentSvc, gateway, tgBot)
	sweep := sweeper.NewService(redisClient, quotaSvc, repos.Users, repos.Meals, autopay)
	sweep.Start()
	defer sweep.Stop()

	// Webhook server for gateway notifications.
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New(), logger.New())
	router.InstallRouter(app, paymentSvc)

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "0.0.0.0"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Errorf("webhook server: %v", err)
		}
	}()

	if err := tgBot.Start(ctx); err != nil {
		log.Errorf("bot stopped: %v", err)
	}

	if err := app.Shutdown(); err != nil {
		log.Errorf("webhook shutdown: %v", err)
	}
}
