package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-cart-checkout/internal/config"
	kafkax "github.com/ariefcatur/go-cart-checkout/internal/kafka"
	"github.com/ariefcatur/go-cart-checkout/internal/logging"
	"github.com/ariefcatur/go-cart-checkout/internal/orders"
	"github.com/ariefcatur/go-cart-checkout/internal/projector"
	"github.com/ariefcatur/go-cart-checkout/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.AppEnv)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	os.Exit(logging.Finish(logger, "projector stopped", run(cfg, logger)))
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	svc := &projector.Service{
		Cache:       redisx.NewOrderCache(rdb),
		Log:         logger.Named("projector"),
		ServiceName: "projector",
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, orders.TopicOrderPlaced, cfg.ProjectorWorkers, logger)
	logger.Info("projector consumer started",
		zap.String("group", cfg.ProjectorGroup),
		zap.String("topic", orders.TopicOrderPlaced),
		zap.Int("workers", cfg.ProjectorWorkers))

	// Start returns after in-flight messages finish.
	if err := cons.Start(ctx, svc.HandleOrderPlaced); err != nil {
		return fmt.Errorf("consumer: %w", err)
	}
	logger.Info("projector consumer drained")
	return nil
}
