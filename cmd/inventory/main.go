package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-saga-orders/internal/app"
	"github.com/ariefcatur/go-saga-orders/internal/config"
	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/httpx"
	"github.com/ariefcatur/go-saga-orders/internal/inventory"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Setup(ctx, config.ServiceInventory, inventory.Schema)
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	defer deps.Close()

	coord := &inventory.Coordinator{
		Store:           &inventory.Repo{DB: deps.DB},
		Log:             deps.Log,
		Service:         deps.Cfg.ServiceName,
		ConflictRetries: deps.Cfg.StockConflictRetries,
	}

	router := httpx.NewRouter(deps.Log)
	(&httpx.ProductsHandler{Svc: coord, Log: deps.Log}).Register(router)

	// payment-events untuk kompensasi dan konfirmasi
	topics := deps.Subscription(events.TopicOrderEvents, events.TopicPaymentEvents)
	if err := deps.Run(ctx, coord, topics, router); err != nil {
		deps.Log.Error("inventory service stopped", zap.Error(err))
		deps.Close()
		os.Exit(1)
	}
	deps.Log.Info("shutdown complete")
}
