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
	"github.com/ariefcatur/go-saga-orders/internal/orders"
	"github.com/ariefcatur/go-saga-orders/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Setup(ctx, config.ServiceOrder, orders.Schema)
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	defer deps.Close()

	coord := &orders.Coordinator{
		Store:   &orders.Repo{DB: deps.DB},
		Cache:   &redisx.OrderCache{RDB: deps.Redis, Log: deps.Log},
		Log:     deps.Log,
		Service: deps.Cfg.ServiceName,
	}

	router := httpx.NewRouter(deps.Log)
	(&httpx.OrdersHandler{Svc: coord, Log: deps.Log}).Register(router)

	topics := deps.Subscription(events.TopicInventoryEvents, events.TopicPaymentEvents)
	if err := deps.Run(ctx, coord, topics, router); err != nil {
		deps.Log.Error("order service stopped", zap.Error(err))
		deps.Close()
		os.Exit(1)
	}
	deps.Log.Info("shutdown complete")
}
