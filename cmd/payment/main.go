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
	"github.com/ariefcatur/go-saga-orders/internal/payment"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Setup(ctx, config.ServicePayment, payment.Schema)
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	defer deps.Close()

	coord := &payment.Coordinator{
		Store:   &payment.Repo{DB: deps.DB},
		Gateway: payment.NewSimulatedGateway(deps.Cfg.PaymentFailureRate, deps.Cfg.PaymentLatency),
		Log:     deps.Log,
		Service: deps.Cfg.ServiceName,
	}

	router := httpx.NewRouter(deps.Log)
	(&httpx.PaymentsHandler{Svc: coord, Log: deps.Log}).Register(router)

	topics := deps.Subscription(events.TopicInventoryEvents)
	if err := deps.Run(ctx, coord, topics, router); err != nil {
		deps.Log.Error("payment service stopped", zap.Error(err))
		deps.Close()
		os.Exit(1)
	}
	deps.Log.Info("shutdown complete")
}
