package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(ServicePayment)
	require.NoError(t, err)

	assert.Equal(t, "payment-service", cfg.ServiceName)
	assert.Equal(t, ":8083", cfg.HTTPAddr)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "payment-group", cfg.ConsumerGroup)
	assert.Equal(t, 4, cfg.ConsumerWorkers)
	assert.Equal(t, "order-events", cfg.TopicOrderEvents)
	assert.InDelta(t, 0.2, cfg.PaymentFailureRate, 1e-9)
	assert.Equal(t, 100*time.Millisecond, cfg.PaymentLatency)
	assert.Equal(t, 3, cfg.StockConflictRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.OutboxInterval)
	assert.Equal(t, 100, cfg.OutboxBatchSize)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("CONSUMER_WORKERS", "8")
	t.Setenv("PAYMENT_FAILURE_RATE", "0")
	t.Setenv("PAYMENT_LATENCY", "5ms")

	cfg, err := Load(ServiceInventory)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 8, cfg.ConsumerWorkers)
	assert.Zero(t, cfg.PaymentFailureRate)
	assert.Equal(t, 5*time.Millisecond, cfg.PaymentLatency)
	assert.Equal(t, ":8082", cfg.HTTPAddr)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"no brokers", "KAFKA_BROKERS", " , "},
		{"zero workers", "CONSUMER_WORKERS", "0"},
		{"failure rate above one", "PAYMENT_FAILURE_RATE", "1.5"},
		{"negative retries", "STOCK_CONFLICT_RETRIES", "-1"},
		{"zero retries", "STOCK_CONFLICT_RETRIES", "0"},
		{"zero outbox interval", "OUTBOX_INTERVAL", "0s"},
		{"zero outbox batch", "OUTBOX_BATCH_SIZE", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load(ServiceOrder)
			assert.Error(t, err)
		})
	}
}

func TestLoad_UnknownService(t *testing.T) {
	_, err := Load("shipping")
	assert.Error(t, err)
}

func TestConfig_Topics(t *testing.T) {
	t.Setenv("TOPIC_PAYMENT_EVENTS", "staging.payment-events")

	cfg, err := Load(ServiceOrder)
	require.NoError(t, err)
	topics := cfg.Topics()
	assert.Equal(t, "staging.payment-events", topics["payment-events"])
	assert.Equal(t, "order-events", topics["order-events"])
	assert.Equal(t, "inventory-events", topics["inventory-events"])
}
