package payment

import (
	"context"
	"math/rand/v2"
	"time"
)

// ReasonGatewayTimeout is the decline reason of the simulated gateway.
const ReasonGatewayTimeout = "Payment gateway timeout - simulated failure"

type Decision struct {
	Approved bool
	Reason   string // set when declined
}

// Gateway decides whether a payment goes through. An error means no decision
// was made; the caller retries later.
type Gateway interface {
	Authorize(ctx context.Context, p Payment) (Decision, error)
}

type GatewayFunc func(ctx context.Context, p Payment) (Decision, error)

func (f GatewayFunc) Authorize(ctx context.Context, p Payment) (Decision, error) { return f(ctx, p) }

// Approve and Decline are fixed gateways for tests and local runs.
var (
	Approve Gateway = GatewayFunc(func(context.Context, Payment) (Decision, error) {
		return Decision{Approved: true}, nil
	})
	Decline Gateway = GatewayFunc(func(context.Context, Payment) (Decision, error) {
		return Decision{Reason: ReasonGatewayTimeout}, nil
	})
)

// SimulatedGateway waits Latency and then declines with probability
// FailureRate.
type SimulatedGateway struct {
	FailureRate float64
	Latency     time.Duration
	rand        func() float64
}

func NewSimulatedGateway(failureRate float64, latency time.Duration) *SimulatedGateway {
	return &SimulatedGateway{FailureRate: failureRate, Latency: latency, rand: rand.Float64}
}

func (g *SimulatedGateway) Authorize(ctx context.Context, _ Payment) (Decision, error) {
	if g.Latency > 0 {
		t := time.NewTimer(g.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		case <-t.C:
		}
	}
	roll := rand.Float64
	if g.rand != nil {
		roll = g.rand
	}
	if roll() < g.FailureRate {
		return Decision{Reason: ReasonGatewayTimeout}, nil
	}
	return Decision{Approved: true}, nil
}
