package main

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/kilianp07/bloodlink/core/model"
)

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))
var rngMu sync.Mutex

func roll() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64()
}

// Reaction is what a simulated donor does with one alert.
type Reaction struct {
	// Receipt is false when the alert never reaches the device.
	Receipt bool
	// Decision is empty when the donor ignores the alert.
	Decision model.Decision
}

// ResponseStrategy decides how a donor reacts to an alert.
type ResponseStrategy interface {
	React(ctx context.Context, donorID string, a alert) Reaction
}

// AlwaysAccept acknowledges and accepts every alert.
type AlwaysAccept struct{}

func (AlwaysAccept) React(context.Context, string, alert) Reaction {
	return Reaction{Receipt: true, Decision: model.DecisionAccept}
}

// RandomResponder drops, ignores, accepts or declines alerts with the
// configured probabilities. Critical alerts are twice as likely to be
// accepted, capped at one.
type RandomResponder struct {
	DropRate   float64
	IgnoreRate float64
	AcceptRate float64
}

func (r RandomResponder) React(_ context.Context, _ string, a alert) Reaction {
	if roll() < r.DropRate {
		return Reaction{}
	}
	if roll() < r.IgnoreRate {
		return Reaction{Receipt: true}
	}
	accept := r.AcceptRate
	if a.Alert.Urgency == model.UrgencyCritical {
		accept = min(1, 2*accept)
	}
	if roll() < accept {
		return Reaction{Receipt: true, Decision: model.DecisionAccept}
	}
	return Reaction{Receipt: true, Decision: model.DecisionDecline}
}
