package internal

import (
	"context"
	"math"

	"github.com/xKoRx/mirror/domain"
	"github.com/xKoRx/mirror/telemetry"
	"github.com/xKoRx/mirror/telemetry/semconv"
)

// SessionProvider expone las sesiones activas de broker.
//
// Lo implementa SessionRegistry; los tests inyectan fakes.
type SessionProvider interface {
	Master() domain.BrokerClient
	ConnectedFollowers() map[string]domain.BrokerClient
}

// PositionTracker observa aperturas de posición en followers para inferir
// multiplicadores, y arma el snapshot de posiciones del push loop.
type PositionTracker struct {
	sessions    SessionProvider
	multipliers *MultiplierService
	notifier    domain.Notifier
	telemetry   *telemetry.Client
}

// NewPositionTracker crea el tracker.
func NewPositionTracker(sessions SessionProvider, multipliers *MultiplierService, notifier domain.Notifier, tel *telemetry.Client) *PositionTracker {
	return &PositionTracker{
		sessions:    sessions,
		multipliers: multipliers,
		notifier:    notifier,
		telemetry:   tel,
	}
}

// OnFollowerPositionOpened infiere el multiplicador del símbolo a partir de
// la relación entre la posición del follower y la del master.
//
// Sin posición master en el símbolo no hay nada que inferir. El servicio de
// multiplicadores protege los user_override y aplica la tolerancia.
func (t *PositionTracker) OnFollowerPositionOpened(ctx context.Context, followerID, symbol string, followerQty int) {
	master := t.sessions.Master()
	if master == nil || followerQty < 1 {
		return
	}

	masterPos, ok := master.GetPosition(symbol)
	if !ok || masterPos.Quantity < 1 {
		return
	}

	inferred := float64(followerQty) / float64(masterPos.Quantity)
	if math.IsNaN(inferred) || math.IsInf(inferred, 0) {
		return
	}
	inferred = math.Round(inferred*10000) / 10000

	changed, err := t.multipliers.SetAutoInferred(ctx, followerID, symbol, inferred)
	if err != nil {
		t.telemetry.Warn(ctx, "failed to record inferred multiplier",
			semconv.Mirror.FollowerID.String(followerID),
			semconv.Mirror.Symbol.String(symbol))
		return
	}
	if changed {
		t.notifier.Broadcast("multiplier_inferred", map[string]interface{}{
			"follower_id": followerID,
			"symbol":      symbol,
			"multiplier":  inferred,
		})
	}
}

// Snapshot arma el estado de posiciones para el push hacia la UI.
func (t *PositionTracker) Snapshot() map[string]interface{} {
	snapshot := map[string]interface{}{
		"master":    positionsPayload(t.sessions.Master()),
		"followers": map[string]interface{}{},
	}

	followers := make(map[string]interface{})
	for followerID, client := range t.sessions.ConnectedFollowers() {
		followers[followerID] = positionsPayload(client)
	}
	snapshot["followers"] = followers
	return snapshot
}

func positionsPayload(client domain.BrokerClient) []map[string]interface{} {
	if client == nil || !client.IsRunning() {
		return nil
	}

	positions := client.Positions()
	result := make([]map[string]interface{}, 0, len(positions))
	for _, p := range positions {
		result = append(result, map[string]interface{}{
			"symbol":         p.Symbol,
			"side":           string(p.Side),
			"quantity":       p.Quantity,
			"avg_cost":       p.AvgCost,
			"realized_pnl":   p.RealizedPnl,
			"unrealized_pnl": p.UnrealizedPnl,
			"last_price":     p.LastPrice,
			"total_pnl":      p.TotalPnl(),
		})
	}
	return result
}
