package internal

import (
	"context"
	"math"
	"strings"

	"github.com/xKoRx/mirror/domain"
	"github.com/xKoRx/mirror/telemetry"
	"github.com/xKoRx/mirror/telemetry/semconv"
	"go.opentelemetry.io/otel/attribute"
)

// ReconScenario clasifica la relación entre una posición del master y la del
// follower al momento de conectar.
type ReconScenario string

const (
	// ReconMasterOnly el master tiene posición y el follower no.
	ReconMasterOnly ReconScenario = "master_only"
	// ReconCommonSameDir ambos tienen posición en la misma dirección.
	ReconCommonSameDir ReconScenario = "common_same_dir"
	// ReconCommonDiffDir ambos tienen posición en direcciones opuestas.
	ReconCommonDiffDir ReconScenario = "common_diff_dir"
)

// ReconItem una posición clasificada durante la reconciliación.
type ReconItem struct {
	FollowerID         string
	Symbol             string
	Scenario           ReconScenario
	MasterQty          int
	FollowerQty        int
	ProposedMultiplier float64
}

// ReconStats resultado de aplicar las decisiones de reconciliación.
type ReconStats struct {
	Inferred    int
	Blacklisted int
	Reported    int
}

// ReconciliationClassifier compara posiciones master/follower al conectar y
// deriva decisiones: inferir multiplicador cuando apuntan igual y suprimir el
// símbolo (blacklist) tanto cuando apuntan en direcciones opuestas como cuando
// solo el master tiene posición.
type ReconciliationClassifier struct {
	multipliers *MultiplierService
	blacklist   *BlacklistService
	audit       *AuditService
	notifier    domain.Notifier
	telemetry   *telemetry.Client
}

// NewReconciliationClassifier crea el clasificador.
func NewReconciliationClassifier(multipliers *MultiplierService, blacklist *BlacklistService, audit *AuditService, notifier domain.Notifier, tel *telemetry.Client) *ReconciliationClassifier {
	return &ReconciliationClassifier{
		multipliers: multipliers,
		blacklist:   blacklist,
		audit:       audit,
		notifier:    notifier,
		telemetry:   tel,
	}
}

// Classify compara las posiciones del master contra las de un follower.
//
// Posiciones que solo el follower tiene no generan item: la réplica nunca
// las originó y no hay decisión que tomar sobre ellas.
func (c *ReconciliationClassifier) Classify(followerID string, masterPositions, followerPositions []*domain.Position) []ReconItem {
	followerBySymbol := make(map[string]*domain.Position, len(followerPositions))
	for _, p := range followerPositions {
		followerBySymbol[strings.ToUpper(p.Symbol)] = p
	}

	var items []ReconItem
	for _, mp := range masterPositions {
		if mp.Quantity < 1 {
			continue
		}
		symbol := strings.ToUpper(mp.Symbol)
		fp, ok := followerBySymbol[symbol]

		if !ok || fp.Quantity < 1 {
			items = append(items, ReconItem{
				FollowerID:  followerID,
				Symbol:      symbol,
				Scenario:    ReconMasterOnly,
				MasterQty:   mp.Quantity,
				FollowerQty: 0,
			})
			continue
		}

		if mp.Side == fp.Side {
			inferred := float64(fp.Quantity) / float64(mp.Quantity)
			if math.IsNaN(inferred) || math.IsInf(inferred, 0) {
				continue
			}
			inferred = math.Round(inferred*10000) / 10000
			items = append(items, ReconItem{
				FollowerID:         followerID,
				Symbol:             symbol,
				Scenario:           ReconCommonSameDir,
				MasterQty:          mp.Quantity,
				FollowerQty:        fp.Quantity,
				ProposedMultiplier: inferred,
			})
			continue
		}

		items = append(items, ReconItem{
			FollowerID:  followerID,
			Symbol:      symbol,
			Scenario:    ReconCommonDiffDir,
			MasterQty:   mp.Quantity,
			FollowerQty: fp.Quantity,
		})
	}
	return items
}

// ApplyDecisions ejecuta las decisiones derivadas de la clasificación.
//
//   - common_same_dir: registrar multiplicador inferido (respeta
//     user_override).
//   - common_diff_dir: blacklist del símbolo; el follower está operando en
//     contra del master y replicar agravaría la divergencia.
//   - master_only: blacklist del símbolo y reporte; abrir la posición de
//     arranque en el follower es decisión del usuario, y mientras no la tome
//     no se replica nada sobre ese símbolo.
func (c *ReconciliationClassifier) ApplyDecisions(ctx context.Context, items []ReconItem) ReconStats {
	var stats ReconStats

	for _, item := range items {
		switch item.Scenario {
		case ReconCommonSameDir:
			changed, err := c.multipliers.SetAutoInferred(ctx, item.FollowerID, item.Symbol, item.ProposedMultiplier)
			if err != nil {
				c.telemetry.Warn(ctx, "reconcile: failed to set inferred multiplier",
					semconv.Mirror.FollowerID.String(item.FollowerID),
					semconv.Mirror.Symbol.String(item.Symbol),
					attribute.String("error", err.Error()))
				continue
			}
			if changed {
				stats.Inferred++
				c.audit.Info(ctx, AuditCategorySystem, item.FollowerID, item.Symbol,
					"reconcile: multiplier inferred from open positions",
					map[string]interface{}{
						"master_qty":   item.MasterQty,
						"follower_qty": item.FollowerQty,
						"multiplier":   item.ProposedMultiplier,
					})
			}

		case ReconCommonDiffDir:
			added, err := c.blacklist.Add(ctx, item.FollowerID, item.Symbol, BlacklistReasonReconcile)
			if err != nil {
				c.telemetry.Warn(ctx, "reconcile: failed to blacklist diverging symbol",
					semconv.Mirror.FollowerID.String(item.FollowerID),
					semconv.Mirror.Symbol.String(item.Symbol),
					attribute.String("error", err.Error()))
				continue
			}
			if added {
				stats.Blacklisted++
				c.audit.Warn(ctx, AuditCategorySystem, item.FollowerID, item.Symbol,
					"reconcile: opposite-direction position, symbol blacklisted",
					map[string]interface{}{
						"master_qty":   item.MasterQty,
						"follower_qty": item.FollowerQty,
					})
			}

		case ReconMasterOnly:
			added, err := c.blacklist.Add(ctx, item.FollowerID, item.Symbol, BlacklistReasonMasterOnly)
			if err != nil {
				c.telemetry.Warn(ctx, "reconcile: failed to blacklist master-only symbol",
					semconv.Mirror.FollowerID.String(item.FollowerID),
					semconv.Mirror.Symbol.String(item.Symbol),
					attribute.String("error", err.Error()))
				continue
			}
			if added {
				stats.Blacklisted++
				c.audit.Warn(ctx, AuditCategorySystem, item.FollowerID, item.Symbol,
					"reconcile: master-only position, symbol blacklisted until user decides",
					map[string]interface{}{"master_qty": item.MasterQty})
			}
			stats.Reported++
			c.notifier.Broadcast("reconcile_master_only", map[string]interface{}{
				"follower_id": item.FollowerID,
				"symbol":      item.Symbol,
				"master_qty":  item.MasterQty,
				"action":      "blacklisted",
			})
		}
	}

	c.telemetry.Info(ctx, "reconciliation applied",
		attribute.Int("inferred", stats.Inferred),
		attribute.Int("blacklisted", stats.Blacklisted),
		attribute.Int("reported", stats.Reported))
	return stats
}
