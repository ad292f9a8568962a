package internal

import (
	"context"
	"math"
	"strconv"
	"sync"

	"github.com/xKoRx/mirror/domain"
	"github.com/xKoRx/mirror/telemetry"
	"github.com/xKoRx/mirror/telemetry/metricbundle"
	"github.com/xKoRx/mirror/telemetry/semconv"
	"go.opentelemetry.io/otel/attribute"
)

// OrderReplicator escala y replica órdenes del master hacia los followers,
// manteniendo el mapping bidireccional de IDs.
//
// Una orden replicada siempre lleva un ID fresco del lado del follower; el
// ID del master jamás se reutiliza. El mapping es la única fuente para
// resolver qué orden del follower corresponde a cuál del master.
type OrderReplicator struct {
	multipliers *MultiplierService
	audit       *AuditService
	telemetry   *telemetry.Client
	metrics     *metricbundle.MirrorMetrics

	mu               sync.RWMutex
	masterToFollower map[int64]map[string]int64
	followerToMaster map[string]int64
}

// NewOrderReplicator crea el replicador con mapping vacío.
func NewOrderReplicator(multipliers *MultiplierService, audit *AuditService, tel *telemetry.Client, metrics *metricbundle.MirrorMetrics) *OrderReplicator {
	return &OrderReplicator{
		multipliers:      multipliers,
		audit:            audit,
		telemetry:        tel,
		metrics:          metrics,
		masterToFollower: make(map[int64]map[string]int64),
		followerToMaster: make(map[string]int64),
	}
}

func followerOrderKey(followerID string, orderID int64) string {
	return followerID + "::" + strconv.FormatInt(orderID, 10)
}

// ScaleQuantity aplica el multiplicador efectivo y redondea al entero más
// cercano. Retorna la cantidad escalada, el multiplicador y su origen.
func (r *OrderReplicator) ScaleQuantity(followerID, symbol string, quantity int) (int, float64, domain.MultiplierSource) {
	mult, source := r.multipliers.Effective(followerID, symbol)
	scaled := int(math.Round(float64(quantity) * mult))
	return scaled, mult, source
}

// ReplicateOrder replica una orden del master hacia un follower conectado.
//
// Cantidades escaladas a cero se saltan con registro de auditoría (no se
// fuerza mínimo de 1). Retorna el ID de la orden del follower y si la
// réplica ocurrió; los fallos se loguean y retornan false sin propagar.
func (r *OrderReplicator) ReplicateOrder(ctx context.Context, followerID string, client domain.BrokerClient, master *domain.Order) (int64, bool) {
	scaled, mult, _ := r.ScaleQuantity(followerID, master.Symbol, master.Quantity)
	if scaled < 1 {
		r.telemetry.Info(ctx, "order replication skipped, scaled quantity below one",
			semconv.Mirror.FollowerID.String(followerID),
			semconv.Mirror.MasterOrderID.Int64(master.ID),
			semconv.Mirror.Symbol.String(master.Symbol),
			semconv.Mirror.Multiplier.Float64(mult))
		r.audit.Info(ctx, AuditCategoryOrder, followerID, master.Symbol,
			"replication skipped: scaled quantity is zero",
			map[string]interface{}{
				"master_order_id": master.ID,
				"master_qty":      master.Quantity,
				"multiplier":      mult,
			})
		return 0, false
	}

	return r.ReplicateOrderQty(ctx, followerID, client, master, scaled)
}

// ReplicateOrderQty replica una orden con la cantidad ya decidida por el
// caller (el pipeline de cortos fija su propio piso de 1 share).
func (r *OrderReplicator) ReplicateOrderQty(ctx context.Context, followerID string, client domain.BrokerClient, master *domain.Order, quantity int) (int64, bool) {
	mult, source := r.multipliers.Effective(followerID, master.Symbol)

	req := domain.RequestFromOrder(master, quantity)
	ack, err := client.SubmitOrder(ctx, req)
	if err != nil {
		r.telemetry.Error(ctx, "order replication failed", nil,
			semconv.Mirror.FollowerID.String(followerID),
			semconv.Mirror.MasterOrderID.Int64(master.ID),
			semconv.Mirror.Symbol.String(master.Symbol),
			attribute.String("error", err.Error()))
		r.audit.Error(ctx, AuditCategoryOrder, followerID, master.Symbol,
			"order replication failed",
			map[string]interface{}{
				"master_order_id": master.ID,
				"error":           err.Error(),
			})
		r.metrics.RecordOrderReplicated(ctx,
			semconv.Mirror.FollowerID.String(followerID),
			semconv.Mirror.Status.String("failed"))
		return 0, false
	}

	r.registerMapping(master.ID, followerID, ack.OrderID)

	r.telemetry.Info(ctx, "order replicated",
		semconv.Mirror.FollowerID.String(followerID),
		semconv.Mirror.MasterOrderID.Int64(master.ID),
		semconv.Mirror.FollowerOrderID.Int64(ack.OrderID),
		semconv.Mirror.Symbol.String(master.Symbol),
		semconv.Mirror.Side.String(string(master.Side)),
		semconv.Mirror.Quantity.Int(quantity),
		semconv.Mirror.Multiplier.Float64(mult),
		semconv.Mirror.MultiplierSource.String(string(source)))
	r.audit.Info(ctx, AuditCategoryOrder, followerID, master.Symbol,
		"order replicated",
		map[string]interface{}{
			"master_order_id":   master.ID,
			"follower_order_id": ack.OrderID,
			"side":              string(master.Side),
			"quantity":          quantity,
			"multiplier":        mult,
		})
	r.metrics.RecordOrderReplicated(ctx,
		semconv.Mirror.FollowerID.String(followerID),
		semconv.Mirror.Symbol.String(master.Symbol),
		semconv.Mirror.Status.String("ok"))

	return ack.OrderID, true
}

// CancelFollowerOrders cancela en cada follower conectado la orden mapeada a
// la orden del master. Retorna follower → éxito; followers sin mapping no
// aparecen en el resultado.
func (r *OrderReplicator) CancelFollowerOrders(ctx context.Context, masterOrderID int64, clients map[string]domain.BrokerClient) map[string]bool {
	mapped := r.GetFollowerOrderIDs(masterOrderID)
	result := make(map[string]bool, len(mapped))

	for followerID, followerOrderID := range mapped {
		client, ok := clients[followerID]
		if !ok {
			continue
		}
		cancelled, err := client.CancelOrder(ctx, followerOrderID)
		if err != nil || !cancelled {
			result[followerID] = false
			r.telemetry.Warn(ctx, "follower order cancel failed",
				semconv.Mirror.FollowerID.String(followerID),
				semconv.Mirror.MasterOrderID.Int64(masterOrderID),
				semconv.Mirror.FollowerOrderID.Int64(followerOrderID))
			continue
		}

		result[followerID] = true
		r.removeMapping(masterOrderID, followerID, followerOrderID)
		r.metrics.RecordOrderCancelled(ctx,
			semconv.Mirror.FollowerID.String(followerID))
	}
	return result
}

// ReplaceFollowerOrders replica un replace del master re-escalando la nueva
// cantidad por follower. Retorna follower → éxito.
func (r *OrderReplicator) ReplaceFollowerOrders(ctx context.Context, masterOrderID int64, symbol string, newQuantity int, newPrice float64, clients map[string]domain.BrokerClient) map[string]bool {
	mapped := r.GetFollowerOrderIDs(masterOrderID)
	result := make(map[string]bool, len(mapped))

	for followerID, followerOrderID := range mapped {
		client, ok := clients[followerID]
		if !ok {
			continue
		}

		scaled, mult, _ := r.ScaleQuantity(followerID, symbol, newQuantity)
		if scaled < 1 {
			result[followerID] = false
			r.audit.Warn(ctx, AuditCategoryOrder, followerID, symbol,
				"replace skipped: scaled quantity is zero",
				map[string]interface{}{
					"master_order_id": masterOrderID,
					"new_master_qty":  newQuantity,
					"multiplier":      mult,
				})
			continue
		}

		replaced, err := client.ReplaceOrder(ctx, followerOrderID, scaled, newPrice)
		if err != nil || !replaced {
			result[followerID] = false
			r.telemetry.Warn(ctx, "follower order replace failed",
				semconv.Mirror.FollowerID.String(followerID),
				semconv.Mirror.MasterOrderID.Int64(masterOrderID),
				semconv.Mirror.FollowerOrderID.Int64(followerOrderID))
			continue
		}

		result[followerID] = true
		r.metrics.RecordOrderReplaced(ctx,
			semconv.Mirror.FollowerID.String(followerID),
			semconv.Mirror.Symbol.String(symbol))
	}
	return result
}

// GetFollowerOrderIDs retorna follower → orden replicada para una orden del
// master.
func (r *OrderReplicator) GetFollowerOrderIDs(masterOrderID int64) map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mapped := r.masterToFollower[masterOrderID]
	result := make(map[string]int64, len(mapped))
	for followerID, orderID := range mapped {
		result[followerID] = orderID
	}
	return result
}

// GetMasterOrderID resuelve la orden del master detrás de una orden de
// follower.
func (r *OrderReplicator) GetMasterOrderID(followerID string, followerOrderID int64) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	masterID, ok := r.followerToMaster[followerOrderKey(followerID, followerOrderID)]
	return masterID, ok
}

// HasMapping responde si la orden del master tiene réplicas registradas.
func (r *OrderReplicator) HasMapping(masterOrderID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.masterToFollower[masterOrderID]) > 0
}

// CleanupOrder elimina atómicamente ambas direcciones del mapping de una
// orden del master.
func (r *OrderReplicator) CleanupOrder(masterOrderID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for followerID, followerOrderID := range r.masterToFollower[masterOrderID] {
		delete(r.followerToMaster, followerOrderKey(followerID, followerOrderID))
	}
	delete(r.masterToFollower, masterOrderID)
}

// RemoveFollower elimina el mapping de un follower dado de baja.
func (r *OrderReplicator) RemoveFollower(followerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for masterID, mapped := range r.masterToFollower {
		if followerOrderID, ok := mapped[followerID]; ok {
			delete(r.followerToMaster, followerOrderKey(followerID, followerOrderID))
			delete(mapped, followerID)
			if len(mapped) == 0 {
				delete(r.masterToFollower, masterID)
			}
		}
	}
}

func (r *OrderReplicator) registerMapping(masterOrderID int64, followerID string, followerOrderID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.masterToFollower[masterOrderID] == nil {
		r.masterToFollower[masterOrderID] = make(map[string]int64)
	}
	r.masterToFollower[masterOrderID][followerID] = followerOrderID
	r.followerToMaster[followerOrderKey(followerID, followerOrderID)] = masterOrderID
}

func (r *OrderReplicator) removeMapping(masterOrderID int64, followerID string, followerOrderID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mapped, ok := r.masterToFollower[masterOrderID]; ok {
		delete(mapped, followerID)
		if len(mapped) == 0 {
			delete(r.masterToFollower, masterOrderID)
		}
	}
	delete(r.followerToMaster, followerOrderKey(followerID, followerOrderID))
}
