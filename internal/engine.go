package internal

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/xKoRx/mirror/domain"
	"github.com/xKoRx/mirror/internal/shortsale"
	"github.com/xKoRx/mirror/telemetry"
	"github.com/xKoRx/mirror/telemetry/metricbundle"
	"github.com/xKoRx/mirror/telemetry/semconv"
	"go.opentelemetry.io/otel/attribute"
)

// ReplayResult resultado de reproducir una acción encolada.
type ReplayResult struct {
	ActionID string
	Type     ActionType
	Symbol   string
	Status   string // replayed | skipped | failed
	Reason   string
}

// Engine es el orquestador de replicación master → followers.
//
// Suscribe los eventos de la sesión master, fan-out hacia los followers
// conectados y encola lo que los desconectados se pierden. Un push loop
// periódico empuja el estado hacia la UI y detecta reconexiones.
type Engine struct {
	cfg       *Config
	telemetry *telemetry.Client
	metrics   *metricbundle.MirrorMetrics

	sessions    *SessionRegistry
	multipliers *MultiplierService
	blacklist   *BlacklistService
	queue       *ActionQueue
	orders      *OrderReplicator
	locates     *LocateReplicator
	shorts      *shortsale.Manager
	positions   *PositionTracker
	reconciler  *ReconciliationClassifier
	audit       *AuditService
	notifier    domain.Notifier

	followerRepo domain.FollowerRepository

	mu            sync.Mutex
	running       bool
	ctx           context.Context
	cancel        context.CancelFunc
	subscriptions []domain.Unsubscribe
	lastConnected map[string]bool
	wg            sync.WaitGroup
}

// NewEngine arma el engine y todos sus servicios.
func NewEngine(cfg *Config, factory domain.ClientFactory, repos domain.RepositoryFactory, journal *ActionJournal, notifier domain.Notifier, tel *telemetry.Client, metrics *metricbundle.MirrorMetrics) *Engine {
	audit := NewAuditService(repos.AuditRepository(), tel)
	multipliers := NewMultiplierService(repos.MultiplierRepository(), tel)
	blacklist := NewBlacklistService(repos.BlacklistRepository(), tel)
	sessions := NewSessionRegistry(factory, tel)
	queue := NewActionQueue(journal, tel, metrics)
	orders := NewOrderReplicator(multipliers, audit, tel, metrics)
	locates := NewLocateReplicator(blacklist, multipliers, repos.LocateRepository(), audit, notifier, tel, metrics)
	locates.scanTimeout = cfg.LocateScanTimeout
	locates.retryInterval = cfg.LocateRetryInterval
	shorts := shortsale.NewManager(multipliers, blacklist, orders, notifier,
		cfg.ShortSaleTimeout, int64(cfg.MaxConcurrentLocates), tel, metrics)
	positions := NewPositionTracker(sessions, multipliers, notifier, tel)
	reconciler := NewReconciliationClassifier(multipliers, blacklist, audit, notifier, tel)

	return &Engine{
		cfg:           cfg,
		telemetry:     tel,
		metrics:       metrics,
		sessions:      sessions,
		multipliers:   multipliers,
		blacklist:     blacklist,
		queue:         queue,
		orders:        orders,
		locates:       locates,
		shorts:        shorts,
		positions:     positions,
		reconciler:    reconciler,
		audit:         audit,
		notifier:      notifier,
		followerRepo:  repos.FollowerRepository(),
		lastConnected: make(map[string]bool),
	}
}

// Accessors para la capa de API/CLI.

func (e *Engine) Multipliers() *MultiplierService       { return e.multipliers }
func (e *Engine) Blacklist() *BlacklistService          { return e.blacklist }
func (e *Engine) Queue() *ActionQueue                   { return e.queue }
func (e *Engine) Orders() *OrderReplicator              { return e.orders }
func (e *Engine) Locates() *LocateReplicator            { return e.locates }
func (e *Engine) ShortSales() *shortsale.Manager        { return e.shorts }
func (e *Engine) Sessions() *SessionRegistry            { return e.sessions }
func (e *Engine) Positions() *PositionTracker           { return e.positions }
func (e *Engine) Reconciler() *ReconciliationClassifier { return e.reconciler }

// Start levanta el engine: hidrata estado, conecta sesiones, suscribe
// eventos y arranca el push loop. Idempotente.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.running = true
	e.mu.Unlock()

	if err := e.multipliers.Load(ctx); err != nil {
		e.markStopped()
		return err
	}
	if err := e.blacklist.Load(ctx); err != nil {
		e.markStopped()
		return err
	}
	if err := e.queue.Restore(ctx); err != nil {
		e.telemetry.Warn(ctx, "action queue restore failed",
			attribute.String("error", err.Error()))
	}

	followers, err := e.followerRepo.LoadAll(ctx)
	if err != nil {
		e.markStopped()
		return domain.WrapError(domain.ErrStoreIO, "failed to load followers", err)
	}
	for _, cfg := range followers {
		if cfg.MaxLocatePrice <= 0 {
			cfg.MaxLocatePrice = e.cfg.MaxLocatePrice
		}
		if err := e.sessions.AddFollower(cfg); err != nil {
			e.telemetry.Error(ctx, "failed to build follower session", nil,
				semconv.Mirror.FollowerID.String(cfg.ID),
				attribute.String("error", err.Error()))
			continue
		}
		e.multipliers.SetBase(cfg.ID, cfg.BaseMultiplier)
	}

	if err := e.sessions.ConfigureMaster(e.cfg.MasterConnection()); err != nil {
		e.markStopped()
		return err
	}
	if err := e.sessions.StartAll(ctx); err != nil {
		e.markStopped()
		return err
	}

	e.subscribeMaster()
	e.subscribeFollowers()
	e.reconcileConnected(ctx)

	if err := e.multipliers.StartListener(e.ctx, e.cfg.PostgresConnStr()); err != nil {
		e.telemetry.Warn(ctx, "multiplier listener start failed",
			attribute.String("error", err.Error()))
	}

	for followerID := range e.sessions.ConnectedFollowers() {
		e.lastConnected[followerID] = true
	}

	e.wg.Add(1)
	go e.pushLoop()

	e.audit.Info(ctx, AuditCategorySystem, "", "", "replication engine started", nil)
	e.telemetry.Info(ctx, "replication engine started",
		attribute.Int("followers", len(followers)))
	return nil
}

// Stop apaga el engine. Idempotente.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	subs := e.subscriptions
	e.subscriptions = nil
	e.mu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.locates.CancelAllRetries()
	e.shorts.CancelAll()
	e.multipliers.StopListener()
	e.sessions.StopAll(ctx)

	e.audit.Info(ctx, AuditCategorySystem, "", "", "replication engine stopped", nil)
}

func (e *Engine) markStopped() {
	e.mu.Lock()
	e.running = false
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()
}

// IsRunning responde si el engine está levantado.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) addSubscription(unsubscribe domain.Unsubscribe) {
	e.mu.Lock()
	e.subscriptions = append(e.subscriptions, unsubscribe)
	e.mu.Unlock()
}

func (e *Engine) subscribeMaster() {
	master := e.sessions.Master()

	e.addSubscription(master.OnOrderAccepted(func(ev domain.OrderAcceptedEvent) {
		e.handleMasterOrderAccepted(e.ctx, ev)
	}))
	e.addSubscription(master.OnOrderCancelled(func(ev domain.OrderCancelledEvent) {
		e.handleMasterOrderCancelled(e.ctx, ev)
	}))
	e.addSubscription(master.OnOrderReplaced(func(ev domain.OrderReplacedEvent) {
		e.handleMasterOrderReplaced(e.ctx, ev)
	}))
	e.addSubscription(master.OnLocateFilled(func(ev domain.LocateFilledEvent) {
		e.handleMasterLocateFilled(e.ctx, ev)
	}))
}

func (e *Engine) subscribeFollowers() {
	for _, cfg := range e.sessions.FollowerConfigs() {
		followerID := cfg.ID
		client, ok := e.sessions.Follower(followerID)
		if !ok {
			continue
		}
		e.addSubscription(client.OnPositionOpened(func(ev domain.PositionOpenedEvent) {
			e.positions.OnFollowerPositionOpened(e.ctx, followerID, ev.Symbol, ev.InitialQuantity)
		}))
	}
}

func (e *Engine) reconcileConnected(ctx context.Context) {
	master := e.sessions.Master()
	if master == nil || !master.IsRunning() {
		return
	}
	masterPositions := master.Positions()

	for followerID, client := range e.sessions.ConnectedFollowers() {
		items := e.reconciler.Classify(followerID, masterPositions, client.Positions())
		if len(items) == 0 {
			continue
		}
		e.reconciler.ApplyDecisions(ctx, items)
	}
}

// isProbeOrder detecta las órdenes de prueba de conectividad del master, que
// jamás se replican.
func (e *Engine) isProbeOrder(order *domain.Order) bool {
	return strings.EqualFold(order.Symbol, e.cfg.ProbeSymbol) &&
		strings.EqualFold(order.Route, e.cfg.ProbeRoute)
}

func (e *Engine) handleMasterOrderAccepted(ctx context.Context, ev domain.OrderAcceptedEvent) {
	master := e.sessions.Master()
	order, ok := master.GetOrder(ev.OrderID)
	if !ok {
		e.telemetry.Warn(ctx, "accepted event for unknown master order",
			semconv.Mirror.MasterOrderID.Int64(ev.OrderID))
		return
	}
	if e.isProbeOrder(order) {
		e.telemetry.Debug(ctx, "probe order ignored",
			semconv.Mirror.MasterOrderID.Int64(order.ID),
			semconv.Mirror.Symbol.String(order.Symbol))
		return
	}

	connected := e.sessions.ConnectedFollowers()
	followerResults := make(map[string]interface{})
	for _, cfg := range e.sessions.FollowerConfigs() {
		if !cfg.Enabled {
			continue
		}

		// El blacklist se consulta antes de cualquier rama: ni se replica ni
		// se encola nada para un símbolo vetado.
		if e.blacklist.IsBlacklisted(cfg.ID, order.Symbol) {
			e.audit.Info(ctx, AuditCategoryOrder, cfg.ID, order.Symbol,
				"replication suppressed: symbol blacklisted",
				map[string]interface{}{"master_order_id": order.ID})
			followerResults[cfg.ID] = "skipped_blacklist"
			continue
		}

		client, isConnected := connected[cfg.ID]

		if !isConnected {
			e.enqueueMissedAction(ctx, cfg.ID, ActionOrderSubmit, order.Symbol, payloadFromOrder(order))
			followerResults[cfg.ID] = "queued"
			continue
		}

		if order.Side == domain.OrderSideShort {
			e.shorts.HandleShortSale(ctx, cfg, client, order)
			followerResults[cfg.ID] = "short_sale_pending"
			continue
		}

		if _, ok := e.orders.ReplicateOrder(ctx, cfg.ID, client, order); ok {
			followerResults[cfg.ID] = "replicated"
		} else {
			followerResults[cfg.ID] = "failed"
		}
	}

	if len(followerResults) > 0 {
		e.notifier.Broadcast("order_replicated", map[string]interface{}{
			"master_order_id":  order.ID,
			"symbol":           order.Symbol,
			"side":             string(order.Side),
			"follower_results": followerResults,
		})
	}
}

func (e *Engine) handleMasterOrderCancelled(ctx context.Context, ev domain.OrderCancelledEvent) {
	e.shorts.OnMasterOrderCancelled(ctx, ev.OrderID)

	mapped := e.orders.GetFollowerOrderIDs(ev.OrderID)
	if len(mapped) == 0 {
		return
	}

	connected := e.sessions.ConnectedFollowers()
	outcome := e.orders.CancelFollowerOrders(ctx, ev.OrderID, connected)

	var symbol string
	if order, ok := e.sessions.Master().GetOrder(ev.OrderID); ok {
		symbol = order.Symbol
	}
	followerResults := make(map[string]interface{}, len(mapped))
	for followerID, ok := range outcome {
		followerResults[followerID] = ok
	}
	for followerID := range mapped {
		if _, isConnected := connected[followerID]; isConnected {
			continue
		}
		e.enqueueMissedAction(ctx, followerID, ActionOrderCancel, symbol, map[string]interface{}{
			"master_order_id": ev.OrderID,
		})
		followerResults[followerID] = "queued"
	}
	e.notifier.Broadcast("order_cancelled", map[string]interface{}{
		"master_order_id":  ev.OrderID,
		"symbol":           symbol,
		"follower_results": followerResults,
	})
}

func (e *Engine) handleMasterOrderReplaced(ctx context.Context, ev domain.OrderReplacedEvent) {
	master := e.sessions.Master()
	order, ok := master.GetOrder(ev.OrderID)
	if !ok {
		return
	}

	mapped := e.orders.GetFollowerOrderIDs(ev.OrderID)
	connected := e.sessions.ConnectedFollowers()
	outcome := e.orders.ReplaceFollowerOrders(ctx, ev.OrderID, order.Symbol, order.Quantity, order.Price, connected)

	followerResults := make(map[string]interface{}, len(mapped))
	for followerID, ok := range outcome {
		followerResults[followerID] = ok
	}
	for followerID := range mapped {
		if _, isConnected := connected[followerID]; isConnected {
			continue
		}
		e.enqueueMissedAction(ctx, followerID, ActionOrderReplace, order.Symbol, map[string]interface{}{
			"master_order_id": ev.OrderID,
			"new_quantity":    order.Quantity,
			"new_price":       order.Price,
		})
		followerResults[followerID] = "queued"
	}
	e.notifier.Broadcast("order_replaced", map[string]interface{}{
		"master_order_id":  ev.OrderID,
		"symbol":           order.Symbol,
		"new_quantity":     order.Quantity,
		"new_price":        order.Price,
		"follower_results": followerResults,
	})
}

func (e *Engine) handleMasterLocateFilled(ctx context.Context, ev domain.LocateFilledEvent) {
	connected := e.sessions.ConnectedFollowers()
	for _, cfg := range e.sessions.FollowerConfigs() {
		if !cfg.Enabled {
			continue
		}
		client, isConnected := connected[cfg.ID]
		if !isConnected {
			e.enqueueMissedAction(ctx, cfg.ID, ActionLocate, ev.Symbol, map[string]interface{}{
				"symbol":          ev.Symbol,
				"executed_shares": ev.ExecutedShares,
				"execution_price": ev.ExecutionPrice,
			})
			continue
		}
		go e.locates.ReplicateLocate(e.ctx, cfg, client, ev.Symbol, ev.ExecutedShares, ev.ExecutionPrice)
	}
}

func (e *Engine) enqueueMissedAction(ctx context.Context, followerID string, actionType ActionType, symbol string, payload map[string]interface{}) {
	action := e.queue.Enqueue(ctx, followerID, actionType, symbol, payload)

	e.audit.Warn(ctx, AuditCategoryOrder, followerID, symbol,
		"action queued: follower disconnected",
		map[string]interface{}{
			"action_id": action.ID,
			"type":      string(actionType),
		})
	e.notifier.Broadcast("action_queued", map[string]interface{}{
		"action_id":   action.ID,
		"follower_id": followerID,
		"type":        string(actionType),
		"symbol":      symbol,
		"pending":     e.queue.PendingCount(followerID),
	})
}

// ReplayQueuedActions reproduce en orden la cola de un follower reconectado.
// Con actionIDs se reproduce sólo ese subconjunto; sin ellos, la cola entera.
//
// Acciones cuya orden master ya no existe o fue cancelada se saltan. Cada
// acción procesada (en cualquier resultado) sale de la cola.
func (e *Engine) ReplayQueuedActions(ctx context.Context, followerID string, actionIDs ...string) ([]ReplayResult, error) {
	client, ok := e.sessions.Follower(followerID)
	if !ok {
		return nil, domain.NewError(domain.ErrNotFound, "unknown follower").
			WithDetail("follower_id", followerID)
	}
	if !client.IsRunning() {
		return nil, domain.NewError(domain.ErrNotConnected, "follower not connected").
			WithDetail("follower_id", followerID)
	}
	cfg, _ := e.sessions.FollowerConfig(followerID)

	pending := e.queue.GetPending(followerID)
	pending = filterActions(pending, actionIDs)
	results := make([]ReplayResult, 0, len(pending))

	for _, action := range pending {
		result := e.replayAction(ctx, cfg, client, action)
		results = append(results, result)
		e.queue.Remove(ctx, followerID, action.ID)

		e.metrics.RecordQueueReplayed(ctx,
			semconv.Mirror.FollowerID.String(followerID),
			semconv.Mirror.ActionType.String(string(action.Type)),
			semconv.Mirror.Status.String(result.Status))
	}

	e.audit.Info(ctx, AuditCategoryReplay, followerID, "",
		"queued actions replayed",
		map[string]interface{}{"count": len(results)})
	return results, nil
}

func (e *Engine) replayAction(ctx context.Context, cfg domain.FollowerConfig, client domain.BrokerClient, action *QueuedAction) ReplayResult {
	result := ReplayResult{
		ActionID: action.ID,
		Type:     action.Type,
		Symbol:   action.Symbol,
	}

	switch action.Type {
	case ActionOrderSubmit:
		order := orderFromPayload(action.Payload)
		if order == nil {
			result.Status = "failed"
			result.Reason = "malformed payload"
			return result
		}
		// La orden del master tiene que seguir viva: reproducir una orden ya
		// cancelada abriría exposición que el master no tiene.
		current, ok := e.sessions.Master().GetOrder(order.ID)
		if !ok || current.Status == domain.OrderStatusCancelled || current.Status == domain.OrderStatusRejected {
			result.Status = "skipped"
			result.Reason = "master order no longer active"
			return result
		}
		// El símbolo pudo entrar al blacklist mientras la acción esperaba.
		if e.blacklist.IsBlacklisted(cfg.ID, order.Symbol) {
			result.Status = "skipped"
			result.Reason = "blacklisted"
			return result
		}
		if order.Side == domain.OrderSideShort {
			if task := e.shorts.HandleShortSale(ctx, cfg, client, order); task == nil {
				result.Status = "skipped"
				result.Reason = "blacklisted"
				return result
			}
			result.Status = "replayed"
			return result
		}
		if _, ok := e.orders.ReplicateOrder(ctx, cfg.ID, client, order); !ok {
			result.Status = "failed"
			result.Reason = "replication failed"
			return result
		}
		result.Status = "replayed"

	case ActionOrderCancel:
		masterOrderID := payloadInt64(action.Payload, "master_order_id")
		outcome := e.orders.CancelFollowerOrders(ctx, masterOrderID,
			map[string]domain.BrokerClient{cfg.ID: client})
		ok, found := outcome[cfg.ID]
		switch {
		case !found:
			result.Status = "skipped"
			result.Reason = "no mapped follower order"
		case ok:
			result.Status = "replayed"
		default:
			result.Status = "failed"
			result.Reason = "cancel rejected"
		}

	case ActionOrderReplace:
		masterOrderID := payloadInt64(action.Payload, "master_order_id")
		newQty := int(payloadInt64(action.Payload, "new_quantity"))
		newPrice := payloadFloat(action.Payload, "new_price")
		outcome := e.orders.ReplaceFollowerOrders(ctx, masterOrderID, action.Symbol, newQty, newPrice,
			map[string]domain.BrokerClient{cfg.ID: client})
		ok, found := outcome[cfg.ID]
		switch {
		case !found:
			result.Status = "skipped"
			result.Reason = "no mapped follower order"
		case ok:
			result.Status = "replayed"
		default:
			result.Status = "failed"
			result.Reason = "replace rejected"
		}

	case ActionLocate:
		shares := int(payloadInt64(action.Payload, "executed_shares"))
		price := payloadFloat(action.Payload, "execution_price")
		e.locates.ReplicateLocate(ctx, cfg, client, action.Symbol, shares, price)
		result.Status = "replayed"

	default:
		result.Status = "skipped"
		result.Reason = "unknown action type"
	}
	return result
}

// filterActions restringe las acciones pendientes al subconjunto pedido,
// preservando el orden de encolado. Sin ids devuelve todas.
func filterActions(pending []*QueuedAction, actionIDs []string) []*QueuedAction {
	if len(actionIDs) == 0 {
		return pending
	}
	wanted := make(map[string]bool, len(actionIDs))
	for _, id := range actionIDs {
		wanted[id] = true
	}
	filtered := pending[:0]
	for _, action := range pending {
		if wanted[action.ID] {
			filtered = append(filtered, action)
		}
	}
	return filtered
}

// DiscardQueuedActions descarta acciones encoladas de un follower sin
// reproducirlas. Con actionIDs descarta sólo ese subconjunto.
func (e *Engine) DiscardQueuedActions(ctx context.Context, followerID string, actionIDs ...string) int {
	var discarded int
	if len(actionIDs) == 0 {
		discarded = e.queue.Clear(ctx, followerID)
	} else {
		for _, id := range actionIDs {
			if _, ok := e.queue.Remove(ctx, followerID, id); ok {
				discarded++
			}
		}
	}
	if discarded > 0 {
		e.audit.Warn(ctx, AuditCategoryReplay, followerID, "",
			"queued actions discarded",
			map[string]interface{}{"count": discarded})
		e.notifier.Broadcast("queue_discarded", map[string]interface{}{
			"follower_id": followerID,
			"count":       discarded,
		})
	}
	return discarded
}

// pushLoop empuja el estado hacia la UI una vez por intervalo y detecta
// reconexiones de followers.
func (e *Engine) pushLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) tick() {
	ctx := e.ctx
	connected := e.sessions.ConnectedFollowers()

	// Flanco de reconexión: desconectado en el tick anterior, conectado
	// ahora. Con cola pendiente se le avisa al usuario para que decida
	// replay o discard.
	e.mu.Lock()
	var reconnected []string
	for _, cfg := range e.sessions.FollowerConfigs() {
		_, isConnected := connected[cfg.ID]
		if isConnected && !e.lastConnected[cfg.ID] {
			reconnected = append(reconnected, cfg.ID)
		}
		e.lastConnected[cfg.ID] = isConnected
	}
	e.mu.Unlock()

	for _, followerID := range reconnected {
		pending := e.queue.PendingCount(followerID)
		e.telemetry.Info(ctx, "follower reconnected",
			semconv.Mirror.FollowerID.String(followerID),
			attribute.Int("pending_actions", pending))
		e.audit.Info(ctx, AuditCategorySystem, followerID, "",
			"follower reconnected",
			map[string]interface{}{"pending_actions": pending})
		if pending > 0 {
			e.notifier.Broadcast("follower_reconnected", map[string]interface{}{
				"follower_id":     followerID,
				"pending_actions": pending,
			})
		}
	}

	for followerID := range connected {
		e.metrics.RecordQueueDepth(ctx, float64(e.queue.PendingCount(followerID)),
			semconv.Mirror.FollowerID.String(followerID))
	}

	// Sin clientes de UI no hay a quién empujarle el snapshot.
	if e.notifier.ClientCount() == 0 {
		return
	}

	queues := make(map[string]interface{})
	for followerID, actions := range e.queue.GetAllPending() {
		queues[followerID] = len(actions)
	}

	e.notifier.Broadcast("state", map[string]interface{}{
		"sessions":  e.sessions.Status(),
		"positions": e.positions.Snapshot(),
		"queues":    queues,
		"prompts":   e.locates.PendingPrompts(),
	})
}

// ---------- payload helpers ----------

func payloadFromOrder(order *domain.Order) map[string]interface{} {
	return map[string]interface{}{
		"id":            order.ID,
		"symbol":        order.Symbol,
		"side":          string(order.Side),
		"quantity":      order.Quantity,
		"type":          string(order.Type),
		"price":         order.Price,
		"stop_price":    order.StopPrice,
		"limit_price":   order.LimitPrice,
		"trail_amount":  order.TrailAmount,
		"time_in_force": order.TimeInForce,
		"route":         order.Route,
	}
}

// orderFromPayload reconstruye una orden serializada en un payload de cola.
// Los números llegan como float64 tras el roundtrip JSON del journal.
func orderFromPayload(payload map[string]interface{}) *domain.Order {
	if payload == nil {
		return nil
	}
	symbol, _ := payload["symbol"].(string)
	side, _ := payload["side"].(string)
	orderType, _ := payload["type"].(string)
	if symbol == "" || side == "" {
		return nil
	}

	order := &domain.Order{
		ID:          payloadInt64(payload, "id"),
		Symbol:      symbol,
		Side:        domain.OrderSide(side),
		Quantity:    int(payloadInt64(payload, "quantity")),
		Type:        domain.OrderType(orderType),
		Price:       payloadFloat(payload, "price"),
		StopPrice:   payloadFloat(payload, "stop_price"),
		LimitPrice:  payloadFloat(payload, "limit_price"),
		TrailAmount: payloadFloat(payload, "trail_amount"),
	}
	if tif, ok := payload["time_in_force"].(string); ok {
		order.TimeInForce = tif
	}
	if route, ok := payload["route"].(string); ok {
		order.Route = route
	}
	return order
}

func payloadInt64(payload map[string]interface{}, key string) int64 {
	switch v := payload[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func payloadFloat(payload map[string]interface{}, key string) float64 {
	switch v := payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
