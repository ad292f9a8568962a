package internal

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/xKoRx/mirror/domain"
)

// ---------- broker fake ----------

type fakeBroker struct {
	mu      sync.Mutex
	running bool

	orders    map[int64]*domain.Order
	positions map[string]*domain.Position
	nextID    int64

	submitted  []domain.OrderRequest
	submitErr  error
	cancelled  []int64
	cancelOK   bool
	cancelErr  error
	replaced   []int64
	replaceOK  bool
	replaceErr error

	maxSell    int
	maxSellErr error

	scan           *domain.LocateScan
	scanErr        error
	scanCalls      int
	acceptedOffers []*domain.LocateOffer
	acceptErr      error
	smartResult    *domain.LocateResult
	smartErr       error

	onAccepted  []func(domain.OrderAcceptedEvent)
	onCancelled []func(domain.OrderCancelledEvent)
	onReplaced  []func(domain.OrderReplacedEvent)
	onLocate    []func(domain.LocateFilledEvent)
	onPosition  []func(domain.PositionOpenedEvent)
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		running:   true,
		orders:    make(map[int64]*domain.Order),
		positions: make(map[string]*domain.Position),
		nextID:    1000,
		cancelOK:  true,
		replaceOK: true,
	}
}

func (b *fakeBroker) Start(ctx context.Context) error { b.setRunning(true); return nil }
func (b *fakeBroker) Stop(ctx context.Context) error  { b.setRunning(false); return nil }

func (b *fakeBroker) setRunning(v bool) {
	b.mu.Lock()
	b.running = v
	b.mu.Unlock()
}

func (b *fakeBroker) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *fakeBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	b.nextID++
	b.submitted = append(b.submitted, req)
	b.orders[b.nextID] = &domain.Order{
		ID:       b.nextID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Type:     req.Type,
		Status:   domain.OrderStatusAccepted,
	}
	return &domain.OrderAck{OrderID: b.nextID}, nil
}

func (b *fakeBroker) CancelOrder(ctx context.Context, orderID int64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelErr != nil {
		return false, b.cancelErr
	}
	b.cancelled = append(b.cancelled, orderID)
	return b.cancelOK, nil
}

func (b *fakeBroker) ReplaceOrder(ctx context.Context, orderID int64, newQuantity int, newPrice float64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.replaceErr != nil {
		return false, b.replaceErr
	}
	b.replaced = append(b.replaced, orderID)
	return b.replaceOK, nil
}

func (b *fakeBroker) GetOrder(orderID int64) (*domain.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[orderID]
	return order, ok
}

func (b *fakeBroker) ActiveOrders() []*domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	result := make([]*domain.Order, 0, len(b.orders))
	for _, o := range b.orders {
		result = append(result, o)
	}
	return result
}

func (b *fakeBroker) GetPosition(symbol string) (*domain.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[strings.ToUpper(symbol)]
	return p, ok
}

func (b *fakeBroker) Positions() []*domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	result := make([]*domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		result = append(result, p)
	}
	return result
}

func (b *fakeBroker) setOrder(o *domain.Order) {
	b.mu.Lock()
	b.orders[o.ID] = o
	b.mu.Unlock()
}

func (b *fakeBroker) setOrderStatus(orderID int64, status domain.OrderStatus) {
	b.mu.Lock()
	if o, ok := b.orders[orderID]; ok {
		o.Status = status
	}
	b.mu.Unlock()
}

func (b *fakeBroker) submittedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.submitted)
}

func (b *fakeBroker) setPosition(p *domain.Position) {
	b.mu.Lock()
	b.positions[strings.ToUpper(p.Symbol)] = p
	b.mu.Unlock()
}

func (b *fakeBroker) GetMaxSell(ctx context.Context, symbol string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxSell, b.maxSellErr
}

func (b *fakeBroker) ScanLocateOffers(ctx context.Context, symbol string, quantity int, timeout time.Duration) (*domain.LocateScan, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scanCalls++
	return b.scan, b.scanErr
}

func (b *fakeBroker) AcceptLocateOffer(ctx context.Context, offer *domain.LocateOffer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.acceptErr != nil {
		return b.acceptErr
	}
	b.acceptedOffers = append(b.acceptedOffers, offer)
	return nil
}

func (b *fakeBroker) SmartLocate(ctx context.Context, symbol string, quantity int, maxPricePerShare float64, timeout time.Duration) (*domain.LocateResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.smartResult, b.smartErr
}

func (b *fakeBroker) OnOrderAccepted(handler func(domain.OrderAcceptedEvent)) domain.Unsubscribe {
	b.mu.Lock()
	b.onAccepted = append(b.onAccepted, handler)
	b.mu.Unlock()
	return func() {}
}

func (b *fakeBroker) OnOrderCancelled(handler func(domain.OrderCancelledEvent)) domain.Unsubscribe {
	b.mu.Lock()
	b.onCancelled = append(b.onCancelled, handler)
	b.mu.Unlock()
	return func() {}
}

func (b *fakeBroker) OnOrderReplaced(handler func(domain.OrderReplacedEvent)) domain.Unsubscribe {
	b.mu.Lock()
	b.onReplaced = append(b.onReplaced, handler)
	b.mu.Unlock()
	return func() {}
}

func (b *fakeBroker) OnLocateFilled(handler func(domain.LocateFilledEvent)) domain.Unsubscribe {
	b.mu.Lock()
	b.onLocate = append(b.onLocate, handler)
	b.mu.Unlock()
	return func() {}
}

func (b *fakeBroker) OnPositionOpened(handler func(domain.PositionOpenedEvent)) domain.Unsubscribe {
	b.mu.Lock()
	b.onPosition = append(b.onPosition, handler)
	b.mu.Unlock()
	return func() {}
}

func (b *fakeBroker) fireOrderAccepted(ev domain.OrderAcceptedEvent) {
	b.mu.Lock()
	handlers := append([]func(domain.OrderAcceptedEvent){}, b.onAccepted...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (b *fakeBroker) fireOrderCancelled(ev domain.OrderCancelledEvent) {
	b.mu.Lock()
	handlers := append([]func(domain.OrderCancelledEvent){}, b.onCancelled...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (b *fakeBroker) fireOrderReplaced(ev domain.OrderReplacedEvent) {
	b.mu.Lock()
	handlers := append([]func(domain.OrderReplacedEvent){}, b.onReplaced...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (b *fakeBroker) setScan(scan *domain.LocateScan) {
	b.mu.Lock()
	b.scan = scan
	b.mu.Unlock()
}

func (b *fakeBroker) fireLocateFilled(ev domain.LocateFilledEvent) {
	b.mu.Lock()
	handlers := append([]func(domain.LocateFilledEvent){}, b.onLocate...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// ---------- repos en memoria ----------

type memMultiplierRepo struct {
	mu        sync.Mutex
	base      map[string]float64
	overrides map[string]domain.SymbolOverride
	upsertErr error
}

func newMemMultiplierRepo() *memMultiplierRepo {
	return &memMultiplierRepo{
		base:      make(map[string]float64),
		overrides: make(map[string]domain.SymbolOverride),
	}
}

func (r *memMultiplierRepo) LoadBaseMultipliers(ctx context.Context) (map[string]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make(map[string]float64, len(r.base))
	for k, v := range r.base {
		result[k] = v
	}
	return result, nil
}

func (r *memMultiplierRepo) GetBaseMultiplier(ctx context.Context, followerID string) (float64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.base[followerID]
	return v, ok, nil
}

func (r *memMultiplierRepo) LoadSymbolOverrides(ctx context.Context) ([]domain.SymbolOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]domain.SymbolOverride, 0, len(r.overrides))
	for _, o := range r.overrides {
		result = append(result, o)
	}
	return result, nil
}

func (r *memMultiplierRepo) GetSymbolOverride(ctx context.Context, followerID, symbol string) (*domain.SymbolOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.overrides[followerID+"::"+strings.ToUpper(symbol)]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (r *memMultiplierRepo) UpsertSymbolOverride(ctx context.Context, override domain.SymbolOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.overrides[override.FollowerID+"::"+strings.ToUpper(override.Symbol)] = override
	return nil
}

func (r *memMultiplierRepo) DeleteSymbolOverride(ctx context.Context, followerID, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.overrides, followerID+"::"+strings.ToUpper(symbol))
	return nil
}

type memBlacklistRepo struct {
	mu      sync.Mutex
	entries map[string]domain.BlacklistEntry
}

func newMemBlacklistRepo() *memBlacklistRepo {
	return &memBlacklistRepo{entries: make(map[string]domain.BlacklistEntry)}
}

func (r *memBlacklistRepo) LoadAll(ctx context.Context) ([]domain.BlacklistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]domain.BlacklistEntry, 0, len(r.entries))
	for _, e := range r.entries {
		result = append(result, e)
	}
	return result, nil
}

func (r *memBlacklistRepo) Insert(ctx context.Context, entry domain.BlacklistEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.FollowerID+"::"+strings.ToUpper(entry.Symbol)] = entry
	return nil
}

func (r *memBlacklistRepo) Delete(ctx context.Context, followerID, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, followerID+"::"+strings.ToUpper(symbol))
	return nil
}

type memLocateRepo struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*domain.LocateRecord
}

func newMemLocateRepo() *memLocateRepo {
	return &memLocateRepo{records: make(map[int64]*domain.LocateRecord)}
}

func (r *memLocateRepo) Create(ctx context.Context, record *domain.LocateRecord) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	cp := *record
	cp.ID = r.nextID
	r.records[r.nextID] = &cp
	return r.nextID, nil
}

func (r *memLocateRepo) UpdateStatus(ctx context.Context, id int64, status domain.LocateStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.Status = status
	}
	return nil
}

func (r *memLocateRepo) UpdateFollowerPrice(ctx context.Context, id int64, price float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.FollowerPrice = price
	}
	return nil
}

func (r *memLocateRepo) status(id int64) domain.LocateStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		return rec.Status
	}
	return ""
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (r *memAuditRepo) Append(ctx context.Context, entry domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

type memFollowerRepo struct {
	followers []domain.FollowerConfig
}

func (r *memFollowerRepo) LoadAll(ctx context.Context) ([]domain.FollowerConfig, error) {
	return r.followers, nil
}

type memRepoFactory struct {
	multipliers *memMultiplierRepo
	blacklist   *memBlacklistRepo
	locates     *memLocateRepo
	audit       *memAuditRepo
	followers   *memFollowerRepo
}

func newMemRepoFactory() *memRepoFactory {
	return &memRepoFactory{
		multipliers: newMemMultiplierRepo(),
		blacklist:   newMemBlacklistRepo(),
		locates:     newMemLocateRepo(),
		audit:       &memAuditRepo{},
		followers:   &memFollowerRepo{},
	}
}

func (f *memRepoFactory) MultiplierRepository() domain.MultiplierRepository { return f.multipliers }
func (f *memRepoFactory) BlacklistRepository() domain.BlacklistRepository   { return f.blacklist }
func (f *memRepoFactory) LocateRepository() domain.LocateRepository         { return f.locates }
func (f *memRepoFactory) AuditRepository() domain.AuditRepository           { return f.audit }
func (f *memRepoFactory) FollowerRepository() domain.FollowerRepository     { return f.followers }

// ---------- notifier fake ----------

type fakeNotifier struct {
	mu      sync.Mutex
	events  []NotifierEvent
	clients int
}

func (n *fakeNotifier) Broadcast(eventType string, payload map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, NotifierEvent{Type: eventType, Payload: payload})
}

func (n *fakeNotifier) ClientCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clients
}

func (n *fakeNotifier) eventsOfType(eventType string) []NotifierEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var result []NotifierEvent
	for _, e := range n.events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// ---------- session provider fake ----------

type fakeSessionProvider struct {
	master    domain.BrokerClient
	followers map[string]domain.BrokerClient
}

func (p *fakeSessionProvider) Master() domain.BrokerClient { return p.master }

func (p *fakeSessionProvider) ConnectedFollowers() map[string]domain.BrokerClient {
	return p.followers
}
