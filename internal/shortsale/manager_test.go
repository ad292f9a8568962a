package shortsale

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xKoRx/mirror/domain"
)

type stubMultipliers struct {
	mult float64
}

func (s *stubMultipliers) Effective(followerID, symbol string) (float64, domain.MultiplierSource) {
	return s.mult, domain.MultiplierSourceBase
}

type stubBlacklist struct {
	blocked map[string]bool
}

func (s *stubBlacklist) IsBlacklisted(followerID, symbol string) bool {
	return s.blocked[followerID+"::"+symbol]
}

type stubReplicator struct {
	mu         sync.Mutex
	ok         bool
	quantities []int
}

func (s *stubReplicator) ReplicateOrderQty(ctx context.Context, followerID string, client domain.BrokerClient, master *domain.Order, quantity int) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quantities = append(s.quantities, quantity)
	return 9000, s.ok
}

type stubNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *stubNotifier) Broadcast(eventType string, payload map[string]interface{}) {
	n.mu.Lock()
	n.events = append(n.events, eventType)
	n.mu.Unlock()
}

func (n *stubNotifier) ClientCount() int { return 0 }

func (n *stubNotifier) has(eventType string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == eventType {
			return true
		}
	}
	return false
}

// stubBroker implementa solo las llamadas que usa el pipeline; el resto de la
// interfaz queda embebida y no debe tocarse en estos tests.
type stubBroker struct {
	domain.BrokerClient

	maxSell    int
	maxSellErr error

	mu          sync.Mutex
	smartResult *domain.LocateResult
	smartErr    error
	smartCalls  int
	smartBlocks bool
}

func (b *stubBroker) GetMaxSell(ctx context.Context, symbol string) (int, error) {
	return b.maxSell, b.maxSellErr
}

func (b *stubBroker) SmartLocate(ctx context.Context, symbol string, quantity int, maxPricePerShare float64, timeout time.Duration) (*domain.LocateResult, error) {
	b.mu.Lock()
	b.smartCalls++
	blocks := b.smartBlocks
	b.mu.Unlock()
	if blocks {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.smartResult, b.smartErr
}

func (b *stubBroker) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.smartCalls
}

func newTestManager(mult float64, replicatorOK bool) (*Manager, *stubReplicator, *stubNotifier) {
	replicator := &stubReplicator{ok: replicatorOK}
	notifier := &stubNotifier{}
	manager := NewManager(
		&stubMultipliers{mult: mult},
		&stubBlacklist{blocked: map[string]bool{}},
		replicator,
		notifier,
		time.Second,
		0,
		nil,
		nil,
	)
	return manager, replicator, notifier
}

func masterShort(id int64, qty int) *domain.Order {
	return &domain.Order{
		ID:       id,
		Symbol:   "GME",
		Side:     domain.OrderSideShort,
		Quantity: qty,
		Status:   domain.OrderStatusAccepted,
	}
}

func waitForState(t *testing.T, m *Manager, taskID string, want TaskState) *Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if task, ok := m.GetTask(taskID); ok && task.State == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := m.GetTask(taskID)
	t.Fatalf("task %s never reached %s (last: %+v)", taskID, want, task)
	return nil
}

func TestShortSaleBlacklistedCreatesNoTask(t *testing.T) {
	manager, _, _ := newTestManager(1.0, true)
	manager.blacklist = &stubBlacklist{blocked: map[string]bool{"f1::GME": true}}

	task := manager.HandleShortSale(context.Background(), domain.FollowerConfig{ID: "f1"}, &stubBroker{}, masterShort(1, 100))
	if task != nil {
		t.Fatalf("blacklisted symbol must not create a task, got %+v", task)
	}
}

func TestShortSaleFloorsQuantityAtOne(t *testing.T) {
	manager, replicator, _ := newTestManager(0.01, true)
	broker := &stubBroker{maxSell: 100}

	task := manager.HandleShortSale(context.Background(), domain.FollowerConfig{ID: "f1"}, broker, masterShort(1, 10))
	if task == nil {
		t.Fatalf("expected task")
	}
	if task.RequiredQty != 1 {
		t.Fatalf("expected floor of 1 share, got %d", task.RequiredQty)
	}

	waitForState(t, manager, task.ID, TaskCompleted)
	replicator.mu.Lock()
	defer replicator.mu.Unlock()
	if len(replicator.quantities) != 1 || replicator.quantities[0] != 1 {
		t.Fatalf("expected replication of 1 share, got %v", replicator.quantities)
	}
}

func TestShortSaleSkipsLocateWhenSharesAvailable(t *testing.T) {
	manager, _, notifier := newTestManager(0.5, true)
	broker := &stubBroker{maxSell: 100}

	task := manager.HandleShortSale(context.Background(), domain.FollowerConfig{ID: "f1"}, broker, masterShort(1, 100))
	done := waitForState(t, manager, task.ID, TaskCompleted)

	if broker.calls() != 0 {
		t.Fatalf("locate must be skipped when max sell covers the quantity")
	}
	if done.LocateUsed {
		t.Fatalf("task must not be marked as locate-backed")
	}
	if !notifier.has("short_sale_completed") {
		t.Fatalf("expected short_sale_completed notification")
	}
}

func TestShortSaleAcquiresLocateForMissingShares(t *testing.T) {
	manager, replicator, _ := newTestManager(1.0, true)
	broker := &stubBroker{
		maxSell:     20,
		smartResult: &domain.LocateResult{Symbol: "GME", FilledQuantity: 80, AveragePricePerShare: 0.05},
	}

	task := manager.HandleShortSale(context.Background(), domain.FollowerConfig{ID: "f1", MaxLocatePrice: 0.10}, broker, masterShort(1, 100))
	done := waitForState(t, manager, task.ID, TaskCompleted)

	if broker.calls() != 1 {
		t.Fatalf("expected 1 smart locate call, got %d", broker.calls())
	}
	if !done.LocateUsed {
		t.Fatalf("task must record locate usage")
	}
	replicator.mu.Lock()
	defer replicator.mu.Unlock()
	if len(replicator.quantities) != 1 || replicator.quantities[0] != 100 {
		t.Fatalf("expected full required quantity replicated, got %v", replicator.quantities)
	}
}

func TestShortSaleFailsOnIncompleteLocate(t *testing.T) {
	manager, replicator, notifier := newTestManager(1.0, true)
	broker := &stubBroker{
		maxSell:     0,
		smartResult: &domain.LocateResult{Symbol: "GME", FilledQuantity: 40},
	}

	task := manager.HandleShortSale(context.Background(), domain.FollowerConfig{ID: "f1"}, broker, masterShort(1, 100))
	done := waitForState(t, manager, task.ID, TaskFailed)

	if done.Error != "locate incomplete" {
		t.Fatalf("unexpected error: %q", done.Error)
	}
	replicator.mu.Lock()
	defer replicator.mu.Unlock()
	if len(replicator.quantities) != 0 {
		t.Fatalf("failed locate must not place orders")
	}
	if !notifier.has("short_sale_failed") {
		t.Fatalf("expected short_sale_failed notification")
	}
}

func TestShortSaleAbortsWhenMasterOrderAlreadyCancelled(t *testing.T) {
	manager, replicator, notifier := newTestManager(1.0, true)
	broker := &stubBroker{maxSell: 100}

	manager.OnMasterOrderCancelled(context.Background(), 42)
	task := manager.HandleShortSale(context.Background(), domain.FollowerConfig{ID: "f1"}, broker, masterShort(42, 100))
	waitForState(t, manager, task.ID, TaskCancelled)

	replicator.mu.Lock()
	defer replicator.mu.Unlock()
	if len(replicator.quantities) != 0 {
		t.Fatalf("cancelled master order must not be replicated")
	}
	if !notifier.has("short_sale_cancelled") {
		t.Fatalf("expected short_sale_cancelled notification")
	}
}

func TestMasterOrderCancelledAbortsInFlightLocate(t *testing.T) {
	manager, replicator, _ := newTestManager(1.0, true)
	broker := &stubBroker{maxSell: 0, smartBlocks: true}

	task := manager.HandleShortSale(context.Background(), domain.FollowerConfig{ID: "f1"}, broker, masterShort(7, 100))
	waitForState(t, manager, task.ID, TaskLocating)

	manager.OnMasterOrderCancelled(context.Background(), 7)
	waitForState(t, manager, task.ID, TaskCancelled)

	replicator.mu.Lock()
	defer replicator.mu.Unlock()
	if len(replicator.quantities) != 0 {
		t.Fatalf("aborted task must not place orders")
	}
}

func TestCancelTask(t *testing.T) {
	manager, _, _ := newTestManager(1.0, true)
	broker := &stubBroker{maxSell: 0, smartBlocks: true}

	task := manager.HandleShortSale(context.Background(), domain.FollowerConfig{ID: "f1"}, broker, masterShort(8, 100))
	waitForState(t, manager, task.ID, TaskLocating)

	if !manager.CancelTask(task.ID) {
		t.Fatalf("expected cancel to succeed for active task")
	}
	waitForState(t, manager, task.ID, TaskCancelled)

	if manager.CancelTask(task.ID) {
		t.Fatalf("finished task must not be cancellable")
	}
	if manager.CancelTask("sst-unknown") {
		t.Fatalf("unknown task must not be cancellable")
	}
}

func TestShortSaleSerializesPerFollowerSymbol(t *testing.T) {
	manager, replicator, _ := newTestManager(1.0, true)
	broker := &stubBroker{maxSell: 0, smartBlocks: true}

	first := manager.HandleShortSale(context.Background(), domain.FollowerConfig{ID: "f1"}, broker, masterShort(1, 100))
	waitForState(t, manager, first.ID, TaskLocating)

	// Mismo (follower, symbol): el segundo task espera a que termine el
	// primero antes de arrancar su pipeline.
	second := manager.HandleShortSale(context.Background(), domain.FollowerConfig{ID: "f1"}, broker, masterShort(2, 100))
	time.Sleep(50 * time.Millisecond)
	if task, _ := manager.GetTask(second.ID); task.State != TaskPending {
		t.Fatalf("second task for the pair must wait, got %s", task.State)
	}
	if broker.calls() != 1 {
		t.Fatalf("expected single in-flight locate, got %d", broker.calls())
	}

	manager.OnMasterOrderCancelled(context.Background(), 1)
	waitForState(t, manager, first.ID, TaskCancelled)
	waitForState(t, manager, second.ID, TaskLocating)

	manager.OnMasterOrderCancelled(context.Background(), 2)
	waitForState(t, manager, second.ID, TaskCancelled)

	replicator.mu.Lock()
	defer replicator.mu.Unlock()
	if len(replicator.quantities) != 0 {
		t.Fatalf("no orders expected, got %v", replicator.quantities)
	}
}

func TestShortSaleCapsConcurrentLocates(t *testing.T) {
	manager, _, _ := newTestManager(1.0, true)
	broker := &stubBroker{maxSell: 0, smartBlocks: true}

	// Cuatro símbolos distintos evitan la serialización por par; el semáforo
	// global (default 3) debe dejar exactamente tres locates en vuelo.
	symbols := []string{"GME", "AMC", "BBBY", "KOSS"}
	tasks := make([]*Task, 0, len(symbols))
	for i, symbol := range symbols {
		order := &domain.Order{
			ID:       int64(i + 1),
			Symbol:   symbol,
			Side:     domain.OrderSideShort,
			Quantity: 100,
			Status:   domain.OrderStatusAccepted,
		}
		task := manager.HandleShortSale(context.Background(), domain.FollowerConfig{ID: "f1"}, broker, order)
		tasks = append(tasks, task)
		waitForState(t, manager, task.ID, TaskLocating)
		// Los tres primeros tienen que estar efectivamente dentro del broker
		// antes de sumar el siguiente.
		if i < 3 {
			wantCalls := i + 1
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) && broker.calls() < wantCalls {
				time.Sleep(5 * time.Millisecond)
			}
			if broker.calls() != wantCalls {
				t.Fatalf("expected %d in-flight locates, got %d", wantCalls, broker.calls())
			}
		}
	}

	time.Sleep(50 * time.Millisecond)
	if broker.calls() != 3 {
		t.Fatalf("expected 3 concurrent locates, got %d", broker.calls())
	}

	// Al caer uno, el que esperaba en el semáforo entra.
	manager.OnMasterOrderCancelled(context.Background(), 1)
	waitForState(t, manager, tasks[0].ID, TaskCancelled)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && broker.calls() < 4 {
		time.Sleep(5 * time.Millisecond)
	}
	if broker.calls() != 4 {
		t.Fatalf("released slot must admit the waiting locate, got %d calls", broker.calls())
	}

	manager.CancelAll()
	for _, task := range tasks[1:] {
		waitForState(t, manager, task.ID, TaskCancelled)
	}
}

func TestShortSaleOrderRejectionFailsTask(t *testing.T) {
	manager, _, notifier := newTestManager(1.0, false)
	broker := &stubBroker{maxSell: 100}

	task := manager.HandleShortSale(context.Background(), domain.FollowerConfig{ID: "f1"}, broker, masterShort(1, 100))
	done := waitForState(t, manager, task.ID, TaskFailed)

	if done.Error != "order replication failed" {
		t.Fatalf("unexpected error: %q", done.Error)
	}
	if !notifier.has("short_sale_failed") {
		t.Fatalf("expected short_sale_failed notification")
	}
}
