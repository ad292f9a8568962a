// Package shortsale orquesta la apertura de cortos en followers: verifica
// disponibilidad, consigue locate si falta y recién entonces replica la
// orden.
package shortsale

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xKoRx/mirror/domain"
	"github.com/xKoRx/mirror/telemetry"
	"github.com/xKoRx/mirror/telemetry/metricbundle"
	"github.com/xKoRx/mirror/telemetry/semconv"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
)

// TaskState estado de un short-sale task.
type TaskState string

const (
	TaskPending      TaskState = "pending"
	TaskChecking     TaskState = "checking"
	TaskLocating     TaskState = "locating"
	TaskPlacingOrder TaskState = "placing_order"
	TaskCompleted    TaskState = "completed"
	TaskCancelled    TaskState = "cancelled"
	TaskFailed       TaskState = "failed"
)

// DefaultMaxConcurrentLocates límite global de locates simultáneos.
const DefaultMaxConcurrentLocates = 3

// Task una venta corta del master en proceso de réplica hacia un follower.
type Task struct {
	ID            string
	FollowerID    string
	Symbol        string
	MasterOrderID int64
	MasterQty     int
	RequiredQty   int
	State         TaskState
	Error         string
	LocateUsed    bool
	CreatedAt     time.Time
}

// MultiplierSource resuelve el multiplicador efectivo.
type MultiplierSource interface {
	Effective(followerID, symbol string) (float64, domain.MultiplierSource)
}

// Blacklist responde si la réplica está suprimida.
type Blacklist interface {
	IsBlacklisted(followerID, symbol string) bool
}

// Replicator replica la orden una vez que hay shares disponibles. La
// cantidad la decide este pipeline (piso de 1 share), no el replicador.
type Replicator interface {
	ReplicateOrderQty(ctx context.Context, followerID string, client domain.BrokerClient, master *domain.Order, quantity int) (int64, bool)
}

// Manager coordina los short-sale tasks.
//
// Serialización: un solo task a la vez por (follower, symbol). Además un
// semáforo global acota los locates concurrentes contra los brokers.
type Manager struct {
	multipliers MultiplierSource
	blacklist   Blacklist
	replicator  Replicator
	notifier    domain.Notifier
	telemetry   *telemetry.Client
	metrics     *metricbundle.MirrorMetrics

	locateTimeout time.Duration
	sem           *semaphore.Weighted

	mu        sync.Mutex
	tasks     map[string]*Task
	pairLocks map[string]*sync.Mutex
	cancelled map[int64]struct{}
	taskCtx   map[string]context.CancelFunc
}

// NewManager crea el manager. maxConcurrentLocates <= 0 usa el default.
func NewManager(multipliers MultiplierSource, blacklist Blacklist, replicator Replicator, notifier domain.Notifier, locateTimeout time.Duration, maxConcurrentLocates int64, tel *telemetry.Client, metrics *metricbundle.MirrorMetrics) *Manager {
	if maxConcurrentLocates <= 0 {
		maxConcurrentLocates = DefaultMaxConcurrentLocates
	}
	if locateTimeout <= 0 {
		locateTimeout = 30 * time.Second
	}
	return &Manager{
		multipliers:   multipliers,
		blacklist:     blacklist,
		replicator:    replicator,
		notifier:      notifier,
		telemetry:     tel,
		metrics:       metrics,
		locateTimeout: locateTimeout,
		sem:           semaphore.NewWeighted(maxConcurrentLocates),
		tasks:         make(map[string]*Task),
		pairLocks:     make(map[string]*sync.Mutex),
		cancelled:     make(map[int64]struct{}),
		taskCtx:       make(map[string]context.CancelFunc),
	}
}

func pairKey(followerID, symbol string) string {
	return followerID + "::" + strings.ToUpper(symbol)
}

// HandleShortSale arranca el pipeline para una orden SHORT del master.
//
// El procesamiento corre en background; retorna el task recién creado. Con
// el símbolo en blacklist no se crea task.
func (m *Manager) HandleShortSale(ctx context.Context, cfg domain.FollowerConfig, client domain.BrokerClient, master *domain.Order) *Task {
	symbol := strings.ToUpper(master.Symbol)

	if m.blacklist.IsBlacklisted(cfg.ID, symbol) {
		m.telemetry.Info(ctx, "short sale suppressed by blacklist",
			semconv.Mirror.FollowerID.String(cfg.ID),
			semconv.Mirror.Symbol.String(symbol))
		return nil
	}

	mult, _ := m.multipliers.Effective(cfg.ID, symbol)
	// Un corto del master siempre se replica con al menos 1 share: saltarlo
	// dejaría al follower sin la posición.
	required := int(math.Round(float64(master.Quantity) * mult))
	if required < 1 {
		required = 1
	}

	task := &Task{
		ID:            "sst-" + uuid.NewString(),
		FollowerID:    cfg.ID,
		Symbol:        symbol,
		MasterOrderID: master.ID,
		MasterQty:     master.Quantity,
		RequiredQty:   required,
		State:         TaskPending,
		CreatedAt:     time.Now(),
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Lock()
	m.tasks[task.ID] = task
	m.taskCtx[task.ID] = cancel
	m.mu.Unlock()

	go m.run(taskCtx, task, cfg, client, master)
	return task
}

func (m *Manager) run(ctx context.Context, task *Task, cfg domain.FollowerConfig, client domain.BrokerClient, master *domain.Order) {
	defer m.clearTaskCtx(task.ID)

	lock := m.pairLock(task.FollowerID, task.Symbol)
	lock.Lock()
	defer lock.Unlock()

	if m.aborted(ctx, task) {
		return
	}

	// Etapa 1: verificar shares ya disponibles.
	m.transition(ctx, task, TaskChecking)
	maxSell, err := client.GetMaxSell(ctx, task.Symbol)
	if err != nil {
		m.fail(ctx, task, "max sell check failed: "+err.Error())
		return
	}

	if m.aborted(ctx, task) {
		return
	}

	// Etapa 2: conseguir locate para lo que falta.
	if maxSell < task.RequiredQty {
		needed := task.RequiredQty - maxSell
		m.transition(ctx, task, TaskLocating)
		task.LocateUsed = true

		if err := m.sem.Acquire(ctx, 1); err != nil {
			m.abort(ctx, task)
			return
		}
		result, err := client.SmartLocate(ctx, task.Symbol, needed, cfg.MaxLocatePrice, m.locateTimeout)
		m.sem.Release(1)

		if m.aborted(ctx, task) {
			return
		}
		if err != nil {
			m.fail(ctx, task, "locate failed: "+err.Error())
			return
		}
		if result == nil || result.FilledQuantity < needed {
			m.fail(ctx, task, "locate incomplete")
			return
		}
	}

	if m.aborted(ctx, task) {
		return
	}

	// Etapa 3: replicar la orden corta.
	m.transition(ctx, task, TaskPlacingOrder)
	if _, ok := m.replicator.ReplicateOrderQty(ctx, task.FollowerID, client, master, task.RequiredQty); !ok {
		m.fail(ctx, task, "order replication failed")
		return
	}

	m.transition(ctx, task, TaskCompleted)
	m.notifier.Broadcast("short_sale_completed", map[string]interface{}{
		"task_id":      task.ID,
		"follower_id":  task.FollowerID,
		"symbol":       task.Symbol,
		"required_qty": task.RequiredQty,
		"locate_used":  task.LocateUsed,
	})
}

// OnMasterOrderCancelled marca la orden para que los tasks en vuelo aborten
// en el próximo límite de etapa.
func (m *Manager) OnMasterOrderCancelled(ctx context.Context, masterOrderID int64) {
	m.mu.Lock()
	m.cancelled[masterOrderID] = struct{}{}
	var toCancel []context.CancelFunc
	for _, task := range m.tasks {
		if task.MasterOrderID == masterOrderID && isActive(task.State) {
			if cancel, ok := m.taskCtx[task.ID]; ok {
				toCancel = append(toCancel, cancel)
			}
		}
	}
	m.mu.Unlock()

	for _, cancel := range toCancel {
		cancel()
	}
}

// CancelTask cancela un task puntual. Retorna false si no existe o ya
// terminó.
func (m *Manager) CancelTask(taskID string) bool {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok || !isActive(task.State) {
		m.mu.Unlock()
		return false
	}
	cancel := m.taskCtx[taskID]
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

// CancelAll cancela todos los tasks activos (shutdown).
func (m *Manager) CancelAll() {
	m.mu.Lock()
	var toCancel []context.CancelFunc
	for taskID, task := range m.tasks {
		if isActive(task.State) {
			if cancel, ok := m.taskCtx[taskID]; ok {
				toCancel = append(toCancel, cancel)
			}
		}
	}
	m.mu.Unlock()

	for _, cancel := range toCancel {
		cancel()
	}
}

// ActiveTasks retorna los tasks que todavía no terminaron.
func (m *Manager) ActiveTasks() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Task
	for _, task := range m.tasks {
		if isActive(task.State) {
			cp := *task
			result = append(result, &cp)
		}
	}
	return result
}

// AllTasks retorna todos los tasks conocidos (activos y terminados).
func (m *Manager) AllTasks() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		cp := *task
		result = append(result, &cp)
	}
	return result
}

// GetTask retorna un task por ID.
func (m *Manager) GetTask(taskID string) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, false
	}
	cp := *task
	return &cp, true
}

func isActive(state TaskState) bool {
	switch state {
	case TaskCompleted, TaskCancelled, TaskFailed:
		return false
	}
	return true
}

func (m *Manager) pairLock(followerID, symbol string) *sync.Mutex {
	key := pairKey(followerID, symbol)
	m.mu.Lock()
	defer m.mu.Unlock()
	if lock, ok := m.pairLocks[key]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	m.pairLocks[key] = lock
	return lock
}

// aborted chequea al límite de cada etapa si el task debe cortarse: context
// cancelado o la orden del master cancelada entre etapas.
func (m *Manager) aborted(ctx context.Context, task *Task) bool {
	if ctx.Err() != nil {
		m.abort(ctx, task)
		return true
	}
	m.mu.Lock()
	_, orderCancelled := m.cancelled[task.MasterOrderID]
	m.mu.Unlock()
	if orderCancelled {
		m.abort(ctx, task)
		return true
	}
	return false
}

func (m *Manager) abort(ctx context.Context, task *Task) {
	m.transition(context.WithoutCancel(ctx), task, TaskCancelled)
	m.notifier.Broadcast("short_sale_cancelled", map[string]interface{}{
		"task_id":     task.ID,
		"follower_id": task.FollowerID,
		"symbol":      task.Symbol,
	})
}

func (m *Manager) fail(ctx context.Context, task *Task, reason string) {
	m.mu.Lock()
	task.Error = reason
	m.mu.Unlock()
	m.transition(ctx, task, TaskFailed)

	m.telemetry.Error(ctx, "short sale task failed", nil,
		semconv.Mirror.TaskID.String(task.ID),
		semconv.Mirror.FollowerID.String(task.FollowerID),
		semconv.Mirror.Symbol.String(task.Symbol),
		attribute.String("error", reason))
	m.notifier.Broadcast("short_sale_failed", map[string]interface{}{
		"task_id":     task.ID,
		"follower_id": task.FollowerID,
		"symbol":      task.Symbol,
		"error":       reason,
	})
}

func (m *Manager) transition(ctx context.Context, task *Task, state TaskState) {
	m.mu.Lock()
	task.State = state
	m.mu.Unlock()

	m.telemetry.Debug(ctx, "short sale task transition",
		semconv.Mirror.TaskID.String(task.ID),
		semconv.Mirror.FollowerID.String(task.FollowerID),
		semconv.Mirror.Symbol.String(task.Symbol),
		semconv.Mirror.Status.String(string(state)))
	m.metrics.RecordShortSaleState(ctx,
		semconv.Mirror.FollowerID.String(task.FollowerID),
		semconv.Mirror.Status.String(string(state)))
}

func (m *Manager) clearTaskCtx(taskID string) {
	m.mu.Lock()
	if cancel, ok := m.taskCtx[taskID]; ok {
		cancel()
		delete(m.taskCtx, taskID)
	}
	m.mu.Unlock()
}
