package internal

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/xKoRx/mirror/telemetry"
	"github.com/xKoRx/mirror/telemetry/metricbundle"
	"github.com/xKoRx/mirror/telemetry/semconv"
	"github.com/xKoRx/mirror/utils"
	"go.opentelemetry.io/otel/attribute"
)

// ActionType tipo de acción encolada para un follower desconectado.
type ActionType string

const (
	ActionOrderSubmit  ActionType = "order_submit"
	ActionOrderCancel  ActionType = "order_cancel"
	ActionOrderReplace ActionType = "order_replace"
	ActionLocate       ActionType = "locate"
)

// QueuedAction acción capturada mientras un follower estaba desconectado.
type QueuedAction struct {
	ID         string                 `json:"id"`
	FollowerID string                 `json:"follower_id"`
	Type       ActionType             `json:"type"`
	Symbol     string                 `json:"symbol"`
	Payload    map[string]interface{} `json:"payload"`
	Timestamp  int64                  `json:"timestamp"`
	Seq        uint64                 `json:"seq"`
}

// ActionQueue cola FIFO por follower de acciones perdidas por desconexión.
//
// La memoria es autoritativa; el journal bbolt respalda para sobrevivir
// reinicios. Un fallo del journal se loguea y no corta el flujo.
type ActionQueue struct {
	journal   *ActionJournal
	telemetry *telemetry.Client
	metrics   *metricbundle.MirrorMetrics

	mu      sync.RWMutex
	queues  map[string][]*QueuedAction
	nextSeq uint64
}

// NewActionQueue crea la cola sobre el journal dado (journal puede ser nil
// en tests).
func NewActionQueue(journal *ActionJournal, tel *telemetry.Client, metrics *metricbundle.MirrorMetrics) *ActionQueue {
	return &ActionQueue{
		journal:   journal,
		telemetry: tel,
		metrics:   metrics,
		queues:    make(map[string][]*QueuedAction),
		nextSeq:   1,
	}
}

// Restore rehidrata las colas desde el journal (llamar antes de servir).
func (q *ActionQueue) Restore(ctx context.Context) error {
	actions, err := q.journal.Restore()
	if err != nil {
		return err
	}

	q.mu.Lock()
	for _, a := range actions {
		q.queues[a.FollowerID] = append(q.queues[a.FollowerID], a)
		if a.Seq >= q.nextSeq {
			q.nextSeq = a.Seq + 1
		}
	}
	q.mu.Unlock()

	if len(actions) > 0 {
		q.telemetry.Info(ctx, "action queue restored",
			attribute.Int("actions", len(actions)))
	}
	return nil
}

// Enqueue encola una acción al final de la cola del follower.
func (q *ActionQueue) Enqueue(ctx context.Context, followerID string, actionType ActionType, symbol string, payload map[string]interface{}) *QueuedAction {
	action := &QueuedAction{
		ID:         "qa-" + uuid.NewString(),
		FollowerID: followerID,
		Type:       actionType,
		Symbol:     symbol,
		Payload:    payload,
		Timestamp:  utils.NowUnixMilli(),
	}

	q.mu.Lock()
	action.Seq = q.nextSeq
	q.nextSeq++
	q.queues[followerID] = append(q.queues[followerID], action)
	depth := len(q.queues[followerID])
	q.mu.Unlock()

	if err := q.journal.Put(action); err != nil {
		q.telemetry.Warn(ctx, "action journal write failed",
			semconv.Mirror.ActionID.String(action.ID),
			attribute.String("error", err.Error()))
	}

	q.metrics.RecordQueueEnqueued(ctx,
		semconv.Mirror.ActionType.String(string(actionType)),
		semconv.Mirror.FollowerID.String(followerID),
		semconv.Mirror.Symbol.String(symbol))
	q.metrics.RecordQueueDepth(ctx, float64(depth),
		semconv.Mirror.FollowerID.String(followerID))

	return action
}

// GetPending retorna una copia de la cola del follower, en orden de llegada.
func (q *ActionQueue) GetPending(followerID string) []*QueuedAction {
	q.mu.RLock()
	defer q.mu.RUnlock()

	queue := q.queues[followerID]
	result := make([]*QueuedAction, len(queue))
	copy(result, queue)
	return result
}

// GetAllPending retorna las colas no vacías de todos los followers.
func (q *ActionQueue) GetAllPending() map[string][]*QueuedAction {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make(map[string][]*QueuedAction, len(q.queues))
	for followerID, queue := range q.queues {
		if len(queue) == 0 {
			continue
		}
		cp := make([]*QueuedAction, len(queue))
		copy(cp, queue)
		result[followerID] = cp
	}
	return result
}

// HasPending responde si el follower tiene acciones encoladas.
func (q *ActionQueue) HasPending(followerID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.queues[followerID]) > 0
}

// PendingCount retorna la cantidad de acciones encoladas del follower.
func (q *ActionQueue) PendingCount(followerID string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.queues[followerID])
}

// Remove saca una acción puntual preservando el orden del resto.
func (q *ActionQueue) Remove(ctx context.Context, followerID, actionID string) (*QueuedAction, bool) {
	q.mu.Lock()
	queue := q.queues[followerID]
	var removed *QueuedAction
	for i, a := range queue {
		if a.ID == actionID {
			removed = a
			q.queues[followerID] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	q.mu.Unlock()

	if removed == nil {
		return nil, false
	}
	if err := q.journal.Delete(actionID); err != nil {
		q.telemetry.Warn(ctx, "action journal delete failed",
			semconv.Mirror.ActionID.String(actionID),
			attribute.String("error", err.Error()))
	}
	return removed, true
}

// Clear vacía la cola de un follower. Retorna cuántas acciones descartó.
func (q *ActionQueue) Clear(ctx context.Context, followerID string) int {
	q.mu.Lock()
	queue := q.queues[followerID]
	delete(q.queues, followerID)
	q.mu.Unlock()

	if len(queue) == 0 {
		return 0
	}

	ids := make([]string, len(queue))
	for i, a := range queue {
		ids[i] = a.ID
	}
	if err := q.journal.DeleteAll(ids); err != nil {
		q.telemetry.Warn(ctx, "action journal clear failed",
			semconv.Mirror.FollowerID.String(followerID),
			attribute.String("error", err.Error()))
	}
	return len(queue)
}

// ClearAll vacía todas las colas. Retorna cuántas acciones descartó.
func (q *ActionQueue) ClearAll(ctx context.Context) int {
	q.mu.Lock()
	var ids []string
	total := 0
	for _, queue := range q.queues {
		for _, a := range queue {
			ids = append(ids, a.ID)
		}
		total += len(queue)
	}
	q.queues = make(map[string][]*QueuedAction)
	q.mu.Unlock()

	if total == 0 {
		return 0
	}
	if err := q.journal.DeleteAll(ids); err != nil {
		q.telemetry.Warn(ctx, "action journal clear failed",
			attribute.String("error", err.Error()))
	}
	return total
}
