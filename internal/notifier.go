package internal

import (
	"context"
	"sync"

	"github.com/xKoRx/mirror/domain"
	"github.com/xKoRx/mirror/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// NotifierEvent mensaje hacia un suscriptor de UI.
type NotifierEvent struct {
	Type    string
	Payload map[string]interface{}
}

// NotifierSink receptor de eventos (conexión websocket, test fake, etc.).
//
// Send no debe bloquear indefinidamente; un error descarta al suscriptor.
type NotifierSink interface {
	Send(event NotifierEvent) error
}

// BroadcastNotifier hub de broadcast best-effort hacia la UI.
//
// Las entregas nunca propagan error hacia el engine: un sink que falla se
// desregistra y se loguea.
type BroadcastNotifier struct {
	mu     sync.RWMutex
	sinks  map[int64]NotifierSink
	nextID int64

	telemetry *telemetry.Client
}

// NewBroadcastNotifier crea un hub sin suscriptores.
func NewBroadcastNotifier(tel *telemetry.Client) *BroadcastNotifier {
	return &BroadcastNotifier{
		sinks:     make(map[int64]NotifierSink),
		telemetry: tel,
	}
}

// Subscribe registra un sink y devuelve el handle para desuscribirse.
func (n *BroadcastNotifier) Subscribe(sink NotifierSink) domain.Unsubscribe {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.sinks[id] = sink
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.sinks, id)
		n.mu.Unlock()
	}
}

// Broadcast envía el evento a todos los sinks registrados.
//
// Los sinks que fallan se descartan en la misma pasada.
func (n *BroadcastNotifier) Broadcast(eventType string, payload map[string]interface{}) {
	event := NotifierEvent{Type: eventType, Payload: payload}

	n.mu.RLock()
	targets := make(map[int64]NotifierSink, len(n.sinks))
	for id, sink := range n.sinks {
		targets[id] = sink
	}
	n.mu.RUnlock()

	var dropped []int64
	for id, sink := range targets {
		if err := sink.Send(event); err != nil {
			dropped = append(dropped, id)
		}
	}

	if len(dropped) > 0 {
		n.mu.Lock()
		for _, id := range dropped {
			delete(n.sinks, id)
		}
		n.mu.Unlock()

		n.telemetry.Warn(context.Background(), "notifier sinks dropped",
			attribute.String("event_type", eventType),
			attribute.Int("dropped", len(dropped)))
	}
}

// ClientCount retorna la cantidad de suscriptores activos.
func (n *BroadcastNotifier) ClientCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.sinks)
}
