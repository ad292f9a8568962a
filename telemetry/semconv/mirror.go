// Package semconv define atributos semánticos compartidos de Mirror.
package semconv

import "go.opentelemetry.io/otel/attribute"

// Mirror contiene atributos semánticos específicos de Mirror.
//
// # Identificadores
//
//   - mirror.follower_id: ID del follower
//   - mirror.master_order_id: ID de la orden del master
//   - mirror.follower_order_id: ID de la orden replicada en el follower
//   - mirror.locate_id: ID del LocateRecord
//   - mirror.task_id: ID de un short-sale task
//   - mirror.action_id: ID de una acción encolada
//
// # Replicación
//
//   - mirror.symbol: Símbolo del instrumento
//   - mirror.side: Lado de la orden (BUY/SELL/SHORT/COVER)
//   - mirror.order_type: Tipo de orden (market/limit/stop/stop_limit/trailing_stop)
//   - mirror.quantity: Cantidad ya escalada
//   - mirror.multiplier: Multiplicador efectivo aplicado
//   - mirror.multiplier_source: base | user_override | auto_inferred
//
// # Estado
//
//   - mirror.status: Estado de la operación
//   - mirror.reason: Razón de un prompt/skip/blacklist
//   - mirror.action_type: Tipo de acción encolada (submit/cancel/replace/locate)
//
// # Uso
//
//	client.Info(ctx, "Order replicated",
//	    semconv.Mirror.FollowerID.String("f1"),
//	    semconv.Mirror.Symbol.String("GME"),
//	    semconv.Mirror.Quantity.Int(500),
//	)
var Mirror = mirrorAttributes{
	// Identificadores
	FollowerID:      attribute.Key("mirror.follower_id"),
	MasterOrderID:   attribute.Key("mirror.master_order_id"),
	FollowerOrderID: attribute.Key("mirror.follower_order_id"),
	LocateID:        attribute.Key("mirror.locate_id"),
	TaskID:          attribute.Key("mirror.task_id"),
	ActionID:        attribute.Key("mirror.action_id"),

	// Replicación
	Symbol:           attribute.Key("mirror.symbol"),
	Side:             attribute.Key("mirror.side"),
	OrderType:        attribute.Key("mirror.order_type"),
	Quantity:         attribute.Key("mirror.quantity"),
	Multiplier:       attribute.Key("mirror.multiplier"),
	MultiplierSource: attribute.Key("mirror.multiplier_source"),

	// Estado
	Status:     attribute.Key("mirror.status"),
	Reason:     attribute.Key("mirror.reason"),
	ActionType: attribute.Key("mirror.action_type"),
}

type mirrorAttributes struct {
	FollowerID      attribute.Key
	MasterOrderID   attribute.Key
	FollowerOrderID attribute.Key
	LocateID        attribute.Key
	TaskID          attribute.Key
	ActionID        attribute.Key

	Symbol           attribute.Key
	Side             attribute.Key
	OrderType        attribute.Key
	Quantity         attribute.Key
	Multiplier       attribute.Key
	MultiplierSource attribute.Key

	Status     attribute.Key
	Reason     attribute.Key
	ActionType attribute.Key
}
