package domain

// Unsubscribe es el handle devuelto al suscribirse a un evento de broker.
//
// El engine es dueño de la lista de handles y los desmonta de forma
// determinista en el stop.
type Unsubscribe func()

// OrderAcceptedEvent el broker aceptó una orden del master.
type OrderAcceptedEvent struct {
	OrderID int64
}

// OrderCancelledEvent una orden del master fue cancelada.
type OrderCancelledEvent struct {
	OrderID int64
}

// OrderReplacedEvent una orden del master fue reemplazada (qty/precio).
type OrderReplacedEvent struct {
	OrderID int64
}

// LocateFilledEvent un locate del master se ejecutó.
type LocateFilledEvent struct {
	Symbol         string
	ExecutedShares int
	ExecutionPrice float64
}

// PositionOpenedEvent una sesión abrió una posición nueva.
type PositionOpenedEvent struct {
	Symbol          string
	InitialQuantity int
}
