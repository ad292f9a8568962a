package domain

// OrderSide indica la dirección de una orden.
type OrderSide string

const (
	OrderSideBuy   OrderSide = "BUY"
	OrderSideSell  OrderSide = "SELL"
	OrderSideShort OrderSide = "SHORT"
	OrderSideCover OrderSide = "COVER"
)

// OrderType es el discriminante del union de tipos de orden.
//
// Los campos específicos de cada tipo viven en Order; el dispatch se hace
// por tag, nunca por type assertion sobre jerarquías.
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStop         OrderType = "stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
)

// OrderStatus estado de una orden en el broker.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Order representa una orden tal como la reporta una sesión de broker.
//
// Es un tagged union: Type decide qué campos de precio aplican.
//
//   - market: ninguno
//   - limit: Price
//   - stop: StopPrice
//   - stop_limit: StopPrice + LimitPrice
//   - trailing_stop: TrailAmount
type Order struct {
	ID          int64
	Symbol      string
	Side        OrderSide
	Quantity    int
	Type        OrderType
	Price       float64
	StopPrice   float64
	LimitPrice  float64
	TrailAmount float64
	TimeInForce string
	Route       string
	Status      OrderStatus
}

// OrderRequest es la orden a enviar a un follower.
//
// Nunca lleva el identificador del master: el id follower-side lo asigna
// la sesión destino al aceptar el request.
type OrderRequest struct {
	Symbol      string
	Side        OrderSide
	Quantity    int
	Type        OrderType
	Price       float64
	StopPrice   float64
	LimitPrice  float64
	TrailAmount float64
	TimeInForce string
}

// RequestFromOrder construye el request follower-side a partir de una orden
// master, copiando los campos del tipo concreto pero con la cantidad ya
// escalada. El identificador del master nunca se copia.
func RequestFromOrder(master *Order, quantity int) OrderRequest {
	req := OrderRequest{
		Symbol:      master.Symbol,
		Side:        master.Side,
		Quantity:    quantity,
		Type:        master.Type,
		TimeInForce: master.TimeInForce,
	}

	switch master.Type {
	case OrderTypeLimit:
		req.Price = master.Price
	case OrderTypeStop:
		req.StopPrice = master.StopPrice
	case OrderTypeStopLimit:
		req.StopPrice = master.StopPrice
		req.LimitPrice = master.LimitPrice
	case OrderTypeTrailingStop:
		req.TrailAmount = master.TrailAmount
	}

	return req
}

// OrderAck es la respuesta del broker a un submit.
type OrderAck struct {
	OrderID int64
}
