package domain

// PositionSide lado de una posición abierta.
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// Position es el read model de una posición reportada por un BrokerClient.
//
// Este core nunca muta posiciones: solo las lee y compara.
type Position struct {
	Symbol        string
	Side          PositionSide
	Quantity      int
	AvgCost       float64
	RealizedPnl   float64
	UnrealizedPnl float64
	LastPrice     float64
}

// TotalPnl retorna realizado + no realizado.
func (p *Position) TotalPnl() float64 {
	return p.RealizedPnl + p.UnrealizedPnl
}
