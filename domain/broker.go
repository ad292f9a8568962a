package domain

import (
	"context"
	"time"
)

// BrokerClient es el capability set que este core consume de una sesión de
// broker (master o follower).
//
// La implementación del protocolo de wire es un colaborador externo; aquí
// solo se especifica la interfaz. Todas las llamadas bloqueantes reciben
// context para timeout/cancelación.
type BrokerClient interface {
	// Lifecycle
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool

	// Órdenes
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
	CancelOrder(ctx context.Context, orderID int64) (bool, error)
	ReplaceOrder(ctx context.Context, orderID int64, newQuantity int, newPrice float64) (bool, error)
	GetOrder(orderID int64) (*Order, bool)
	ActiveOrders() []*Order

	// Posiciones
	GetPosition(symbol string) (*Position, bool)
	Positions() []*Position
	GetMaxSell(ctx context.Context, symbol string) (int, error)

	// Locates
	ScanLocateOffers(ctx context.Context, symbol string, quantity int, timeout time.Duration) (*LocateScan, error)
	AcceptLocateOffer(ctx context.Context, offer *LocateOffer) error
	SmartLocate(ctx context.Context, symbol string, quantity int, maxPricePerShare float64, timeout time.Duration) (*LocateResult, error)

	// Eventos (pub-sub tipado; el handle revierte la suscripción)
	OnOrderAccepted(handler func(OrderAcceptedEvent)) Unsubscribe
	OnOrderCancelled(handler func(OrderCancelledEvent)) Unsubscribe
	OnOrderReplaced(handler func(OrderReplacedEvent)) Unsubscribe
	OnLocateFilled(handler func(LocateFilledEvent)) Unsubscribe
	OnPositionOpened(handler func(PositionOpenedEvent)) Unsubscribe
}

// ConnectionConfig parámetros de conexión de una sesión de broker.
type ConnectionConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	Account        string
	Broker         string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	AutoReconnect  bool
}

// ClientFactory construye un BrokerClient para una configuración de conexión.
//
// La capa de bootstrap inyecta la implementación real; los tests inyectan
// fakes.
type ClientFactory func(cfg ConnectionConfig) (BrokerClient, error)

// FollowerConfig configuración de replicación de un follower.
type FollowerConfig struct {
	ID                  string
	Name                string
	Connection          ConnectionConfig
	BaseMultiplier      float64
	MaxLocatePriceDelta float64
	LocateRetryTimeout  time.Duration
	AutoAcceptLocates   bool
	MaxLocatePrice      float64
	Enabled             bool
}
