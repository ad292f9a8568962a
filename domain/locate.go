package domain

// LocateOffer es una oferta de locate disponible en un follower.
type LocateOffer struct {
	OfferID       string
	Symbol        string
	Quantity      int
	PricePerShare float64
	Route         string
}

// LocateScan resultado de un scan de ofertas de locate.
type LocateScan struct {
	Symbol    string
	Offers    []LocateOffer
	BestOffer *LocateOffer
}

// LocateResult resultado de un smart locate (búsqueda acotada en tiempo y precio).
type LocateResult struct {
	Symbol               string
	RequestedQuantity    int
	FilledQuantity       int
	AveragePricePerShare float64
}

// LocateStatus estado de un LocateRecord.
//
// Transiciones:
//
//	scanning → accepted | prompted | retrying | failed
//	prompted → accepted | rejected
//	retrying → prompted | timed_out | cancelled | failed
type LocateStatus string

const (
	LocateStatusScanning  LocateStatus = "scanning"
	LocateStatusAccepted  LocateStatus = "accepted"
	LocateStatusPrompted  LocateStatus = "prompted"
	LocateStatusRejected  LocateStatus = "rejected"
	LocateStatusRetrying  LocateStatus = "retrying"
	LocateStatusTimedOut  LocateStatus = "timed_out"
	LocateStatusCancelled LocateStatus = "cancelled"
	LocateStatusFailed    LocateStatus = "failed"
)

// LocateRecord trackea un intento de replicación de locate hacia un follower.
//
// Se crea un registro por intento, incluyendo los reintentos originados por
// el mismo fill del master.
type LocateRecord struct {
	ID            int64
	FollowerID    string
	Symbol        string
	MasterQty     int
	TargetQty     int
	MasterPrice   float64
	FollowerPrice float64
	Status        LocateStatus
}

// PromptReason razón con la que se le presenta una oferta al usuario.
type PromptReason string

const (
	PromptReasonWithinDelta     PromptReason = "within_delta"
	PromptReasonPriceExceeded   PromptReason = "price_exceeded"
	PromptReasonFoundAfterRetry PromptReason = "found_after_retry"
)
