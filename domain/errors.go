package domain

import "fmt"

// ErrorCode representa un código de error del dominio de replicación.
type ErrorCode string

const (
	// ErrNoError indica éxito (sin error)
	ErrNoError ErrorCode = "NO_ERROR"

	// Errores de configuración (fatales para start)
	ErrMasterNotConfigured ErrorCode = "MASTER_NOT_CONFIGURED"
	ErrInvalidMultiplier   ErrorCode = "INVALID_MULTIPLIER"
	ErrInvalidSymbol       ErrorCode = "INVALID_SYMBOL"

	// Errores transitorios de broker
	ErrNotConnected    ErrorCode = "NOT_CONNECTED"
	ErrOrderRejected   ErrorCode = "ORDER_REJECTED"
	ErrBrokerBusy      ErrorCode = "BROKER_BUSY"
	ErrTimeout         ErrorCode = "TIMEOUT"
	ErrConnectionLost  ErrorCode = "CONNECTION_LOST"

	// Errores de locate
	ErrLocateUnavailable ErrorCode = "LOCATE_UNAVAILABLE"
	ErrLocateIncomplete  ErrorCode = "LOCATE_INCOMPLETE"

	// Errores de sistema
	ErrUnknown  ErrorCode = "UNKNOWN"
	ErrNotFound ErrorCode = "NOT_FOUND"
	ErrStoreIO  ErrorCode = "STORE_IO"
)

// ReplicationError representa un error del dominio con contexto.
type ReplicationError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

// Error implementa la interfaz error.
func (e *ReplicationError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implementa la interfaz errors.Unwrap.
func (e *ReplicationError) Unwrap() error {
	return e.Wrapped
}

// WithDetail agrega un detalle al error.
func (e *ReplicationError) WithDetail(key string, value interface{}) *ReplicationError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewError crea un nuevo ReplicationError.
//
// Example:
//
//	err := domain.NewError(domain.ErrMasterNotConfigured, "no master session configured")
func NewError(code ErrorCode, message string) *ReplicationError {
	return &ReplicationError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError envuelve un error existente con contexto de replicación.
//
// Example:
//
//	err := domain.WrapError(domain.ErrStoreIO, "upsert multiplier failed", originalErr)
func WrapError(code ErrorCode, message string, wrapped error) *ReplicationError {
	return &ReplicationError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Wrapped: wrapped,
	}
}
