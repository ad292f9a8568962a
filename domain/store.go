package domain

import "context"

// MultiplierSource origen de un override de multiplicador por símbolo.
type MultiplierSource string

const (
	MultiplierSourceBase         MultiplierSource = "base"
	MultiplierSourceUserOverride MultiplierSource = "user_override"
	MultiplierSourceAutoInferred MultiplierSource = "auto_inferred"
)

// SymbolOverride override de multiplicador para (follower, symbol).
type SymbolOverride struct {
	FollowerID string
	Symbol     string
	Multiplier float64
	Source     MultiplierSource
}

// BlacklistEntry supresión de réplica para (follower, symbol).
type BlacklistEntry struct {
	FollowerID string
	Symbol     string
	Reason     string
}

// AuditLevel nivel de una entrada de auditoría.
type AuditLevel string

const (
	AuditLevelInfo  AuditLevel = "INFO"
	AuditLevelWarn  AuditLevel = "WARN"
	AuditLevelError AuditLevel = "ERROR"
)

// AuditEntry entrada del trail persistente de auditoría.
//
// Todo outcome que mueve dinero (accept, reject, replicate, replace, cancel)
// genera una entrada además de la notificación de UI: el trail persistido es
// la fuente autoritativa.
type AuditEntry struct {
	Level      AuditLevel
	Category   string
	FollowerID string
	Symbol     string
	Message    string
	Details    map[string]interface{}
}

// MultiplierRepository persistencia de multiplicadores.
//
// Cada llamada mutante debe esperarse antes de reportar éxito al caller:
// el Store es la frontera de durabilidad.
type MultiplierRepository interface {
	LoadBaseMultipliers(ctx context.Context) (map[string]float64, error)
	GetBaseMultiplier(ctx context.Context, followerID string) (float64, bool, error)
	LoadSymbolOverrides(ctx context.Context) ([]SymbolOverride, error)
	GetSymbolOverride(ctx context.Context, followerID, symbol string) (*SymbolOverride, error)
	UpsertSymbolOverride(ctx context.Context, override SymbolOverride) error
	DeleteSymbolOverride(ctx context.Context, followerID, symbol string) error
}

// BlacklistRepository persistencia del blacklist.
type BlacklistRepository interface {
	LoadAll(ctx context.Context) ([]BlacklistEntry, error)
	Insert(ctx context.Context, entry BlacklistEntry) error
	Delete(ctx context.Context, followerID, symbol string) error
}

// LocateRepository persistencia de LocateRecords.
type LocateRepository interface {
	Create(ctx context.Context, record *LocateRecord) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status LocateStatus) error
	UpdateFollowerPrice(ctx context.Context, id int64, price float64) error
}

// AuditRepository persistencia del trail de auditoría.
type AuditRepository interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// FollowerRepository persistencia de configuración de followers.
type FollowerRepository interface {
	LoadAll(ctx context.Context) ([]FollowerConfig, error)
}

// RepositoryFactory agrupa los repositorios del Store.
type RepositoryFactory interface {
	MultiplierRepository() MultiplierRepository
	BlacklistRepository() BlacklistRepository
	LocateRepository() LocateRepository
	AuditRepository() AuditRepository
	FollowerRepository() FollowerRepository
}

// Notifier broadcast best-effort hacia los suscriptores de UI.
//
// La entrega nunca devuelve error hacia el engine: los fallos se loguean y
// el suscriptor se descarta.
type Notifier interface {
	Broadcast(eventType string, payload map[string]interface{})
	ClientCount() int
}
