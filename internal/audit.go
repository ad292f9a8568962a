package internal

import (
	"context"

	"github.com/xKoRx/mirror/domain"
	"github.com/xKoRx/mirror/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Categorías de auditoría.
const (
	AuditCategoryOrder  = "order"
	AuditCategoryLocate = "locate"
	AuditCategorySystem = "system"
	AuditCategoryReplay = "replay"
)

// AuditService escribe el trail persistente de auditoría.
//
// Un fallo al persistir nunca se propaga al caller: el flujo de replicación
// no puede abortarse por un problema del trail. Se loguea y sigue.
type AuditService struct {
	repo      domain.AuditRepository
	telemetry *telemetry.Client
}

// NewAuditService crea el servicio sobre el repositorio dado.
func NewAuditService(repo domain.AuditRepository, tel *telemetry.Client) *AuditService {
	return &AuditService{
		repo:      repo,
		telemetry: tel,
	}
}

// Log persiste una entrada de auditoría (best-effort).
func (s *AuditService) Log(ctx context.Context, entry domain.AuditEntry) {
	if s == nil || s.repo == nil {
		return
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		s.telemetry.Error(ctx, "audit append failed", nil,
			attribute.String("category", entry.Category),
			attribute.String("message", entry.Message),
			attribute.String("error", err.Error()))
	}
}

// Info registra una entrada de nivel INFO.
func (s *AuditService) Info(ctx context.Context, category, followerID, symbol, message string, details map[string]interface{}) {
	s.Log(ctx, domain.AuditEntry{
		Level:      domain.AuditLevelInfo,
		Category:   category,
		FollowerID: followerID,
		Symbol:     symbol,
		Message:    message,
		Details:    details,
	})
}

// Warn registra una entrada de nivel WARN.
func (s *AuditService) Warn(ctx context.Context, category, followerID, symbol, message string, details map[string]interface{}) {
	s.Log(ctx, domain.AuditEntry{
		Level:      domain.AuditLevelWarn,
		Category:   category,
		FollowerID: followerID,
		Symbol:     symbol,
		Message:    message,
		Details:    details,
	})
}

// Error registra una entrada de nivel ERROR.
func (s *AuditService) Error(ctx context.Context, category, followerID, symbol, message string, details map[string]interface{}) {
	s.Log(ctx, domain.AuditEntry{
		Level:      domain.AuditLevelError,
		Category:   category,
		FollowerID: followerID,
		Symbol:     symbol,
		Message:    message,
		Details:    details,
	})
}
