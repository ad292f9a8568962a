package internal

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/xKoRx/mirror/domain"
	"github.com/xKoRx/mirror/telemetry"
	"github.com/xKoRx/mirror/telemetry/semconv"
)

// Razones de blacklist.
const (
	BlacklistReasonLocateRejected = "locate_rejected"
	BlacklistReasonReconcile      = "reconcile_diff_dir"
	BlacklistReasonMasterOnly     = "reconcile_master_only"
	BlacklistReasonManual         = "manual"
)

// BlacklistService suprime replicación por (follower, symbol).
//
// Los símbolos se normalizan a mayúsculas. Memoria primero, Store como
// respaldo; las mutaciones esperan la escritura antes de reportar éxito.
type BlacklistService struct {
	repo      domain.BlacklistRepository
	telemetry *telemetry.Client

	mu      sync.RWMutex
	entries map[string]*domain.BlacklistEntry
}

// NewBlacklistService crea el servicio sin estado cargado; llamar Load antes
// de servir lecturas.
func NewBlacklistService(repo domain.BlacklistRepository, tel *telemetry.Client) *BlacklistService {
	return &BlacklistService{
		repo:      repo,
		telemetry: tel,
		entries:   make(map[string]*domain.BlacklistEntry),
	}
}

func blacklistKey(followerID, symbol string) string {
	return followerID + "::" + strings.ToUpper(symbol)
}

// Load hidrata el cache desde el Store.
func (s *BlacklistService) Load(ctx context.Context) error {
	entries, err := s.repo.LoadAll(ctx)
	if err != nil {
		return domain.WrapError(domain.ErrStoreIO, "failed to load blacklist", err)
	}

	s.mu.Lock()
	s.entries = make(map[string]*domain.BlacklistEntry, len(entries))
	for i := range entries {
		e := entries[i]
		e.Symbol = strings.ToUpper(e.Symbol)
		s.entries[blacklistKey(e.FollowerID, e.Symbol)] = &e
	}
	s.mu.Unlock()
	return nil
}

// IsBlacklisted responde si la réplica hacia (follower, symbol) está suprimida.
func (s *BlacklistService) IsBlacklisted(followerID, symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[blacklistKey(followerID, symbol)]
	return ok
}

// Add agrega una entrada. Retorna false si ya existía (sin tocar la razón
// original).
func (s *BlacklistService) Add(ctx context.Context, followerID, symbol, reason string) (bool, error) {
	symbol = strings.ToUpper(symbol)
	key := blacklistKey(followerID, symbol)

	s.mu.RLock()
	_, exists := s.entries[key]
	s.mu.RUnlock()
	if exists {
		return false, nil
	}

	entry := domain.BlacklistEntry{
		FollowerID: followerID,
		Symbol:     symbol,
		Reason:     reason,
	}
	if err := s.repo.Insert(ctx, entry); err != nil {
		return false, domain.WrapError(domain.ErrStoreIO, "failed to persist blacklist entry", err)
	}

	s.mu.Lock()
	s.entries[key] = &entry
	s.mu.Unlock()

	s.telemetry.Info(ctx, "symbol blacklisted",
		semconv.Mirror.FollowerID.String(followerID),
		semconv.Mirror.Symbol.String(symbol),
		semconv.Mirror.Reason.String(reason))
	return true, nil
}

// Remove elimina una entrada. Retorna false si no existía.
func (s *BlacklistService) Remove(ctx context.Context, followerID, symbol string) (bool, error) {
	symbol = strings.ToUpper(symbol)
	key := blacklistKey(followerID, symbol)

	s.mu.RLock()
	_, exists := s.entries[key]
	s.mu.RUnlock()
	if !exists {
		return false, nil
	}

	if err := s.repo.Delete(ctx, followerID, symbol); err != nil {
		return false, domain.WrapError(domain.ErrStoreIO, "failed to delete blacklist entry", err)
	}

	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return true, nil
}

// SymbolsFor retorna los símbolos suprimidos de un follower, ordenados.
func (s *BlacklistService) SymbolsFor(followerID string) []string {
	prefix := followerID + "::"

	s.mu.RLock()
	var symbols []string
	for key, e := range s.entries {
		if strings.HasPrefix(key, prefix) {
			symbols = append(symbols, e.Symbol)
		}
	}
	s.mu.RUnlock()

	sort.Strings(symbols)
	return symbols
}

// All retorna todas las entradas vigentes.
func (s *BlacklistService) All() []domain.BlacklistEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.BlacklistEntry, 0, len(s.entries))
	for _, e := range s.entries {
		result = append(result, *e)
	}
	return result
}

// RemoveFollower descarta el estado en memoria de un follower.
func (s *BlacklistService) RemoveFollower(followerID string) {
	prefix := followerID + "::"
	s.mu.Lock()
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()
}
