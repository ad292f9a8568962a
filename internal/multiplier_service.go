package internal

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/xKoRx/mirror/domain"
	"github.com/xKoRx/mirror/telemetry"
	"github.com/xKoRx/mirror/telemetry/semconv"
	"go.opentelemetry.io/otel/attribute"
)

// Tolerancia para comparar multiplicadores inferidos contra los ya registrados.
const multiplierEpsilon = 0.01

// MultiplierService resuelve el multiplicador efectivo por (follower, symbol).
//
// Precedencia: override por símbolo > multiplicador base del follower.
// Dentro de los overrides, user_override nunca es pisado por auto_inferred.
//
// El estado vive en memoria y se respalda en el Store; cada mutación espera
// la escritura antes de reportar éxito. Un listener LISTEN/NOTIFY invalida
// entradas cuando otro proceso toca la tabla.
type MultiplierService struct {
	repo      domain.MultiplierRepository
	telemetry *telemetry.Client

	mu        sync.RWMutex
	base      map[string]float64
	overrides map[string]*domain.SymbolOverride

	listenerMu     sync.Mutex
	listener       *pq.Listener
	listenerCancel context.CancelFunc
}

// NewMultiplierService crea el servicio sin estado cargado; llamar Load antes
// de servir lecturas.
func NewMultiplierService(repo domain.MultiplierRepository, tel *telemetry.Client) *MultiplierService {
	return &MultiplierService{
		repo:      repo,
		telemetry: tel,
		base:      make(map[string]float64),
		overrides: make(map[string]*domain.SymbolOverride),
	}
}

func multiplierKey(followerID, symbol string) string {
	return followerID + "::" + strings.ToUpper(symbol)
}

// Load hidrata el cache desde el Store (multiplicadores base y overrides).
func (s *MultiplierService) Load(ctx context.Context) error {
	base, err := s.repo.LoadBaseMultipliers(ctx)
	if err != nil {
		return domain.WrapError(domain.ErrStoreIO, "failed to load base multipliers", err)
	}
	overrides, err := s.repo.LoadSymbolOverrides(ctx)
	if err != nil {
		return domain.WrapError(domain.ErrStoreIO, "failed to load symbol overrides", err)
	}

	s.mu.Lock()
	s.base = make(map[string]float64, len(base))
	for followerID, mult := range base {
		s.base[followerID] = mult
	}
	s.overrides = make(map[string]*domain.SymbolOverride, len(overrides))
	for i := range overrides {
		o := overrides[i]
		o.Symbol = strings.ToUpper(o.Symbol)
		s.overrides[multiplierKey(o.FollowerID, o.Symbol)] = &o
	}
	s.mu.Unlock()

	s.telemetry.Info(ctx, "multiplier state loaded",
		attribute.Int("followers", len(base)),
		attribute.Int("overrides", len(overrides)))
	return nil
}

// Effective retorna el multiplicador efectivo y su origen.
//
// Sin base registrado el efectivo es 1.0 (réplica uno a uno).
func (s *MultiplierService) Effective(followerID, symbol string) (float64, domain.MultiplierSource) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if o, ok := s.overrides[multiplierKey(followerID, symbol)]; ok {
		return o.Multiplier, o.Source
	}
	if base, ok := s.base[followerID]; ok {
		return base, domain.MultiplierSourceBase
	}
	return 1.0, domain.MultiplierSourceBase
}

// SetBase actualiza el multiplicador base de un follower (solo memoria; la
// configuración base persiste vía FollowerRepository).
func (s *MultiplierService) SetBase(followerID string, multiplier float64) {
	s.mu.Lock()
	s.base[followerID] = multiplier
	s.mu.Unlock()
}

// SetSymbolOverride fija un override explícito del usuario.
//
// Un user_override siempre gana: pisa cualquier valor previo, incluido otro
// user_override.
func (s *MultiplierService) SetSymbolOverride(ctx context.Context, followerID, symbol string, multiplier float64) error {
	symbol = strings.ToUpper(symbol)
	override := domain.SymbolOverride{
		FollowerID: followerID,
		Symbol:     symbol,
		Multiplier: multiplier,
		Source:     domain.MultiplierSourceUserOverride,
	}
	if err := s.repo.UpsertSymbolOverride(ctx, override); err != nil {
		return domain.WrapError(domain.ErrStoreIO, "failed to persist symbol override", err)
	}

	s.mu.Lock()
	s.overrides[multiplierKey(followerID, symbol)] = &override
	s.mu.Unlock()

	s.telemetry.Info(ctx, "symbol multiplier override set",
		semconv.Mirror.FollowerID.String(followerID),
		semconv.Mirror.Symbol.String(symbol),
		semconv.Mirror.Multiplier.Float64(multiplier),
		semconv.Mirror.MultiplierSource.String(string(domain.MultiplierSourceUserOverride)))
	return nil
}

// SetAutoInferred registra un multiplicador inferido de la reconciliación.
//
// No-op cuando ya existe un user_override para la clave, o cuando el valor
// registrado difiere en menos de la tolerancia.
func (s *MultiplierService) SetAutoInferred(ctx context.Context, followerID, symbol string, multiplier float64) (bool, error) {
	symbol = strings.ToUpper(symbol)
	key := multiplierKey(followerID, symbol)

	s.mu.RLock()
	existing, ok := s.overrides[key]
	s.mu.RUnlock()

	if ok {
		if existing.Source == domain.MultiplierSourceUserOverride {
			return false, nil
		}
		if math.Abs(existing.Multiplier-multiplier) < multiplierEpsilon {
			return false, nil
		}
	}

	override := domain.SymbolOverride{
		FollowerID: followerID,
		Symbol:     symbol,
		Multiplier: multiplier,
		Source:     domain.MultiplierSourceAutoInferred,
	}
	if err := s.repo.UpsertSymbolOverride(ctx, override); err != nil {
		return false, domain.WrapError(domain.ErrStoreIO, "failed to persist inferred multiplier", err)
	}

	s.mu.Lock()
	s.overrides[key] = &override
	s.mu.Unlock()

	s.telemetry.Info(ctx, "symbol multiplier inferred",
		semconv.Mirror.FollowerID.String(followerID),
		semconv.Mirror.Symbol.String(symbol),
		semconv.Mirror.Multiplier.Float64(multiplier),
		semconv.Mirror.MultiplierSource.String(string(domain.MultiplierSourceAutoInferred)))
	return true, nil
}

// RemoveSymbolOverride elimina el override; la clave vuelve al base.
func (s *MultiplierService) RemoveSymbolOverride(ctx context.Context, followerID, symbol string) error {
	symbol = strings.ToUpper(symbol)
	if err := s.repo.DeleteSymbolOverride(ctx, followerID, symbol); err != nil {
		return domain.WrapError(domain.ErrStoreIO, "failed to delete symbol override", err)
	}

	s.mu.Lock()
	delete(s.overrides, multiplierKey(followerID, symbol))
	s.mu.Unlock()
	return nil
}

// AllForFollower retorna los overrides vigentes de un follower, por símbolo.
func (s *MultiplierService) AllForFollower(followerID string) map[string]domain.SymbolOverride {
	prefix := followerID + "::"

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.SymbolOverride)
	for key, o := range s.overrides {
		if strings.HasPrefix(key, prefix) {
			result[o.Symbol] = *o
		}
	}
	return result
}

// RemoveFollower descarta todo el estado en memoria de un follower.
func (s *MultiplierService) RemoveFollower(followerID string) {
	prefix := followerID + "::"

	s.mu.Lock()
	delete(s.base, followerID)
	for key := range s.overrides {
		if strings.HasPrefix(key, prefix) {
			delete(s.overrides, key)
		}
	}
	s.mu.Unlock()
}

// StartListener inicia un LISTEN/NOTIFY para invalidar overrides tocados por
// otro proceso (payload "follower_id:symbol").
func (s *MultiplierService) StartListener(ctx context.Context, connStr string) error {
	if connStr == "" {
		return nil
	}

	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener != nil {
		return nil
	}

	listener := pq.NewListener(connStr, 5*time.Second, time.Minute, nil)
	if err := listener.Listen("mirror_multiplier_updated"); err != nil {
		listener.Close()
		return err
	}

	childCtx, cancel := context.WithCancel(ctx)
	s.listener = listener
	s.listenerCancel = cancel

	go func() {
		for {
			select {
			case <-childCtx.Done():
				return
			case notification := <-listener.Notify:
				if notification == nil {
					continue
				}
				s.handleNotification(childCtx, notification.Extra)
			}
		}
	}()

	go func() {
		<-childCtx.Done()
		s.listenerMu.Lock()
		if s.listener != nil {
			s.listener.Close()
			s.listener = nil
		}
		s.listenerMu.Unlock()
	}()

	return nil
}

// StopListener detiene el listener de LISTEN/NOTIFY.
func (s *MultiplierService) StopListener() {
	s.listenerMu.Lock()
	if s.listenerCancel != nil {
		s.listenerCancel()
		s.listenerCancel = nil
	}
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	s.listenerMu.Unlock()
}

func (s *MultiplierService) handleNotification(ctx context.Context, payload string) {
	parts := strings.SplitN(payload, ":", 2)
	followerID := strings.TrimSpace(parts[0])
	if followerID == "" {
		return
	}
	symbol := ""
	if len(parts) > 1 {
		symbol = strings.ToUpper(strings.TrimSpace(parts[1]))
	}

	if symbol == "" {
		s.RemoveFollowerOverridesFromCache(followerID)
		return
	}

	// Recarga la clave desde el Store; si desapareció, se elimina del cache.
	override, err := s.repo.GetSymbolOverride(ctx, followerID, symbol)
	if err != nil {
		s.telemetry.Warn(ctx, "multiplier invalidation reload failed",
			semconv.Mirror.FollowerID.String(followerID),
			semconv.Mirror.Symbol.String(symbol),
			attribute.String("error", err.Error()))
		return
	}

	key := multiplierKey(followerID, symbol)
	s.mu.Lock()
	if override == nil {
		delete(s.overrides, key)
	} else {
		override.Symbol = strings.ToUpper(override.Symbol)
		s.overrides[key] = override
	}
	s.mu.Unlock()
}

// RemoveFollowerOverridesFromCache descarta los overrides en memoria de un
// follower sin tocar el Store.
func (s *MultiplierService) RemoveFollowerOverridesFromCache(followerID string) {
	prefix := followerID + "::"
	s.mu.Lock()
	for key := range s.overrides {
		if strings.HasPrefix(key, prefix) {
			delete(s.overrides, key)
		}
	}
	s.mu.Unlock()
}
