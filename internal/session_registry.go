package internal

import (
	"context"
	"sync"

	"github.com/xKoRx/mirror/domain"
	"github.com/xKoRx/mirror/telemetry"
	"github.com/xKoRx/mirror/telemetry/semconv"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

type followerSession struct {
	cfg    domain.FollowerConfig
	client domain.BrokerClient
}

// SessionRegistry administra la sesión del master y las de los followers.
//
// Los clientes se construyen con la factory inyectada; el registry no conoce
// el protocolo de wire. El master es obligatorio para arrancar; un follower
// que falla al conectar no tumba el resto.
type SessionRegistry struct {
	factory   domain.ClientFactory
	telemetry *telemetry.Client

	mu        sync.RWMutex
	master    domain.BrokerClient
	followers map[string]*followerSession
}

// NewSessionRegistry crea el registry con la factory dada.
func NewSessionRegistry(factory domain.ClientFactory, tel *telemetry.Client) *SessionRegistry {
	return &SessionRegistry{
		factory:   factory,
		telemetry: tel,
		followers: make(map[string]*followerSession),
	}
}

// ConfigureMaster construye la sesión del master (sin conectarla).
func (r *SessionRegistry) ConfigureMaster(cfg domain.ConnectionConfig) error {
	client, err := r.factory(cfg)
	if err != nil {
		return domain.WrapError(domain.ErrMasterNotConfigured, "failed to build master session", err)
	}

	r.mu.Lock()
	r.master = client
	r.mu.Unlock()
	return nil
}

// AddFollower registra un follower (sin conectarlo). Reemplaza cualquier
// registro previo con el mismo ID.
func (r *SessionRegistry) AddFollower(cfg domain.FollowerConfig) error {
	client, err := r.factory(cfg.Connection)
	if err != nil {
		return domain.WrapError(domain.ErrUnknown, "failed to build follower session", err).
			WithDetail("follower_id", cfg.ID)
	}

	r.mu.Lock()
	r.followers[cfg.ID] = &followerSession{cfg: cfg, client: client}
	r.mu.Unlock()
	return nil
}

// RemoveFollower detiene y elimina la sesión de un follower.
func (r *SessionRegistry) RemoveFollower(ctx context.Context, followerID string) bool {
	r.mu.Lock()
	session, ok := r.followers[followerID]
	delete(r.followers, followerID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	if session.client.IsRunning() {
		if err := session.client.Stop(ctx); err != nil {
			r.telemetry.Warn(ctx, "follower session stop failed",
				semconv.Mirror.FollowerID.String(followerID),
				attribute.String("error", err.Error()))
		}
	}
	return true
}

// StartAll conecta el master y los followers habilitados en paralelo.
//
// Un error del master aborta el arranque; los errores de followers solo se
// loguean.
func (r *SessionRegistry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	master := r.master
	sessions := make([]*followerSession, 0, len(r.followers))
	for _, s := range r.followers {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	if master == nil {
		return domain.NewError(domain.ErrMasterNotConfigured, "no master session configured")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := master.Start(gctx); err != nil {
			return domain.WrapError(domain.ErrConnectionLost, "master session start failed", err)
		}
		return nil
	})

	for _, session := range sessions {
		session := session
		if !session.cfg.Enabled {
			continue
		}
		g.Go(func() error {
			if err := session.client.Start(gctx); err != nil {
				r.telemetry.Warn(gctx, "follower session start failed",
					semconv.Mirror.FollowerID.String(session.cfg.ID),
					attribute.String("error", err.Error()))
			}
			return nil
		})
	}

	return g.Wait()
}

// StopAll desconecta todas las sesiones en paralelo.
func (r *SessionRegistry) StopAll(ctx context.Context) {
	r.mu.RLock()
	master := r.master
	sessions := make([]*followerSession, 0, len(r.followers))
	for _, s := range r.followers {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	var g errgroup.Group
	if master != nil && master.IsRunning() {
		g.Go(func() error {
			if err := master.Stop(ctx); err != nil {
				r.telemetry.Warn(ctx, "master session stop failed",
					attribute.String("error", err.Error()))
			}
			return nil
		})
	}
	for _, session := range sessions {
		session := session
		if !session.client.IsRunning() {
			continue
		}
		g.Go(func() error {
			if err := session.client.Stop(ctx); err != nil {
				r.telemetry.Warn(ctx, "follower session stop failed",
					semconv.Mirror.FollowerID.String(session.cfg.ID),
					attribute.String("error", err.Error()))
			}
			return nil
		})
	}
	g.Wait()
}

// Master retorna la sesión del master (nil si no fue configurada).
func (r *SessionRegistry) Master() domain.BrokerClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.master
}

// Follower retorna la sesión de un follower.
func (r *SessionRegistry) Follower(followerID string) (domain.BrokerClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.followers[followerID]
	if !ok {
		return nil, false
	}
	return session.client, true
}

// FollowerConfig retorna la configuración de un follower.
func (r *SessionRegistry) FollowerConfig(followerID string) (domain.FollowerConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.followers[followerID]
	if !ok {
		return domain.FollowerConfig{}, false
	}
	return session.cfg, true
}

// FollowerConfigs retorna la configuración de todos los followers.
func (r *SessionRegistry) FollowerConfigs() []domain.FollowerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.FollowerConfig, 0, len(r.followers))
	for _, session := range r.followers {
		result = append(result, session.cfg)
	}
	return result
}

// ConnectedFollowers retorna los followers cuya sesión está corriendo.
func (r *SessionRegistry) ConnectedFollowers() map[string]domain.BrokerClient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]domain.BrokerClient)
	for followerID, session := range r.followers {
		if session.client.IsRunning() {
			result[followerID] = session.client
		}
	}
	return result
}

// Status arma el estado de conexión para el push hacia la UI.
func (r *SessionRegistry) Status() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	masterConnected := r.master != nil && r.master.IsRunning()
	followers := make(map[string]interface{}, len(r.followers))
	for followerID, session := range r.followers {
		followers[followerID] = map[string]interface{}{
			"name":      session.cfg.Name,
			"enabled":   session.cfg.Enabled,
			"connected": session.client.IsRunning(),
		}
	}
	return map[string]interface{}{
		"master_connected": masterConnected,
		"followers":        followers,
	}
}
