package internal

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/xKoRx/mirror/domain"
	"github.com/xKoRx/mirror/telemetry"
	"github.com/xKoRx/mirror/telemetry/metricbundle"
	"github.com/xKoRx/mirror/telemetry/semconv"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultLocateScanTimeout   = 5 * time.Second
	defaultLocateRetryInterval = 10 * time.Second
)

// pendingPrompt es una oferta esperando decisión del usuario.
type pendingPrompt struct {
	record *domain.LocateRecord
	reason domain.PromptReason
	offer  *domain.LocateOffer
	client domain.BrokerClient
}

// LocateReplicator replica locates del master hacia los followers.
//
// Política de precio: si la oferta del follower está dentro del delta
// configurado respecto al precio del master, se auto-acepta (cuando el
// follower lo permite) o se le presenta al usuario; por encima del delta
// siempre se pregunta. Sin oferta disponible se reintenta en background
// hasta el timeout del follower; lo que aparezca en un reintento se le
// presenta al usuario aunque el follower tenga auto-accept.
type LocateReplicator struct {
	blacklist   *BlacklistService
	multipliers *MultiplierService
	repo        domain.LocateRepository
	audit       *AuditService
	notifier    domain.Notifier
	telemetry   *telemetry.Client
	metrics     *metricbundle.MirrorMetrics

	scanTimeout   time.Duration
	retryInterval time.Duration

	mu      sync.Mutex
	prompts map[int64]*pendingPrompt
	retries map[string]context.CancelFunc
}

// NewLocateReplicator crea el replicador de locates.
func NewLocateReplicator(blacklist *BlacklistService, multipliers *MultiplierService, repo domain.LocateRepository, audit *AuditService, notifier domain.Notifier, tel *telemetry.Client, metrics *metricbundle.MirrorMetrics) *LocateReplicator {
	return &LocateReplicator{
		blacklist:     blacklist,
		multipliers:   multipliers,
		repo:          repo,
		audit:         audit,
		notifier:      notifier,
		telemetry:     tel,
		metrics:       metrics,
		scanTimeout:   defaultLocateScanTimeout,
		retryInterval: defaultLocateRetryInterval,
		prompts:       make(map[int64]*pendingPrompt),
		retries:       make(map[string]context.CancelFunc),
	}
}

func retryKey(followerID, symbol string) string {
	return followerID + "::" + strings.ToUpper(symbol)
}

// ReplicateLocate replica un locate fill del master hacia un follower.
//
// masterQty y masterPrice vienen del fill observado en el master; la
// cantidad objetivo se escala con el multiplicador efectivo del símbolo.
func (r *LocateReplicator) ReplicateLocate(ctx context.Context, cfg domain.FollowerConfig, client domain.BrokerClient, symbol string, masterQty int, masterPrice float64) {
	symbol = strings.ToUpper(symbol)

	if r.blacklist.IsBlacklisted(cfg.ID, symbol) {
		r.telemetry.Info(ctx, "locate replication suppressed by blacklist",
			semconv.Mirror.FollowerID.String(cfg.ID),
			semconv.Mirror.Symbol.String(symbol))
		return
	}

	mult, _ := r.multipliers.Effective(cfg.ID, symbol)
	targetQty := int(math.Round(float64(masterQty) * mult))
	if targetQty < 1 {
		r.audit.Info(ctx, AuditCategoryLocate, cfg.ID, symbol,
			"locate replication skipped: scaled quantity is zero",
			map[string]interface{}{
				"master_qty": masterQty,
				"multiplier": mult,
			})
		return
	}

	record := &domain.LocateRecord{
		FollowerID:  cfg.ID,
		Symbol:      symbol,
		MasterQty:   masterQty,
		TargetQty:   targetQty,
		MasterPrice: masterPrice,
		Status:      domain.LocateStatusScanning,
	}
	locateID, err := r.repo.Create(ctx, record)
	if err != nil {
		r.telemetry.Error(ctx, "failed to persist locate record", nil,
			semconv.Mirror.FollowerID.String(cfg.ID),
			semconv.Mirror.Symbol.String(symbol),
			attribute.String("error", err.Error()))
		return
	}
	record.ID = locateID

	scan, err := client.ScanLocateOffers(ctx, symbol, targetQty, r.scanTimeout)
	if err != nil {
		r.finishLocate(ctx, record, domain.LocateStatusFailed)
		r.audit.Error(ctx, AuditCategoryLocate, cfg.ID, symbol,
			"locate scan failed",
			map[string]interface{}{"locate_id": locateID, "error": err.Error()})
		return
	}

	if scan == nil || scan.BestOffer == nil {
		r.startRetry(ctx, cfg, client, record)
		return
	}

	r.evaluateOffer(ctx, cfg, client, record, scan.BestOffer, false)
}

// evaluateOffer decide aceptar, preguntar o descartar una oferta encontrada.
// afterRetry marca que la oferta salió de un reintento (cambia la razón del
// prompt).
func (r *LocateReplicator) evaluateOffer(ctx context.Context, cfg domain.FollowerConfig, client domain.BrokerClient, record *domain.LocateRecord, offer *domain.LocateOffer, afterRetry bool) {
	diff := offer.PricePerShare - record.MasterPrice

	if diff <= cfg.MaxLocatePriceDelta {
		if cfg.AutoAcceptLocates && !afterRetry {
			r.acceptOffer(ctx, cfg.ID, client, record, offer, true)
			return
		}
		reason := domain.PromptReasonWithinDelta
		if afterRetry {
			reason = domain.PromptReasonFoundAfterRetry
		}
		r.promptUser(ctx, cfg.ID, client, record, offer, reason)
		return
	}

	r.promptUser(ctx, cfg.ID, client, record, offer, domain.PromptReasonPriceExceeded)
}

func (r *LocateReplicator) acceptOffer(ctx context.Context, followerID string, client domain.BrokerClient, record *domain.LocateRecord, offer *domain.LocateOffer, auto bool) bool {
	if err := client.AcceptLocateOffer(ctx, offer); err != nil {
		r.finishLocate(ctx, record, domain.LocateStatusFailed)
		r.audit.Error(ctx, AuditCategoryLocate, followerID, record.Symbol,
			"locate accept failed",
			map[string]interface{}{"locate_id": record.ID, "error": err.Error()})
		return false
	}

	if err := r.repo.UpdateFollowerPrice(ctx, record.ID, offer.PricePerShare); err != nil {
		r.telemetry.Warn(ctx, "failed to persist locate follower price",
			semconv.Mirror.LocateID.Int64(record.ID),
			attribute.String("error", err.Error()))
	}
	record.FollowerPrice = offer.PricePerShare
	r.finishLocate(ctx, record, domain.LocateStatusAccepted)

	mode := "manual"
	if auto {
		mode = "auto"
	}
	r.audit.Info(ctx, AuditCategoryLocate, followerID, record.Symbol,
		"locate accepted",
		map[string]interface{}{
			"locate_id":      record.ID,
			"quantity":       offer.Quantity,
			"follower_price": offer.PricePerShare,
			"master_price":   record.MasterPrice,
			"mode":           mode,
		})
	r.notifier.Broadcast("locate_replicated", map[string]interface{}{
		"locate_id":     record.ID,
		"follower_id":   followerID,
		"symbol":        record.Symbol,
		"quantity":      offer.Quantity,
		"price":         offer.PricePerShare,
		"auto_accepted": auto,
	})
	return true
}

func (r *LocateReplicator) promptUser(ctx context.Context, followerID string, client domain.BrokerClient, record *domain.LocateRecord, offer *domain.LocateOffer, reason domain.PromptReason) {
	r.updateStatus(ctx, record, domain.LocateStatusPrompted)

	r.mu.Lock()
	r.prompts[record.ID] = &pendingPrompt{
		record: record,
		reason: reason,
		offer:  offer,
		client: client,
	}
	r.mu.Unlock()

	r.telemetry.Info(ctx, "locate prompt raised",
		semconv.Mirror.FollowerID.String(followerID),
		semconv.Mirror.LocateID.Int64(record.ID),
		semconv.Mirror.Symbol.String(record.Symbol),
		semconv.Mirror.Reason.String(string(reason)))
	r.notifier.Broadcast("locate_prompt", map[string]interface{}{
		"locate_id":    record.ID,
		"follower_id":  followerID,
		"symbol":       record.Symbol,
		"quantity":     offer.Quantity,
		"price":        offer.PricePerShare,
		"master_price": record.MasterPrice,
		"reason":       string(reason),
	})
}

// startRetry lanza el loop de reintentos en background. Un retry nuevo para
// la misma clave (follower, symbol) cancela al anterior.
func (r *LocateReplicator) startRetry(ctx context.Context, cfg domain.FollowerConfig, client domain.BrokerClient, record *domain.LocateRecord) {
	r.updateStatus(ctx, record, domain.LocateStatusRetrying)

	timeout := cfg.LocateRetryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	key := retryKey(cfg.ID, record.Symbol)
	retryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)

	r.mu.Lock()
	if prev, ok := r.retries[key]; ok {
		prev()
	}
	r.retries[key] = cancel
	r.mu.Unlock()

	r.notifier.Broadcast("locate_retrying", map[string]interface{}{
		"locate_id":   record.ID,
		"follower_id": cfg.ID,
		"symbol":      record.Symbol,
		"target_qty":  record.TargetQty,
		"timeout_s":   int(timeout.Seconds()),
	})

	go r.retryLoop(retryCtx, cfg, client, record, key)
}

func (r *LocateReplicator) retryLoop(ctx context.Context, cfg domain.FollowerConfig, client domain.BrokerClient, record *domain.LocateRecord, key string) {
	defer r.clearRetry(key)

	ticker := time.NewTicker(r.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.retryExhausted(context.WithoutCancel(ctx), cfg.ID, record, ctx.Err())
			return
		case <-ticker.C:
			scan, err := client.ScanLocateOffers(ctx, record.Symbol, record.TargetQty, r.scanTimeout)
			if err != nil || scan == nil || scan.BestOffer == nil {
				continue
			}
			// Una oferta hallada en reintento siempre pasa por el prompt,
			// incluso con auto-accept: el precio pudo moverse mientras tanto.
			r.evaluateOffer(context.WithoutCancel(ctx), cfg, client, record, scan.BestOffer, true)
			return
		}
	}
}

func (r *LocateReplicator) retryExhausted(ctx context.Context, followerID string, record *domain.LocateRecord, cause error) {
	status := domain.LocateStatusTimedOut
	if errors.Is(cause, context.Canceled) {
		status = domain.LocateStatusCancelled
	}
	r.finishLocate(ctx, record, status)

	r.audit.Warn(ctx, AuditCategoryLocate, followerID, record.Symbol,
		"locate retry exhausted",
		map[string]interface{}{
			"locate_id": record.ID,
			"status":    string(status),
		})
	r.notifier.Broadcast("locate_retry_exhausted", map[string]interface{}{
		"locate_id":   record.ID,
		"follower_id": followerID,
		"symbol":      record.Symbol,
		"status":      string(status),
	})
}

func (r *LocateReplicator) clearRetry(key string) {
	r.mu.Lock()
	if cancel, ok := r.retries[key]; ok {
		cancel()
		delete(r.retries, key)
	}
	r.mu.Unlock()
}

// HandleUserAccept resuelve un prompt aceptando la oferta presentada.
func (r *LocateReplicator) HandleUserAccept(ctx context.Context, locateID int64) error {
	r.mu.Lock()
	prompt, ok := r.prompts[locateID]
	if ok {
		delete(r.prompts, locateID)
	}
	r.mu.Unlock()

	if !ok {
		return domain.NewError(domain.ErrNotFound, "no pending locate prompt").
			WithDetail("locate_id", locateID)
	}

	if r.acceptOffer(ctx, prompt.record.FollowerID, prompt.client, prompt.record, prompt.offer, false) {
		// El usuario aceptó por fuera del flujo automático: se le indica que
		// registre la posición resultante a mano en la plataforma.
		r.notifier.Broadcast("locate_accepted_manual_entry", map[string]interface{}{
			"locate_id":   prompt.record.ID,
			"follower_id": prompt.record.FollowerID,
			"symbol":      prompt.record.Symbol,
			"quantity":    prompt.offer.Quantity,
			"price":       prompt.offer.PricePerShare,
		})
	}
	return nil
}

// HandleUserReject resuelve un prompt rechazando la oferta. El símbolo entra
// al blacklist del follower para que el próximo locate no vuelva a preguntar.
func (r *LocateReplicator) HandleUserReject(ctx context.Context, locateID int64) error {
	r.mu.Lock()
	prompt, ok := r.prompts[locateID]
	if ok {
		delete(r.prompts, locateID)
	}
	r.mu.Unlock()

	if !ok {
		return domain.NewError(domain.ErrNotFound, "no pending locate prompt").
			WithDetail("locate_id", locateID)
	}

	followerID := prompt.record.FollowerID
	symbol := prompt.record.Symbol
	r.finishLocate(ctx, prompt.record, domain.LocateStatusRejected)
	r.CancelRetries(followerID, symbol)

	if _, err := r.blacklist.Add(ctx, followerID, symbol, BlacklistReasonLocateRejected); err != nil {
		r.telemetry.Error(ctx, "failed to blacklist rejected locate", nil,
			semconv.Mirror.FollowerID.String(followerID),
			semconv.Mirror.Symbol.String(symbol),
			attribute.String("error", err.Error()))
	}

	r.audit.Info(ctx, AuditCategoryLocate, followerID, symbol,
		"locate rejected by user, symbol blacklisted",
		map[string]interface{}{"locate_id": locateID})
	r.notifier.Broadcast("locate_rejected", map[string]interface{}{
		"locate_id":   locateID,
		"follower_id": followerID,
		"symbol":      symbol,
	})
	return nil
}

// PendingPrompts retorna los prompts sin resolver (para el snapshot de UI).
func (r *LocateReplicator) PendingPrompts() []map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]map[string]interface{}, 0, len(r.prompts))
	for _, p := range r.prompts {
		result = append(result, map[string]interface{}{
			"locate_id":    p.record.ID,
			"follower_id":  p.record.FollowerID,
			"symbol":       p.record.Symbol,
			"reason":       string(p.reason),
			"quantity":     p.offer.Quantity,
			"price":        p.offer.PricePerShare,
			"master_price": p.record.MasterPrice,
		})
	}
	return result
}

// CancelRetries cancela el retry activo de (follower, symbol), si existe.
func (r *LocateReplicator) CancelRetries(followerID, symbol string) {
	r.mu.Lock()
	if cancel, ok := r.retries[retryKey(followerID, symbol)]; ok {
		cancel()
		delete(r.retries, retryKey(followerID, symbol))
	}
	r.mu.Unlock()
}

// CancelAllRetries cancela todos los retries activos (shutdown).
func (r *LocateReplicator) CancelAllRetries() {
	r.mu.Lock()
	for key, cancel := range r.retries {
		cancel()
		delete(r.retries, key)
	}
	r.mu.Unlock()
}

func (r *LocateReplicator) updateStatus(ctx context.Context, record *domain.LocateRecord, status domain.LocateStatus) {
	record.Status = status
	if err := r.repo.UpdateStatus(ctx, record.ID, status); err != nil {
		r.telemetry.Warn(ctx, "failed to persist locate status",
			semconv.Mirror.LocateID.Int64(record.ID),
			semconv.Mirror.Status.String(string(status)),
			attribute.String("error", err.Error()))
	}
}

func (r *LocateReplicator) finishLocate(ctx context.Context, record *domain.LocateRecord, status domain.LocateStatus) {
	r.updateStatus(ctx, record, status)
	r.metrics.RecordLocateOutcome(ctx,
		semconv.Mirror.FollowerID.String(record.FollowerID),
		semconv.Mirror.Symbol.String(record.Symbol),
		semconv.Mirror.Status.String(string(status)))
}
