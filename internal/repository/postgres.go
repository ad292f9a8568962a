// Package repository provee implementaciones de persistencia para Mirror.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Driver PostgreSQL
	"github.com/xKoRx/mirror/domain"
)

// PostgresFactory implementa domain.RepositoryFactory para PostgreSQL.
type PostgresFactory struct {
	db *sql.DB

	// Repositorios inicializados lazy
	multiplierRepo domain.MultiplierRepository
	blacklistRepo  domain.BlacklistRepository
	locateRepo     domain.LocateRepository
	auditRepo      domain.AuditRepository
	followerRepo   domain.FollowerRepository
}

// NewPostgresFactory crea un factory de repositorios PostgreSQL.
//
// Uso:
//
//	db, err := sql.Open("postgres", connStr)
//	factory := repository.NewPostgresFactory(db)
//	multipliers := factory.MultiplierRepository()
func NewPostgresFactory(db *sql.DB) *PostgresFactory {
	return &PostgresFactory{
		db: db,
	}
}

// MultiplierRepository retorna el repositorio de multiplicadores.
func (f *PostgresFactory) MultiplierRepository() domain.MultiplierRepository {
	if f.multiplierRepo == nil {
		f.multiplierRepo = &postgresMultiplierRepo{db: f.db}
	}
	return f.multiplierRepo
}

// BlacklistRepository retorna el repositorio del blacklist.
func (f *PostgresFactory) BlacklistRepository() domain.BlacklistRepository {
	if f.blacklistRepo == nil {
		f.blacklistRepo = &postgresBlacklistRepo{db: f.db}
	}
	return f.blacklistRepo
}

// LocateRepository retorna el repositorio de LocateRecords.
func (f *PostgresFactory) LocateRepository() domain.LocateRepository {
	if f.locateRepo == nil {
		f.locateRepo = &postgresLocateRepo{db: f.db}
	}
	return f.locateRepo
}

// AuditRepository retorna el repositorio de auditoría.
func (f *PostgresFactory) AuditRepository() domain.AuditRepository {
	if f.auditRepo == nil {
		f.auditRepo = &postgresAuditRepo{db: f.db}
	}
	return f.auditRepo
}

// FollowerRepository retorna el repositorio de followers.
func (f *PostgresFactory) FollowerRepository() domain.FollowerRepository {
	if f.followerRepo == nil {
		f.followerRepo = &postgresFollowerRepo{db: f.db}
	}
	return f.followerRepo
}

// ===========================================================================
// postgresMultiplierRepo
// ===========================================================================

type postgresMultiplierRepo struct {
	db *sql.DB
}

func (r *postgresMultiplierRepo) LoadBaseMultipliers(ctx context.Context) (map[string]float64, error) {
	query := `SELECT id, base_multiplier FROM mirror.followers`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load base multipliers: %w", err)
	}
	defer rows.Close()

	result := make(map[string]float64)
	for rows.Next() {
		var followerID string
		var base float64
		if err := rows.Scan(&followerID, &base); err != nil {
			return nil, fmt.Errorf("failed to scan base multiplier: %w", err)
		}
		result[followerID] = base
	}
	return result, rows.Err()
}

func (r *postgresMultiplierRepo) GetBaseMultiplier(ctx context.Context, followerID string) (float64, bool, error) {
	query := `SELECT base_multiplier FROM mirror.followers WHERE id = $1`
	var base float64
	err := r.db.QueryRowContext(ctx, query, followerID).Scan(&base)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get base multiplier: %w", err)
	}
	return base, true, nil
}

func (r *postgresMultiplierRepo) LoadSymbolOverrides(ctx context.Context) ([]domain.SymbolOverride, error) {
	query := `SELECT follower_id, symbol, multiplier, source FROM mirror.symbol_multipliers`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load symbol overrides: %w", err)
	}
	defer rows.Close()

	var result []domain.SymbolOverride
	for rows.Next() {
		var o domain.SymbolOverride
		if err := rows.Scan(&o.FollowerID, &o.Symbol, &o.Multiplier, &o.Source); err != nil {
			return nil, fmt.Errorf("failed to scan symbol override: %w", err)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (r *postgresMultiplierRepo) GetSymbolOverride(ctx context.Context, followerID, symbol string) (*domain.SymbolOverride, error) {
	query := `
		SELECT follower_id, symbol, multiplier, source
		FROM mirror.symbol_multipliers
		WHERE follower_id = $1 AND symbol = $2
	`
	var o domain.SymbolOverride
	err := r.db.QueryRowContext(ctx, query, followerID, symbol).Scan(
		&o.FollowerID, &o.Symbol, &o.Multiplier, &o.Source,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get symbol override: %w", err)
	}
	return &o, nil
}

func (r *postgresMultiplierRepo) UpsertSymbolOverride(ctx context.Context, override domain.SymbolOverride) error {
	query := `
		INSERT INTO mirror.symbol_multipliers (follower_id, symbol, multiplier, source, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (follower_id, symbol)
		DO UPDATE SET multiplier = EXCLUDED.multiplier,
		              source = EXCLUDED.source,
		              updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query,
		override.FollowerID,
		override.Symbol,
		override.Multiplier,
		override.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert symbol override: %w", err)
	}
	return nil
}

func (r *postgresMultiplierRepo) DeleteSymbolOverride(ctx context.Context, followerID, symbol string) error {
	query := `DELETE FROM mirror.symbol_multipliers WHERE follower_id = $1 AND symbol = $2`
	_, err := r.db.ExecContext(ctx, query, followerID, symbol)
	if err != nil {
		return fmt.Errorf("failed to delete symbol override: %w", err)
	}
	return nil
}

// ===========================================================================
// postgresBlacklistRepo
// ===========================================================================

type postgresBlacklistRepo struct {
	db *sql.DB
}

func (r *postgresBlacklistRepo) LoadAll(ctx context.Context) ([]domain.BlacklistEntry, error) {
	query := `SELECT follower_id, symbol, COALESCE(reason, 'unknown') FROM mirror.blacklist`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load blacklist: %w", err)
	}
	defer rows.Close()

	var result []domain.BlacklistEntry
	for rows.Next() {
		var e domain.BlacklistEntry
		if err := rows.Scan(&e.FollowerID, &e.Symbol, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist entry: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *postgresBlacklistRepo) Insert(ctx context.Context, entry domain.BlacklistEntry) error {
	query := `
		INSERT INTO mirror.blacklist (follower_id, symbol, reason, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (follower_id, symbol) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, entry.FollowerID, entry.Symbol, entry.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert blacklist entry: %w", err)
	}
	return nil
}

func (r *postgresBlacklistRepo) Delete(ctx context.Context, followerID, symbol string) error {
	query := `DELETE FROM mirror.blacklist WHERE follower_id = $1 AND symbol = $2`
	_, err := r.db.ExecContext(ctx, query, followerID, symbol)
	if err != nil {
		return fmt.Errorf("failed to delete blacklist entry: %w", err)
	}
	return nil
}

// ===========================================================================
// postgresLocateRepo
// ===========================================================================

type postgresLocateRepo struct {
	db *sql.DB
}

func (r *postgresLocateRepo) Create(ctx context.Context, record *domain.LocateRecord) (int64, error) {
	query := `
		INSERT INTO mirror.locate_map (
			follower_id, symbol, master_qty, target_qty,
			master_price, follower_price, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id
	`
	var id int64
	err := r.db.QueryRowContext(ctx, query,
		record.FollowerID,
		record.Symbol,
		record.MasterQty,
		record.TargetQty,
		record.MasterPrice,
		record.FollowerPrice,
		record.Status,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create locate record: %w", err)
	}
	return id, nil
}

func (r *postgresLocateRepo) UpdateStatus(ctx context.Context, id int64, status domain.LocateStatus) error {
	query := `UPDATE mirror.locate_map SET status = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update locate status: %w", err)
	}
	return nil
}

func (r *postgresLocateRepo) UpdateFollowerPrice(ctx context.Context, id int64, price float64) error {
	query := `UPDATE mirror.locate_map SET follower_price = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, price)
	if err != nil {
		return fmt.Errorf("failed to update locate follower price: %w", err)
	}
	return nil
}

// ===========================================================================
// postgresAuditRepo
// ===========================================================================

type postgresAuditRepo struct {
	db *sql.DB
}

func (r *postgresAuditRepo) Append(ctx context.Context, entry domain.AuditEntry) error {
	var details sql.NullString
	if len(entry.Details) > 0 {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
		details = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO mirror.audit_log (timestamp, level, category, follower_id, symbol, message, details)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		time.Now().UTC(),
		entry.Level,
		entry.Category,
		entry.FollowerID,
		entry.Symbol,
		entry.Message,
		details,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ===========================================================================
// postgresFollowerRepo
// ===========================================================================

type postgresFollowerRepo struct {
	db *sql.DB
}

func (r *postgresFollowerRepo) LoadAll(ctx context.Context) ([]domain.FollowerConfig, error) {
	query := `
		SELECT id, name, host, port, username, password, account_id,
		       base_multiplier, max_locate_price_delta, locate_retry_timeout_s,
		       auto_accept_locates, max_locate_price, enabled
		FROM mirror.followers
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load followers: %w", err)
	}
	defer rows.Close()

	var result []domain.FollowerConfig
	for rows.Next() {
		var cfg domain.FollowerConfig
		var retryTimeoutSec int
		if err := rows.Scan(
			&cfg.ID,
			&cfg.Name,
			&cfg.Connection.Host,
			&cfg.Connection.Port,
			&cfg.Connection.Username,
			&cfg.Connection.Password,
			&cfg.Connection.Account,
			&cfg.BaseMultiplier,
			&cfg.MaxLocatePriceDelta,
			&retryTimeoutSec,
			&cfg.AutoAcceptLocates,
			&cfg.MaxLocatePrice,
			&cfg.Enabled,
		); err != nil {
			return nil, fmt.Errorf("failed to scan follower: %w", err)
		}
		cfg.LocateRetryTimeout = time.Duration(retryTimeoutSec) * time.Second
		result = append(result, cfg)
	}
	return result, rows.Err()
}
