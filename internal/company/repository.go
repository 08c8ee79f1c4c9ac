package company

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads company sync configuration from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns the sync configuration for a company.
func (r *Repository) Get(ctx context.Context, companyID int64) (SyncConfig, error) {
	var cfg SyncConfig
	err := r.pool.QueryRow(ctx, `SELECT company_id, enabled, sync_mode, COALESCE(webhook_url,''), auth_config, polling_enabled
FROM company_sync_configs WHERE company_id=$1`, companyID).
		Scan(&cfg.CompanyID, &cfg.Enabled, &cfg.Mode, &cfg.WebhookURL, &cfg.Auth, &cfg.PollingEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return SyncConfig{}, ErrNotFound
	}
	if err != nil {
		return SyncConfig{}, err
	}
	return cfg, nil
}
