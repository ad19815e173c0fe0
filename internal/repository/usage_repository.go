package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/homegroup-report-api/internal/models"
)

// UsageRepository tracks per-user report generation counts.
type UsageRepository struct {
	db *sqlx.DB
}

// NewUsageRepository constructs the repository.
func NewUsageRepository(db *sqlx.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Get returns the usage row for a user.
func (r *UsageRepository) Get(ctx context.Context, userID string) (*models.Usage, error) {
	const query = `SELECT user_id, report_count, first_used_at, last_used_at FROM usage WHERE user_id = $1`
	var usage models.Usage
	if err := r.db.GetContext(ctx, &usage, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get usage: %w", err)
	}
	return &usage, nil
}

// Increment bumps the report count for a user. The upsert form keeps
// concurrent increments from losing updates.
func (r *UsageRepository) Increment(ctx context.Context, userID string, ts time.Time) error {
	const query = `INSERT INTO usage (user_id, report_count, first_used_at, last_used_at)
VALUES ($1, 1, $2, $2)
ON CONFLICT (user_id) DO UPDATE SET report_count = usage.report_count + 1, last_used_at = $2`
	if _, err := r.db.ExecContext(ctx, query, userID, ts); err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}
