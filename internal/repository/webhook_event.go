package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// WebhookEventRepository deduplicates gateway deliveries by event id.
type WebhookEventRepository interface {
	// Begin records the delivery and reports whether the event was already
	// processed successfully.
	Begin(ctx context.Context, eventID, eventType string, now time.Time) (bool, error)
	MarkProcessed(ctx context.Context, eventID string, now time.Time) error
	MarkFailed(ctx context.Context, eventID, reason string) error
}

type webhookEventRepository struct {
	db *sqlx.DB
}

func NewWebhookEventRepository(db *sqlx.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) Begin(ctx context.Context, eventID, eventType string, now time.Time) (bool, error) {
	query := `INSERT INTO webhook_events (id, type, received_at) VALUES ($1, $2, $3)
	          ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, eventID, eventType, now.UTC()); err != nil {
		return false, err
	}

	var processed int
	err := r.db.GetContext(ctx, &processed,
		`SELECT COUNT(*) FROM webhook_events WHERE id = $1 AND processed_at IS NOT NULL`, eventID)
	if err != nil {
		return false, err
	}
	return processed > 0, nil
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, eventID string, now time.Time) error {
	query := `UPDATE webhook_events SET processed_at = $1, processing_error = NULL WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, now.UTC(), eventID)
	return err
}

func (r *webhookEventRepository) MarkFailed(ctx context.Context, eventID, reason string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE webhook_events SET processing_error = $1 WHERE id = $2`, reason, eventID)
	return err
}
