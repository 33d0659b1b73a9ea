package model

import "time"

// WebhookEvent records delivery of a gateway event for id-based deduplication.
type WebhookEvent struct {
	ID              string     `db:"id"`
	Type            string     `db:"type"`
	ReceivedAt      time.Time  `db:"received_at"`
	ProcessedAt     *time.Time `db:"processed_at"`
	ProcessingError *string    `db:"processing_error"`
}
