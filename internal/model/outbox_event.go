package model

import "time"

// OutboxEvent is a row of the outbox table relayed to Kafka by CDC.
type OutboxEvent struct {
	ID          int64     `db:"id"`
	Aggregate   string    `db:"aggregate"`    // e.g. "workflow"
	AggregateID string    `db:"aggregate_id"` // workflow.ID
	Topic       string    `db:"topic"`
	Payload     []byte    `db:"payload"`
	CreatedAt   time.Time `db:"created_at"`
}
