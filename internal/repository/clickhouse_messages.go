package repository

import (
	"context"

	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/jmoiron/sqlx"
)

// MessageFilter narrows a message history report. Empty fields match all.
type MessageFilter struct {
	Recipient  string
	Provider   string
	WorkflowID string
	Status     model.MessageStatus
	Limit      int
	Offset     int
}

// CHMessagesRepository lists messages from ClickHouse (final view).
type CHMessagesRepository interface {
	List(ctx context.Context, f MessageFilter) ([]model.Message, error)
}

type chMessagesRepository struct {
	ch *sqlx.DB
}

func NewCHMessagesRepository(ch *sqlx.DB) CHMessagesRepository {
	return &chMessagesRepository{ch: ch}
}

func (r *chMessagesRepository) List(ctx context.Context, f MessageFilter) ([]model.Message, error) {
	q, args := buildMessageReport(f)

	var rows []model.Message
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func buildMessageReport(f MessageFilter) (string, []any) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := `
		SELECT id, workflow_id, provider, provider_message_id, recipient, kind, content, status, error, sent_at, created_at
		FROM opsmsg.messages_latest
		WHERE 1 = 1
	`
	var args []any
	if f.Recipient != "" {
		q += " AND recipient = ?"
		args = append(args, f.Recipient)
	}
	if f.Provider != "" {
		q += " AND provider = ?"
		args = append(args, f.Provider)
	}
	if f.WorkflowID != "" {
		q += " AND workflow_id = ?"
		args = append(args, f.WorkflowID)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status.String())
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)
	return q, args
}
