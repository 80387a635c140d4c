package repository

import (
	"context"

	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/jmoiron/sqlx"
)

// MessagesRepository records every send attempt, fallbacks included.
type MessagesRepository interface {
	InsertMessage(ctx context.Context, m model.Message) error
	ListByWorkflow(ctx context.Context, workflowID string) ([]model.Message, error)
}

type MessagesRepositoryImpl struct {
	db *sqlx.DB
}

func NewMessagesRepository(db *sqlx.DB) *MessagesRepositoryImpl {
	return &MessagesRepositoryImpl{db: db}
}

var _ MessagesRepository = (*MessagesRepositoryImpl)(nil)

func (r *MessagesRepositoryImpl) InsertMessage(ctx context.Context, m model.Message) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO messages
		    (id, workflow_id, provider, provider_message_id, recipient, kind, content, status, error, sent_at, created_at)
		VALUES
		    (:id, :workflow_id, :provider, :provider_message_id, :recipient, :kind, :content, :status, :error, :sent_at, :created_at)
	`, m)
	return err
}

func (r *MessagesRepositoryImpl) ListByWorkflow(ctx context.Context, workflowID string) ([]model.Message, error) {
	var rows []model.Message
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, workflow_id, provider, provider_message_id, recipient, kind, content, status, error, sent_at, created_at
		  FROM messages
		 WHERE workflow_id = ?
		 ORDER BY created_at, id
	`, workflowID)
	return rows, err
}
