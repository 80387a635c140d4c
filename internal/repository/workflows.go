package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/jmoiron/sqlx"
)

// WorkflowsRepository persists approval workflows. Terminal writes are
// conditional on status = 'pending' so concurrent resolvers race in MySQL,
// not in process memory.
type WorkflowsRepository interface {
	CreateWorkflow(ctx context.Context, wf model.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	ResolveIfPending(ctx context.Context, id string, r model.Resolution) (bool, error)
	ExpirePending(ctx context.Context, now time.Time, limit int) (int, error)
}

type WorkflowsRepositoryImpl struct {
	db *sqlx.DB
}

func NewWorkflowsRepository(db *sqlx.DB) *WorkflowsRepositoryImpl {
	return &WorkflowsRepositoryImpl{db: db}
}

var _ WorkflowsRepository = (*WorkflowsRepositoryImpl)(nil)

func (r *WorkflowsRepositoryImpl) CreateWorkflow(ctx context.Context, wf model.Workflow) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO workflows
		    (id, type, subject_ref, requested_by, payload, recipients, status, created_at, expires_at)
		VALUES
		    (:id, :type, :subject_ref, :requested_by, :payload, :recipients, :status, :created_at, :expires_at)
	`, wf)
	return err
}

// GetWorkflow returns nil, nil when no row matches.
func (r *WorkflowsRepositoryImpl) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	var wf model.Workflow
	err := r.db.GetContext(ctx, &wf, `
		SELECT id, type, subject_ref, requested_by, payload, recipients, status,
		       created_at, expires_at, resolved_by, resolved_at, notes
		  FROM workflows
		 WHERE id = ? LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

// ResolveIfPending is the compare-and-set behind every transition.
func (r *WorkflowsRepositoryImpl) ResolveIfPending(ctx context.Context, id string, res model.Resolution) (bool, error) {
	out, err := r.db.ExecContext(ctx, `
		UPDATE workflows
		   SET status = ?, resolved_by = ?, resolved_at = ?, notes = ?
		 WHERE id = ? AND status = 'pending'
	`, res.Status.String(), res.ResolvedBy, res.ResolvedAt, res.Notes, id)
	if err != nil {
		return false, err
	}
	n, err := out.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ExpirePending expires one batch, oldest deadline first.
func (r *WorkflowsRepositoryImpl) ExpirePending(ctx context.Context, now time.Time, limit int) (int, error) {
	out, err := r.db.ExecContext(ctx, `
		UPDATE workflows
		   SET status = 'expired', resolved_at = ?
		 WHERE status = 'pending' AND expires_at < ?
		 ORDER BY expires_at
		 LIMIT ?
	`, now, now, limit)
	if err != nil {
		return 0, err
	}
	n, err := out.RowsAffected()
	return int(n), err
}
