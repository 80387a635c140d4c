package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/jmoiron/sqlx"
)

type OperatorsRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Operator, error)
	Upsert(ctx context.Context, op model.Operator) error
}

type OperatorsRepositoryImpl struct {
	db *sqlx.DB
}

func NewOperatorsRepository(db *sqlx.DB) *OperatorsRepositoryImpl {
	return &OperatorsRepositoryImpl{db: db}
}

var _ OperatorsRepository = (*OperatorsRepositoryImpl)(nil)

func (r *OperatorsRepositoryImpl) GetByAPIKey(ctx context.Context, apiKey string) (*model.Operator, error) {
	var op model.Operator
	err := r.db.GetContext(ctx, &op, `
		SELECT id, name, api_key, status, rate_limit_rps, created_at, updated_at
		  FROM operators
		 WHERE api_key = ? LIMIT 1
	`, apiKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// Upsert is used by the seed command; the api key is the natural key.
func (r *OperatorsRepositoryImpl) Upsert(ctx context.Context, op model.Operator) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO operators (name, api_key, status, rate_limit_rps, created_at, updated_at)
		VALUES (?, ?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
		    name = VALUES(name),
		    status = VALUES(status),
		    rate_limit_rps = VALUES(rate_limit_rps),
		    updated_at = NOW()
	`, op.Name, op.APIKey, op.Status, op.RateLimitRPS)
	return err
}
