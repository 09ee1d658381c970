package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/periodic-erp/periodic/internal/shared"
)

// APIKey is a stored credential. Only the bcrypt hash of the secret is kept.
type APIKey struct {
	ID               uuid.UUID
	AdministrationID uuid.UUID
	Name             string
	SecretHash       []byte
	Scopes           []string
	Revoked          bool
}

// KeyRepository looks up API keys.
type KeyRepository interface {
	GetKey(ctx context.Context, keyID uuid.UUID) (APIKey, error)
}

// PgKeyRepository reads API keys from PostgreSQL.
type PgKeyRepository struct {
	pool *pgxpool.Pool
}

// NewPgKeyRepository constructs PgKeyRepository.
func NewPgKeyRepository(pool *pgxpool.Pool) *PgKeyRepository {
	return &PgKeyRepository{pool: pool}
}

// GetKey returns one key by id.
func (r *PgKeyRepository) GetKey(ctx context.Context, keyID uuid.UUID) (APIKey, error) {
	var key APIKey
	err := r.pool.QueryRow(ctx, `SELECT id, administration_id, name, secret_hash, scopes, revoked
FROM api_keys WHERE id=$1`, keyID).Scan(
		&key.ID, &key.AdministrationID, &key.Name, &key.SecretHash, &key.Scopes, &key.Revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return APIKey{}, shared.ErrNotFound
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("auth: get key: %w", err)
	}
	return key, nil
}
