// Package repository provides PostgreSQL persistence for chain accounts,
// registry entry links, and job postings.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hireledger/hireledger/internal/model"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a uniqueness constraint rejects a write,
// e.g. a second chain account for the same owner.
var ErrDuplicate = errors.New("already exists")

// AccountRepository stores chain accounts, one per owner.
type AccountRepository struct {
	db *pgxpool.Pool
}

// NewAccountRepository creates an AccountRepository.
func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a chain account. The (owner_type, owner_id) pair is unique;
// violations surface as ErrDuplicate.
func (r *AccountRepository) Create(ctx context.Context, a *model.ChainAccount) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO chain_accounts (
			id, owner_type, owner_id, address, public_key, mnemonic_enc,
			profile_id, registry_id, did, did_anchored, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (owner_type, owner_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query,
		a.ID, a.OwnerType, a.OwnerID, a.Address, a.PublicKey, a.MnemonicEnc,
		a.ProfileID, a.RegistryID, a.DID, a.DidAnchored, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert chain account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

// GetByOwner returns the chain account for one owner, or ErrNotFound.
func (r *AccountRepository) GetByOwner(ctx context.Context, ownerType model.OwnerType, ownerID string) (*model.ChainAccount, error) {
	query := `
		SELECT id, owner_type, owner_id, address, public_key, mnemonic_enc,
		       profile_id, registry_id, did, did_anchored, created_at
		FROM chain_accounts
		WHERE owner_type = $1 AND owner_id = $2`

	var a model.ChainAccount
	err := r.db.QueryRow(ctx, query, ownerType, ownerID).Scan(
		&a.ID, &a.OwnerType, &a.OwnerID, &a.Address, &a.PublicKey, &a.MnemonicEnc,
		&a.ProfileID, &a.RegistryID, &a.DID, &a.DidAnchored, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chain account: %w", err)
	}
	return &a, nil
}

// Exists reports whether an owner already has a chain account.
func (r *AccountRepository) Exists(ctx context.Context, ownerType model.OwnerType, ownerID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chain_accounts WHERE owner_type = $1 AND owner_id = $2)`,
		ownerType, ownerID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check chain account: %w", err)
	}
	return exists, nil
}
