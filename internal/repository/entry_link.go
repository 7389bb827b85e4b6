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

// EntryLinkRepository stores the link between a job posting and its on-chain
// registry entry, one link per posting.
type EntryLinkRepository struct {
	db *pgxpool.Pool
}

// NewEntryLinkRepository creates an EntryLinkRepository.
func NewEntryLinkRepository(db *pgxpool.Pool) *EntryLinkRepository {
	return &EntryLinkRepository{db: db}
}

// Create inserts a new link. job_posting_id is unique.
func (r *EntryLinkRepository) Create(ctx context.Context, l *model.RegistryEntryLink) error {
	l.ID = uuid.New()
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	query := `
		INSERT INTO registry_entry_links (
			id, job_posting_id, entry_id, registry_id, tx_hash, revoked,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_posting_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query,
		l.ID, l.JobPostingID, l.EntryID, l.RegistryID, l.TxHash, l.Revoked,
		l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert entry link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

// GetByPosting returns the link for a posting, or ErrNotFound.
func (r *EntryLinkRepository) GetByPosting(ctx context.Context, postingID uuid.UUID) (*model.RegistryEntryLink, error) {
	query := `
		SELECT id, job_posting_id, entry_id, registry_id, tx_hash, revoked,
		       created_at, updated_at
		FROM registry_entry_links
		WHERE job_posting_id = $1`

	var l model.RegistryEntryLink
	err := r.db.QueryRow(ctx, query, postingID).Scan(
		&l.ID, &l.JobPostingID, &l.EntryID, &l.RegistryID, &l.TxHash, &l.Revoked,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry link: %w", err)
	}
	return &l, nil
}

// SetRevoked updates the revoked flag, bumping updated_at. The entry id
// never changes after assignment.
func (r *EntryLinkRepository) SetRevoked(ctx context.Context, id uuid.UUID, revoked bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE registry_entry_links SET revoked = $2, updated_at = $3 WHERE id = $1`,
		id, revoked, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set entry link revoked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Refresh records the outcome of an update sync: a new content digest and a
// cleared revocation flag.
func (r *EntryLinkRepository) Refresh(ctx context.Context, id uuid.UUID, txHash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE registry_entry_links SET revoked = false, tx_hash = $2, updated_at = $3 WHERE id = $1`,
		id, txHash, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("refresh entry link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
