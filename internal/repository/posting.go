package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hireledger/hireledger/internal/model"
)

// PostingRepository stores job postings. The posting is the authoritative
// record; the synchronizer only ever reads it.
type PostingRepository struct {
	db *pgxpool.Pool
}

// NewPostingRepository creates a PostingRepository.
func NewPostingRepository(db *pgxpool.Pool) *PostingRepository {
	return &PostingRepository{db: db}
}

// Create inserts a posting.
func (r *PostingRepository) Create(ctx context.Context, p *model.JobPosting) error {
	p.ID = uuid.New()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = model.StatusDraft
	}

	meta, loc, contact, err := marshalJSONFields(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO job_postings (
			id, title, status, organization_id, organization_name,
			description, metadata, location, contact, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.Exec(ctx, query,
		p.ID, p.Title, p.Status, p.OrganizationID, p.OrganizationName,
		p.Description, meta, loc, contact, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert posting: %w", err)
	}
	return nil
}

// GetByID returns a posting, or ErrNotFound.
func (r *PostingRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.JobPosting, error) {
	query := `
		SELECT id, title, status, organization_id, organization_name,
		       description, metadata, location, contact, created_at, updated_at
		FROM job_postings
		WHERE id = $1`

	var p model.JobPosting
	var meta, loc, contact []byte
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Title, &p.Status, &p.OrganizationID, &p.OrganizationName,
		&p.Description, &meta, &loc, &contact, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get posting: %w", err)
	}
	if err := unmarshalJSONFields(&p, meta, loc, contact); err != nil {
		return nil, err
	}
	return &p, nil
}

// Update replaces mutable posting fields, bumping updated_at.
func (r *PostingRepository) Update(ctx context.Context, p *model.JobPosting) error {
	p.UpdatedAt = time.Now().UTC()

	meta, loc, contact, err := marshalJSONFields(p)
	if err != nil {
		return err
	}

	query := `
		UPDATE job_postings
		SET title = $2, status = $3, description = $4, metadata = $5,
		    location = $6, contact = $7, updated_at = $8
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		p.ID, p.Title, p.Status, p.Description, meta, loc, contact, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update posting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByOrganization returns an organization's postings, newest first.
func (r *PostingRepository) ListByOrganization(ctx context.Context, orgID string, limit, offset int) ([]*model.JobPosting, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, title, status, organization_id, organization_name,
		       description, metadata, location, contact, created_at, updated_at
		FROM job_postings
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list postings: %w", err)
	}
	defer rows.Close()

	var postings []*model.JobPosting
	for rows.Next() {
		var p model.JobPosting
		var meta, loc, contact []byte
		if err := rows.Scan(
			&p.ID, &p.Title, &p.Status, &p.OrganizationID, &p.OrganizationName,
			&p.Description, &meta, &loc, &contact, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := unmarshalJSONFields(&p, meta, loc, contact); err != nil {
			return nil, err
		}
		postings = append(postings, &p)
	}
	return postings, rows.Err()
}

func marshalJSONFields(p *model.JobPosting) (meta, loc, contact []byte, err error) {
	if meta, err = json.Marshal(p.Metadata); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if loc, err = json.Marshal(p.Location); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal location: %w", err)
	}
	if contact, err = json.Marshal(p.Contact); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal contact: %w", err)
	}
	return meta, loc, contact, nil
}

func unmarshalJSONFields(p *model.JobPosting, meta, loc, contact []byte) error {
	for _, f := range []struct {
		raw []byte
		dst *map[string]string
	}{{meta, &p.Metadata}, {loc, &p.Location}, {contact, &p.Contact}} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return fmt.Errorf("unmarshal posting field: %w", err)
		}
	}
	return nil
}
