package model

import (
	"time"

	"github.com/google/uuid"
)

// PostingStatus is the lifecycle state of a job posting as the owning
// application sees it. Archived is the only state that revokes the posting's
// ledger entry.
type PostingStatus string

const (
	StatusDraft    PostingStatus = "draft"
	StatusOpen     PostingStatus = "open"
	StatusClosed   PostingStatus = "closed"
	StatusArchived PostingStatus = "archived"
)

// Valid reports whether s is a known posting status.
func (s PostingStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusOpen, StatusClosed, StatusArchived:
		return true
	}
	return false
}

// JobPosting is the local, authoritative record that the synchronizer
// mirrors on-chain. Ledger notarization never blocks or rolls back writes
// to it.
type JobPosting struct {
	ID               uuid.UUID         `json:"id"                db:"id"`
	Title            string            `json:"title"             db:"title"`
	Status           PostingStatus     `json:"status"            db:"status"`
	OrganizationID   string            `json:"organization_id"   db:"organization_id"`
	OrganizationName string            `json:"organization_name" db:"organization_name"`
	Description      string            `json:"description"       db:"description"`
	Metadata         map[string]string `json:"metadata"          db:"metadata"`
	Location         map[string]string `json:"location"          db:"location"`
	Contact          map[string]string `json:"contact"           db:"contact"`
	CreatedAt        time.Time         `json:"created_at"        db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"        db:"updated_at"`
}
