package model

import (
	"time"

	"github.com/google/uuid"
)

// RegistryEntryLink ties one job posting to its on-chain registry entry.
// At most one link exists per posting. EntryID is immutable once assigned;
// only TxHash, Revoked, and UpdatedAt change afterwards. Revoked mirrors
// whether the posting is archived.
type RegistryEntryLink struct {
	ID           uuid.UUID `json:"id"             db:"id"`
	JobPostingID uuid.UUID `json:"job_posting_id" db:"job_posting_id"`
	EntryID      string    `json:"entry_id"       db:"entry_id"`
	RegistryID   string    `json:"registry_id"    db:"registry_id"`
	TxHash       string    `json:"tx_hash"        db:"tx_hash"`
	Revoked      bool      `json:"revoked"        db:"revoked"`
	CreatedAt    time.Time `json:"created_at"     db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"     db:"updated_at"`
}
