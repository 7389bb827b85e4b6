package model

import (
	"time"

	"github.com/google/uuid"
)

// OwnerType distinguishes whose chain account a row is.
type OwnerType string

const (
	OwnerOrganization OwnerType = "organization"
	OwnerUser         OwnerType = "user"
)

// ChainAccount is the ledger identity held for one organization or user.
// At most one row exists per owner. Address and public key are derived
// deterministically from the mnemonic and never change after creation; the
// mnemonic itself is stored only as the custodian's opaque token.
type ChainAccount struct {
	ID          uuid.UUID `json:"id"            db:"id"`
	OwnerType   OwnerType `json:"owner_type"    db:"owner_type"`
	OwnerID     string    `json:"owner_id"      db:"owner_id"`
	Address     string    `json:"address"       db:"address"`
	PublicKey   string    `json:"public_key"    db:"public_key"`
	MnemonicEnc string    `json:"-"             db:"mnemonic_enc"`

	// ProfileID and RegistryID are set for organizations only.
	ProfileID  string `json:"profile_id,omitempty"  db:"profile_id"`
	RegistryID string `json:"registry_id,omitempty" db:"registry_id"`

	// DID is set for users. When the network has no DID pallet the raw
	// address is stored here instead; DidAnchored records which case this is
	// so downstream consumers never have to guess.
	DID         string `json:"did,omitempty" db:"did"`
	DidAnchored bool   `json:"did_anchored"  db:"did_anchored"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
