// Package ledger connects to the notarization chain and submits signed
// transactions on behalf of provisioned accounts.
//
// The connection handle is constructed once at startup by Dial and injected
// into every component; there is no lazily-initialized process-wide state.
// Capabilities are negotiated from chain metadata at connect time and exposed
// as a typed snapshot: callers branch on flags, never on runtime attribute
// presence. A dropped connection is not reestablished automatically.
//
// Two implementations of Client are provided:
//   - Conn: the substrate RPC implementation, for production use.
//   - MockClient: in-process, for tests.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the transaction and query paths.
var (
	// ErrConnectionNotReady is returned by Dial when the required pallets do
	// not become visible within the readiness window.
	ErrConnectionNotReady = errors.New("ledger: connection not ready")

	// ErrNotFound is returned by read paths when the queried resource does
	// not exist on-chain.
	ErrNotFound = errors.New("ledger: not found")

	// ErrTxFailed is returned when a submitted transaction reaches a failed
	// terminal status (dropped, invalid, usurped).
	ErrTxFailed = errors.New("ledger: transaction failed")

	// ErrTxTimeout is returned when the status subscription does not reach
	// the awaited confirmation level before the caller's deadline. The
	// transaction may still land later; that late inclusion is not
	// reconciled.
	ErrTxTimeout = errors.New("ledger: transaction timed out")

	// ErrModuleUnavailable is returned when a pallet the operation needs is
	// absent from the connected network. Callers with a documented fallback
	// treat this as a signal, not a failure.
	ErrModuleUnavailable = errors.New("ledger: module unavailable")
)

// Capabilities is the typed capability set negotiated at connect time.
// Transfer is mandatory; Did may surface only after first reference on some
// networks, which is why WaitForDid re-probes.
type Capabilities struct {
	Transfer bool
	Did      bool
	Profile  bool
	Registry bool
	Entry    bool
}

// Attribute is one hashed profile attribute dispatched on-chain. Only the
// hash ever leaves the process.
type Attribute struct {
	Key  string
	Hash string
}

// Client is the chain surface the provisioning and synchronization
// components consume. Write operations block until the confirmation level
// the operation requires (inclusion for funding, finality for identity and
// entry mutations) or until ctx expires.
type Client interface {
	// Capabilities returns the most recent capability snapshot.
	Capabilities() Capabilities

	// WaitForDid polls for the DID pallet for up to window, re-reading chain
	// metadata, and reports whether it became available. Absence is not an
	// error; callers fall back to address-derived identifiers.
	WaitForDid(ctx context.Context, window time.Duration) bool

	// Transfer moves amount base units from the signer to the given address
	// and waits for inclusion.
	Transfer(ctx context.Context, from Keyring, to string, amount uint64) error

	// CreateDid anchors a DID for the signing account and waits for
	// finality.
	CreateDid(ctx context.Context, signer Keyring) error

	// DispatchProfile submits the signer's hashed profile attributes.
	DispatchProfile(ctx context.Context, signer Keyring, attrs []Attribute) error

	// QueryProfileID returns the profile identifier anchored for address, or
	// ErrNotFound.
	QueryProfileID(ctx context.Context, address string) (string, error)

	// CreateRegistry creates a registry namespace described by digest.
	CreateRegistry(ctx context.Context, signer Keyring, digest string) error

	// CreateEntry creates an entry under registryID and returns the
	// ledger-assigned entry id extracted from the creation event. An empty
	// id with a nil error means the event was not observed (indexing lag);
	// the caller recomputes the id deterministically.
	CreateEntry(ctx context.Context, signer Keyring, registryID, digest string) (string, error)

	// UpdateEntry replaces the entry's recorded digest.
	UpdateEntry(ctx context.Context, signer Keyring, registryID, entryID, digest string) error

	// RevokeEntry marks the entry revoked on-chain.
	RevokeEntry(ctx context.Context, signer Keyring, registryID, entryID string) error

	// ReinstateEntry clears an earlier revocation.
	ReinstateEntry(ctx context.Context, signer Keyring, registryID, entryID string) error
}
