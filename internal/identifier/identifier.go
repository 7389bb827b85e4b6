// Package identifier computes content digests and deterministic on-chain
// identifiers off-chain.
//
// Profile, registry, and entry identifiers are all derivable from a content
// digest plus the issuer's address, so a creating transaction whose emitted
// identifier was never observed (indexing lag) is not lost: callers
// recompute instead. Everything here is pure and testable without a network.
package identifier

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// Identifier prefixes, one per resource kind.
const (
	profilePrefix  = "profile:cord:"
	registryPrefix = "registry:cord:"
	entryPrefix    = "entry:cord:"
)

// ErrMissingInputs is returned by ComputeEntryID when neither fallback tier
// has enough inputs.
var ErrMissingInputs = errors.New("identifier: insufficient inputs for entry id")

// Digest serializes blob as JSON and returns the 0x-prefixed blake2b-256 hex
// of the serialization. Map keys are serialized in sorted order, so the same
// content always digests identically.
func Digest(blob any) (string, error) {
	raw, err := json.Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("identifier: marshal blob: %w", err)
	}
	sum := blake2b.Sum256(raw)
	return "0x" + hex.EncodeToString(sum[:]), nil
}

// HashAttribute hashes a single profile attribute value. Only the hash is
// dispatched on-chain; the cleartext never leaves the process.
func HashAttribute(value string) string {
	sum := blake2b.Sum256([]byte(value))
	return "0x" + hex.EncodeToString(sum[:])
}

// ComputeProfileID derives an organization or user profile identifier from
// the owning account address.
func ComputeProfileID(address string) string {
	return profilePrefix + encode(address)
}

// ComputeRegistryID derives a registry identifier from the registry blob
// digest and the issuer address.
func ComputeRegistryID(digest, address string) string {
	return registryPrefix + encode(digest, address)
}

// ComputeEntryID derives an entry identifier when the creation event did not
// carry one. Fallback tiers, in order:
//
//  1. {digest, registryID, profileID}
//  2. {digest, address}
//
// The same inputs always produce the same identifier, matching what an
// independent computation over the same inputs yields.
func ComputeEntryID(digest, registryID, profileID, address string) (string, error) {
	if digest == "" {
		return "", ErrMissingInputs
	}
	if registryID != "" && profileID != "" {
		return entryPrefix + encode(digest, registryID, profileID), nil
	}
	if address != "" {
		return entryPrefix + encode(digest, address), nil
	}
	return "", ErrMissingInputs
}

// encode hashes the parts, length-prefixed so adjacent fields cannot collide,
// and renders the sum as base58.
func encode(parts ...string) string {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		var n [2]byte
		n[0] = byte(len(p) >> 8)
		n[1] = byte(len(p))
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return base58.Encode(h.Sum(nil))
}
