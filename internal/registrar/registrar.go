// Package registrar creates and queries the on-chain profile and registry
// resources tied to an organization account.
//
// Identifier assignment is not returned synchronously by the chain, so
// creation polls the read path for the emitted identifier and, when it is
// never observed, recomputes it deterministically from the same inputs the
// chain uses. A successful creation therefore always yields an identifier.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hireledger/hireledger/internal/identifier"
	"github.com/hireledger/hireledger/internal/ledger"
	"github.com/hireledger/hireledger/internal/retry"
)

const (
	// dispatchTimeout bounds each on-chain dispatch.
	dispatchTimeout = 60 * time.Second

	// profilePollAttempts and profilePollBase govern the poll for the
	// emitted profile identifier: attempt n sleeps n*profilePollBase.
	profilePollAttempts = 5
	profilePollBase     = 2 * time.Second
)

// chainPolicy is the transient-failure retry class for profile and registry
// dispatches.
var chainPolicy = retry.Policy{
	MaxRetries:   3,
	InitialDelay: 2 * time.Second,
	MaxDelay:     10 * time.Second,
	Multiplier:   2,
}

// registryBlob is the descriptive content a registry is created from. Its
// digest, together with the issuer address, determines the registry id.
type registryBlob struct {
	Title  string `json:"title"`
	Schema string `json:"schema"`
	Date   string `json:"date"`
}

// Registrar performs profile and registry creation for organization
// accounts and serves idempotent identifier lookups.
type Registrar struct {
	chain  ledger.Client
	logger *zap.Logger

	policy retry.Policy
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

// New creates a Registrar.
func New(chain ledger.Client, logger *zap.Logger) *Registrar {
	return &Registrar{
		chain:  chain,
		logger: logger,
		policy: chainPolicy,
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// GetExistingProfileID queries current chain state for the profile anchored
// to address. Returns ledger.ErrNotFound when no profile exists.
func (r *Registrar) GetExistingProfileID(ctx context.Context, address string) (string, error) {
	return r.chain.QueryProfileID(ctx, address)
}

// CreateProfile hashes the attribute values, dispatches them on-chain, and
// resolves the assigned profile identifier. Attribute cleartext never leaves
// the process.
func (r *Registrar) CreateProfile(ctx context.Context, signer ledger.Keyring, attrs map[string]string) (string, error) {
	hashed := make([]ledger.Attribute, 0, len(attrs))
	for k, v := range attrs {
		hashed = append(hashed, ledger.Attribute{Key: k, Hash: identifier.HashAttribute(v)})
	}
	sort.Slice(hashed, func(i, j int) bool { return hashed[i].Key < hashed[j].Key })

	_, err := retry.Do(ctx, r.policy, "profile creation", func(ctx context.Context) (struct{}, error) {
		dctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
		defer cancel()
		return struct{}{}, r.chain.DispatchProfile(dctx, signer, hashed)
	})
	if err != nil {
		return "", err
	}

	return r.resolveProfileID(ctx, signer.Address())
}

// resolveProfileID polls the read path for the emitted identifier with
// increasing delays, then falls back to the deterministic computation.
func (r *Registrar) resolveProfileID(ctx context.Context, address string) (string, error) {
	for attempt := 1; attempt <= profilePollAttempts; attempt++ {
		id, err := r.GetExistingProfileID(ctx, address)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			r.logger.Debug("profile id poll", zap.Int("attempt", attempt), zap.Error(err))
		}
		if attempt < profilePollAttempts {
			if err := r.sleep(ctx, time.Duration(attempt)*profilePollBase); err != nil {
				return "", fmt.Errorf("profile id poll: %w", err)
			}
		}
	}

	// The dispatch succeeded but the identifier was never observed.
	// It is derivable from the address alone, so recompute it.
	id := identifier.ComputeProfileID(address)
	r.logger.Warn("profile id not observed on-chain, using recomputed identifier",
		zap.String("profile_id", id))
	return id, nil
}

// CreateRegistry creates a registry namespace for the signing organization
// and returns its identifier and the content digest it was created from.
// The identifier is computed off-chain before dispatch, so a transaction
// whose emitted id goes unobserved loses nothing.
func (r *Registrar) CreateRegistry(ctx context.Context, signer ledger.Keyring) (string, string, error) {
	blob := registryBlob{
		Title:  "Organization registry",
		Schema: "{}",
		Date:   r.now().UTC().Format(time.RFC3339),
	}
	digest, err := identifier.Digest(blob)
	if err != nil {
		return "", "", err
	}
	registryID := identifier.ComputeRegistryID(digest, signer.Address())

	_, err = retry.Do(ctx, r.policy, "registry creation", func(ctx context.Context) (struct{}, error) {
		dctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
		defer cancel()
		return struct{}{}, r.chain.CreateRegistry(dctx, signer, digest)
	})
	if err != nil {
		return "", "", err
	}

	r.logger.Info("registry created", zap.String("registry_id", registryID))
	return registryID, digest, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
