// Package provision creates funded chain accounts for users and
// organizations.
//
// Provisioning is all-or-nothing: an account row is persisted only after
// every chain step for its owner kind has succeeded, so a stored account is
// always usable. Structural problems, a missing treasury or an absent
// pallet, fail immediately; transient chain failures are retried with a
// fresh keypair each attempt.
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hireledger/hireledger/internal/custodian"
	"github.com/hireledger/hireledger/internal/ledger"
	"github.com/hireledger/hireledger/internal/model"
	"github.com/hireledger/hireledger/internal/registrar"
	"github.com/hireledger/hireledger/internal/repository"
	"github.com/hireledger/hireledger/internal/retry"
)

var (
	// ErrTreasuryNotConfigured is returned when no funded treasury keyring
	// is available to seed new accounts.
	ErrTreasuryNotConfigured = errors.New("provision: treasury account not configured")

	// ErrFundingTimeout is returned when the funding transfer is not
	// included in a block within the funding window.
	ErrFundingTimeout = errors.New("provision: funding transfer timed out")
)

const (
	fundingTimeout = 30 * time.Second
	didWait        = 30 * time.Second
	didTimeout     = 60 * time.Second

	// defaultFunding is the seed balance granted to every new account,
	// in the chain's base unit.
	defaultFunding = 1_000_000_000_000
)

// outerPolicy restarts a whole provisioning run; didPolicy covers only the
// DID anchoring dispatch inside one run.
var (
	outerPolicy = retry.Policy{MaxRetries: 3, InitialDelay: 2 * time.Second, MaxDelay: 15 * time.Second, Multiplier: 2}
	didPolicy   = retry.Policy{MaxRetries: 3, InitialDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}
)

// accountStore is the subset of the account repository provisioning needs.
type accountStore interface {
	Create(ctx context.Context, a *model.ChainAccount) error
	Exists(ctx context.Context, ownerType model.OwnerType, ownerID string) (bool, error)
}

// Provisioner creates chain accounts end to end: keypair generation,
// mnemonic sealing, funding, DID anchoring, and for organizations the
// profile and registry bootstrap.
type Provisioner struct {
	chain     ledger.Client
	custodian *custodian.Custodian
	registrar *registrar.Registrar
	accounts  accountStore
	treasury  ledger.Keyring
	funding   uint64
	logger    *zap.Logger

	outer retry.Policy
	did   retry.Policy
}

// New creates a Provisioner. A zero treasury keyring is accepted here and
// rejected per-call, so a service without provisioning credentials can still
// serve reads.
func New(chain ledger.Client, cust *custodian.Custodian, reg *registrar.Registrar, accounts accountStore, treasury ledger.Keyring, logger *zap.Logger) *Provisioner {
	return &Provisioner{
		chain:     chain,
		custodian: cust,
		registrar: reg,
		accounts:  accounts,
		treasury:  treasury,
		funding:   defaultFunding,
		logger:    logger,
		outer:     outerPolicy,
		did:       didPolicy,
	}
}

// CreateAccountForUser provisions a funded, DID-anchored chain account for
// the given user.
func (p *Provisioner) CreateAccountForUser(ctx context.Context, userID string) (*model.ChainAccount, error) {
	if err := p.preflight(false); err != nil {
		return nil, err
	}
	return retry.Do(ctx, p.outer, "user account provisioning", func(ctx context.Context) (*model.ChainAccount, error) {
		acct, _, err := p.bootstrap(ctx, model.OwnerUser, userID)
		if err != nil {
			return nil, err
		}
		if err := p.persist(ctx, acct); err != nil {
			return nil, err
		}
		p.logger.Info("chain account provisioned",
			zap.String("owner_type", string(model.OwnerUser)),
			zap.String("owner_id", userID),
			zap.String("address", acct.Address),
			zap.Bool("did_anchored", acct.DidAnchored))
		return acct, nil
	})
}

// CreateAccountForOrganization provisions a chain account for the given
// organization and bootstraps its profile and registry. slug is the public
// organization name anchored (hashed) in the profile.
func (p *Provisioner) CreateAccountForOrganization(ctx context.Context, orgID, slug string) (*model.ChainAccount, error) {
	if err := p.preflight(true); err != nil {
		return nil, err
	}
	return retry.Do(ctx, p.outer, "organization account provisioning", func(ctx context.Context) (*model.ChainAccount, error) {
		acct, kr, err := p.bootstrap(ctx, model.OwnerOrganization, orgID)
		if err != nil {
			return nil, err
		}

		profileID, err := p.registrar.CreateProfile(ctx, kr, map[string]string{"pub_name": slug})
		if err != nil {
			return nil, err
		}
		registryID, _, err := p.registrar.CreateRegistry(ctx, kr)
		if err != nil {
			return nil, err
		}
		acct.ProfileID = profileID
		acct.RegistryID = registryID

		if err := p.persist(ctx, acct); err != nil {
			return nil, err
		}
		p.logger.Info("organization chain account provisioned",
			zap.String("owner_id", orgID),
			zap.String("address", acct.Address),
			zap.String("profile_id", profileID),
			zap.String("registry_id", registryID),
			zap.Bool("did_anchored", acct.DidAnchored))
		return acct, nil
	})
}

// preflight rejects structurally unprovisionable requests before any retry
// loop runs. These conditions do not heal on their own.
func (p *Provisioner) preflight(org bool) error {
	if p.treasury.Zero() {
		return ErrTreasuryNotConfigured
	}
	caps := p.chain.Capabilities()
	if !caps.Transfer {
		return fmt.Errorf("%w: balance transfers", ledger.ErrModuleUnavailable)
	}
	if org {
		if !caps.Profile {
			return fmt.Errorf("%w: profile pallet", ledger.ErrModuleUnavailable)
		}
		if !caps.Registry {
			return fmt.Errorf("%w: registry pallet", ledger.ErrModuleUnavailable)
		}
	}
	return nil
}

// persist stores the finished account. A duplicate row means another run
// already provisioned this owner, so retrying would only fund more
// throwaway keypairs from the treasury; the retry loop stops on it.
func (p *Provisioner) persist(ctx context.Context, acct *model.ChainAccount) error {
	err := p.accounts.Create(ctx, acct)
	if errors.Is(err, repository.ErrDuplicate) {
		return retry.Permanent(err)
	}
	return err
}

// bootstrap runs the steps common to both owner kinds: fresh keypair, sealed
// mnemonic, funding, DID anchoring. The returned account is not yet
// persisted.
func (p *Provisioner) bootstrap(ctx context.Context, ownerType model.OwnerType, ownerID string) (*model.ChainAccount, ledger.Keyring, error) {
	kr, err := ledger.Generate()
	if err != nil {
		return nil, ledger.Keyring{}, err
	}
	sealed, err := p.custodian.Encrypt(kr.Mnemonic())
	if err != nil {
		return nil, ledger.Keyring{}, err
	}

	if err := p.fund(ctx, kr.Address()); err != nil {
		return nil, ledger.Keyring{}, err
	}
	did, anchored := p.anchorDid(ctx, kr)

	return &model.ChainAccount{
		OwnerType:   ownerType,
		OwnerID:     ownerID,
		Address:     kr.Address(),
		PublicKey:   kr.PublicKeyHex(),
		MnemonicEnc: sealed,
		DID:         did,
		DidAnchored: anchored,
	}, kr, nil
}

func (p *Provisioner) fund(ctx context.Context, address string) error {
	fctx, cancel := context.WithTimeout(ctx, fundingTimeout)
	defer cancel()
	err := p.chain.Transfer(fctx, p.treasury, address, p.funding)
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrTxTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrFundingTimeout, err)
	}
	return err
}

// anchorDid tries to anchor a DID for the new account. The DID pallet may
// be absent or lag the rest of the runtime; in that case the raw address
// stands in as the identity reference and the account records that no DID
// was anchored. Anchoring failure never fails provisioning.
func (p *Provisioner) anchorDid(ctx context.Context, kr ledger.Keyring) (string, bool) {
	if !p.chain.WaitForDid(ctx, didWait) {
		p.logger.Warn("did pallet unavailable, falling back to address identity",
			zap.String("address", kr.Address()))
		return kr.Address(), false
	}
	_, err := retry.Do(ctx, p.did, "did anchoring", func(ctx context.Context) (struct{}, error) {
		dctx, cancel := context.WithTimeout(ctx, didTimeout)
		defer cancel()
		return struct{}{}, p.chain.CreateDid(dctx, kr)
	})
	if err != nil {
		p.logger.Warn("did anchoring failed, falling back to address identity",
			zap.String("address", kr.Address()), zap.Error(err))
		return kr.Address(), false
	}
	return kr.Address(), true
}
