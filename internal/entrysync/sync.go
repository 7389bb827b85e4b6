// Package entrysync mirrors job posting lifecycle changes into registry
// entries on the ledger.
//
// Synchronization is convergent rather than transcript-replaying: each run
// looks at the posting's current state and the stored entry link and issues
// the chain calls needed to make the entry match, so missed intermediate
// edits collapse into one update. Sync failures never surface to the write
// path that triggered them; the posting store remains the source of truth
// and a later run converges.
package entrysync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hireledger/hireledger/internal/custodian"
	"github.com/hireledger/hireledger/internal/identifier"
	"github.com/hireledger/hireledger/internal/ledger"
	"github.com/hireledger/hireledger/internal/model"
	"github.com/hireledger/hireledger/internal/repository"
	"github.com/hireledger/hireledger/internal/retry"
)

// ErrNoRegistry is returned when the posting's organization has a chain
// account without a registry, so there is nowhere to anchor entries.
var ErrNoRegistry = errors.New("entrysync: organization has no registry")

const chainCallTimeout = 60 * time.Second

var chainPolicy = retry.Policy{
	MaxRetries:   3,
	InitialDelay: 2 * time.Second,
	MaxDelay:     10 * time.Second,
	Multiplier:   2,
}

type postingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.JobPosting, error)
}

type accountStore interface {
	GetByOwner(ctx context.Context, ownerType model.OwnerType, ownerID string) (*model.ChainAccount, error)
}

type linkStore interface {
	Create(ctx context.Context, l *model.RegistryEntryLink) error
	GetByPosting(ctx context.Context, postingID uuid.UUID) (*model.RegistryEntryLink, error)
	SetRevoked(ctx context.Context, id uuid.UUID, revoked bool) error
	Refresh(ctx context.Context, id uuid.UUID, txHash string) error
}

// entryBlob is the canonical content a registry entry attests to. Its
// digest is what goes on-chain; the fields themselves never do.
type entryBlob struct {
	JobPostingID     string            `json:"jobPostingId"`
	Title            string            `json:"title"`
	Status           string            `json:"status"`
	OrganizationID   string            `json:"organizationId"`
	OrganizationName string            `json:"organizationName"`
	Description      string            `json:"description,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Location         map[string]string `json:"location,omitempty"`
	Contact          map[string]string `json:"contact,omitempty"`
	CreatedAt        string            `json:"createdAt,omitempty"`
	UpdatedAt        string            `json:"updatedAt,omitempty"`
}

// Synchronizer reconciles one posting at a time against the ledger.
type Synchronizer struct {
	enabled   bool
	chain     ledger.Client
	custodian *custodian.Custodian
	postings  postingStore
	accounts  accountStore
	links     linkStore
	logger    *zap.Logger

	policy retry.Policy
}

// New creates a Synchronizer. With enabled false every Sync call is a
// logged no-op, which keeps the posting write path identical whether or
// not a ledger is attached.
func New(enabled bool, chain ledger.Client, cust *custodian.Custodian, postings postingStore, accounts accountStore, links linkStore, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		enabled:   enabled,
		chain:     chain,
		custodian: cust,
		postings:  postings,
		accounts:  accounts,
		links:     links,
		logger:    logger,
		policy:    chainPolicy,
	}
}

// Sync brings the registry entry for postingID in line with the posting's
// current state.
func (s *Synchronizer) Sync(ctx context.Context, postingID uuid.UUID) error {
	if !s.enabled {
		s.logger.Debug("ledger sync disabled, skipping", zap.String("posting_id", postingID.String()))
		return nil
	}

	posting, err := s.postings.GetByID(ctx, postingID)
	if err != nil {
		return fmt.Errorf("load posting: %w", err)
	}
	acct, err := s.accounts.GetByOwner(ctx, model.OwnerOrganization, posting.OrganizationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: no chain account for organization %s", ErrNoRegistry, posting.OrganizationID)
		}
		return fmt.Errorf("load organization account: %w", err)
	}
	if acct.RegistryID == "" {
		return fmt.Errorf("%w: organization %s", ErrNoRegistry, posting.OrganizationID)
	}

	mnemonic, err := s.custodian.Decrypt(acct.MnemonicEnc)
	if err != nil {
		return fmt.Errorf("unseal signing key: %w", err)
	}
	signer, err := ledger.FromMnemonic(mnemonic)
	if err != nil {
		return fmt.Errorf("recover signing key: %w", err)
	}

	link, err := s.links.GetByPosting(ctx, postingID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return s.create(ctx, signer, acct, posting)
	case err != nil:
		return fmt.Errorf("load entry link: %w", err)
	case posting.Status == model.StatusArchived:
		return s.revoke(ctx, signer, acct, posting, link)
	default:
		return s.update(ctx, signer, acct, posting, link)
	}
}

// create anchors a new entry for the posting. An archived posting that was
// never anchored gets a link already marked revoked, with no chain call to
// revoke what does not exist.
func (s *Synchronizer) create(ctx context.Context, signer ledger.Keyring, acct *model.ChainAccount, posting *model.JobPosting) error {
	digest, err := identifier.Digest(blobFor(posting, false))
	if err != nil {
		return fmt.Errorf("digest posting: %w", err)
	}

	entryID, err := retry.Do(ctx, s.policy, "entry creation", func(ctx context.Context) (string, error) {
		cctx, cancel := context.WithTimeout(ctx, chainCallTimeout)
		defer cancel()
		return s.chain.CreateEntry(cctx, signer, acct.RegistryID, digest)
	})
	if err != nil {
		return err
	}
	if entryID == "" {
		// The creation event was not observed; the id is derivable from
		// the same inputs the chain hashes.
		entryID, err = identifier.ComputeEntryID(digest, acct.RegistryID, acct.ProfileID, signer.Address())
		if err != nil {
			return fmt.Errorf("compute entry id: %w", err)
		}
		s.logger.Info("entry id recomputed off-chain", zap.String("entry_id", entryID))
	}

	link := &model.RegistryEntryLink{
		JobPostingID: posting.ID,
		EntryID:      entryID,
		RegistryID:   acct.RegistryID,
		TxHash:       digest,
		Revoked:      posting.Status == model.StatusArchived,
	}
	if err := s.links.Create(ctx, link); err != nil {
		return fmt.Errorf("persist entry link: %w", err)
	}
	s.logger.Info("registry entry anchored",
		zap.String("posting_id", posting.ID.String()),
		zap.String("entry_id", entryID),
		zap.Bool("revoked", link.Revoked))
	return nil
}

// revoke marks the entry revoked on-chain. Already-revoked links are left
// alone so repeated archival is idempotent.
func (s *Synchronizer) revoke(ctx context.Context, signer ledger.Keyring, acct *model.ChainAccount, posting *model.JobPosting, link *model.RegistryEntryLink) error {
	if link.Revoked {
		s.logger.Debug("entry already revoked", zap.String("entry_id", link.EntryID))
		return nil
	}
	_, err := retry.Do(ctx, s.policy, "entry revocation", func(ctx context.Context) (struct{}, error) {
		cctx, cancel := context.WithTimeout(ctx, chainCallTimeout)
		defer cancel()
		return struct{}{}, s.chain.RevokeEntry(cctx, signer, link.RegistryID, link.EntryID)
	})
	if err != nil {
		return err
	}
	if err := s.links.SetRevoked(ctx, link.ID, true); err != nil {
		return fmt.Errorf("persist revocation: %w", err)
	}
	s.logger.Info("registry entry revoked",
		zap.String("posting_id", posting.ID.String()),
		zap.String("entry_id", link.EntryID))
	return nil
}

// update refreshes the entry digest, reinstating the entry first when the
// posting came back from archived.
func (s *Synchronizer) update(ctx context.Context, signer ledger.Keyring, acct *model.ChainAccount, posting *model.JobPosting, link *model.RegistryEntryLink) error {
	if link.Revoked {
		_, err := retry.Do(ctx, s.policy, "entry reinstatement", func(ctx context.Context) (struct{}, error) {
			cctx, cancel := context.WithTimeout(ctx, chainCallTimeout)
			defer cancel()
			return struct{}{}, s.chain.ReinstateEntry(cctx, signer, link.RegistryID, link.EntryID)
		})
		if err != nil {
			return err
		}
	}

	digest, err := identifier.Digest(blobFor(posting, true))
	if err != nil {
		return fmt.Errorf("digest posting: %w", err)
	}
	_, err = retry.Do(ctx, s.policy, "entry update", func(ctx context.Context) (struct{}, error) {
		cctx, cancel := context.WithTimeout(ctx, chainCallTimeout)
		defer cancel()
		return struct{}{}, s.chain.UpdateEntry(cctx, signer, link.RegistryID, link.EntryID, digest)
	})
	if err != nil {
		return err
	}
	if err := s.links.Refresh(ctx, link.ID, digest); err != nil {
		return fmt.Errorf("persist refreshed link: %w", err)
	}
	s.logger.Info("registry entry updated",
		zap.String("posting_id", posting.ID.String()),
		zap.String("entry_id", link.EntryID))
	return nil
}

func blobFor(p *model.JobPosting, update bool) entryBlob {
	b := entryBlob{
		JobPostingID:     p.ID.String(),
		Title:            p.Title,
		Status:           string(p.Status),
		OrganizationID:   p.OrganizationID,
		OrganizationName: p.OrganizationName,
		Description:      p.Description,
		Metadata:         p.Metadata,
		Location:         p.Location,
		Contact:          p.Contact,
	}
	if update {
		b.UpdatedAt = p.UpdatedAt.UTC().Format(time.RFC3339)
	} else {
		b.CreatedAt = p.CreatedAt.UTC().Format(time.RFC3339)
	}
	return b
}
