package entrysync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hireledger/hireledger/internal/custodian"
	"github.com/hireledger/hireledger/internal/identifier"
	"github.com/hireledger/hireledger/internal/ledger"
	"github.com/hireledger/hireledger/internal/model"
	"github.com/hireledger/hireledger/internal/repository"
)

type memPostings struct {
	byID map[uuid.UUID]*model.JobPosting
}

func (s *memPostings) GetByID(_ context.Context, id uuid.UUID) (*model.JobPosting, error) {
	p, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

type memAccounts struct {
	byOwner map[string]*model.ChainAccount
}

func (s *memAccounts) GetByOwner(_ context.Context, ownerType model.OwnerType, ownerID string) (*model.ChainAccount, error) {
	a, ok := s.byOwner[ownerID]
	if !ok || a.OwnerType != ownerType {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

type memLinks struct {
	byPosting map[uuid.UUID]*model.RegistryEntryLink
	refreshes int
}

func (s *memLinks) Create(_ context.Context, l *model.RegistryEntryLink) error {
	l.ID = uuid.New()
	s.byPosting[l.JobPostingID] = l
	return nil
}

func (s *memLinks) GetByPosting(_ context.Context, postingID uuid.UUID) (*model.RegistryEntryLink, error) {
	l, ok := s.byPosting[postingID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return l, nil
}

func (s *memLinks) SetRevoked(_ context.Context, id uuid.UUID, revoked bool) error {
	for _, l := range s.byPosting {
		if l.ID == id {
			l.Revoked = revoked
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *memLinks) Refresh(_ context.Context, id uuid.UUID, txHash string) error {
	for _, l := range s.byPosting {
		if l.ID == id {
			l.TxHash = txHash
			l.Revoked = false
			l.UpdatedAt = time.Now()
			s.refreshes++
			return nil
		}
	}
	return repository.ErrNotFound
}

type syncEnv struct {
	sync     *Synchronizer
	mock     *ledger.MockClient
	postings *memPostings
	accounts *memAccounts
	links    *memLinks
	acct     *model.ChainAccount
	signer   ledger.Keyring
}

func newSyncEnv(t *testing.T) *syncEnv {
	t.Helper()
	cust, err := custodian.New(strings.Repeat("cd", 32))
	if err != nil {
		t.Fatalf("custodian.New: %v", err)
	}
	signer, err := ledger.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	sealed, err := cust.Encrypt(signer.Mnemonic())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	acct := &model.ChainAccount{
		OwnerType:   model.OwnerOrganization,
		OwnerID:     "org-1",
		Address:     signer.Address(),
		MnemonicEnc: sealed,
		ProfileID:   identifier.ComputeProfileID(signer.Address()),
		RegistryID:  "registry:cord:3testregistry",
	}

	env := &syncEnv{
		mock:     ledger.NewMockClient(),
		postings: &memPostings{byID: map[uuid.UUID]*model.JobPosting{}},
		accounts: &memAccounts{byOwner: map[string]*model.ChainAccount{"org-1": acct}},
		links:    &memLinks{byPosting: map[uuid.UUID]*model.RegistryEntryLink{}},
		acct:     acct,
		signer:   signer,
	}
	env.sync = New(true, env.mock, cust, env.postings, env.accounts, env.links, zap.NewNop())
	env.sync.policy.Sleep = func(_ context.Context, _ time.Duration) error { return nil }
	return env
}

func (e *syncEnv) addPosting(status model.PostingStatus) *model.JobPosting {
	p := &model.JobPosting{
		ID:               uuid.New(),
		Title:            "Senior Backend Engineer",
		Status:           status,
		OrganizationID:   "org-1",
		OrganizationName: "Acme",
		Description:      "Distributed systems role",
		Location:         map[string]string{"city": "Berlin"},
		CreatedAt:        time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt:        time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}
	e.postings.byID[p.ID] = p
	return p
}

func TestSyncDisabledIsNoOp(t *testing.T) {
	env := newSyncEnv(t)
	env.sync.enabled = false
	p := env.addPosting(model.StatusOpen)

	if err := env.sync.Sync(context.Background(), p.ID); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(env.mock.Calls()) != 0 {
		t.Fatalf("chain calls = %v, want none", env.mock.Calls())
	}
	if len(env.links.byPosting) != 0 {
		t.Fatal("link created while sync disabled")
	}
}

func TestCreateAnchorsEntryWithEventID(t *testing.T) {
	env := newSyncEnv(t)
	env.mock.EventEntryID = "entry:cord:3fromevent"
	p := env.addPosting(model.StatusOpen)

	if err := env.sync.Sync(context.Background(), p.ID); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	link := env.links.byPosting[p.ID]
	if link == nil {
		t.Fatal("no link persisted")
	}
	if link.EntryID != "entry:cord:3fromevent" {
		t.Fatalf("entry id = %q, want event-carried id", link.EntryID)
	}
	if link.Revoked {
		t.Fatal("link revoked for open posting")
	}
	wantDigest, err := identifier.Digest(blobFor(p, false))
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if link.TxHash != wantDigest {
		t.Fatalf("tx hash = %q, want content digest %q", link.TxHash, wantDigest)
	}
}

func TestCreateFallsBackToComputedEntryID(t *testing.T) {
	env := newSyncEnv(t)
	env.mock.EventEntryID = ""
	p := env.addPosting(model.StatusOpen)

	if err := env.sync.Sync(context.Background(), p.ID); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	link := env.links.byPosting[p.ID]
	digest, err := identifier.Digest(blobFor(p, false))
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	want, err := identifier.ComputeEntryID(digest, env.acct.RegistryID, env.acct.ProfileID, env.signer.Address())
	if err != nil {
		t.Fatalf("ComputeEntryID: %v", err)
	}
	if link.EntryID != want {
		t.Fatalf("entry id = %q, want computed %q", link.EntryID, want)
	}
}

func TestArchivedWithoutLinkSkipsChainRevoke(t *testing.T) {
	env := newSyncEnv(t)
	p := env.addPosting(model.StatusArchived)

	if err := env.sync.Sync(context.Background(), p.ID); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	link := env.links.byPosting[p.ID]
	if link == nil || !link.Revoked {
		t.Fatalf("link = %+v, want persisted as revoked", link)
	}
	if got := env.mock.CallCount("RevokeEntry"); got != 0 {
		t.Fatalf("RevokeEntry calls = %d, want 0", got)
	}
	if got := env.mock.CallCount("CreateEntry"); got != 1 {
		t.Fatalf("CreateEntry calls = %d, want 1", got)
	}
}

func TestArchiveRevokesExactlyOnce(t *testing.T) {
	env := newSyncEnv(t)
	env.mock.EventEntryID = "entry:cord:3abc"
	p := env.addPosting(model.StatusOpen)

	if err := env.sync.Sync(context.Background(), p.ID); err != nil {
		t.Fatalf("initial Sync: %v", err)
	}
	p.Status = model.StatusArchived
	if err := env.sync.Sync(context.Background(), p.ID); err != nil {
		t.Fatalf("archive Sync: %v", err)
	}
	if got := env.mock.CallCount("RevokeEntry"); got != 1 {
		t.Fatalf("RevokeEntry calls = %d, want 1", got)
	}
	if !env.links.byPosting[p.ID].Revoked {
		t.Fatal("link not marked revoked")
	}

	// Re-running against an already revoked link issues no chain calls.
	before := len(env.mock.Calls())
	if err := env.sync.Sync(context.Background(), p.ID); err != nil {
		t.Fatalf("repeat archive Sync: %v", err)
	}
	if after := len(env.mock.Calls()); after != before {
		t.Fatalf("repeat archival made %d chain calls", after-before)
	}
}

func TestReopenReinstatesThenUpdates(t *testing.T) {
	env := newSyncEnv(t)
	env.mock.EventEntryID = "entry:cord:3abc"
	p := env.addPosting(model.StatusOpen)

	for _, status := range []model.PostingStatus{model.StatusOpen, model.StatusArchived} {
		p.Status = status
		if err := env.sync.Sync(context.Background(), p.ID); err != nil {
			t.Fatalf("Sync(%s): %v", status, err)
		}
	}

	p.Status = model.StatusOpen
	p.UpdatedAt = p.UpdatedAt.Add(time.Hour)
	if err := env.sync.Sync(context.Background(), p.ID); err != nil {
		t.Fatalf("reopen Sync: %v", err)
	}
	if got := env.mock.CallCount("ReinstateEntry"); got != 1 {
		t.Fatalf("ReinstateEntry calls = %d, want 1", got)
	}
	if got := env.mock.CallCount("UpdateEntry"); got != 1 {
		t.Fatalf("UpdateEntry calls = %d, want 1", got)
	}
	link := env.links.byPosting[p.ID]
	if link.Revoked {
		t.Fatal("link still revoked after reopen")
	}
	entry := env.mock.Entry(link.EntryID)
	if entry == nil || entry.Revoked {
		t.Fatalf("chain entry = %+v, want reinstated", entry)
	}
}

func TestUpdateRefreshesDigest(t *testing.T) {
	env := newSyncEnv(t)
	env.mock.EventEntryID = "entry:cord:3abc"
	p := env.addPosting(model.StatusOpen)

	if err := env.sync.Sync(context.Background(), p.ID); err != nil {
		t.Fatalf("initial Sync: %v", err)
	}
	created := env.links.byPosting[p.ID].TxHash

	p.Title = "Staff Backend Engineer"
	p.UpdatedAt = p.UpdatedAt.Add(time.Hour)
	if err := env.sync.Sync(context.Background(), p.ID); err != nil {
		t.Fatalf("update Sync: %v", err)
	}
	link := env.links.byPosting[p.ID]
	if link.TxHash == created {
		t.Fatal("digest unchanged after posting edit")
	}
	want, err := identifier.Digest(blobFor(p, true))
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if link.TxHash != want {
		t.Fatalf("tx hash = %q, want %q", link.TxHash, want)
	}
	if env.mock.Entry(link.EntryID).Digest != want {
		t.Fatal("chain entry digest not refreshed")
	}
}

func TestSyncWithoutRegistryFails(t *testing.T) {
	env := newSyncEnv(t)
	env.acct.RegistryID = ""
	p := env.addPosting(model.StatusOpen)

	if err := env.sync.Sync(context.Background(), p.ID); !errors.Is(err, ErrNoRegistry) {
		t.Fatalf("err = %v, want ErrNoRegistry", err)
	}

	delete(env.accounts.byOwner, "org-1")
	if err := env.sync.Sync(context.Background(), p.ID); !errors.Is(err, ErrNoRegistry) {
		t.Fatalf("err = %v, want ErrNoRegistry for missing account", err)
	}
	if len(env.mock.Calls()) != 0 {
		t.Fatalf("chain calls = %v, want none", env.mock.Calls())
	}
}

func TestChainFailureLeavesLinkUntouched(t *testing.T) {
	env := newSyncEnv(t)
	env.mock.EventEntryID = "entry:cord:3abc"
	p := env.addPosting(model.StatusOpen)

	if err := env.sync.Sync(context.Background(), p.ID); err != nil {
		t.Fatalf("initial Sync: %v", err)
	}
	before := env.links.byPosting[p.ID].TxHash

	env.mock.Errs["UpdateEntry"] = errors.New("node unreachable")
	p.Title = "Changed"
	if err := env.sync.Sync(context.Background(), p.ID); err == nil {
		t.Fatal("expected error from failed update")
	}
	if env.links.byPosting[p.ID].TxHash != before {
		t.Fatal("link digest changed despite chain failure")
	}
	if env.links.refreshes != 0 {
		t.Fatalf("refreshes = %d, want 0", env.links.refreshes)
	}
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	env := newSyncEnv(t)
	d := NewDispatcher(env.sync, zap.NewNop())

	// Unknown posting makes the task fail; callers never see it.
	d.Sync(uuid.New())
	d.Close()

	if len(env.mock.Calls()) != 0 {
		t.Fatalf("chain calls = %v, want none", env.mock.Calls())
	}
}

func TestDispatcherRecordsTaskOutcomes(t *testing.T) {
	env := newSyncEnv(t)
	d := NewDispatcher(env.sync, zap.NewNop())

	var mu sync.Mutex
	var succeeded, failed int
	d.SetMetricsRecord(func(success bool) {
		mu.Lock()
		defer mu.Unlock()
		if success {
			succeeded++
		} else {
			failed++
		}
	})

	p := env.addPosting(model.StatusOpen)
	d.Sync(p.ID)
	d.Sync(uuid.New()) // unknown posting, task fails
	d.Close()

	if succeeded != 1 || failed != 1 {
		t.Fatalf("outcomes = %d success / %d failure, want 1 / 1", succeeded, failed)
	}
}
