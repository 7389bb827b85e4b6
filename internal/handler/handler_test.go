package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hireledger/hireledger/internal/auth"
	"github.com/hireledger/hireledger/internal/handler"
	"github.com/hireledger/hireledger/internal/ledger"
	"github.com/hireledger/hireledger/internal/model"
	"github.com/hireledger/hireledger/internal/provision"
	"github.com/hireledger/hireledger/internal/repository"
)

// ─── Stubs ───────────────────────────────────────────────────────────────────

type stubProvisioner struct {
	orgCalls  []string
	userCalls []string
	err       error
}

func (s *stubProvisioner) CreateAccountForUser(_ context.Context, userID string) (*model.ChainAccount, error) {
	s.userCalls = append(s.userCalls, userID)
	if s.err != nil {
		return nil, s.err
	}
	return &model.ChainAccount{OwnerType: model.OwnerUser, OwnerID: userID, Address: "5Test"}, nil
}

func (s *stubProvisioner) CreateAccountForOrganization(_ context.Context, orgID, slug string) (*model.ChainAccount, error) {
	s.orgCalls = append(s.orgCalls, orgID+"/"+slug)
	if s.err != nil {
		return nil, s.err
	}
	return &model.ChainAccount{OwnerType: model.OwnerOrganization, OwnerID: orgID, Address: "5Test", RegistryID: "registry:cord:3x"}, nil
}

type stubAccounts struct {
	byOwner map[string]*model.ChainAccount
}

func (s *stubAccounts) GetByOwner(_ context.Context, ownerType model.OwnerType, ownerID string) (*model.ChainAccount, error) {
	if a, ok := s.byOwner[string(ownerType)+"/"+ownerID]; ok {
		return a, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubAccounts) Exists(ctx context.Context, ownerType model.OwnerType, ownerID string) (bool, error) {
	_, err := s.GetByOwner(ctx, ownerType, ownerID)
	return err == nil, nil
}

// stubBackground runs tasks inline so tests can assert their effects.
type stubBackground struct {
	names []string
}

func (s *stubBackground) Go(name string, task func(ctx context.Context) error) {
	s.names = append(s.names, name)
	_ = task(context.Background())
}

type stubPostings struct {
	byID map[uuid.UUID]*model.JobPosting
}

func (s *stubPostings) Create(_ context.Context, p *model.JobPosting) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	s.byID[p.ID] = p
	return nil
}

func (s *stubPostings) GetByID(_ context.Context, id uuid.UUID) (*model.JobPosting, error) {
	p, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (s *stubPostings) Update(_ context.Context, p *model.JobPosting) error {
	if _, ok := s.byID[p.ID]; !ok {
		return repository.ErrNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	s.byID[p.ID] = p
	return nil
}

func (s *stubPostings) ListByOrganization(_ context.Context, orgID string, limit, offset int) ([]*model.JobPosting, error) {
	var out []*model.JobPosting
	for _, p := range s.byID {
		if p.OrganizationID == orgID {
			out = append(out, p)
		}
	}
	return out, nil
}

type stubLinks struct {
	byPosting map[uuid.UUID]*model.RegistryEntryLink
}

func (s *stubLinks) GetByPosting(_ context.Context, postingID uuid.UUID) (*model.RegistryEntryLink, error) {
	l, ok := s.byPosting[postingID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return l, nil
}

type stubScheduler struct {
	synced []uuid.UUID
}

func (s *stubScheduler) Sync(postingID uuid.UUID) {
	s.synced = append(s.synced, postingID)
}

type stubDB struct {
	err error
}

func (s *stubDB) Ping(_ context.Context) error { return s.err }

// ─── Fixtures ────────────────────────────────────────────────────────────────

type accountEnv struct {
	router      *gin.Engine
	provisioner *stubProvisioner
	accounts    *stubAccounts
	background  *stubBackground
}

func setupAccountRouter(t *testing.T) *accountEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	env := &accountEnv{
		provisioner: &stubProvisioner{},
		accounts:    &stubAccounts{byOwner: map[string]*model.ChainAccount{}},
		background:  &stubBackground{},
	}
	h := handler.NewAccountHandler(env.provisioner, env.accounts, env.background, zap.NewNop())
	env.router = gin.New()
	h.Register(env.router.Group("/v1"))
	return env
}

type postingEnv struct {
	router    *gin.Engine
	postings  *stubPostings
	links     *stubLinks
	scheduler *stubScheduler
}

func setupPostingRouter(t *testing.T) *postingEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	env := &postingEnv{
		postings:  &stubPostings{byID: map[uuid.UUID]*model.JobPosting{}},
		links:     &stubLinks{byPosting: map[uuid.UUID]*model.RegistryEntryLink{}},
		scheduler: &stubScheduler{},
	}
	h := handler.NewPostingHandler(env.postings, env.links, env.scheduler, zap.NewNop())
	env.router = gin.New()
	h.Register(env.router.Group("/v1"))
	return env
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ─── Account endpoints ───────────────────────────────────────────────────────

func TestProvisionOrganization_202(t *testing.T) {
	env := setupAccountRouter(t)

	w := doJSON(t, env.router, http.MethodPost, "/v1/organizations/org-1/chain-account", gin.H{"name": "Acme"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(env.provisioner.orgCalls) != 1 || env.provisioner.orgCalls[0] != "org-1/Acme" {
		t.Fatalf("provisioner calls = %v", env.provisioner.orgCalls)
	}
	if len(env.background.names) != 1 {
		t.Fatalf("background tasks = %v", env.background.names)
	}
}

func TestProvisionOrganization_409_existing(t *testing.T) {
	env := setupAccountRouter(t)
	env.accounts.byOwner["organization/org-1"] = &model.ChainAccount{OwnerType: model.OwnerOrganization, OwnerID: "org-1"}

	w := doJSON(t, env.router, http.MethodPost, "/v1/organizations/org-1/chain-account", gin.H{"name": "Acme"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if len(env.provisioner.orgCalls) != 0 {
		t.Fatalf("provisioner called despite existing account")
	}
}

func TestProvisionOrganization_400_missingName(t *testing.T) {
	env := setupAccountRouter(t)

	w := doJSON(t, env.router, http.MethodPost, "/v1/organizations/org-1/chain-account", gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestProvisionOrganization_wait_201(t *testing.T) {
	env := setupAccountRouter(t)

	w := doJSON(t, env.router, http.MethodPost, "/v1/organizations/org-1/chain-account?wait=true", gin.H{"name": "Acme"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var acct model.ChainAccount
	if err := json.Unmarshal(w.Body.Bytes(), &acct); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if acct.RegistryID == "" {
		t.Fatal("response missing registry id")
	}
	if len(env.background.names) != 0 {
		t.Fatalf("wait=true should not schedule background work, got %v", env.background.names)
	}
}

func TestProvisionOrganization_wait_503_noTreasury(t *testing.T) {
	env := setupAccountRouter(t)
	env.provisioner.err = provision.ErrTreasuryNotConfigured

	w := doJSON(t, env.router, http.MethodPost, "/v1/organizations/org-1/chain-account?wait=true", gin.H{"name": "Acme"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestProvisionUser_202(t *testing.T) {
	env := setupAccountRouter(t)

	w := doJSON(t, env.router, http.MethodPost, "/v1/users/user-7/chain-account", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(env.provisioner.userCalls) != 1 || env.provisioner.userCalls[0] != "user-7" {
		t.Fatalf("provisioner calls = %v", env.provisioner.userCalls)
	}
}

func TestGetAccount_200_and_404(t *testing.T) {
	env := setupAccountRouter(t)
	env.accounts.byOwner["user/user-1"] = &model.ChainAccount{
		OwnerType:   model.OwnerUser,
		OwnerID:     "user-1",
		Address:     "5Addr",
		MnemonicEnc: "deadbeef:deadbeef:deadbeef",
	}

	w := doJSON(t, env.router, http.MethodGet, "/v1/users/user-1/chain-account", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	// The sealed mnemonic must never appear in responses.
	if bytes.Contains(w.Body.Bytes(), []byte("deadbeef")) {
		t.Fatalf("sealed mnemonic leaked: %s", w.Body.String())
	}

	w = doJSON(t, env.router, http.MethodGet, "/v1/users/nobody/chain-account", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

// ─── Posting endpoints ───────────────────────────────────────────────────────

func TestCreatePosting_201_schedulesSync(t *testing.T) {
	env := setupPostingRouter(t)

	w := doJSON(t, env.router, http.MethodPost, "/v1/postings", gin.H{
		"title":             "Backend Engineer",
		"organization_id":   "org-1",
		"organization_name": "Acme",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var p model.JobPosting
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if p.Status != model.StatusDraft {
		t.Fatalf("status = %q, want draft default", p.Status)
	}
	if len(env.scheduler.synced) != 1 || env.scheduler.synced[0] != p.ID {
		t.Fatalf("synced = %v, want [%s]", env.scheduler.synced, p.ID)
	}
}

func TestCreatePosting_400_badStatus(t *testing.T) {
	env := setupPostingRouter(t)

	w := doJSON(t, env.router, http.MethodPost, "/v1/postings", gin.H{
		"title":             "Backend Engineer",
		"organization_id":   "org-1",
		"organization_name": "Acme",
		"status":            "paused",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(env.scheduler.synced) != 0 {
		t.Fatal("sync scheduled for rejected posting")
	}
}

func TestUpdatePosting_partialPatch(t *testing.T) {
	env := setupPostingRouter(t)
	p := &model.JobPosting{Title: "Old", Status: model.StatusOpen, OrganizationID: "org-1", OrganizationName: "Acme"}
	env.postings.Create(context.Background(), p)

	w := doJSON(t, env.router, http.MethodPatch, "/v1/postings/"+p.ID.String(), gin.H{"status": "archived"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got := env.postings.byID[p.ID]
	if got.Status != model.StatusArchived {
		t.Fatalf("status = %q, want archived", got.Status)
	}
	if got.Title != "Old" {
		t.Fatalf("title = %q, unpatched field changed", got.Title)
	}
	if len(env.scheduler.synced) != 1 {
		t.Fatalf("synced = %v, want one run", env.scheduler.synced)
	}
}

func TestUpdatePosting_404(t *testing.T) {
	env := setupPostingRouter(t)

	w := doJSON(t, env.router, http.MethodPatch, "/v1/postings/"+uuid.NewString(), gin.H{"title": "X"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetPosting_400_badID(t *testing.T) {
	env := setupPostingRouter(t)

	w := doJSON(t, env.router, http.MethodGet, "/v1/postings/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListPostings_400_badLimit(t *testing.T) {
	env := setupPostingRouter(t)

	w := doJSON(t, env.router, http.MethodGet, "/v1/organizations/org-1/postings?limit=9999", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAttestation_200_and_404(t *testing.T) {
	env := setupPostingRouter(t)
	p := &model.JobPosting{Title: "T", Status: model.StatusOpen, OrganizationID: "org-1", OrganizationName: "Acme"}
	env.postings.Create(context.Background(), p)
	env.links.byPosting[p.ID] = &model.RegistryEntryLink{
		ID:           uuid.New(),
		JobPostingID: p.ID,
		EntryID:      "entry:cord:3abc",
		RegistryID:   "registry:cord:3reg",
		TxHash:       "0xdigest",
	}

	w := doJSON(t, env.router, http.MethodGet, "/v1/postings/"+p.ID.String()+"/attestation", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var link model.RegistryEntryLink
	if err := json.Unmarshal(w.Body.Bytes(), &link); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if link.EntryID != "entry:cord:3abc" {
		t.Fatalf("entry id = %q", link.EntryID)
	}

	other := &model.JobPosting{Title: "U", Status: model.StatusDraft, OrganizationID: "org-1", OrganizationName: "Acme"}
	env.postings.Create(context.Background(), other)
	w = doJSON(t, env.router, http.MethodGet, "/v1/postings/"+other.ID.String()+"/attestation", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

// ─── System endpoints ────────────────────────────────────────────────────────

func setupSystemRouter(t *testing.T, db *stubDB, chain *ledger.MockClient) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tokens := auth.NewTokenIssuer([]byte("secret"), "https://notary.test", time.Hour)
	h := handler.NewSystemHandler(db, chain, "api-key-1", tokens, zap.NewNop())
	r := gin.New()
	h.Register(r)
	return r
}

func TestHealthz_200(t *testing.T) {
	router := setupSystemRouter(t, &stubDB{}, ledger.NewMockClient())

	w := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHealthz_503_dbDown(t *testing.T) {
	router := setupSystemRouter(t, &stubDB{err: errors.New("connection refused")}, ledger.NewMockClient())

	w := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestExchangeToken(t *testing.T) {
	router := setupSystemRouter(t, &stubDB{}, ledger.NewMockClient())

	req := httptest.NewRequest(http.MethodPost, "/v1/token", bytes.NewBufferString(`{"caller":"backend"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", "api-key-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/token", bytes.NewBufferString(`{"caller":"backend"}`))
	req.Header.Set("X-Api-Key", "wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

// ─── Middleware ──────────────────────────────────────────────────────────────

func TestThrottle_LimitsAndExempts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	throttle := handler.NewThrottle(1, 1, "/healthz")
	router.Use(throttle.Middleware())
	router.GET("/v1/postings/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doJSON(t, router, http.MethodGet, "/v1/postings/x", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/v1/postings/x", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q, want %q", got, "1")
	}

	// Exempt paths are never throttled, even with the bucket drained.
	for i := 0; i < 3; i++ {
		w = doJSON(t, router, http.MethodGet, "/healthz", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("healthz request %d: expected 200, got %d", i, w.Code)
		}
	}
}

func TestBodyLimit_RejectsOversizedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(handler.BodyLimit(16))
	router.POST("/v1/postings", func(c *gin.Context) {
		var payload map[string]any
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		c.Status(http.StatusCreated)
	})

	w := doJSON(t, router, http.MethodPost, "/v1/postings", gin.H{"title": "well over sixteen bytes of payload"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("oversized body: expected 400, got %d", w.Code)
	}

	small := httptest.NewRequest(http.MethodPost, "/v1/postings", bytes.NewBufferString(`{}`))
	small.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, small)
	if rec.Code != http.StatusCreated {
		t.Fatalf("small body: expected 201, got %d", rec.Code)
	}
}
