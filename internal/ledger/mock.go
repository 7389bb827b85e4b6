package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/hireledger/hireledger/internal/identifier"
)

// MockTransfer records one funding call made against the mock.
type MockTransfer struct {
	From   string
	To     string
	Amount uint64
}

// MockEntry is the mock's view of one registry entry.
type MockEntry struct {
	RegistryID string
	Digest     string
	Revoked    bool
	Updates    int
}

// MockClient is an in-process Client for tests. Zero value is not usable;
// construct with NewMockClient and adjust the exported knobs before use.
type MockClient struct {
	mu sync.Mutex

	// Caps is the capability snapshot returned to callers.
	Caps Capabilities

	// DidBecomesAvailable makes WaitForDid flip Caps.Did to true on its
	// first call, simulating the pallet surfacing after first reference.
	DidBecomesAvailable bool

	// EventEntryID is what CreateEntry reports as the event-carried id.
	// Empty simulates the event not being observed.
	EventEntryID string

	// Errs injects a forced error per operation name ("Transfer",
	// "CreateDid", "DispatchProfile", "CreateRegistry", "CreateEntry",
	// "UpdateEntry", "RevokeEntry", "ReinstateEntry", "QueryProfileID").
	Errs map[string]error

	// ProfileVisibleAfter is how many QueryProfileID calls per address
	// return ErrNotFound before a dispatched profile becomes visible.
	ProfileVisibleAfter int

	calls          []string
	transfers      []MockTransfer
	dids           []string
	registries     map[string]string // issuer address → digest
	profiles       map[string][]Attribute
	profileQueries map[string]int
	entries        map[string]*MockEntry
}

// NewMockClient returns a mock with every capability enabled.
func NewMockClient() *MockClient {
	return &MockClient{
		Caps:           Capabilities{Transfer: true, Did: true, Profile: true, Registry: true, Entry: true},
		Errs:           map[string]error{},
		registries:     map[string]string{},
		profiles:       map[string][]Attribute{},
		profileQueries: map[string]int{},
		entries:        map[string]*MockEntry{},
	}
}

func (m *MockClient) record(op string) error {
	m.calls = append(m.calls, op)
	return m.Errs[op]
}

// Calls returns the ordered operation names invoked so far.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times op was invoked.
func (m *MockClient) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == op {
			n++
		}
	}
	return n
}

// Transfers returns recorded funding calls.
func (m *MockClient) Transfers() []MockTransfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockTransfer, len(m.transfers))
	copy(out, m.transfers)
	return out
}

// Profile returns the attributes dispatched for address, or nil.
func (m *MockClient) Profile(address string) []Attribute {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[address]
}

// Entry returns the mock state for entryID, or nil.
func (m *MockClient) Entry(entryID string) *MockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[entryID]
}

// Capabilities implements Client.
func (m *MockClient) Capabilities() Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Caps
}

// WaitForDid implements Client.
func (m *MockClient) WaitForDid(_ context.Context, _ time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "WaitForDid")
	if m.Caps.Did {
		return true
	}
	if m.DidBecomesAvailable {
		m.Caps.Did = true
		return true
	}
	return false
}

// Transfer implements Client.
func (m *MockClient) Transfer(_ context.Context, from Keyring, to string, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers = append(m.transfers, MockTransfer{From: from.Address(), To: to, Amount: amount})
	return m.record("Transfer")
}

// CreateDid implements Client.
func (m *MockClient) CreateDid(_ context.Context, signer Keyring) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreateDid"); err != nil {
		return err
	}
	m.dids = append(m.dids, signer.Address())
	return nil
}

// DispatchProfile implements Client.
func (m *MockClient) DispatchProfile(_ context.Context, signer Keyring, attrs []Attribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DispatchProfile"); err != nil {
		return err
	}
	m.profiles[signer.Address()] = attrs
	return nil
}

// QueryProfileID implements Client.
func (m *MockClient) QueryProfileID(_ context.Context, address string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("QueryProfileID"); err != nil {
		return "", err
	}
	if _, dispatched := m.profiles[address]; !dispatched {
		return "", ErrNotFound
	}
	m.profileQueries[address]++
	if m.profileQueries[address] <= m.ProfileVisibleAfter {
		return "", ErrNotFound
	}
	return identifier.ComputeProfileID(address), nil
}

// CreateRegistry implements Client.
func (m *MockClient) CreateRegistry(_ context.Context, signer Keyring, digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreateRegistry"); err != nil {
		return err
	}
	m.registries[signer.Address()] = digest
	return nil
}

// CreateEntry implements Client.
func (m *MockClient) CreateEntry(_ context.Context, _ Keyring, registryID, digest string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreateEntry"); err != nil {
		return "", err
	}
	if m.EventEntryID != "" {
		m.entries[m.EventEntryID] = &MockEntry{RegistryID: registryID, Digest: digest}
	}
	return m.EventEntryID, nil
}

// UpdateEntry implements Client.
func (m *MockClient) UpdateEntry(_ context.Context, _ Keyring, registryID, entryID, digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("UpdateEntry"); err != nil {
		return err
	}
	e := m.entry(registryID, entryID)
	e.Digest = digest
	e.Updates++
	return nil
}

// RevokeEntry implements Client.
func (m *MockClient) RevokeEntry(_ context.Context, _ Keyring, registryID, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("RevokeEntry"); err != nil {
		return err
	}
	m.entry(registryID, entryID).Revoked = true
	return nil
}

// ReinstateEntry implements Client.
func (m *MockClient) ReinstateEntry(_ context.Context, _ Keyring, registryID, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ReinstateEntry"); err != nil {
		return err
	}
	m.entry(registryID, entryID).Revoked = false
	return nil
}

// entry auto-creates mock state for ids assigned outside the mock (the
// deterministic-computation path).
func (m *MockClient) entry(registryID, entryID string) *MockEntry {
	e, ok := m.entries[entryID]
	if !ok {
		e = &MockEntry{RegistryID: registryID}
		m.entries[entryID] = e
	}
	return e
}
