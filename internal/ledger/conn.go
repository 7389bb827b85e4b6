package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	subkey "github.com/vedhavyas/go-subkey/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"golang.org/x/crypto/blake2b"

	"github.com/hireledger/hireledger/internal/identifier"
)

// Options configures Dial.
type Options struct {
	// Endpoint is the websocket URL of the chain node.
	Endpoint string

	// ReadyTimeout bounds the readiness poll. Default 60s.
	ReadyTimeout time.Duration

	// ReadyInterval is the readiness poll cadence. Default 2s.
	ReadyInterval time.Duration

	// SubmitRate throttles extrinsic submission across all components.
	// Default 5/s with a burst of 10.
	SubmitRate  rate.Limit
	SubmitBurst int

	Logger *zap.Logger
}

func (o *Options) fillDefaults() {
	if o.ReadyTimeout == 0 {
		o.ReadyTimeout = 60 * time.Second
	}
	if o.ReadyInterval == 0 {
		o.ReadyInterval = 2 * time.Second
	}
	if o.SubmitRate == 0 {
		o.SubmitRate = 5
	}
	if o.SubmitBurst == 0 {
		o.SubmitBurst = 10
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// chainState is the immutable snapshot swapped atomically when metadata is
// re-read. Readers never see a partially updated view.
type chainState struct {
	meta *types.Metadata
	caps Capabilities
}

// Conn is the substrate implementation of Client. It is safe for concurrent
// use; the only mutable field is the state snapshot, which is replaced
// atomically by WaitForDid.
type Conn struct {
	api         *gsrpc.SubstrateAPI
	genesisHash types.Hash
	state       atomic.Pointer[chainState]
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// Dial connects to the chain and blocks until the minimum capability surface
// (transaction submission and balance transfers) is observed, polling every
// ReadyInterval up to ReadyTimeout. The DID pallet is allowed to be absent
// at this point; some networks activate it only after first reference.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	opts.fillDefaults()

	api, err := gsrpc.NewSubstrateAPI(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", opts.Endpoint, err)
	}

	genesisHash, err := api.RPC.Chain.GetBlockHash(0)
	if err != nil {
		return nil, fmt.Errorf("ledger: genesis hash: %w", err)
	}

	c := &Conn{
		api:         api,
		genesisHash: genesisHash,
		limiter:     rate.NewLimiter(opts.SubmitRate, opts.SubmitBurst),
		logger:      opts.Logger,
	}

	deadline := time.Now().Add(opts.ReadyTimeout)
	ticker := time.NewTicker(opts.ReadyInterval)
	defer ticker.Stop()

	var caps Capabilities
	for {
		meta, err := api.RPC.State.GetMetadataLatest()
		if err == nil {
			caps = probeCapabilities(meta)
			if caps.Transfer {
				c.state.Store(&chainState{meta: meta, caps: caps})
				c.logger.Info("ledger connection ready",
					zap.String("endpoint", opts.Endpoint),
					zap.Bool("did", caps.Did),
					zap.Bool("entry", caps.Entry),
				)
				return c, nil
			}
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: balances pallet not observed after %s (transfer=%t)",
				ErrConnectionNotReady, opts.ReadyTimeout, caps.Transfer)
		}
		c.logger.Debug("waiting for ledger readiness", zap.Bool("transfer", caps.Transfer))

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrConnectionNotReady, ctx.Err())
		}
	}
}

// probeCapabilities resolves each pallet's marker call in the metadata.
func probeCapabilities(meta *types.Metadata) Capabilities {
	return Capabilities{
		Transfer: hasCall(meta, "Balances.transfer_keep_alive") || hasCall(meta, "Balances.transfer"),
		Did:      hasCall(meta, "Did.create_from_account"),
		Profile:  hasCall(meta, "Profile.set_profile"),
		Registry: hasCall(meta, "Registry.create"),
		Entry:    hasCall(meta, "Entry.create"),
	}
}

func hasCall(meta *types.Metadata, call string) bool {
	_, err := meta.FindCallIndex(call)
	return err == nil
}

// Capabilities implements Client.
func (c *Conn) Capabilities() Capabilities {
	return c.state.Load().caps
}

// WaitForDid implements Client. It re-reads metadata every second for up to
// window, refreshing the capability snapshot when the pallet appears.
func (c *Conn) WaitForDid(ctx context.Context, window time.Duration) bool {
	if c.Capabilities().Did {
		return true
	}

	deadline := time.Now().Add(window)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false
		}

		meta, err := c.api.RPC.State.GetMetadataLatest()
		if err != nil {
			continue
		}
		caps := probeCapabilities(meta)
		c.state.Store(&chainState{meta: meta, caps: caps})
		if caps.Did {
			return true
		}
	}
	return false
}

// QueryProfileID implements Client. Profile identifiers are deterministic
// over the owning address, so the chain read establishes existence and the
// textual identifier is computed locally, the same value an off-chain
// recomputation yields.
func (c *Conn) QueryProfileID(_ context.Context, address string) (string, error) {
	_, pub, err := subkey.SS58Decode(address)
	if err != nil {
		return "", fmt.Errorf("ledger: decode address: %w", err)
	}

	st := c.state.Load()
	key, err := types.CreateStorageKey(st.meta, "Profile", "Profiles", pub)
	if err != nil {
		return "", fmt.Errorf("%w: profile storage", ErrModuleUnavailable)
	}

	var stored types.Bytes
	ok, err := c.api.RPC.State.GetStorageLatest(key, &stored)
	if err != nil {
		return "", fmt.Errorf("ledger: query profile: %w", err)
	}
	if !ok {
		return "", ErrNotFound
	}
	return identifier.ComputeProfileID(address), nil
}

// digestToHash parses a 0x-prefixed 32-byte hex digest into a chain hash.
func digestToHash(digest string) (types.Hash, error) {
	h, err := types.NewHashFromHexString(digest)
	if err != nil {
		return types.Hash{}, fmt.Errorf("ledger: bad digest %q: %w", digest, err)
	}
	return h, nil
}

// accountIDHash is a helper for logging addresses without leaking key
// material alongside them.
func accountIDHash(pub []byte) string {
	sum := blake2b.Sum256(pub)
	return fmt.Sprintf("%x", sum[:4])
}
