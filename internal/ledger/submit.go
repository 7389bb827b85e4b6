package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	subkey "github.com/vedhavyas/go-subkey/v2"
	"go.uber.org/zap"
)

// confirmation is the status level a submission waits for.
type confirmation int

const (
	// waitInclusion resolves as soon as the transaction is in a block.
	waitInclusion confirmation = iota
	// waitFinality resolves only when the containing block is finalized.
	waitFinality
)

// didAuthKey mirrors the runtime's authentication-key argument for
// Did.create_from_account: an sr25519 public key tagged with its variant.
type didAuthKey struct {
	Variant types.U8
	Key     types.H256
}

const variantSr25519 = 1

// profileAttr is the on-wire shape of one hashed profile attribute.
type profileAttr struct {
	Key   types.Bytes
	Value types.Bytes
}

// submit signs and submits a call, waiting for the requested confirmation
// level. It returns the hash of the block the transaction landed in. The
// caller's ctx carries the operation timeout; once the extrinsic is
// dispatched there is no way to cancel it remotely; a timeout only stops
// the wait.
func (c *Conn) submit(ctx context.Context, signer Keyring, call types.Call, level confirmation) (types.Hash, error) {
	st := c.state.Load()

	rv, err := c.api.RPC.State.GetRuntimeVersionLatest()
	if err != nil {
		return types.Hash{}, fmt.Errorf("ledger: runtime version: %w", err)
	}

	nonceKey, err := types.CreateStorageKey(st.meta, "System", "Account", signer.pair.PublicKey)
	if err != nil {
		return types.Hash{}, fmt.Errorf("ledger: nonce key: %w", err)
	}
	var account types.AccountInfo
	if _, err := c.api.RPC.State.GetStorageLatest(nonceKey, &account); err != nil {
		return types.Hash{}, fmt.Errorf("ledger: read nonce: %w", err)
	}

	ext := types.NewExtrinsic(call)
	sigOpts := types.SignatureOptions{
		BlockHash:          c.genesisHash,
		Era:                types.ExtrinsicEra{IsImmortalEra: true},
		GenesisHash:        c.genesisHash,
		Nonce:              types.NewUCompactFromUInt(uint64(account.Nonce)),
		SpecVersion:        rv.SpecVersion,
		TransactionVersion: rv.TransactionVersion,
		Tip:                types.NewUCompactFromUInt(0),
	}
	if err := ext.Sign(signer.pair, sigOpts); err != nil {
		return types.Hash{}, fmt.Errorf("ledger: sign: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return types.Hash{}, fmt.Errorf("ledger: rate limit: %w", err)
	}

	sub, err := c.api.RPC.Author.SubmitAndWatchExtrinsic(ext)
	if err != nil {
		return types.Hash{}, fmt.Errorf("%w: submit: %v", ErrTxFailed, err)
	}
	defer sub.Unsubscribe()

	c.logger.Debug("extrinsic submitted",
		zap.String("signer", accountIDHash(signer.pair.PublicKey)),
		zap.Uint32("nonce", uint32(account.Nonce)),
	)

	var included types.Hash
	for {
		select {
		case status := <-sub.Chan():
			switch {
			case status.IsInBlock:
				included = status.AsInBlock
				if level == waitInclusion {
					return included, nil
				}
			case status.IsFinalized:
				return status.AsFinalized, nil
			case status.IsDropped, status.IsInvalid, status.IsUsurped:
				return types.Hash{}, fmt.Errorf("%w: terminal status %v", ErrTxFailed, status)
			}
		case err := <-sub.Err():
			return types.Hash{}, fmt.Errorf("%w: subscription: %v", ErrTxFailed, err)
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return types.Hash{}, fmt.Errorf("%w: awaiting confirmation", ErrTxTimeout)
			}
			return types.Hash{}, ctx.Err()
		}
	}
}

// Transfer implements Client.
func (c *Conn) Transfer(ctx context.Context, from Keyring, to string, amount uint64) error {
	st := c.state.Load()
	if !st.caps.Transfer {
		return fmt.Errorf("%w: balances pallet", ErrModuleUnavailable)
	}

	_, pub, err := subkey.SS58Decode(to)
	if err != nil {
		return fmt.Errorf("ledger: decode recipient: %w", err)
	}
	dest, err := types.NewMultiAddressFromAccountID(pub)
	if err != nil {
		return fmt.Errorf("ledger: recipient: %w", err)
	}

	callName := "Balances.transfer_keep_alive"
	if !hasCall(st.meta, callName) {
		callName = "Balances.transfer"
	}
	call, err := types.NewCall(st.meta, callName, dest, types.NewUCompactFromUInt(amount))
	if err != nil {
		return fmt.Errorf("ledger: build transfer: %w", err)
	}

	_, err = c.submit(ctx, from, call, waitInclusion)
	return err
}

// CreateDid implements Client.
func (c *Conn) CreateDid(ctx context.Context, signer Keyring) error {
	st := c.state.Load()
	if !st.caps.Did {
		return fmt.Errorf("%w: did pallet", ErrModuleUnavailable)
	}

	var key types.H256
	copy(key[:], signer.pair.PublicKey)
	call, err := types.NewCall(st.meta, "Did.create_from_account", didAuthKey{
		Variant: variantSr25519,
		Key:     key,
	})
	if err != nil {
		return fmt.Errorf("ledger: build did create: %w", err)
	}

	_, err = c.submit(ctx, signer, call, waitFinality)
	return err
}

// DispatchProfile implements Client.
func (c *Conn) DispatchProfile(ctx context.Context, signer Keyring, attrs []Attribute) error {
	st := c.state.Load()
	if !st.caps.Profile {
		return fmt.Errorf("%w: profile pallet", ErrModuleUnavailable)
	}

	wire := make([]profileAttr, 0, len(attrs))
	for _, a := range attrs {
		wire = append(wire, profileAttr{
			Key:   types.NewBytes([]byte(a.Key)),
			Value: types.NewBytes([]byte(a.Hash)),
		})
	}

	call, err := types.NewCall(st.meta, "Profile.set_profile", wire)
	if err != nil {
		return fmt.Errorf("ledger: build profile dispatch: %w", err)
	}

	_, err = c.submit(ctx, signer, call, waitInclusion)
	return err
}

// CreateRegistry implements Client.
func (c *Conn) CreateRegistry(ctx context.Context, signer Keyring, digest string) error {
	st := c.state.Load()
	if !st.caps.Registry {
		return fmt.Errorf("%w: registry pallet", ErrModuleUnavailable)
	}

	h, err := digestToHash(digest)
	if err != nil {
		return err
	}
	call, err := types.NewCall(st.meta, "Registry.create", h, types.NewOptionBytesEmpty())
	if err != nil {
		return fmt.Errorf("ledger: build registry create: %w", err)
	}

	_, err = c.submit(ctx, signer, call, waitFinality)
	return err
}

// CreateEntry implements Client.
func (c *Conn) CreateEntry(ctx context.Context, signer Keyring, registryID, digest string) (string, error) {
	st := c.state.Load()
	if !st.caps.Entry {
		return "", fmt.Errorf("%w: entry pallet", ErrModuleUnavailable)
	}

	h, err := digestToHash(digest)
	if err != nil {
		return "", err
	}
	call, err := types.NewCall(st.meta, "Entry.create",
		types.NewBytes([]byte(registryID)), h, types.NewOptionBytesEmpty())
	if err != nil {
		return "", fmt.Errorf("ledger: build entry create: %w", err)
	}

	blockHash, err := c.submit(ctx, signer, call, waitFinality)
	if err != nil {
		return "", err
	}

	// A missing event is not an error: the caller recomputes the id from
	// the digest and registry/profile identifiers.
	entryID := c.entryIDFromEvents(blockHash)
	if entryID == "" {
		c.logger.Warn("entry creation event not observed, caller will recompute id",
			zap.String("registry_id", registryID))
	}
	return entryID, nil
}

// UpdateEntry implements Client.
func (c *Conn) UpdateEntry(ctx context.Context, signer Keyring, registryID, entryID, digest string) error {
	st := c.state.Load()
	if !st.caps.Entry {
		return fmt.Errorf("%w: entry pallet", ErrModuleUnavailable)
	}

	h, err := digestToHash(digest)
	if err != nil {
		return err
	}
	call, err := types.NewCall(st.meta, "Entry.update",
		types.NewBytes([]byte(registryID)), types.NewBytes([]byte(entryID)), h, types.NewOptionBytesEmpty())
	if err != nil {
		return fmt.Errorf("ledger: build entry update: %w", err)
	}

	_, err = c.submit(ctx, signer, call, waitFinality)
	return err
}

// RevokeEntry implements Client.
func (c *Conn) RevokeEntry(ctx context.Context, signer Keyring, registryID, entryID string) error {
	return c.entryStatusCall(ctx, signer, "Entry.revoke", registryID, entryID)
}

// ReinstateEntry implements Client.
func (c *Conn) ReinstateEntry(ctx context.Context, signer Keyring, registryID, entryID string) error {
	return c.entryStatusCall(ctx, signer, "Entry.reinstate", registryID, entryID)
}

func (c *Conn) entryStatusCall(ctx context.Context, signer Keyring, name, registryID, entryID string) error {
	st := c.state.Load()
	if !st.caps.Entry {
		return fmt.Errorf("%w: entry pallet", ErrModuleUnavailable)
	}

	call, err := types.NewCall(st.meta, name,
		types.NewBytes([]byte(registryID)), types.NewBytes([]byte(entryID)))
	if err != nil {
		return fmt.Errorf("ledger: build %s: %w", name, err)
	}

	_, err = c.submit(ctx, signer, call, waitFinality)
	return err
}
