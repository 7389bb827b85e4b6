package ledger

import (
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"go.uber.org/zap"
)

// EventEntryCreated is the entry pallet's creation event. The assigned entry
// id sits in the third data position, after the creator and registry id.
type EventEntryCreated struct {
	Phase      types.Phase
	Creator    types.AccountID
	RegistryID types.Bytes
	EntryID    types.Bytes
	ProfileID  types.Bytes
	Topics     []types.Hash
}

// entryEventRecords extends the standard event set with the entry pallet's
// creation event. DecodeEventRecords matches the Pallet_Event field name
// against chain metadata.
type entryEventRecords struct {
	types.EventRecords
	Entry_RegistryEntryCreated []EventEntryCreated //nolint:revive,stylecheck // name is matched against metadata
}

// entryIDFromEvents reads the system events of the block the creation landed
// in and extracts the assigned entry id. Any decode failure yields ""; in
// practice the event stream can lag or carry unknown concurrent events, and
// the deterministic recomputation path covers both.
func (c *Conn) entryIDFromEvents(blockHash types.Hash) string {
	st := c.state.Load()

	key, err := types.CreateStorageKey(st.meta, "System", "Events", nil)
	if err != nil {
		c.logger.Debug("events storage key", zap.Error(err))
		return ""
	}
	raw, err := c.api.RPC.State.GetStorageRaw(key, blockHash)
	if err != nil || raw == nil {
		c.logger.Debug("read block events", zap.Error(err))
		return ""
	}

	var records entryEventRecords
	if err := types.EventRecordsRaw(*raw).DecodeEventRecords(st.meta, &records); err != nil {
		c.logger.Debug("decode block events", zap.Error(err))
		return ""
	}
	if len(records.Entry_RegistryEntryCreated) == 0 {
		return ""
	}

	ev := records.Entry_RegistryEntryCreated[len(records.Entry_RegistryEntryCreated)-1]
	return string(ev.EntryID)
}
