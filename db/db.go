// Package db implements the persistence store spec §4.4 requires: a store
// mapping SwapId to its latest state, where each write replaces the swap's
// previous state and earlier states are not kept, plus peer-address
// and Monero-address-override side tables. It is backed by
// github.com/ChainSafe/chaindb, the same key/value store wired into the
// swap manager this package's Database interface was modelled on.
package db

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ChainSafe/chaindb"

	"github.com/monero-btc-swap/swapd/common/types"
)

// ErrNotFound mirrors chaindb's not-found sentinel so callers never need to
// import chaindb directly to test for it.
var ErrNotFound = errors.New("db: not found")

// Mode is the open mode a Database is obtained with; writes on a ReadOnly
// database are rejected at the type level by simply never being called,
// and enforced at runtime by writeAllowed.
type Mode byte

const (
	ReadOnly Mode = iota
	ReadWrite
)

var (
	stateKeyPrefix   = []byte("swapstate-")
	peerKeyPrefix    = []byte("peer-")
	xmrAddrKeyPrefix = []byte("xmraddr-")
)

// stateRecord is the versioned envelope wrapping a role-specific state blob,
// matching spec §6's "state_blob is a versioned serialization ... forward
// compatible version tag is the first field".
type stateRecord struct {
	Version uint8           `json:"version"`
	Role    types.Role      `json:"role"`
	Blob    json.RawMessage `json:"blob"`
}

const currentStateVersion = 1

// Database is the swap persistence store (spec §4.4).
type Database interface {
	// InsertLatestState atomically stores swap id's new state, replacing the
	// previous one; subsequent reads return this state. Earlier states are
	// not kept.
	InsertLatestState(id types.SwapID, role types.Role, stateBlob interface{}) error

	// GetState returns the latest state for id, deserialised into out, or
	// ErrNotFound.
	GetState(id types.SwapID, out interface{}) (types.Role, error)

	// AllSwaps enumerates every swap with a persisted state, used to find
	// resumable swaps at startup.
	AllSwaps() ([]types.SwapID, error)

	SetPeer(id types.SwapID, peerID string) error
	GetPeer(id types.SwapID) (string, error)

	SetMoneroAddress(id types.SwapID, address string) error
	GetMoneroAddress(id types.SwapID) (string, error)

	Close() error
}

type chainDB struct {
	db   chaindb.Database
	mode Mode
}

// NewDatabase opens (creating if absent) a chaindb-backed Database rooted
// at dataDir.
func NewDatabase(dataDir string, mode Mode) (Database, error) {
	cdb, err := chaindb.NewBadgerDB(&chaindb.Config{
		DataDir: dataDir,
	})
	if err != nil {
		return nil, fmt.Errorf("db: failed to open chaindb: %w", err)
	}
	return &chainDB{db: cdb, mode: mode}, nil
}

func (d *chainDB) writeAllowed() error {
	if d.mode != ReadWrite {
		return errors.New("db: database opened read-only")
	}
	return nil
}

func (d *chainDB) InsertLatestState(id types.SwapID, role types.Role, stateBlob interface{}) error {
	if err := d.writeAllowed(); err != nil {
		return err
	}

	blob, err := json.Marshal(stateBlob)
	if err != nil {
		return fmt.Errorf("db: failed to marshal state: %w", err)
	}

	rec := stateRecord{Version: currentStateVersion, Role: role, Blob: blob}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("db: failed to marshal state record: %w", err)
	}

	return d.db.Put(stateKey(id), encoded)
}

func (d *chainDB) GetState(id types.SwapID, out interface{}) (types.Role, error) {
	encoded, err := d.db.Get(stateKey(id))
	if err != nil {
		if errors.Is(err, chaindb.ErrKeyNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}

	var rec stateRecord
	if err := json.Unmarshal(encoded, &rec); err != nil {
		return 0, fmt.Errorf("db: failed to unmarshal state record: %w", err)
	}
	if rec.Version != currentStateVersion {
		return 0, fmt.Errorf("db: unsupported state record version %d", rec.Version)
	}
	if err := json.Unmarshal(rec.Blob, out); err != nil {
		return 0, fmt.Errorf("db: failed to unmarshal state blob: %w", err)
	}
	return rec.Role, nil
}

func (d *chainDB) AllSwaps() ([]types.SwapID, error) {
	iter, err := d.db.NewIterator()
	if err != nil {
		return nil, err
	}
	defer iter.Release()

	var ids []types.SwapID
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != len(stateKeyPrefix)+16 {
			continue
		}
		if string(key[:len(stateKeyPrefix)]) != string(stateKeyPrefix) {
			continue
		}
		id, err := types.SwapIDFromString(fmt.Sprintf("%x", key[len(stateKeyPrefix):]))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (d *chainDB) SetPeer(id types.SwapID, peerID string) error {
	if err := d.writeAllowed(); err != nil {
		return err
	}
	return d.db.Put(sideTableKey(peerKeyPrefix, id), []byte(peerID))
}

func (d *chainDB) GetPeer(id types.SwapID) (string, error) {
	v, err := d.db.Get(sideTableKey(peerKeyPrefix, id))
	if err != nil {
		if errors.Is(err, chaindb.ErrKeyNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return string(v), nil
}

func (d *chainDB) SetMoneroAddress(id types.SwapID, address string) error {
	if err := d.writeAllowed(); err != nil {
		return err
	}
	return d.db.Put(sideTableKey(xmrAddrKeyPrefix, id), []byte(address))
}

func (d *chainDB) GetMoneroAddress(id types.SwapID) (string, error) {
	v, err := d.db.Get(sideTableKey(xmrAddrKeyPrefix, id))
	if err != nil {
		if errors.Is(err, chaindb.ErrKeyNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return string(v), nil
}

func (d *chainDB) Close() error {
	return d.db.Close()
}

func stateKey(id types.SwapID) []byte {
	return sideTableKey(stateKeyPrefix, id)
}

func sideTableKey(prefix []byte, id types.SwapID) []byte {
	out := make([]byte, 0, len(prefix)+16)
	out = append(out, prefix...)
	out = append(out, id[:]...)
	return out
}
