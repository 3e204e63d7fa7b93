// Package storage — bolt.go
//
// BoltDB-backed durable sink for the donutloop audit ledger.
//
// Schema (BoltDB bucket layout):
//
//	/ledger
//	    key:   seq, big-endian uint64 [8 bytes, sortable]
//	    value: JSON-encoded donutloop.Entry
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model:
//   - Single-process, single-writer (BoltDB does not support concurrent
//     writers); donutloop.Ledger serializes its own callers with a mutex,
//     so this package never needs to.
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//   - CRC32 integrity check on database open (bbolt built-in).
//
// Failure modes:
//   - BoltDB file corruption: bbolt detects via CRC and returns an error
//     on Open(). The caller must treat this as a fatal sverr.LedgerBroken
//     and refuse to start.
//   - Disk full: bbolt.Update() returns an error, surfaced to the caller
//     as the AppendEntry return value; no partial write is ever visible.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hexen-unified/sovereigntycore/internal/donutloop"
)

const (
	// DefaultDBPath is the default BoltDB file location.
	DefaultDBPath = "/var/lib/sovereigntycore/sovereigntycore.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	bucketLedger = "ledger"
	bucketMeta   = "meta"
)

// DB wraps a BoltDB instance as a donutloop.Sink.
type DB struct {
	db *bolt.DB
}

var _ donutloop.Sink = (*DB)(nil)

// Open opens (or creates) the BoltDB database at the given path,
// initialising buckets and verifying the schema version.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketLedger, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, core requires %q; "+
					"run migration or restore from backup", string(v), SchemaVersion)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// AppendEntry writes entry keyed by its Seq. Implements donutloop.Sink.
func (d *DB) AppendEntry(entry donutloop.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("AppendEntry marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		return b.Put(seqKey(entry.Seq), data)
	})
}

// ReadChain returns every persisted entry in seq order. Implements
// donutloop.Sink.
func (d *DB) ReadChain() ([]donutloop.Entry, error) {
	var entries []donutloop.Entry
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		return b.ForEach(func(_, v []byte) error {
			var entry donutloop.Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	return entries, err
}
