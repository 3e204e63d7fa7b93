package storage

import (
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/hexen-unified/sovereigntycore/internal/donutloop"
)

func TestDB_AppendAndReadChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	entry := donutloop.Entry{
		Seq: 1, PrevHexstamp: donutloop.GenesisHexstamp, SubjectID: "s",
		Scope: "archchange", RohAfter: 0.1, Decision: "allowed",
		TimestampUTC: "2026-01-01T00:00:00Z", Hexstamp: "deadbeef",
	}
	if err := db.AppendEntry(entry); err != nil {
		t.Fatalf("AppendEntry() error: %v", err)
	}

	entries, err := db.ReadChain()
	if err != nil {
		t.Fatalf("ReadChain() error: %v", err)
	}
	if len(entries) != 1 || entries[0].SubjectID != "s" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestDB_Open_RejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	db.Close()

	// Reopening a database with the current schema version succeeds.
	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopening a valid database should succeed, got: %v", err)
	}

	// Overwrite the stored schema version; the next Open must refuse it.
	if err := db2.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketMeta)).Put([]byte("schema_version"), []byte("2"))
	}); err != nil {
		t.Fatalf("overwriting schema_version: %v", err)
	}
	db2.Close()

	if db3, err := Open(path); err == nil {
		db3.Close()
		t.Fatal("expected Open to reject a database with a mismatched schema version")
	}
}
