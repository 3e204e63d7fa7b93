// Package donutloop implements the append-only, hash-chained audit
// ledger. Every decision the orchestrator allows is appended as an
// Entry (rejected decisions are not recorded here) whose Hexstamp
// commits to the entire prior
// chain, so any tampering with an earlier entry breaks every hash after
// it.
package donutloop

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hexen-unified/sovereigntycore/internal/sverr"
)

// Entry is one hash-chained record. Hexstamp is computed over the
// canonical encoding of every other field plus PrevHexstamp; it is never
// itself part of its own canonical encoding.
type Entry struct {
	Seq           uint64 `json:"seq"`
	PrevHexstamp  string `json:"prev_hexstamp"`
	SubjectID     string `json:"subject_id"`
	Scope         string `json:"scope"`
	RohAfter      float32 `json:"roh_after"`
	Decision      string `json:"decision"`
	TimestampUTC  string `json:"timestamp_utc"`
	Hexstamp      string `json:"hexstamp"`
}

// canonical is the fixed-field-order structure hashed to produce
// Hexstamp. Field order here is the wire contract: changing it changes
// every hash computed from this point forward.
type canonical struct {
	Seq          uint64  `json:"seq"`
	PrevHexstamp string  `json:"prev_hexstamp"`
	SubjectID    string  `json:"subject_id"`
	Scope        string  `json:"scope"`
	RohAfter     float32 `json:"roh_after"`
	Decision     string  `json:"decision"`
	TimestampUTC string  `json:"timestamp_utc"`
}

// GenesisHexstamp is the fixed PrevHexstamp value for the first entry in
// a chain: 64 hex zero digits.
const GenesisHexstamp = "0000000000000000" + "0000000000000000" + "0000000000000000" + "0000000000000000"

// Sink persists entries durably and allows a ledger to be rebuilt across
// restarts. Concrete sinks (BoltDB, in-memory) live outside this package;
// donutloop only depends on the interface.
type Sink interface {
	AppendEntry(Entry) error
	ReadChain() ([]Entry, error)
}

// MemorySink is a non-durable Sink useful for tests and for a
// pure in-memory ledger.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) AppendEntry(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemorySink) ReadChain() ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

// Len returns the number of entries appended so far. Convenience for
// tests driving a MemorySink directly.
func (m *MemorySink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Entries returns a defensive copy of every entry appended so far, in
// append order.
func (m *MemorySink) Entries() []Entry {
	out, _ := m.ReadChain()
	return out
}

// Ledger is the in-memory chain head plus its durable Sink. All mutation
// goes through Append, which is safe for concurrent use.
type Ledger struct {
	mu   sync.Mutex
	sink Sink
	last Entry // zero value before the first append; PrevHexstamp of the next entry
	seq  uint64
}

// Open rebuilds a Ledger from sink, validating the persisted chain before
// returning. An empty sink yields a fresh ledger whose first append uses
// GenesisHexstamp as PrevHexstamp.
func Open(sink Sink) (*Ledger, error) {
	entries, err := sink.ReadChain()
	if err != nil {
		return nil, &sverr.LedgerBroken{Reason: fmt.Sprintf("reading persisted chain: %v", err)}
	}
	if err := ValidateChain(entries); err != nil {
		return nil, err
	}

	l := &Ledger{sink: sink}
	if len(entries) > 0 {
		l.last = entries[len(entries)-1]
		l.seq = uint64(len(entries))
	}
	return l, nil
}

// Append computes the next entry's Hexstamp from the current chain head,
// persists it via the Sink, and advances the head. It holds the ledger
// mutex for its full duration, serializing every writer. Seq is 0-based:
// the first entry appended to an empty ledger carries Seq == 0, matching
// entry.seq == len(ledger) (§4.7(i)).
func (l *Ledger) Append(subjectID, scope string, rohAfter float32, decision, timestampUTC string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := GenesisHexstamp
	if l.seq > 0 {
		prev = l.last.Hexstamp
	}
	seq := l.seq

	c := canonical{
		Seq:          seq,
		PrevHexstamp: prev,
		SubjectID:    subjectID,
		Scope:        scope,
		RohAfter:     rohAfter,
		Decision:     decision,
		TimestampUTC: timestampUTC,
	}
	hexstamp, err := hashCanonical(c)
	if err != nil {
		return Entry{}, &sverr.LedgerBroken{Reason: fmt.Sprintf("hashing entry: %v", err)}
	}

	entry := Entry{
		Seq:          seq,
		PrevHexstamp: prev,
		SubjectID:    subjectID,
		Scope:        scope,
		RohAfter:     rohAfter,
		Decision:     decision,
		TimestampUTC: timestampUTC,
		Hexstamp:     hexstamp,
	}

	if err := l.sink.AppendEntry(entry); err != nil {
		return Entry{}, &sverr.LedgerBroken{Reason: fmt.Sprintf("persisting entry: %v", err)}
	}

	l.last = entry
	l.seq = seq + 1
	return entry, nil
}

// Len returns the number of entries appended so far.
func (l *Ledger) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

func hashCanonical(c canonical) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// ValidateChain recomputes every hash in entries and confirms sequencing,
// prev-hash linkage, and monotone non-relaxation of RoH all hold. It is
// run once at Open and may also be run by an operator tool to audit a
// ledger file offline.
func ValidateChain(entries []Entry) error {
	var prevRoh float32
	prevHex := GenesisHexstamp
	for i, e := range entries {
		if e.Seq != uint64(i) {
			return &sverr.LedgerBroken{Reason: fmt.Sprintf("entry %d has seq %d, want %d", i, e.Seq, i)}
		}
		if e.PrevHexstamp != prevHex {
			return &sverr.LedgerBroken{Reason: fmt.Sprintf("entry %d prev_hexstamp mismatch", i)}
		}

		c := canonical{
			Seq:          e.Seq,
			PrevHexstamp: e.PrevHexstamp,
			SubjectID:    e.SubjectID,
			Scope:        e.Scope,
			RohAfter:     e.RohAfter,
			Decision:     e.Decision,
			TimestampUTC: e.TimestampUTC,
		}
		want, err := hashCanonical(c)
		if err != nil {
			return &sverr.LedgerBroken{Reason: fmt.Sprintf("entry %d: %v", i, err)}
		}
		if want != e.Hexstamp {
			return &sverr.LedgerBroken{Reason: fmt.Sprintf("entry %d hexstamp does not match its own contents", i)}
		}

		if i > 0 && e.RohAfter > prevRoh+(1.0/(1<<23)) {
			return &sverr.LedgerBroken{Reason: fmt.Sprintf("entry %d relaxes roh_after from %v to %v", i, prevRoh, e.RohAfter)}
		}

		prevHex = e.Hexstamp
		prevRoh = e.RohAfter
	}
	return nil
}
