// Package evolvelog implements the evolve stream: a line-delimited JSON
// append log of every evolution proposal the orchestrator has seen,
// independent of the donutloop audit chain. Where donutloop commits to
// decisions via hashing, the evolve stream is a flat, greppable record
// intended for offline replay and debugging.
package evolvelog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hexen-unified/sovereigntycore/internal/neurorights"
	"github.com/hexen-unified/sovereigntycore/internal/sverr"
)

// EffectBounds is the spec's own wire shape for a proposal's physical
// effect: the L2 norm of the delta it applies, and whether that delta
// can be undone. This is distinct from neurorights.EffectBounds, which
// is the richer ambient shape the neurorights guard checks against
// per-scope ceilings.
type EffectBounds struct {
	L2DeltaNorm  float32 `json:"l2_delta_norm"`
	Irreversible bool    `json:"irreversible"`
}

// Record is one line of the evolve stream: the wire form of
// EvolutionProposalRecord (§6). Encoding must produce exactly one
// LF-terminated JSON object per record, no BOM, RFC3339 UTC timestamps.
type Record struct {
	ProposalID string
	SubjectID  string
	Scope      string

	Kind       string
	Module     string
	UpdateKind string

	Effect EffectBounds

	RohBefore float32
	RohAfter  float32
	TsafeMode string

	SignerRoles []string
	TokenKind   neurorights.TokenKind

	Decision     string
	HexStamp     string
	TimestampUTC string
}

// wireRecord is Record's JSON shape, with field names and ordering
// fixed by §6's "Fields exactly" list. It exists because TokenKind
// encodes to its lowercase wire string rather than Go's default integer
// form.
type wireRecord struct {
	ProposalID   string       `json:"proposalid"`
	SubjectID    string       `json:"subjectid"`
	Scope        string       `json:"scope"`
	Kind         string       `json:"kind"`
	Module       string       `json:"module"`
	UpdateKind   string       `json:"updatekind"`
	Effect       EffectBounds `json:"effectbounds"`
	RohBefore    float32      `json:"roh_before"`
	RohAfter     float32      `json:"roh_after"`
	TsafeMode    string       `json:"tsafe_mode"`
	SignerRoles  []string     `json:"signer_roles"`
	TokenKind    string       `json:"tokenkind"`
	Decision     string       `json:"decision"`
	HexStamp     string       `json:"hexstamp"`
	TimestampUTC string       `json:"timestamp_utc"`
}

func (r Record) toWire() wireRecord {
	signerRoles := make([]string, len(r.SignerRoles))
	copy(signerRoles, r.SignerRoles)
	return wireRecord{
		ProposalID:   r.ProposalID,
		SubjectID:    r.SubjectID,
		Scope:        r.Scope,
		Kind:         r.Kind,
		Module:       r.Module,
		UpdateKind:   r.UpdateKind,
		Effect:       r.Effect,
		RohBefore:    r.RohBefore,
		RohAfter:     r.RohAfter,
		TsafeMode:    r.TsafeMode,
		SignerRoles:  signerRoles,
		TokenKind:    r.TokenKind.String(),
		Decision:     r.Decision,
		HexStamp:     r.HexStamp,
		TimestampUTC: r.TimestampUTC,
	}
}

func tokenKindFromWire(s string) (neurorights.TokenKind, error) {
	switch s {
	case "smart":
		return neurorights.TokenSmart, nil
	case "evolve":
		return neurorights.TokenEvolve, nil
	default:
		return 0, fmt.Errorf("unknown token_kind %q", s)
	}
}

func (w wireRecord) toRecord() (Record, error) {
	kind, err := tokenKindFromWire(w.TokenKind)
	if err != nil {
		return Record{}, err
	}
	signerRoles := make([]string, len(w.SignerRoles))
	copy(signerRoles, w.SignerRoles)
	return Record{
		ProposalID:   w.ProposalID,
		SubjectID:    w.SubjectID,
		Scope:        w.Scope,
		Kind:         w.Kind,
		Module:       w.Module,
		UpdateKind:   w.UpdateKind,
		Effect:       w.Effect,
		RohBefore:    w.RohBefore,
		RohAfter:     w.RohAfter,
		TsafeMode:    w.TsafeMode,
		SignerRoles:  signerRoles,
		TokenKind:    kind,
		Decision:     w.Decision,
		HexStamp:     w.HexStamp,
		TimestampUTC: w.TimestampUTC,
	}, nil
}

// Writer appends Records to the evolve stream.
type Writer interface {
	WriteRecord(Record) error
}

// Reader replays Records from the evolve stream in append order.
type Reader interface {
	ReadRecords() ([]Record, error)
}

// JSONLLog is a Writer backed by an io.Writer, mirroring the
// line-delimited JSON contract used across the rest of the stack's
// file-based sinks. Reading the stream back is done by the package-level
// ReadRecords function.
type JSONLLog struct {
	w io.Writer
}

// NewJSONLWriter wraps w for appending. Callers own w's lifecycle (opening
// in append mode, flushing, closing).
func NewJSONLWriter(w io.Writer) *JSONLLog {
	return &JSONLLog{w: w}
}

// WriteRecord marshals rec and appends a single LF-terminated line.
func (j *JSONLLog) WriteRecord(rec Record) error {
	b, err := json.Marshal(rec.toWire())
	if err != nil {
		return &sverr.TransportFailure{Op: "evolvelog.WriteRecord", Err: err}
	}
	b = append(b, '\n')
	if _, err := j.w.Write(b); err != nil {
		return &sverr.TransportFailure{Op: "evolvelog.WriteRecord", Err: err}
	}
	return nil
}

// ReadRecords reads newline-delimited JSON records from r until EOF.
func ReadRecords(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var out []Record
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var w wireRecord
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, &sverr.CorruptLog{Line: line, Err: err}
		}
		rec, err := w.toRecord()
		if err != nil {
			return nil, &sverr.CorruptLog{Line: line, Err: err}
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, &sverr.TransportFailure{Op: "evolvelog.ReadRecords", Err: err}
	}
	return out, nil
}
