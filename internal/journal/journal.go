// Package journal implements the append-only crash-recovery log of
// spec.md §6: every domain event (order admission, fill, pair
// open/close, liquidation, ADL, funding tick) is appended before it is
// considered durable, so a restart can replay state from the last
// Pebble snapshot forward.
//
// Grounded on pkg/storage/wal.go's FileWAL: a mutex-guarded *os.File
// opened O_APPEND, written line-by-line. The teacher's WAL carried
// gob-encoded consensus.View values (pkg/storage/codec.go) tied to the
// dropped consensus layer; this package keeps the same append shape but
// switches the payload to JSON-lines domain events, since there is no
// consensus.View here to encode.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/memeperp/engine/internal/types"
)

// Kind identifies the type of a journal Record.
type Kind string

const (
	KindOrderAdmitted Kind = "order_admitted"
	KindFill          Kind = "fill"
	KindPairOpened    Kind = "pair_opened"
	KindPairClosed    Kind = "pair_closed"
	KindLiquidation   Kind = "liquidation"
	KindADL           Kind = "adl"
	KindFunding       Kind = "funding"
	KindCancel        Kind = "cancel"
)

// Record is one journal entry. Payload is kind-specific and left as
// encoding/json.RawMessage-compatible any so every domain package can
// journal its own event shape without this package knowing about them.
type Record struct {
	Seq     uint64          `json:"seq"`
	Kind    Kind            `json:"kind"`
	Market  string          `json:"market,omitempty"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// Writer appends records and assigns them a monotonic sequence number.
type Writer interface {
	Append(kind Kind, market string, at time.Time, payload any) (uint64, error)
	Close() error
}

// FileWriter is the production Writer: append-only, fsync'd on every
// write so a crash between append and the next Pebble snapshot never
// loses a record (spec.md §6: "journal is the source of truth; Pebble
// accelerates snapshot recovery").
type FileWriter struct {
	mu  sync.Mutex
	f   *os.File
	seq uint64
}

// NewFileWriter opens (creating if absent) the journal file at path for
// appending.
func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &FileWriter{f: f}, nil
}

// Append writes one record and returns its assigned sequence number.
func (w *FileWriter) Append(kind Kind, market string, at time.Time, payload any) (uint64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal journal payload: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq++
	rec := Record{Seq: w.seq, Kind: kind, Market: market, At: at, Payload: raw}

	line, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal journal record: %w", err)
	}
	if _, err := w.f.Write(append(line, '\n')); err != nil {
		return 0, fmt.Errorf("append journal record: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return 0, fmt.Errorf("sync journal: %w", err)
	}
	return rec.Seq, nil
}

// Close closes the underlying file.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// NopWriter discards every record; used in tests where replay durability
// does not matter.
type NopWriter struct{ seq uint64 }

// NewNopWriter builds a no-op Writer.
func NewNopWriter() *NopWriter { return &NopWriter{} }

func (w *NopWriter) Append(_ Kind, _ string, _ time.Time, _ any) (uint64, error) {
	w.seq++
	return w.seq, nil
}
func (w *NopWriter) Close() error { return nil }

// OrderAdmittedPayload is KindOrderAdmitted's payload.
type OrderAdmittedPayload struct {
	OrderID string        `json:"order_id"`
	Trader  types.Address `json:"trader"`
	Side    types.Side    `json:"side"`
	Size    types.Lots    `json:"size"`
	Price   types.Ticks   `json:"price"`
}

// FillPayload is KindFill's payload.
type FillPayload struct {
	TakerOrder string        `json:"taker_order"`
	MakerOrder string        `json:"maker_order"`
	Taker      types.Address `json:"taker"`
	Maker      types.Address `json:"maker"`
	Price      types.Ticks   `json:"price"`
	Size       types.Lots    `json:"size"`
	PairID     string        `json:"pair_id"`
}

// LiquidationPayload is KindLiquidation's payload.
type LiquidationPayload struct {
	PairID  string        `json:"pair_id"`
	Side    types.Side    `json:"side"`
	Mark    types.Ticks   `json:"mark"`
	Debited types.Micros  `json:"debited"`
	Drawn   types.Micros  `json:"insurance_drawn"`
}

// Reader replays records from a journal file in order, used at boot to
// rebuild state past the last Pebble snapshot.
type Reader struct {
	f *os.File
	d *json.Decoder
}

// NewReader opens path for sequential replay.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &Reader{f: f, d: json.NewDecoder(f)}, nil
}

// Next decodes the next record, or returns (nil, io.EOF) at end of file.
func (r *Reader) Next() (*Record, error) {
	var rec Record
	if err := r.d.Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.f.Close() }
