package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
)

const genesisHash = "genesis"

// Entry is one accepted call, hash-chained to its predecessor.
type Entry struct {
	Sequence    uint64    `json:"sequence"`
	Call        string    `json:"call"`
	Args        []any     `json:"args"`
	From        string    `json:"from,omitempty"`
	AssignedID  uint64    `json:"assigned_id,omitempty"`
	ContentHash string    `json:"content_hash"`
	PrevHash    string    `json:"prev_hash"`
	Timestamp   time.Time `json:"timestamp"`
}

// TxHandle returns the handle Write reported for this entry.
func (e Entry) TxHandle() TxHandle {
	return TxHandle("0x" + e.ContentHash)
}

// Ledger is an append-only in-process chain. It stands in for the deployed
// contract: every Write appends an entry and returns its content hash as the
// transaction handle. Create-style calls are assigned sequential ids per call
// name, the way the contract's counters do.
type Ledger struct {
	mu       sync.RWMutex
	entries  []Entry
	byTx     map[TxHandle]int
	counters map[string]uint64
	headHash string
	clock    func() time.Time
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		entries:  make([]Entry, 0),
		byTx:     make(map[TxHandle]int),
		counters: make(map[string]uint64),
		headHash: genesisHash,
		clock:    time.Now,
	}
}

// WithClock overrides clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Write appends call to the ledger.
func (l *Ledger) Write(ctx context.Context, call Call) (TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if call.Name == "" {
		return "", fmt.Errorf("chain: call name is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq := uint64(len(l.entries)) + 1
	var assigned uint64
	if isCreate(call.Name) {
		l.counters[call.Name]++
		assigned = l.counters[call.Name]
	}

	contentHash, err := entryHash(seq, call.Name, call.Args, l.headHash)
	if err != nil {
		return "", err
	}

	entry := Entry{
		Sequence:    seq,
		Call:        call.Name,
		Args:        call.Args,
		From:        call.From,
		AssignedID:  assigned,
		ContentHash: contentHash,
		PrevHash:    l.headHash,
		Timestamp:   l.clock(),
	}
	l.entries = append(l.entries, entry)
	l.byTx[entry.TxHandle()] = len(l.entries) - 1
	l.headHash = contentHash

	return entry.TxHandle(), nil
}

// Get returns the entry written under tx.
func (l *Ledger) Get(tx TxHandle) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.byTx[tx]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", tx)
	}
	entry := l.entries[i]
	return &entry, nil
}

// Entries returns a copy of all entries in append order.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Head returns the current head hash.
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Length returns the number of entries.
func (l *Ledger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Verify checks the integrity of the entire chain.
func (l *Ledger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prevHash := genesisHash
	for i, entry := range l.entries {
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PrevHash)
		}
		computed, err := entryHash(entry.Sequence, entry.Call, entry.Args, entry.PrevHash)
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d", i+1)
		}
		if computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prevHash = entry.ContentHash
	}
	return true, "chain verified"
}

func entryHash(seq uint64, call string, args []any, prev string) (string, error) {
	hashInput := struct {
		Seq      uint64 `json:"seq"`
		Call     string `json:"call"`
		Args     []any  `json:"args"`
		PrevHash string `json:"prev"`
	}{seq, call, args, prev}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize entry: %w", err)
	}
	h := sha256.Sum256(canonical)
	return hex.EncodeToString(h[:]), nil
}

func isCreate(name string) bool {
	return strings.HasPrefix(name, "create") || strings.HasPrefix(name, "add") || strings.HasPrefix(name, "record")
}
