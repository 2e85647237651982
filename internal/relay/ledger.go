package relay

import (
	"strings"
	"sync"

	"github.com/danmuck/drawctl/internal/protocol"
)

// Resolver receives the terminal result of one command.
type Resolver func(protocol.Result)

// TimeoutHandle cancels a pending command's deadline. *time.Timer satisfies it.
type TimeoutHandle interface {
	Stop() bool
}

type pendingEntry struct {
	resolve Resolver
	timeout TimeoutHandle
}

// Ledger tracks commands awaiting a result. Each entry is removed exactly
// once, by Resolve, Remove, Clear or Drain, whichever comes first.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]pendingEntry
}

func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]pendingEntry)}
}

// Add registers a pending entry. timeout may be nil when the caller arms
// the deadline after registration.
func (l *Ledger) Add(id string, resolve Resolver, timeout TimeoutHandle) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidCommandID
	}
	if resolve == nil {
		return ErrNilResolver
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entries[id]; exists {
		return ErrDuplicateCommandID
	}
	l.entries[id] = pendingEntry{resolve: resolve, timeout: timeout}
	return nil
}

// Resolve completes a pending command. It returns false when the id is
// unknown or already completed; late replies land here.
func (l *Ledger) Resolve(id string, result protocol.Result) bool {
	entry, ok := l.take(id)
	if !ok {
		return false
	}
	stopTimeout(entry.timeout)
	entry.resolve(result)
	return true
}

// Remove drops a pending command without invoking its resolver.
func (l *Ledger) Remove(id string) bool {
	entry, ok := l.take(id)
	if !ok {
		return false
	}
	stopTimeout(entry.timeout)
	return true
}

func (l *Ledger) Has(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[id]
	return ok
}

func (l *Ledger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear stops every deadline and drops every entry without resolving.
func (l *Ledger) Clear() {
	for _, entry := range l.takeAll() {
		stopTimeout(entry.timeout)
	}
}

// Drain stops every deadline and resolves every entry with result.
// It returns the number of entries resolved.
func (l *Ledger) Drain(result protocol.Result) int {
	entries := l.takeAll()
	for _, entry := range entries {
		stopTimeout(entry.timeout)
		entry.resolve(result)
	}
	return len(entries)
}

func (l *Ledger) take(id string) (pendingEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[id]
	if ok {
		delete(l.entries, id)
	}
	return entry, ok
}

func (l *Ledger) takeAll() []pendingEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]pendingEntry, 0, len(l.entries))
	for id, entry := range l.entries {
		out = append(out, entry)
		delete(l.entries, id)
	}
	return out
}

func stopTimeout(h TimeoutHandle) {
	if h != nil {
		h.Stop()
	}
}
