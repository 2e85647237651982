package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultBuffer = 256

// Recorder writes entries to a Sink on a background goroutine. Record
// never blocks; when the buffer is full the entry is dropped.
type Recorder struct {
	sink    Sink
	entries chan Entry
	done    chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

func NewRecorder(sink Sink, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	r := &Recorder{
		sink:    sink,
		entries: make(chan Entry, buffer),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) Record(e Entry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.entries <- e:
		return true
	default:
		n := r.dropped.Add(1)
		log.Warn().Str("command_id", e.CommandID).Uint64("dropped", n).Msg("journal.entry_dropped")
		return false
	}
}

// Dropped reports how many entries overflowed the buffer.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close flushes buffered entries and closes the sink.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	close(r.entries)
	r.mu.Unlock()

	<-r.done
	return r.sink.Close()
}

func (r *Recorder) loop() {
	defer close(r.done)
	for e := range r.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.sink.Record(ctx, e); err != nil {
			log.Warn().Err(err).Str("command_id", e.CommandID).Msg("journal.record_failed")
		}
		cancel()
	}
}
