package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/drawctl/internal/testutil/testlog"
)

func sampleEntries() []Entry {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []Entry{
		{CommandID: "c1", Action: "execute_script", Outcome: "ok", StartedAt: base, Duration: 20 * time.Millisecond},
		{CommandID: "c2", Action: "execute_script", Outcome: "timeout", Error: "Command timeout", StartedAt: base.Add(time.Second), Duration: 30 * time.Second},
		{CommandID: "c3", Action: "execute_script", Outcome: "agent_error", Error: "Script error: boom", StartedAt: base.Add(2 * time.Second), Duration: 5 * time.Millisecond},
	}
}

type queryableSink interface {
	Sink
	Reader
}

func exerciseQueryable(t *testing.T, sink queryableSink) {
	t.Helper()
	ctx := context.Background()
	for _, e := range sampleEntries() {
		if err := sink.Record(ctx, e); err != nil {
			t.Fatalf("record %s: %v", e.CommandID, err)
		}
	}

	got, err := sink.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].CommandID != "c3" || got[1].CommandID != "c2" {
		t.Fatalf("expected newest first, got %s,%s", got[0].CommandID, got[1].CommandID)
	}
	if got[1].Error != "Command timeout" || got[1].Duration != 30*time.Second {
		t.Fatalf("unexpected entry: %+v", got[1])
	}
	if !got[1].StartedAt.Equal(sampleEntries()[1].StartedAt) {
		t.Fatalf("started_at mismatch: %v", got[1].StartedAt)
	}

	none, err := sink.Recent(ctx, 0)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty recent for limit 0, got %v err=%v", none, err)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	testlog.Start(t)
	sink, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer sink.Close()
	exerciseQueryable(t, sink)
}

func TestBoltRoundTrip(t *testing.T) {
	testlog.Start(t)
	sink, err := OpenBolt(filepath.Join(t.TempDir(), "journal.bolt"))
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	defer sink.Close()
	exerciseQueryable(t, sink)
}

func TestPostgresRoundTrip(t *testing.T) {
	testlog.Start(t)
	dsn := os.Getenv("DRAWCTL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DRAWCTL_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	sink, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer sink.Close()
	if _, err := sink.pool.Exec(ctx, `TRUNCATE drawctl_commands`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	exerciseQueryable(t, sink)
}

func TestRedisPublish(t *testing.T) {
	testlog.Start(t)
	addr := os.Getenv("DRAWCTL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DRAWCTL_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sink, err := OpenRedis(ctx, addr, "drawctl:test:"+t.Name())
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	defer sink.Close()

	entries, err := sink.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	want := sampleEntries()[0]
	if err := sink.Record(ctx, want); err != nil {
		t.Fatalf("record: %v", err)
	}
	select {
	case got := <-entries:
		if got.CommandID != want.CommandID || got.Outcome != want.Outcome {
			t.Fatalf("unexpected entry: %+v", got)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for published entry")
	}
}

func TestOpenKinds(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()

	sink, err := Open(ctx, Config{Kind: "none"})
	if err != nil || sink != nil {
		t.Fatalf("expected nil sink for none, got %v err=%v", sink, err)
	}
	if _, err := Open(ctx, Config{Kind: "kafka"}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	for _, kind := range []string{KindSQLite, KindBolt, KindPostgres, KindRedis} {
		if _, err := Open(ctx, Config{Kind: kind}); !errors.Is(err, ErrMissingTarget) {
			t.Fatalf("kind=%s expected ErrMissingTarget, got %v", kind, err)
		}
	}

	sink, err = Open(ctx, Config{Kind: "SQLite", Path: filepath.Join(t.TempDir(), "j.db")})
	if err != nil {
		t.Fatalf("open sqlite via config: %v", err)
	}
	defer sink.Close()
	if _, ok := sink.(Reader); !ok {
		t.Fatalf("sqlite sink should be a Reader")
	}
}

type memorySink struct {
	mu      sync.Mutex
	entries []Entry
	closed  bool
	block   chan struct{}
}

func (m *memorySink) Record(_ context.Context, e Entry) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memorySink) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, limit)
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

func TestRecorderFlushesOnClose(t *testing.T) {
	testlog.Start(t)
	sink := &memorySink{}
	rec := NewRecorder(sink, 8)
	for _, e := range sampleEntries() {
		if !rec.Record(e) {
			t.Fatalf("record %s rejected", e.CommandID)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(sink.entries) != 3 || !sink.closed {
		t.Fatalf("expected 3 flushed entries and closed sink, got %d closed=%v", len(sink.entries), sink.closed)
	}
	if rec.Record(sampleEntries()[0]) {
		t.Fatalf("record after close should be rejected")
	}
	if err := rec.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on second close, got %v", err)
	}
}

func TestRecorderDropsOnOverflow(t *testing.T) {
	testlog.Start(t)
	sink := &memorySink{block: make(chan struct{})}
	rec := NewRecorder(sink, 1)

	// The worker takes the first entry and blocks; the second fills the buffer.
	rec.Record(Entry{CommandID: "a"})
	deadline := time.Now().Add(2 * time.Second)
	for len(rec.entries) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !rec.Record(Entry{CommandID: "b"}) {
		t.Fatalf("expected buffered record to be accepted")
	}
	if rec.Record(Entry{CommandID: "c"}) {
		t.Fatalf("expected overflow to drop")
	}
	if rec.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", rec.Dropped())
	}
	close(sink.block)
	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(sink.entries) != 2 {
		t.Fatalf("expected 2 recorded entries, got %d", len(sink.entries))
	}
}

func TestMultiFansOut(t *testing.T) {
	testlog.Start(t)
	a, b := &memorySink{}, &memorySink{}
	m := Multi{a, b}
	if err := m.Record(context.Background(), sampleEntries()[0]); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(a.entries) != 1 || len(b.entries) != 1 {
		t.Fatalf("expected fan-out to both sinks")
	}
	got, err := m.Recent(context.Background(), 5)
	if err != nil || len(got) != 1 {
		t.Fatalf("unexpected recent: %v err=%v", got, err)
	}
	if err := m.Close(); err != nil || !a.closed || !b.closed {
		t.Fatalf("expected both sinks closed, err=%v", err)
	}
}

func TestOpenAllCombinesSinks(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	dir := t.TempDir()

	sink, err := OpenAll(ctx, DefaultConfig(), Config{Kind: KindNone})
	if err != nil || sink != nil {
		t.Fatalf("expected no sink, got %v err=%v", sink, err)
	}

	sink, err = OpenAll(ctx, DefaultConfig(), Config{Kind: KindBolt, Path: filepath.Join(dir, "one.bolt")})
	if err != nil {
		t.Fatalf("open single: %v", err)
	}
	if _, ok := sink.(Multi); ok {
		t.Fatalf("single sink should not be wrapped")
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close single: %v", err)
	}

	sink, err = OpenAll(ctx,
		Config{Kind: KindSQLite, Path: filepath.Join(dir, "journal.db")},
		Config{Kind: KindBolt, Path: filepath.Join(dir, "mirror.bolt")},
	)
	if err != nil {
		t.Fatalf("open pair: %v", err)
	}
	multi, ok := sink.(Multi)
	if !ok || len(multi) != 2 {
		t.Fatalf("expected two-member Multi, got %T", sink)
	}
	for _, e := range sampleEntries() {
		if err := multi.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	got, err := multi.Recent(ctx, 10)
	if err != nil || len(got) != len(sampleEntries()) {
		t.Fatalf("unexpected recent: %v err=%v", got, err)
	}
	mirrored, err := multi[1].(Reader).Recent(ctx, 10)
	if err != nil || len(mirrored) != len(sampleEntries()) {
		t.Fatalf("mirror missed entries: %v err=%v", mirrored, err)
	}
	if err := multi.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := OpenAll(ctx,
		Config{Kind: KindBolt, Path: filepath.Join(dir, "ok.bolt")},
		Config{Kind: KindSQLite},
	); !errors.Is(err, ErrMissingTarget) {
		t.Fatalf("expected ErrMissingTarget, got %v", err)
	}
	reopened, err := OpenBolt(filepath.Join(dir, "ok.bolt"))
	if err != nil {
		t.Fatalf("bolt file still locked after failed OpenAll: %v", err)
	}
	_ = reopened.Close()
}
