package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/danmuck/drawctl/internal/protocol"
	"github.com/danmuck/drawctl/internal/testutil/testlog"
)

// fakePeer records sent frames and can hand them to a reply hook.
type fakePeer struct {
	addr    string
	sendErr error
	closed  atomic.Bool
	onSend  func([]byte)

	mu   sync.Mutex
	sent [][]byte
}

func newFakePeer(addr string) *fakePeer {
	return &fakePeer{addr: addr}
}

func (p *fakePeer) Send(payload []byte) error {
	if p.sendErr != nil {
		return p.sendErr
	}
	p.mu.Lock()
	p.sent = append(p.sent, append([]byte(nil), payload...))
	hook := p.onSend
	p.mu.Unlock()
	if hook != nil {
		hook(payload)
	}
	return nil
}

func (p *fakePeer) Open() bool         { return !p.closed.Load() }
func (p *fakePeer) RemoteAddr() string { return p.addr }
func (p *fakePeer) Close() error {
	p.closed.Store(true)
	return nil
}

func (p *fakePeer) frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.sent...)
}

func TestRegistryLastConnectWins(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	if r.IsConnected() || r.Client() != nil {
		t.Fatalf("expected empty registry")
	}

	a, b := newFakePeer("a"), newFakePeer("b")
	r.SetClient(a)
	r.SetClient(b)
	if r.Client() != b {
		t.Fatalf("expected newest peer registered")
	}
	if a.closed.Load() {
		t.Fatalf("superseded peer should not be closed by the registry")
	}

	if r.ClearClient(a) {
		t.Fatalf("stale peer cleared the slot")
	}
	if r.Client() != b {
		t.Fatalf("stale clear evicted newer peer")
	}
	if !r.ClearClient(b) {
		t.Fatalf("expected current peer to clear")
	}
	if r.ClearClient(b) {
		t.Fatalf("expected second clear to be a no-op")
	}
	if r.IsConnected() {
		t.Fatalf("expected disconnected after clear")
	}
}

func TestRegistryIsConnectedRequiresOpenPeer(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	p := newFakePeer("a")
	r.SetClient(p)
	if !r.IsConnected() {
		t.Fatalf("expected connected")
	}
	_ = p.Close()
	if r.IsConnected() {
		t.Fatalf("closed peer reported connected")
	}
	if r.Send("x") {
		t.Fatalf("send to closed peer should fail")
	}
}

func TestRegistrySendEncodings(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	if r.Send([]byte("x")) {
		t.Fatalf("send without peer should fail")
	}

	p := newFakePeer("a")
	r.SetClient(p)
	if !r.Send([]byte(`{"raw":1}`)) || !r.Send(`{"str":2}`) || !r.Send(map[string]int{"obj": 3}) {
		t.Fatalf("expected sends to succeed")
	}
	frames := p.frames()
	want := []string{`{"raw":1}`, `{"str":2}`, `{"obj":3}`}
	for i, w := range want {
		if string(frames[i]) != w {
			t.Fatalf("frame %d: got %s want %s", i, frames[i], w)
		}
	}

	if r.Send(func() {}) {
		t.Fatalf("unencodable payload should fail")
	}

	p.sendErr = errors.New("broken pipe")
	if r.Send("x") {
		t.Fatalf("write error should report false")
	}
}

func TestRegistrySnapshotAndHello(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	if info := r.Snapshot(); info.Connected {
		t.Fatalf("expected empty snapshot, got %+v", info)
	}

	a, b := newFakePeer("10.0.0.1:5000"), newFakePeer("10.0.0.2:5000")
	r.SetClient(a)
	if !r.NoteHello(a, protocol.Hello{SessionID: "s1", Filename: "arch.drawio"}) {
		t.Fatalf("expected hello accepted for current peer")
	}
	info := r.Snapshot()
	if !info.Connected || info.RemoteAddr != "10.0.0.1:5000" || info.Filename != "arch.drawio" || info.ConnectedAt.IsZero() {
		t.Fatalf("unexpected snapshot: %+v", info)
	}

	r.SetClient(b)
	if r.NoteHello(a, protocol.Hello{SessionID: "stale"}) {
		t.Fatalf("stale peer hello accepted")
	}
	if info := r.Snapshot(); info.SessionID != "" || info.RemoteAddr != "10.0.0.2:5000" {
		t.Fatalf("hello leaked across peers: %+v", info)
	}

	data, err := json.Marshal(r.Snapshot())
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if decoded["connected"] != true {
		t.Fatalf("unexpected snapshot json: %s", data)
	}
}
