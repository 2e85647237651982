package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/danmuck/drawctl/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Peer is one live editor agent connection.
type Peer interface {
	Send(payload []byte) error
	Open() bool
	RemoteAddr() string
	Close() error
}

// PeerInfo is the observable state of the registered peer.
type PeerInfo struct {
	Connected   bool      `json:"connected"`
	RemoteAddr  string    `json:"remoteAddr,omitempty"`
	ConnectedAt time.Time `json:"connectedAt,omitempty"`
	SessionID   string    `json:"sessionId,omitempty"`
	Filename    string    `json:"filename,omitempty"`
}

// Registry holds at most one peer. The most recent connection wins.
type Registry struct {
	mu          sync.RWMutex
	peer        Peer
	connectedAt time.Time
	hello       protocol.Hello
}

func NewRegistry() *Registry {
	return &Registry{}
}

// SetClient replaces the current peer unconditionally. The replaced
// connection is not closed; its own disconnect will not clear the new peer.
func (r *Registry) SetClient(peer Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peer = peer
	r.connectedAt = time.Now()
	r.hello = protocol.Hello{}
}

// ClearClient clears the slot only if peer is the one registered.
func (r *Registry) ClearClient(peer Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peer == nil || r.peer != peer {
		return false
	}
	r.peer = nil
	r.connectedAt = time.Time{}
	r.hello = protocol.Hello{}
	return true
}

func (r *Registry) Client() Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peer
}

func (r *Registry) IsConnected() bool {
	peer := r.Client()
	return peer != nil && peer.Open()
}

// Send writes payload to the current peer. []byte and string are sent
// unchanged; other values are JSON-encoded.
func (r *Registry) Send(payload any) bool {
	peer := r.Client()
	if peer == nil || !peer.Open() {
		return false
	}
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			log.Warn().Err(err).Msg("relay.send_encode_failed")
			return false
		}
		data = encoded
	}
	if err := peer.Send(data); err != nil {
		log.Warn().Err(err).Str("remote", peer.RemoteAddr()).Msg("relay.send_failed")
		return false
	}
	return true
}

// NoteHello records agent identification if peer is still registered.
func (r *Registry) NoteHello(peer Peer, hello protocol.Hello) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peer == nil || r.peer != peer {
		return false
	}
	r.hello = hello
	return true
}

func (r *Registry) Snapshot() PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.peer == nil {
		return PeerInfo{}
	}
	return PeerInfo{
		Connected:   r.peer.Open(),
		RemoteAddr:  r.peer.RemoteAddr(),
		ConnectedAt: r.connectedAt,
		SessionID:   r.hello.SessionID,
		Filename:    r.hello.Filename,
	}
}
