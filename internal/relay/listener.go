package relay

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/drawctl/internal/auth"
	"github.com/danmuck/drawctl/internal/observability"
	"github.com/danmuck/drawctl/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// wsPeer adapts a websocket connection to Peer. gorilla allows one
// concurrent writer, so pings and sends share writeMu.
type wsPeer struct {
	conn         *websocket.Conn
	remote       string
	writeTimeout time.Duration

	writeMu sync.Mutex
	closed  atomic.Bool
}

func newWSPeer(conn *websocket.Conn, writeTimeout time.Duration) *wsPeer {
	return &wsPeer{
		conn:         conn,
		remote:       conn.RemoteAddr().String(),
		writeTimeout: writeTimeout,
	}
}

func (p *wsPeer) Send(payload []byte) error {
	if p.closed.Load() {
		return ErrPeerClosed
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

func (p *wsPeer) ping() error {
	if p.closed.Load() {
		return ErrPeerClosed
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.writeTimeout))
}

func (p *wsPeer) Open() bool {
	return !p.closed.Load()
}

func (p *wsPeer) RemoteAddr() string {
	return p.remote
}

func (p *wsPeer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.conn.Close()
}

func (s *Service) newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		HandshakeTimeout: s.cfg.Session.HandshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		// The editor runs under arbitrary origins (desktop app, app.diagrams.net).
		CheckOrigin: func(*http.Request) bool { return true },
	}
}

// handleUpgrade accepts one agent connection and serves it until it closes.
func (s *Service) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if err := auth.Check(s.validator, r); err != nil {
		log.Warn().Str("remote", r.RemoteAddr).Msg("relay.agent_unauthorized")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("relay.upgrade_failed")
		return
	}

	peer := newWSPeer(conn, s.cfg.Session.WriteTimeout)
	s.trackPeer(peer)
	s.registry.SetClient(peer)
	observability.RecordPeerConnected()
	log.Info().Str("remote", peer.RemoteAddr()).Msg("relay.peer_connected")

	done := make(chan struct{})
	go s.keepalive(peer, done)
	s.readLoop(peer)
	close(done)

	_ = peer.Close()
	s.untrackPeer(peer)
	if s.registry.ClearClient(peer) {
		observability.SetPeerConnected(false)
		log.Info().Str("remote", peer.RemoteAddr()).Int("pending", s.ledger.Size()).Msg("relay.peer_disconnected")
		return
	}
	log.Debug().Str("remote", peer.RemoteAddr()).Msg("relay.stale_peer_closed")
}

func (s *Service) readLoop(peer *wsPeer) {
	conn := peer.conn
	conn.SetReadLimit(s.cfg.Session.MaxMessageBytes)
	pongWait := s.cfg.Session.PongWait
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && peer.Open() {
				log.Warn().Err(err).Str("remote", peer.RemoteAddr()).Msg("relay.peer_read_failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handleInbound(peer, data)
	}
}

func (s *Service) keepalive(peer *wsPeer, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.Session.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := peer.ping(); err != nil {
				log.Debug().Err(err).Str("remote", peer.RemoteAddr()).Msg("relay.ping_failed")
				return
			}
		}
	}
}

// handleInbound routes one agent frame. Only result envelopes affect the
// ledger; malformed frames are dropped.
func (s *Service) handleInbound(peer Peer, data []byte) {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		log.Warn().Err(err).Str("remote", peer.RemoteAddr()).Int("bytes", len(data)).Msg("relay.inbound_malformed")
		return
	}
	switch {
	case env.IsResult():
		res, err := protocol.DecodeResult(env.Result)
		if err != nil {
			log.Warn().Err(err).Str("command_id", env.CommandID).Msg("relay.result_malformed")
			res = protocol.Failure(MsgMalformedResult)
		}
		if !s.ledger.Resolve(env.CommandID, res) {
			log.Debug().Str("command_id", env.CommandID).Msg("relay.result_unmatched")
		}
	case env.Type == protocol.TypeHello:
		hello := env.Hello()
		if s.registry.NoteHello(peer, hello) {
			log.Info().Str("session_id", hello.SessionID).Str("filename", hello.Filename).Msg("relay.peer_hello")
		}
	default:
		log.Debug().Str("type", env.Type).Msg("relay.inbound_ignored")
	}
}
