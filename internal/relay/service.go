package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/drawctl/internal/auth"
	"github.com/danmuck/drawctl/internal/discovery"
	"github.com/danmuck/drawctl/internal/journal"
	"github.com/danmuck/drawctl/internal/observability"
	"github.com/danmuck/drawctl/internal/protocol"
	"github.com/danmuck/drawctl/internal/protocol/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const defaultRecentReports = 128

// Relay listener and dispatch configuration.
type ServiceConfig struct {
	ListenHost     string
	Port           int
	CommandTimeout time.Duration
	// AgentToken, when set, is required on the agent upgrade request.
	AgentToken    string
	CORSOrigins   []string
	MDNSEnabled   bool
	MDNSInstance  string
	RecentReports int
	ShutdownGrace time.Duration
	Session       session.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenHost:     "0.0.0.0",
		Port:           3000,
		CommandTimeout: DefaultCommandTimeout,
		CORSOrigins:    []string{"*"},
		RecentReports:  defaultRecentReports,
		ShutdownGrace:  5 * time.Second,
		Session:        session.DefaultConfig(),
	}
}

// ListenAddr is host:port for the configured bind.
func (c ServiceConfig) ListenAddr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.Port))
}

// Health is the /health body.
type Health struct {
	Status          string `json:"status"`
	WSConnected     bool   `json:"wsConnected"`
	PendingCommands int    `json:"pendingCommands"`
}

// Service owns the ledger, registry and dispatcher of one relay and
// serves the agent websocket and HTTP surface.
type Service struct {
	cfg        ServiceConfig
	ledger     *Ledger
	registry   *Registry
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	validator  auth.Validator
	router     *gin.Engine
	startedAt  time.Time

	mu       sync.Mutex
	server   *http.Server
	addr     net.Addr
	advert   *discovery.Advertisement
	recorder *journal.Recorder
	reader   journal.Reader
	stopped  bool
	stopOnce sync.Once
	stopErr  error

	peersMu sync.Mutex
	peers   map[*wsPeer]struct{}

	reportsMu sync.Mutex
	reports   []CommandReport
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	defaults := DefaultServiceConfig()
	if strings.TrimSpace(cfg.ListenHost) == "" {
		cfg.ListenHost = defaults.ListenHost
	}
	if cfg.Port < 0 {
		cfg.Port = defaults.Port
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaults.CommandTimeout
	}
	if cfg.RecentReports <= 0 {
		cfg.RecentReports = defaults.RecentReports
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaults.ShutdownGrace
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = defaults.CORSOrigins
	}
	cfg.Session = cfg.Session.WithDefaults()

	ledger := NewLedger()
	registry := NewRegistry()
	s := &Service{
		cfg:        cfg,
		ledger:     ledger,
		registry:   registry,
		dispatcher: NewDispatcher(ledger, registry, cfg.CommandTimeout),
		startedAt:  time.Now(),
		peers:      make(map[*wsPeer]struct{}),
	}
	if token := strings.TrimSpace(cfg.AgentToken); token != "" {
		s.validator = auth.StaticToken{Token: token}
	}
	s.upgrader = s.newUpgrader()
	s.dispatcher.SetObserver(ObserverFunc(s.commandFinished))
	s.router = s.newRouter()
	return s
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

func (s *Service) Ledger() *Ledger {
	return s.ledger
}

func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Handler exposes the HTTP surface, including the websocket upgrade.
func (s *Service) Handler() http.Handler {
	return s.router
}

// SendCommand forwards to the dispatcher.
func (s *Service) SendCommand(ctx context.Context, action string, params map[string]any) protocol.Result {
	return s.dispatcher.SendCommand(ctx, action, params)
}

func (s *Service) Health() Health {
	pending := s.ledger.Size()
	observability.SetCommandsPending(pending)
	return Health{
		Status:          "ok",
		WSConnected:     s.registry.IsConnected(),
		PendingCommands: pending,
	}
}

// SetJournal attaches a sink that receives every command report. It must
// be called before the service starts.
func (s *Service) SetJournal(sink journal.Sink) {
	if sink == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = journal.NewRecorder(sink, journal.DefaultBuffer)
	if r, ok := sink.(journal.Reader); ok {
		s.reader = r
	}
}

// Addr is the bound listener address, or nil before Start.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run listens and serves until SIGINT/SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Start binds the listener and serves in the background until ctx is done
// or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	go func() {
		if err := s.Serve(ctx, ln); err != nil {
			log.Error().Err(err).Msg("relay.serve_failed")
		}
	}()
	return nil
}

// Listen binds TCP, or TLS when the session policy enables it.
func (s *Service) Listen() (net.Listener, error) {
	if err := s.cfg.Session.ValidateServerTransport(); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.cfg.ListenAddr(), err)
	}
	tlsCfg, err := s.cfg.Session.ServerTLSConfig()
	if err != nil {
		ln.Close()
		return nil, err
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	return ln, nil
}

// Serve serves ln until ctx is done or Stop is called.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		ln.Close()
		return ErrServiceRunning
	}
	if s.stopped {
		s.mu.Unlock()
		ln.Close()
		return ErrServiceNotRunning
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.server = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	log.Info().
		Str("addr", ln.Addr().String()).
		Dur("command_timeout", s.dispatcher.Timeout()).
		Bool("tls", s.cfg.Session.TLS.Enabled).
		Msg("relay.listening")

	if s.cfg.MDNSEnabled {
		s.advertise(ln.Addr())
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
		defer cancel()
		return s.Stop(stopCtx)
	}
}

func (s *Service) advertise(addr net.Addr) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return
	}
	txt := []string{"path=/ws", "tls=" + strconv.FormatBool(s.cfg.Session.TLS.Enabled)}
	advert, err := discovery.Advertise(s.cfg.MDNSInstance, tcp.Port, txt)
	if err != nil {
		log.Warn().Err(err).Msg("relay.mdns_failed")
		return
	}
	s.mu.Lock()
	s.advert = advert
	s.mu.Unlock()
}

// Stop resolves every pending command with a shutdown failure, closes
// agent connections and shuts the HTTP server down. It is idempotent.
func (s *Service) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		srv := s.server
		advert := s.advert
		recorder := s.recorder
		s.mu.Unlock()

		advert.Shutdown()
		// Callers blocked in POST /commands hold their HTTP connection
		// open, so they are released before the server waits on them.
		s.closePeers()
		drained := s.ledger.Drain(protocol.Failure(MsgShuttingDown))
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.stopErr = err
			}
		}
		drained += s.ledger.Drain(protocol.Failure(MsgShuttingDown))
		if drained > 0 {
			log.Warn().Int("pending", drained).Msg("relay.pending_drained")
		}
		observability.SetCommandsPending(0)
		observability.SetPeerConnected(false)
		if recorder != nil {
			if err := recorder.Close(); err != nil && s.stopErr == nil {
				s.stopErr = err
			}
		}
		log.Info().Msg("relay.stopped")
	})
	return s.stopErr
}

func (s *Service) trackPeer(p *wsPeer) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	s.peers[p] = struct{}{}
}

func (s *Service) untrackPeer(p *wsPeer) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	delete(s.peers, p)
}

func (s *Service) closePeers() {
	s.peersMu.Lock()
	peers := make([]*wsPeer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.peersMu.Unlock()
	for _, p := range peers {
		_ = p.Close()
	}
}

func (s *Service) commandFinished(r CommandReport) {
	observability.RecordCommand(r.Action, r.Outcome, r.Duration)
	observability.SetCommandsPending(s.ledger.Size())

	event := log.Info()
	if r.Outcome != OutcomeOK {
		event = log.Warn()
	}
	event.
		Str("command_id", r.CommandID).
		Str("action", r.Action).
		Str("outcome", r.Outcome).
		Dur("duration", r.Duration).
		Msg("relay.command_finished")

	s.reportsMu.Lock()
	s.reports = append(s.reports, r)
	if over := len(s.reports) - s.cfg.RecentReports; over > 0 {
		s.reports = append([]CommandReport(nil), s.reports[over:]...)
	}
	s.reportsMu.Unlock()

	s.mu.Lock()
	recorder := s.recorder
	s.mu.Unlock()
	if recorder != nil {
		recorder.Record(journal.Entry{
			CommandID: r.CommandID,
			Action:    r.Action,
			Outcome:   r.Outcome,
			Error:     r.Error,
			StartedAt: r.StartedAt,
			Duration:  r.Duration,
		})
	}
}

// RecentReports returns up to limit finished commands, newest first.
func (s *Service) RecentReports(limit int) []CommandReport {
	s.reportsMu.Lock()
	defer s.reportsMu.Unlock()
	if limit <= 0 || limit > len(s.reports) {
		limit = len(s.reports)
	}
	out := make([]CommandReport, 0, limit)
	for i := len(s.reports) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.reports[i])
	}
	return out
}

// JournalRecent reads persisted reports when the journal sink is queryable.
func (s *Service) JournalRecent(ctx context.Context, limit int) ([]journal.Entry, bool, error) {
	s.mu.Lock()
	reader := s.reader
	s.mu.Unlock()
	if reader == nil {
		return nil, false, nil
	}
	entries, err := reader.Recent(ctx, limit)
	return entries, true, err
}
