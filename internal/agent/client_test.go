package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/drawctl/internal/protocol"
	"github.com/danmuck/drawctl/internal/protocol/session"
	"github.com/danmuck/drawctl/internal/relay"
	"github.com/danmuck/drawctl/internal/testutil/testlog"
	"github.com/danmuck/drawctl/internal/testutil/tlstest"
)

func fastConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.Session.Backoff = session.BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     50 * time.Millisecond,
	}
	return cfg
}

func startRelay(t *testing.T, cfg relay.ServiceConfig) (*relay.Service, string) {
	t.Helper()
	svc := relay.NewServiceWithConfig(cfg)
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(func() {
		_ = svc.Stop(context.Background())
		srv.Close()
	})
	return svc, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func runClient(t *testing.T, client *Client) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("client did not stop")
		}
	})
	return done
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClientServesRelayCommands(t *testing.T) {
	testlog.Start(t)
	svc, url := startRelay(t, relay.DefaultServiceConfig())
	cfg := fastConfig(url)
	cfg.Filename = "arch.drawio"
	client, err := NewClient(cfg, EchoExecutor{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	connected := client.Connected()
	runClient(t, client)
	waitClosed(t, connected, "connect")
	waitFor(t, "hello", func() bool { return svc.Registry().Snapshot().SessionID == client.SessionID() })
	if svc.Registry().Snapshot().Filename != "arch.drawio" {
		t.Fatalf("unexpected peer info: %+v", svc.Registry().Snapshot())
	}

	res := svc.SendCommand(context.Background(), protocol.ActionExecuteScript, map[string]any{"script": "return 1+1"})
	if !res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}
	raw, ok := res.Field("result")
	if !ok {
		t.Fatalf("missing result field")
	}
	var echoed struct {
		Action string         `json:"action"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal(raw, &echoed); err != nil {
		t.Fatalf("decode echo: %v", err)
	}
	if echoed.Action != protocol.ActionExecuteScript || echoed.Params["script"] != "return 1+1" {
		t.Fatalf("unexpected echo: %+v", echoed)
	}

	res = svc.SendCommand(context.Background(), protocol.ActionExecuteScript, nil)
	if res.Success || res.Error != MsgMissingScript {
		t.Fatalf("expected missing script failure, got %+v", res)
	}
	if relay.Classify(res) != relay.OutcomeAgentError {
		t.Fatalf("agent failure classified as %s", relay.Classify(res))
	}
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	testlog.Start(t)
	svc, url := startRelay(t, relay.DefaultServiceConfig())
	client, err := NewClient(fastConfig(url), EchoExecutor{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	first := client.Connected()
	runClient(t, client)
	waitClosed(t, first, "first connect")
	waitFor(t, "registered", svc.Registry().IsConnected)

	second := client.Connected()
	peer := svc.Registry().Client()
	if err := peer.Close(); err != nil {
		t.Fatalf("close peer: %v", err)
	}
	waitClosed(t, second, "reconnect")
	waitFor(t, "new peer registered", func() bool {
		current := svc.Registry().Client()
		return current != nil && current != peer && current.Open()
	})

	res := svc.SendCommand(context.Background(), protocol.ActionExecuteScript, map[string]any{"script": "1"})
	if !res.Success {
		t.Fatalf("command after reconnect failed: %+v", res)
	}
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := fastConfig("ws://" + addr + "/ws")
	cfg.MaxAttempts = 2
	client, err := NewClient(cfg, EchoExecutor{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- client.Run(context.Background()) }()
	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "dial") {
			t.Fatalf("expected dial error, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("client kept retrying past MaxAttempts")
	}
}

func TestClientSendsToken(t *testing.T) {
	testlog.Start(t)
	rcfg := relay.DefaultServiceConfig()
	rcfg.AgentToken = "s3cret"
	svc, url := startRelay(t, rcfg)

	cfg := fastConfig(url)
	cfg.MaxAttempts = 1
	denied, err := NewClient(cfg, EchoExecutor{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := denied.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 dial failure, got %v", err)
	}

	cfg.Token = "s3cret"
	cfg.MaxAttempts = 0
	client, err := NewClient(cfg, EchoExecutor{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	connected := client.Connected()
	runClient(t, client)
	waitClosed(t, connected, "authorized connect")
	waitFor(t, "registered", svc.Registry().IsConnected)
}

func TestClientOverTLS(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "drawctl-test-ca")
	certFile, keyFile := ca.IssueLoopbackCert(t, dir)

	rcfg := relay.DefaultServiceConfig()
	rcfg.ListenHost = "127.0.0.1"
	rcfg.Port = 0
	rcfg.Session.TLS = session.TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile}
	svc := relay.NewServiceWithConfig(rcfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start relay: %v", err)
	}
	defer svc.Stop(context.Background())
	waitFor(t, "relay bound", func() bool { return svc.Addr() != nil })

	cfg := fastConfig("wss://" + svc.Addr().String() + "/ws")
	cfg.Session.TLS.CAFile = ca.CAFile()
	client, err := NewClient(cfg, EchoExecutor{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	connected := client.Connected()
	runClient(t, client)
	waitClosed(t, connected, "tls connect")
	waitFor(t, "registered", svc.Registry().IsConnected)

	res := svc.SendCommand(context.Background(), protocol.ActionExecuteScript, map[string]any{"script": "1"})
	if !res.Success {
		t.Fatalf("command over tls failed: %+v", res)
	}
}

func TestNewClientValidation(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		url     string
		exec    Executor
		wantErr error
	}{
		{name: "empty url", url: "", exec: EchoExecutor{}, wantErr: ErrRelayURLRequired},
		{name: "http scheme", url: "http://127.0.0.1:3000/ws", exec: EchoExecutor{}, wantErr: ErrInvalidRelayURL},
		{name: "missing host", url: "ws:///ws", exec: EchoExecutor{}, wantErr: ErrInvalidRelayURL},
		{name: "nil executor", url: "ws://127.0.0.1:3000/ws", exec: nil, wantErr: ErrExecutorRequired},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.URL = tc.url
			if _, err := NewClient(cfg, tc.exec); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Session.SecurityMode = session.SecurityModeProduction
	if _, err := NewClient(cfg, EchoExecutor{}); !errors.Is(err, session.ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired for ws:// in production, got %v", err)
	}
}

func TestEchoExecutor(t *testing.T) {
	testlog.Start(t)
	exec := EchoExecutor{}
	res := exec.Execute(context.Background(), protocol.NewCommand("c1", "get_selection", nil))
	if !res.Success {
		t.Fatalf("expected echo success, got %+v", res)
	}
	res = exec.Execute(context.Background(), protocol.NewCommand("c2", protocol.ActionExecuteScript, map[string]any{"script": 7}))
	if res.Success || res.Error != MsgMissingScript {
		t.Fatalf("expected missing script, got %+v", res)
	}

	var calls int
	fn := ExecutorFunc(func(context.Context, protocol.Command) protocol.Result {
		calls++
		return protocol.Failure("nope")
	})
	if res := fn.Execute(context.Background(), protocol.Command{}); res.Error != "nope" || calls != 1 {
		t.Fatalf("unexpected func executor result %+v calls=%d", res, calls)
	}
}
