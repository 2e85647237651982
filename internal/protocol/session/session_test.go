package session

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/drawctl/internal/testutil/testlog"
)

func TestNewBackOffDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	b := NewBackOff(BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Second,
		Jitter:       false,
	})
	want := []time.Duration{
		250 * time.Millisecond,
		500 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Fatalf("attempt%d got=%v want=%v", i+1, got, w)
		}
	}
	b.Reset()
	if got := b.NextBackOff(); got != 250*time.Millisecond {
		t.Fatalf("after reset got=%v", got)
	}
}

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	testlog.Start(t)
	cfg := Config{PingInterval: 30 * time.Second}.WithDefaults()
	def := DefaultConfig()
	if cfg.WriteTimeout != def.WriteTimeout {
		t.Fatalf("unexpected write timeout: %v", cfg.WriteTimeout)
	}
	if cfg.PongWait != def.PongWait {
		t.Fatalf("unexpected pong wait: %v", cfg.PongWait)
	}
	if cfg.SecurityMode != SecurityModeDevelopment {
		t.Fatalf("unexpected security mode: %q", cfg.SecurityMode)
	}

	cfg = Config{PingInterval: 40 * time.Second, PongWait: 10 * time.Second}.WithDefaults()
	if cfg.PongWait != 120*time.Second {
		t.Fatalf("pong wait must exceed ping interval, got %v", cfg.PongWait)
	}
}

func TestValidateServerTransport(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "development plain", cfg: Config{}, wantErr: nil},
		{name: "production requires tls", cfg: Config{SecurityMode: SecurityModeProduction}, wantErr: ErrTLSRequired},
		{name: "tls requires cert", cfg: Config{TLS: TLSConfig{Enabled: true, KeyFile: "k"}}, wantErr: ErrTLSCertFileRequired},
		{name: "tls requires key", cfg: Config{TLS: TLSConfig{Enabled: true, CertFile: "c"}}, wantErr: ErrTLSKeyFileRequired},
		{name: "unknown mode", cfg: Config{SecurityMode: "paranoid"}, wantErr: ErrInvalidSecurityMode},
		{name: "mode normalized", cfg: Config{SecurityMode: " Development "}, wantErr: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.ValidateServerTransport()
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidateClientTransportProduction(t *testing.T) {
	testlog.Start(t)
	cfg := Config{SecurityMode: SecurityModeProduction, TLS: TLSConfig{Enabled: true, InsecureSkipVerify: true}}
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSInsecureSkipNotAllow) {
		t.Fatalf("expected ErrTLSInsecureSkipNotAllow, got %v", err)
	}
	cfg.TLS.InsecureSkipVerify = false
	if err := cfg.ValidateClientTransport(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestTLSConfigDisabledIsNil(t *testing.T) {
	testlog.Start(t)
	srv, err := Config{}.ServerTLSConfig()
	if err != nil || srv != nil {
		t.Fatalf("expected nil server tls config, got %v err=%v", srv, err)
	}
	cli, err := Config{}.ClientTLSConfig()
	if err != nil || cli != nil {
		t.Fatalf("expected nil client tls config, got %v err=%v", cli, err)
	}
}
