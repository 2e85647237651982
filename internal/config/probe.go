package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/drawctl/internal/agent"
	"github.com/danmuck/drawctl/internal/protocol/session"
)

// ProbeConfig is the probectl agent config file.
type ProbeConfig struct {
	RelayURL        string `toml:"relay_url"`
	Token           string `toml:"token"`
	SessionID       string `toml:"session_id"`
	Filename        string `toml:"filename"`
	MaxAttempts     int    `toml:"max_attempts"`
	Discover        bool   `toml:"discover"`
	DiscoverTimeout string `toml:"discover_timeout"`
	SecurityMode    string `toml:"security_mode"`
	CAFile          string `toml:"ca_file"`
}

const defaultDiscoverTimeout = 3 * time.Second

func DefaultProbeConfig() ProbeConfig {
	def := agent.DefaultConfig()
	return ProbeConfig{
		RelayURL:        def.URL,
		Filename:        def.Filename,
		DiscoverTimeout: defaultDiscoverTimeout.String(),
		SecurityMode:    string(session.SecurityModeDevelopment),
	}
}

// LoadProbeConfig reads path over the probe defaults.
func LoadProbeConfig(path string) (ProbeConfig, error) {
	cfg := DefaultProbeConfig()
	if err := loadToml(path, &cfg); err != nil {
		return ProbeConfig{}, err
	}
	cfg.CAFile = resolvePath(path, cfg.CAFile)
	if err := ValidateProbeConfig(cfg); err != nil {
		return ProbeConfig{}, err
	}
	return cfg, nil
}

func ValidateProbeConfig(cfg ProbeConfig) error {
	if !cfg.Discover {
		raw := strings.TrimSpace(cfg.RelayURL)
		if raw == "" {
			return fmt.Errorf("probe config missing relay_url")
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("probe config relay_url must be ws:// or wss://: %q", raw)
		}
	}
	if cfg.MaxAttempts < 0 {
		return fmt.Errorf("probe config max_attempts must not be negative")
	}
	if _, err := cfg.DiscoverWait(); err != nil {
		return err
	}
	return nil
}

// DiscoverWait is the mDNS browse window.
func (p ProbeConfig) DiscoverWait() (time.Duration, error) {
	if strings.TrimSpace(p.DiscoverTimeout) == "" {
		return defaultDiscoverTimeout, nil
	}
	return parseDuration("discover_timeout", p.DiscoverTimeout)
}

// AgentConfig converts the file settings into an agent client config.
func (p ProbeConfig) AgentConfig() agent.Config {
	cfg := agent.DefaultConfig()
	cfg.URL = strings.TrimSpace(p.RelayURL)
	cfg.Token = strings.TrimSpace(p.Token)
	cfg.SessionID = strings.TrimSpace(p.SessionID)
	if name := strings.TrimSpace(p.Filename); name != "" {
		cfg.Filename = name
	}
	cfg.MaxAttempts = p.MaxAttempts
	if mode := strings.TrimSpace(p.SecurityMode); mode != "" {
		cfg.Session.SecurityMode = session.SecurityMode(mode)
	}
	cfg.Session.TLS.CAFile = strings.TrimSpace(p.CAFile)
	return cfg
}
