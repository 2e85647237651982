package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/drawctl/internal/journal"
	"github.com/danmuck/drawctl/internal/protocol/session"
	"github.com/danmuck/drawctl/internal/relay"
	gotoml "github.com/pelletier/go-toml/v2"
)

var ErrUnknownTimeoutProfile = errors.New("config: unknown timeout profile")

// Timeout profiles selectable with timeout_profile.
const (
	TimeoutProfileDefault = "default"
	TimeoutProfileLegacy  = "legacy"
)

// RelayConfig is everything relayctl reads from its config file.
type RelayConfig struct {
	Service relay.ServiceConfig
	Journal journal.Config
	// JournalMirrors receive every entry the primary journal does.
	JournalMirrors []journal.Config
}

// JournalConfigs lists the primary journal followed by its mirrors.
func (c RelayConfig) JournalConfigs() []journal.Config {
	out := make([]journal.Config, 0, 1+len(c.JournalMirrors))
	out = append(out, c.Journal)
	return append(out, c.JournalMirrors...)
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Service: relay.DefaultServiceConfig(),
		Journal: journal.DefaultConfig(),
	}
}

// relayctl config.toml key mapping to relay runtime settings.
type relayFile struct {
	Host                string           `toml:"host"`
	Port                int              `toml:"port"`
	TimeoutProfile      string           `toml:"timeout_profile"`
	CommandTimeout      string           `toml:"command_timeout"`
	AgentToken          string           `toml:"agent_token"`
	CorsOrigins         []string         `toml:"cors_origins"`
	MDNSEnabled         bool             `toml:"mdns_enabled"`
	MDNSInstance        string           `toml:"mdns_instance"`
	RecentReports       int              `toml:"recent_reports"`
	ShutdownGrace       string           `toml:"shutdown_grace"`
	PingInterval        string           `toml:"ping_interval"`
	MaxMessageBytes     int64            `toml:"max_message_bytes"`
	SessionSecurityMode string           `toml:"session_security_mode"`
	SessionTLSEnabled   bool             `toml:"session_tls_enabled"`
	SessionTLSCertFile  string           `toml:"session_tls_cert_file"`
	SessionTLSKeyFile   string           `toml:"session_tls_key_file"`
	Journal             journal.Config   `toml:"journal"`
	JournalMirrors      []journal.Config `toml:"journal_mirror"`
}

// LoadRelayConfig overlays the keys defined in path onto the relay defaults.
func LoadRelayConfig(path string) (RelayConfig, error) {
	cfg := DefaultRelayConfig()

	var raw relayFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return RelayConfig{}, fmt.Errorf("load relay config: %w", err)
	}

	svc := &cfg.Service
	if meta.IsDefined("host") {
		svc.ListenHost = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		svc.Port = raw.Port
	}
	if meta.IsDefined("timeout_profile") {
		d, err := ProfileTimeout(raw.TimeoutProfile)
		if err != nil {
			return RelayConfig{}, err
		}
		svc.CommandTimeout = d
	}
	if meta.IsDefined("command_timeout") {
		d, err := parseDuration("command_timeout", raw.CommandTimeout)
		if err != nil {
			return RelayConfig{}, err
		}
		svc.CommandTimeout = d
	}
	if meta.IsDefined("agent_token") {
		svc.AgentToken = strings.TrimSpace(raw.AgentToken)
	}
	if meta.IsDefined("cors_origins") {
		svc.CORSOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("mdns_enabled") {
		svc.MDNSEnabled = raw.MDNSEnabled
	}
	if meta.IsDefined("mdns_instance") {
		svc.MDNSInstance = strings.TrimSpace(raw.MDNSInstance)
	}
	if meta.IsDefined("recent_reports") {
		svc.RecentReports = raw.RecentReports
	}
	if meta.IsDefined("shutdown_grace") {
		d, err := parseDuration("shutdown_grace", raw.ShutdownGrace)
		if err != nil {
			return RelayConfig{}, err
		}
		svc.ShutdownGrace = d
	}
	if meta.IsDefined("ping_interval") {
		d, err := parseDuration("ping_interval", raw.PingInterval)
		if err != nil {
			return RelayConfig{}, err
		}
		svc.Session.PingInterval = d
	}
	if meta.IsDefined("max_message_bytes") {
		svc.Session.MaxMessageBytes = raw.MaxMessageBytes
	}
	if meta.IsDefined("session_security_mode") {
		svc.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SessionSecurityMode))
	}
	if meta.IsDefined("session_tls_enabled") {
		svc.Session.TLS.Enabled = raw.SessionTLSEnabled
	}
	if meta.IsDefined("session_tls_cert_file") {
		svc.Session.TLS.CertFile = resolvePath(path, raw.SessionTLSCertFile)
	}
	if meta.IsDefined("session_tls_key_file") {
		svc.Session.TLS.KeyFile = resolvePath(path, raw.SessionTLSKeyFile)
	}

	if meta.IsDefined("journal", "kind") {
		cfg.Journal.Kind = strings.TrimSpace(raw.Journal.Kind)
	}
	if meta.IsDefined("journal", "path") {
		cfg.Journal.Path = resolvePath(path, raw.Journal.Path)
	}
	if meta.IsDefined("journal", "dsn") {
		cfg.Journal.DSN = strings.TrimSpace(raw.Journal.DSN)
	}
	if meta.IsDefined("journal", "redis_addr") {
		cfg.Journal.RedisAddr = strings.TrimSpace(raw.Journal.RedisAddr)
	}
	if meta.IsDefined("journal", "channel") {
		cfg.Journal.Channel = strings.TrimSpace(raw.Journal.Channel)
	}

	if meta.IsDefined("journal_mirror") {
		cfg.JournalMirrors = make([]journal.Config, 0, len(raw.JournalMirrors))
		for _, m := range raw.JournalMirrors {
			mirror := journal.DefaultConfig()
			mirror.Kind = strings.TrimSpace(m.Kind)
			mirror.Path = resolvePath(path, m.Path)
			mirror.DSN = strings.TrimSpace(m.DSN)
			mirror.RedisAddr = strings.TrimSpace(m.RedisAddr)
			if ch := strings.TrimSpace(m.Channel); ch != "" {
				mirror.Channel = ch
			}
			cfg.JournalMirrors = append(cfg.JournalMirrors, mirror)
		}
	}

	if err := ValidateRelayConfig(cfg); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

// ProfileTimeout maps a timeout profile name to its command timeout.
func ProfileTimeout(profile string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case "", TimeoutProfileDefault:
		return relay.DefaultCommandTimeout, nil
	case TimeoutProfileLegacy:
		return relay.LegacyCommandTimeout, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownTimeoutProfile, profile)
	}
}

func ValidateRelayConfig(cfg RelayConfig) error {
	svc := cfg.Service
	if svc.Port < 0 || svc.Port > 65535 {
		return fmt.Errorf("relay config port out of range: %d", svc.Port)
	}
	if svc.CommandTimeout <= 0 {
		return fmt.Errorf("relay config command_timeout must be positive")
	}
	if svc.Session.TLS.Enabled {
		if svc.Session.TLS.CertFile == "" || svc.Session.TLS.KeyFile == "" {
			return fmt.Errorf("relay config tls requires session_tls_cert_file and session_tls_key_file")
		}
	}
	for _, j := range cfg.JournalConfigs() {
		switch strings.ToLower(strings.TrimSpace(j.Kind)) {
		case "", journal.KindNone, journal.KindSQLite, journal.KindBolt, journal.KindPostgres, journal.KindRedis:
		default:
			return fmt.Errorf("%w: %q", journal.ErrUnknownKind, j.Kind)
		}
	}
	return nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("parse %s: must be positive", key)
	}
	return d, nil
}

// resolvePath joins a relative file path onto the config file's directory.
func resolvePath(configPath, value string) string {
	resolved := strings.TrimSpace(value)
	if resolved == "" || filepath.IsAbs(resolved) {
		return resolved
	}
	return filepath.Join(filepath.Dir(configPath), resolved)
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := gotoml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}
