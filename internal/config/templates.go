package config

import (
	"fmt"
	"os"
	"strings"
)

// Config kinds understood by Template and configgen.
const (
	KindRelay = "relay"
	KindProbe = "probe"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindRelay:
		return relayTemplate, nil
	case KindProbe:
		return probeTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads path as the given kind and reports the first problem.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindRelay:
		_, err := LoadRelayConfig(path)
		return err
	case KindProbe:
		_, err := LoadProbeConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const relayTemplate = `host = "0.0.0.0"
port = 3000
# "default" waits 30s for a reply, "legacy" 10s. command_timeout overrides both.
timeout_profile = "default"
cors_origins = ["*"]
agent_token = ""
mdns_enabled = false
recent_reports = 128
shutdown_grace = "5s"
session_security_mode = "development"
session_tls_enabled = false

[journal]
# none | sqlite | bolt | postgres | redis
kind = "none"
path = "drawctl-journal.db"
dsn = ""
redis_addr = ""
channel = "drawctl:commands"

# Extra sinks that receive every entry as well, e.g.
# [[journal_mirror]]
# kind = "redis"
# redis_addr = "127.0.0.1:6379"
`

const probeTemplate = `relay_url = "ws://127.0.0.1:3000/ws"
token = ""
filename = "Untitled"
max_attempts = 0
discover = false
discover_timeout = "3s"
security_mode = "development"
`
