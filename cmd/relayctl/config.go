package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/drawctl/internal/config"
	"github.com/spf13/pflag"
)

// relayctl flags. Flags set on the command line win over the config file.
type options struct {
	configPath     string
	host           string
	port           int
	timeout        time.Duration
	timeoutProfile string
	agentToken     string
	journalKind    string
	journalPath    string
	mdns           bool
	noMCP          bool
	help           bool

	flags *pflag.FlagSet
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("relayctl", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to relay config.toml")
	fs.StringVar(&opts.host, "host", "", "listen host (default 0.0.0.0)")
	fs.IntVarP(&opts.port, "port", "p", 0, "listen port (default 3000, 0 picks a free port)")
	fs.DurationVar(&opts.timeout, "timeout", 0, "command timeout (default 30s)")
	fs.StringVar(&opts.timeoutProfile, "timeout-profile", "", "timeout profile: default|legacy")
	fs.StringVar(&opts.agentToken, "agent-token", "", "shared token required from editor agents")
	fs.StringVar(&opts.journalKind, "journal", "", "journal sink: none|sqlite|bolt|postgres|redis")
	fs.StringVar(&opts.journalPath, "journal-path", "", "sqlite or bolt journal file")
	fs.BoolVar(&opts.mdns, "mdns", false, "advertise the relay over mDNS")
	fs.BoolVar(&opts.noMCP, "no-mcp", false, "serve agents only, without the stdio controller")
	fs.BoolVarP(&opts.help, "help", "h", false, "show help")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	opts.flags = fs
	return opts, nil
}

// loadConfig reads the optional config file and applies explicit flags on top.
func loadConfig(opts options) (config.RelayConfig, error) {
	cfg := config.DefaultRelayConfig()
	if path := strings.TrimSpace(opts.configPath); path != "" {
		loaded, err := config.LoadRelayConfig(path)
		if err != nil {
			return config.RelayConfig{}, err
		}
		cfg = loaded
	}

	changed := func(name string) bool {
		return opts.flags != nil && opts.flags.Changed(name)
	}
	if changed("host") {
		cfg.Service.ListenHost = strings.TrimSpace(opts.host)
	}
	if changed("port") {
		cfg.Service.Port = opts.port
	}
	if changed("timeout-profile") {
		d, err := config.ProfileTimeout(opts.timeoutProfile)
		if err != nil {
			return config.RelayConfig{}, err
		}
		cfg.Service.CommandTimeout = d
	}
	if changed("timeout") {
		cfg.Service.CommandTimeout = opts.timeout
	}
	if changed("agent-token") {
		cfg.Service.AgentToken = strings.TrimSpace(opts.agentToken)
	}
	if changed("journal") {
		cfg.Journal.Kind = strings.TrimSpace(opts.journalKind)
	}
	if changed("journal-path") {
		cfg.Journal.Path = strings.TrimSpace(opts.journalPath)
	}
	if changed("mdns") {
		cfg.Service.MDNSEnabled = opts.mdns
	}

	if err := config.ValidateRelayConfig(cfg); err != nil {
		return config.RelayConfig{}, err
	}
	return cfg, nil
}
