package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/danmuck/drawctl/internal/agent"
	"github.com/danmuck/drawctl/internal/config"
	"github.com/danmuck/drawctl/internal/discovery"
	"github.com/spf13/pflag"
)

type options struct {
	configPath  string
	url         string
	token       string
	filename    string
	maxAttempts int
	discover    bool
	help        bool

	flags *pflag.FlagSet
}

// lookupFunc finds a relay on the local network.
var lookupFunc = discovery.Lookup

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("probectl", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to probe config.toml")
	fs.StringVarP(&opts.url, "url", "u", "", "relay websocket url (default ws://127.0.0.1:3000/ws)")
	fs.StringVar(&opts.token, "token", "", "agent token expected by the relay")
	fs.StringVar(&opts.filename, "filename", "", "diagram name reported in the hello")
	fs.IntVar(&opts.maxAttempts, "max-attempts", 0, "give up after this many failed connects (0 retries forever)")
	fs.BoolVar(&opts.discover, "discover", false, "find the relay over mDNS instead of --url")
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

func loadConfig(opts options) (config.ProbeConfig, error) {
	cfg := config.DefaultProbeConfig()
	if path := strings.TrimSpace(opts.configPath); path != "" {
		loaded, err := config.LoadProbeConfig(path)
		if err != nil {
			return config.ProbeConfig{}, err
		}
		cfg = loaded
	}
	changed := func(name string) bool {
		return opts.flags != nil && opts.flags.Changed(name)
	}
	if changed("url") {
		cfg.RelayURL = opts.url
	}
	if changed("token") {
		cfg.Token = opts.token
	}
	if changed("filename") {
		cfg.Filename = opts.filename
	}
	if changed("max-attempts") {
		cfg.MaxAttempts = opts.maxAttempts
	}
	if changed("discover") {
		cfg.Discover = opts.discover
	}
	if err := config.ValidateProbeConfig(cfg); err != nil {
		return config.ProbeConfig{}, err
	}
	return cfg, nil
}

// resolveAgentConfig replaces the relay url with a discovered one when asked.
func resolveAgentConfig(ctx context.Context, cfg config.ProbeConfig) (agent.Config, error) {
	out := cfg.AgentConfig()
	if !cfg.Discover {
		return out, nil
	}
	wait, err := cfg.DiscoverWait()
	if err != nil {
		return agent.Config{}, err
	}
	found, err := lookupFunc(ctx, wait)
	if err != nil {
		return agent.Config{}, err
	}
	out.URL = relayURL(found)
	return out, nil
}

func relayURL(r discovery.Relay) string {
	scheme := "ws"
	path := "/ws"
	for _, kv := range r.Text {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch key {
		case "tls":
			if value == "true" {
				scheme = "wss"
			}
		case "path":
			if strings.HasPrefix(value, "/") {
				path = value
			}
		}
	}
	return scheme + "://" + r.Addr() + path
}
