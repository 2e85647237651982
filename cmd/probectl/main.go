// probectl is a stand-in editor agent. It connects to a relay and answers
// every command with an echo of itself, which exercises the full command
// path without a browser.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/drawctl/internal/agent"
	"github.com/danmuck/drawctl/internal/observability"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "probectl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if opts.help {
		fmt.Fprintf(os.Stderr, "Usage: probectl [flags]\n\n%s", opts.flags.FlagUsages())
		return nil
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	observability.InitLogger("probectl", os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agentCfg, err := resolveAgentConfig(ctx, cfg)
	if err != nil {
		return err
	}
	client, err := agent.NewClient(agentCfg, agent.EchoExecutor{})
	if err != nil {
		return err
	}
	log.Info().Str("url", agentCfg.URL).Str("session_id", client.SessionID()).Msg("probe.starting")
	return client.Run(ctx)
}
