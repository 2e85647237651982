// relayctl runs the draw.io command relay: the editor agent websocket on
// one side and an MCP controller on stdin/stdout on the other.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/drawctl/internal/journal"
	"github.com/danmuck/drawctl/internal/mcp"
	"github.com/danmuck/drawctl/internal/observability"
	"github.com/danmuck/drawctl/internal/relay"
	"github.com/danmuck/drawctl/internal/templates"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
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
		fmt.Fprintf(os.Stderr, "Usage: relayctl [flags]\n\n%s", opts.flags.FlagUsages())
		return nil
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	// stdout belongs to the MCP stream.
	observability.InitLogger("relayctl", os.Stderr)
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = os.Stderr
	gin.DefaultErrorWriter = os.Stderr

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog, err := templates.Load()
	if err != nil {
		return err
	}

	svc := relay.NewServiceWithConfig(cfg.Service)
	sink, err := journal.OpenAll(ctx, cfg.JournalConfigs()...)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if sink != nil {
		svc.SetJournal(sink)
	}
	if opts.noMCP {
		return svc.Run()
	}
	if err := svc.Start(ctx); err != nil {
		if sink != nil {
			_ = sink.Close()
		}
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), svc.Config().ShutdownGrace)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("relay.stop_failed")
		}
	}()

	server := mcp.NewServer(svc, catalog, relay.Version)
	return mcp.ServeStdio(ctx, server, os.Stdin, os.Stdout)
}
