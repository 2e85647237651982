// Package mcp exposes the relay to an AI controller as an MCP tool server
// on newline-delimited JSON-RPC over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

// MaxMessageSize bounds a single inbound JSON-RPC line.
const MaxMessageSize = 16 * 1024 * 1024

var ErrMessageTooLarge = errors.New("mcp: message too large")

// NewServer builds the MCP server for r and catalog. catalog may be nil,
// in which case the template tools are not offered.
func NewServer(r Relay, catalog Templates, version string) *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{Name: ServerName, Version: version}, nil)
	server.AddReceivingMiddleware(logRequests)
	NewTools(r, catalog).Register(server)
	return server
}

// ServeStdio runs server over in/out until the client closes its side or
// ctx is done. Lines longer than MaxMessageSize end the session with
// ErrMessageTooLarge.
func ServeStdio(ctx context.Context, server *sdk.Server, in io.Reader, out io.Writer) error {
	limited := &lineLimitReader{r: in, limit: MaxMessageSize}
	transport := &sdk.IOTransport{
		Reader: io.NopCloser(limited),
		Writer: nopWriteCloser{out},
	}
	log.Info().Str("server", ServerName).Msg("mcp.serving")
	err := server.Run(ctx, transport)
	switch {
	case limited.tripped.Load():
		log.Error().Int("limit", limited.limit).Msg("mcp.message_too_large")
		return ErrMessageTooLarge
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
		log.Info().Msg("mcp.closed")
		return nil
	default:
		log.Error().Err(err).Msg("mcp.serve_failed")
		return fmt.Errorf("mcp: %w", err)
	}
}

func logRequests(next sdk.MethodHandler) sdk.MethodHandler {
	return func(ctx context.Context, method string, req sdk.Request) (sdk.Result, error) {
		start := time.Now()
		res, err := next(ctx, method, req)
		ev := log.Debug()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("method", method).Dur("elapsed", time.Since(start)).Msg("mcp.request")
		return res, err
	}
}

// lineLimitReader fails once more than limit bytes arrive without a
// newline, so an oversized message is never buffered whole.
type lineLimitReader struct {
	r       io.Reader
	limit   int
	run     int
	tripped atomic.Bool
}

func (l *lineLimitReader) Read(p []byte) (int, error) {
	if l.tripped.Load() {
		return 0, ErrMessageTooLarge
	}
	n, err := l.r.Read(p)
	for i := 0; i < n; i++ {
		if p[i] == '\n' {
			l.run = 0
			continue
		}
		l.run++
		if l.run > l.limit {
			l.tripped.Store(true)
			return i, ErrMessageTooLarge
		}
	}
	return n, err
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
