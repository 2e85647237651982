// Package journal records command lifecycle metadata.
//
// Ownership boundary:
// - entry shape and sink selection
// - async recording off the dispatch path
// - sink backends (sqlite, bolt, postgres, redis)
//
// Journal never stores script bodies or diagram state.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownKind   = errors.New("journal: unknown sink kind")
	ErrMissingTarget = errors.New("journal: missing sink target")
	ErrClosed        = errors.New("journal: closed")
)

// Sink kinds accepted by Open.
const (
	KindNone     = "none"
	KindSQLite   = "sqlite"
	KindBolt     = "bolt"
	KindPostgres = "postgres"
	KindRedis    = "redis"
)

// Entry is one finished command.
type Entry struct {
	CommandID string        `json:"commandId,omitempty"`
	Action    string        `json:"action"`
	Outcome   string        `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

type Sink interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

// Reader is implemented by sinks that can be queried back.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

type Config struct {
	Kind      string `toml:"kind"`
	Path      string `toml:"path"`
	DSN       string `toml:"dsn"`
	RedisAddr string `toml:"redis_addr"`
	Channel   string `toml:"channel"`
}

func DefaultConfig() Config {
	return Config{
		Kind:    KindNone,
		Channel: "drawctl:commands",
	}
}

// Open builds the sink named by cfg.Kind. KindNone returns a nil sink.
func Open(ctx context.Context, cfg Config) (Sink, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	switch kind {
	case "", KindNone:
		return nil, nil
	case KindSQLite:
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("%w: sqlite path", ErrMissingTarget)
		}
		return OpenSQLite(ctx, cfg.Path)
	case KindBolt:
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("%w: bolt path", ErrMissingTarget)
		}
		return OpenBolt(cfg.Path)
	case KindPostgres:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("%w: postgres dsn", ErrMissingTarget)
		}
		return OpenPostgres(ctx, cfg.DSN)
	case KindRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return nil, fmt.Errorf("%w: redis addr", ErrMissingTarget)
		}
		channel := strings.TrimSpace(cfg.Channel)
		if channel == "" {
			channel = DefaultConfig().Channel
		}
		return OpenRedis(ctx, cfg.RedisAddr, channel)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

// OpenAll opens every configured sink. Kind none entries are skipped. It
// returns nil when nothing is enabled, the sink itself for one entry, and a
// Multi otherwise. Sinks opened before a failure are closed.
func OpenAll(ctx context.Context, cfgs ...Config) (Sink, error) {
	var sinks Multi
	for _, cfg := range cfgs {
		sink, err := Open(ctx, cfg)
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		if sink != nil {
			sinks = append(sinks, sink)
		}
	}
	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

// Multi fans one entry out to several sinks.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recent reads from the first member that is a Reader.
func (m Multi) Recent(ctx context.Context, limit int) ([]Entry, error) {
	for _, s := range m {
		if r, ok := s.(Reader); ok {
			return r.Recent(ctx, limit)
		}
	}
	return nil, nil
}
