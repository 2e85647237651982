// Package discovery advertises and finds relays on the local network via mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

const (
	ServiceType = "_drawctl._tcp"
	Domain      = "local."
)

var ErrNotFound = errors.New("discovery: no relay found")

// Advertisement is a live mDNS registration.
type Advertisement struct {
	server *zeroconf.Server
}

// DefaultInstance names the advertisement after the host.
func DefaultInstance() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return "drawctl-" + host
}

// Advertise registers the relay listening on port.
func Advertise(instance string, port int, txt []string) (*Advertisement, error) {
	if instance == "" {
		instance = DefaultInstance()
	}
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mdns: %w", err)
	}
	log.Info().Str("instance", instance).Str("service", ServiceType).Int("port", port).Msg("discovery.advertised")
	return &Advertisement{server: server}, nil
}

func (a *Advertisement) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

// Relay is one browsed relay endpoint.
type Relay struct {
	Instance string
	Host     string
	Port     int
	Text     []string
}

// Addr is host:port of the relay.
func (r Relay) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// Lookup browses for relays until the first is found or timeout elapses.
func Lookup(ctx context.Context, timeout time.Duration) (Relay, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return Relay{}, fmt.Errorf("mdns resolver: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return Relay{}, fmt.Errorf("mdns browse: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return Relay{}, ErrNotFound
		case entry, ok := <-entries:
			if !ok {
				return Relay{}, ErrNotFound
			}
			if relay, ok := relayFromEntry(entry); ok {
				log.Info().Str("instance", relay.Instance).Str("addr", relay.Addr()).Msg("discovery.found")
				return relay, nil
			}
		}
	}
}

func relayFromEntry(entry *zeroconf.ServiceEntry) (Relay, bool) {
	if entry == nil || entry.Port == 0 {
		return Relay{}, false
	}
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		host = entry.HostName
	default:
		return Relay{}, false
	}
	return Relay{
		Instance: entry.Instance,
		Host:     host,
		Port:     entry.Port,
		Text:     entry.Text,
	}, true
}
