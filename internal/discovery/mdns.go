package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"

	"github.com/grandcat/zeroconf"
)

/*
LEARNING: ZERO-CONFIG DISCOVERY

On a LAN the server announces its TCP port over multicast DNS so clients
can find it without an address:

  server: Register("collabd-<host>", "_collabd._tcp", "local.", 4000)
  client: Browse("_collabd._tcp", "local.") → first entry → ip:port
*/

const domain = "local."

// ErrNotFound is returned by Lookup when no server answered in time.
var ErrNotFound = errors.New("no collaboration server found")

// Announcement is a registered mDNS service. Shutdown withdraws it.
type Announcement struct {
	server *zeroconf.Server
}

// Advertise registers the server's listener under service.
func Advertise(service string, port int) (*Announcement, error) {
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}

	server, err := zeroconf.Register(
		fmt.Sprintf("collabd-%s", host),
		service,
		domain,
		port,
		[]string{"proto=ndjson", "txtv=1"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	log.Printf("✓ mDNS service registered: %s on port %d", service, port)
	return &Announcement{server: server}, nil
}

func (a *Announcement) Shutdown() {
	a.server.Shutdown()
}

// Lookup browses for service and returns the first answering server's
// address. ctx bounds the search.
func Lookup(ctx context.Context, service string) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("failed to initialize mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return "", fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", ErrNotFound
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNotFound
			}
			if addr, ok := EntryAddr(entry); ok {
				log.Printf("mDNS discovered %s at %s", entry.Instance, addr)
				return addr, nil
			}
		}
	}
}

// EntryAddr picks a dialable host:port from an mDNS answer, preferring
// IPv4.
func EntryAddr(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil || entry.Port <= 0 {
		return "", false
	}
	port := strconv.Itoa(entry.Port)

	switch {
	case len(entry.AddrIPv4) > 0:
		return net.JoinHostPort(entry.AddrIPv4[0].String(), port), true
	case len(entry.AddrIPv6) > 0:
		return net.JoinHostPort(entry.AddrIPv6[0].String(), port), true
	case entry.HostName != "":
		return net.JoinHostPort(entry.HostName, port), true
	}
	return "", false
}
