package collaboration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"
)

// TCPServer accepts raw TCP connections and serves newline-delimited JSON
// frames on each.
type TCPServer struct {
	manager *SessionManager
}

func NewTCPServer(manager *SessionManager) *TCPServer {
	return &TCPServer{manager: manager}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *TCPServer) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is cancelled, then closes ln and returns
// nil. Live connections are ended through the manager's Shutdown.
func (s *TCPServer) Serve(ctx context.Context, ln net.Listener) error {
	log.Printf("🌐 Collaboration server listening on tcp://%s", ln.Addr())

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				log.Printf("⚠️  Accept error: %v; retrying in %v", err, backoff)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		backoff = 0

		go func() {
			if err := s.manager.ServeConn(ctx, NewLineTransport(conn), "tcp"); err != nil && !errors.Is(err, ErrManagerClosed) {
				log.Printf("⚠️  Connection from %s ended: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}
