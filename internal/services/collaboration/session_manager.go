package collaboration

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"
)

/*
LEARNING: THE SERVICE ROOT

SessionManager owns the shared state every connection needs:

	Bus              broadcast of Applied / Presence events
	SessionStore     authoritative text + version per (room, doc)
	PresenceRegistry joined users

Both the store and the registry publish to the bus, so a connection never
broadcasts by itself. Transports (TCP lines, WebSocket) only hand the
manager a Transport and block in ServeConn.
*/

// Options tunes the manager. Zero values fall back to defaults.
type Options struct {
	BusBacklog    int           // per-subscriber bus backlog
	OutboundQueue int           // per-connection writer queue
	IdleTimeout   time.Duration // 0 disables
}

const defaultQueue = 256

// SessionManager serves protocol connections against one shared store.
type SessionManager struct {
	store    *SessionStore
	presence *PresenceRegistry
	bus      *Bus
	opts     Options

	mu       sync.Mutex
	conns    map[*Connection]context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
	accepted uint64
}

// NewSessionManager wires a bus, store and registry over storage.
// storage may be nil for a purely in-memory server.
func NewSessionManager(storage Storage, opts Options) *SessionManager {
	if opts.BusBacklog <= 0 {
		opts.BusBacklog = defaultQueue
	}
	if opts.OutboundQueue <= 0 {
		opts.OutboundQueue = defaultQueue
	}

	bus := NewBus(opts.BusBacklog)
	return &SessionManager{
		store:    NewSessionStore(storage, bus),
		presence: NewPresenceRegistry(bus),
		bus:      bus,
		opts:     opts,
		conns:    make(map[*Connection]context.CancelFunc),
	}
}

// ErrManagerClosed is returned by ServeConn after Shutdown.
var ErrManagerClosed = errors.New("session manager closed")

// ServeConn runs the protocol on t until the connection ends. It blocks;
// callers typically run it in its own goroutine. t is closed on return.
func (m *SessionManager) ServeConn(ctx context.Context, t Transport, transportName string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := newConnection(m, t, transportName)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		t.Close()
		return ErrManagerClosed
	}
	m.conns[c] = cancel
	m.accepted++
	m.wg.Add(1)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.conns, c)
		m.mu.Unlock()
		m.wg.Done()
	}()

	log.Printf("  [%s] %s connection from %s", c.ID, transportName, c.RemoteAddr)
	err := c.Serve(ctx)
	if isClosedConn(err) {
		err = nil
	}
	log.Printf("  [%s] connection closed (%v)", c.ID, reasonText(err))
	return err
}

// Shutdown cancels every live connection and waits for them to finish.
// New connections are refused afterwards.
func (m *SessionManager) Shutdown() {
	log.Println("🛑 Shutting down session manager...")

	m.mu.Lock()
	m.closed = true
	for _, cancel := range m.conns {
		cancel()
	}
	n := len(m.conns)
	m.mu.Unlock()

	m.wg.Wait()
	log.Printf("✓ Session manager shutdown complete (%d connections closed)", n)
}

// ActiveConnections returns the number of connections being served.
func (m *SessionManager) ActiveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// AcceptedConnections returns how many connections were ever served.
func (m *SessionManager) AcceptedConnections() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accepted
}

func (m *SessionManager) Store() *SessionStore         { return m.store }
func (m *SessionManager) Presence() *PresenceRegistry { return m.presence }
func (m *SessionManager) Bus() *Bus                   { return m.bus }

func isClosedConn(err error) bool {
	return err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled)
}

func reasonText(err error) string {
	if err == nil {
		return "peer closed"
	}
	return err.Error()
}
