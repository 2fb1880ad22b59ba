package collaboration

import (
	"context"
	"errors"
	"log"
	"time"

	"collabd/internal/middleware"
	"collabd/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrAlreadyJoined is reported to a connection that sends a second Join.
	ErrAlreadyJoined = errors.New("already joined")
	// ErrNotJoined marks an op or SyncRequest sent before Join. These are
	// ignored.
	ErrNotJoined = errors.New("not joined")
	// ErrIdleTimeout ends a connection that stayed silent too long.
	ErrIdleTimeout = errors.New("idle timeout")
)

/*
LEARNING: ONE STATE MACHINE PER CONNECTION

  Unjoined --Join--> Joined --read error / close--> Closed

Three goroutines serve a connection:
1. readLoop: blocks on the transport and hands frames to Serve
2. Serve: the state machine; it also drains the bus subscription
3. writeLoop: the only writer, sends queued frames in order

Serve is the only goroutine that touches the connection state, so no lock
is needed for it.
*/

// Connection is the protocol handler for one client.
type Connection struct {
	*models.Session

	transport Transport
	store     *SessionStore
	presence  *PresenceRegistry
	bus       *Bus

	idleTimeout time.Duration

	out        chan models.ServerMessage
	writerDone chan struct{}

	state       models.ConnState
	user        models.UserState
	baseVersion uint64
}

func newConnection(m *SessionManager, t Transport, transportName string) *Connection {
	return &Connection{
		Session:     models.NewSession(t.RemoteAddr(), transportName),
		transport:   t,
		store:       m.store,
		presence:    m.presence,
		bus:         m.bus,
		idleTimeout: m.opts.IdleTimeout,
		out:         make(chan models.ServerMessage, m.opts.OutboundQueue),
		writerDone:  make(chan struct{}),
		state:       models.StateUnjoined,
	}
}

// Serve runs the connection until the peer disconnects, a transport error
// occurs, the idle timeout fires or ctx is cancelled. Presence is withdrawn
// and announced before Serve returns.
func (c *Connection) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := c.bus.Subscribe()
	defer sub.Close()

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go c.readLoop(ctx, frames, readErr)
	go c.writeLoop()

	var idle *time.Timer
	var idleC <-chan time.Time
	if c.idleTimeout > 0 {
		idle = time.NewTimer(c.idleTimeout)
		defer idle.Stop()
		idleC = idle.C
	}

	var reason error
loop:
	for {
		select {
		case <-ctx.Done():
			reason = ctx.Err()
			break loop

		case err := <-readErr:
			reason = err
			break loop

		case <-c.writerDone:
			reason = errors.New("writer stopped")
			break loop

		case <-idleC:
			c.enqueue(ctx, errorMessage(ErrIdleTimeout))
			reason = ErrIdleTimeout
			break loop

		case frame := <-frames:
			c.LastActiveAt = time.Now()
			if idle != nil {
				idle.Reset(c.idleTimeout)
			}
			c.handleFrame(ctx, frame)

		case msg, ok := <-sub.C():
			if !ok {
				reason = errors.New("bus subscription closed")
				break loop
			}
			if c.accepts(msg) {
				c.enqueue(ctx, msg)
			}
		}
	}

	was := c.state
	c.leave(ctx)
	c.state = models.StateClosed
	log.Printf("  [%s] state %s → %s (%d frames queued)", c.ID, was, c.state, len(c.out))
	if n := sub.Dropped(); n > 0 {
		log.Printf("  [%s] dropped %d lagging bus events", c.ID, n)
	}

	// Let the writer flush what is queued, then tear the transport down.
	// On shutdown the transport goes first so a stalled peer cannot hold
	// the writer.
	close(c.out)
	if ctx.Err() != nil {
		c.transport.Close()
	}
	<-c.writerDone
	c.transport.Close()

	return reason
}

func (c *Connection) readLoop(ctx context.Context, frames chan<- []byte, readErr chan<- error) {
	for {
		frame, err := c.transport.ReadFrame()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Connection) writeLoop() {
	defer close(c.writerDone)

	for msg := range c.out {
		line, err := models.EncodeLine(msg)
		if err != nil {
			log.Printf("⚠️  [%s] failed to encode %s: %v", c.ID, msg.Type, err)
			continue
		}
		if err := c.transport.WriteFrame(line); err != nil {
			log.Printf("  [%s] write failed: %v", c.ID, err)
			return
		}
	}
}

// enqueue hands msg to the writer. It blocks while the outbound queue is
// full; only this connection stalls. Once the writer has stopped, messages
// are discarded.
func (c *Connection) enqueue(ctx context.Context, msg models.ServerMessage) {
	select {
	case c.out <- msg:
	case <-c.writerDone:
	case <-ctx.Done():
	}
}

// accepts is the consumer-side fan-out filter.
func (c *Connection) accepts(msg models.ServerMessage) bool {
	if c.state != models.StateJoined || !msg.Matches(c.user.Room, c.user.Doc) {
		return false
	}
	// Edits already folded into the last Welcome or SyncResponse text may
	// still be queued on the bus.
	if msg.Type == models.ServerApplied && msg.Op.Mutates() && msg.Version <= c.baseVersion {
		return false
	}
	return true
}

func (c *Connection) handleFrame(ctx context.Context, frame []byte) {
	msg, err := models.DecodeClientMessage(frame)
	if err != nil {
		// Malformed frames are dropped; the connection stays up.
		return
	}

	switch msg.Type {
	case models.ClientJoin:
		err = c.join(ctx, msg)
	case models.ClientInsert, models.ClientDelete, models.ClientCursor:
		err = c.apply(ctx, msg.Op)
	case models.ClientSyncRequest:
		err = c.sync(ctx)
	case models.ClientPing:
		// Activity was already recorded.
	}

	switch {
	case err == nil, errors.Is(err, ErrNotJoined):
	case errors.Is(err, ErrAlreadyJoined):
		c.enqueue(ctx, errorMessage(err))
	default:
		log.Printf("⚠️  [%s] %s failed: %v", c.ID, msg.Type, err)
	}
}

func (c *Connection) join(ctx context.Context, msg models.ClientMessage) error {
	if c.state == models.StateJoined {
		return ErrAlreadyJoined
	}

	ctx, span := middleware.StartSpan(ctx, "Connection.Join",
		attribute.String("session.id", c.ID),
		attribute.String("session.key", models.SessionKey(msg.Room, msg.Doc).String()),
		attribute.String("user.name", msg.User),
	)
	defer span.End()

	user, members := c.presence.Register(msg.User, msg.Room, msg.Doc)
	snap := c.store.Ensure(ctx, msg.Room, msg.Doc)

	c.user = user
	c.baseVersion = snap.Version
	c.state = models.StateJoined
	c.UserID, c.UserName, c.Room, c.Doc = user.ID, user.Name, user.Room, user.Doc
	span.SetAttributes(attribute.Int64("user.id", int64(user.ID)))

	c.enqueue(ctx, models.ServerMessage{
		Type:    models.ServerWelcome,
		UserID:  user.ID,
		Room:    msg.Room,
		Doc:     msg.Doc,
		Text:    snap.Text,
		Version: snap.Version,
		Users:   members,
	})

	log.Printf("  [%s] %s joined %s as user %d (total: %d users)",
		c.ID, user.Name, models.SessionKey(user.Room, user.Doc), user.ID, len(members))
	return nil
}

func (c *Connection) apply(ctx context.Context, op models.Op) error {
	if c.state != models.StateJoined {
		return ErrNotJoined
	}
	c.store.Apply(ctx, c.user.Room, c.user.Doc, c.user.ID, op)
	return nil
}

func (c *Connection) sync(ctx context.Context) error {
	if c.state != models.StateJoined {
		return ErrNotJoined
	}

	_, span := middleware.StartSpan(ctx, "Connection.Sync",
		attribute.String("session.id", c.ID),
		attribute.String("session.key", models.SessionKey(c.user.Room, c.user.Doc).String()),
	)
	defer span.End()

	snap := c.store.Ensure(ctx, c.user.Room, c.user.Doc)
	c.baseVersion = snap.Version
	c.enqueue(ctx, models.ServerMessage{
		Type:    models.ServerSyncResponse,
		Room:    snap.Room,
		Doc:     snap.Doc,
		Text:    snap.Text,
		Version: snap.Version,
	})
	return nil
}

// leave withdraws presence. The Presence broadcast happens inside
// PresenceRegistry.Remove, before Serve returns.
func (c *Connection) leave(ctx context.Context) {
	if c.state != models.StateJoined {
		return
	}
	c.presence.Remove(c.user.ID)
	c.store.RemoveCursor(c.user.Room, c.user.Doc, c.user.ID)
	middleware.AddSpanEvent(ctx, "connection.left", attribute.Int64("user.id", int64(c.user.ID)))
	log.Printf("  [%s] user %d left %s", c.ID, c.user.ID, models.SessionKey(c.user.Room, c.user.Doc))
}

func errorMessage(err error) models.ServerMessage {
	return models.ServerMessage{Type: models.ServerError, Message: err.Error()}
}
