package collaboration

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"reflect"
	"testing"
	"time"

	"collabd/internal/models"
)

const readTimeout = 2 * time.Second

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
	done chan error
}

func connect(t *testing.T, m *SessionManager) *testClient {
	t.Helper()

	server, client := net.Pipe()
	c := &testClient{t: t, conn: client, r: bufio.NewReader(client), done: make(chan error, 1)}
	go func() {
		c.done <- m.ServeConn(context.Background(), NewLineTransport(server), "test")
	}()
	t.Cleanup(func() { client.Close() })
	return c
}

func (c *testClient) send(msg models.ClientMessage) {
	c.t.Helper()
	line, err := models.EncodeLine(msg)
	if err != nil {
		c.t.Fatalf("encode %s: %v", msg.Type, err)
	}
	c.sendRaw(string(line))
}

func (c *testClient) sendRaw(line string) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(readTimeout))
	if _, err := io.WriteString(c.conn, line); err != nil {
		c.t.Fatalf("write %q: %v", line, err)
	}
}

func (c *testClient) read() (models.ServerMessage, error) {
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return models.ServerMessage{}, err
	}
	return models.DecodeServerMessage(line)
}

// expect reads until a frame of type typ arrives. Presence frames may
// interleave with replies, so other types are skipped.
func (c *testClient) expect(typ models.ServerType) models.ServerMessage {
	c.t.Helper()
	for i := 0; i < 16; i++ {
		msg, err := c.read()
		if err != nil {
			c.t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg.Type == typ {
			return msg
		}
	}
	c.t.Fatalf("no %s frame within 16 frames", typ)
	return models.ServerMessage{}
}

// expectPresence reads Presence frames until one lists exactly want.
func (c *testClient) expectPresence(want ...string) {
	c.t.Helper()
	for i := 0; i < 16; i++ {
		msg := c.expect(models.ServerPresence)
		if reflect.DeepEqual(names(msg.Users), want) {
			return
		}
	}
	c.t.Fatalf("no Presence listing %v", want)
}

func names(users []models.UserInfo) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Name)
	}
	return out
}

func newTestManager(opts Options) *SessionManager {
	m := NewSessionManager(newMemStorage(), opts)
	return m
}

func TestCollaborationScenario(t *testing.T) {
	m := newTestManager(Options{})
	t.Cleanup(m.Shutdown)

	alice := connect(t, m)
	alice.send(models.NewJoin("alice", "room", "doc"))

	welcome := alice.expect(models.ServerWelcome)
	if welcome.UserID != 1 || welcome.Text != "" || welcome.Version != 0 {
		t.Fatalf("alice Welcome = %+v", welcome)
	}
	if !reflect.DeepEqual(names(welcome.Users), []string{"alice"}) {
		t.Fatalf("alice Welcome users = %v", welcome.Users)
	}

	alice.send(models.NewOpMessage(insert(0, "Hello")))
	got := alice.expect(models.ServerApplied)
	if got.UserID != 1 || got.Version != 1 || got.Op != insert(0, "Hello") {
		t.Fatalf("Applied = %+v", got)
	}

	bob := connect(t, m)
	bob.send(models.NewJoin("bob", "room", "doc"))
	welcome = bob.expect(models.ServerWelcome)
	if welcome.UserID != 2 || welcome.Text != "Hello" || welcome.Version != 1 {
		t.Fatalf("bob Welcome = %+v", welcome)
	}
	if !reflect.DeepEqual(names(welcome.Users), []string{"alice", "bob"}) {
		t.Fatalf("bob Welcome users = %v", welcome.Users)
	}
	alice.expectPresence("alice", "bob")

	bob.send(models.NewOpMessage(del(0, 100)))
	for _, c := range []*testClient{alice, bob} {
		got := c.expect(models.ServerApplied)
		if got.UserID != 2 || got.Version != 2 || got.Op != del(0, 5) {
			t.Fatalf("Applied delete = %+v", got)
		}
	}

	alice.send(models.NewOpMessage(cursor(3)))
	got = bob.expect(models.ServerApplied)
	if got.Op != cursor(0) || got.Version != 2 {
		t.Fatalf("Applied cursor = %+v", got)
	}

	bob.conn.Close()
	if err := <-bob.done; err != nil {
		t.Fatalf("bob ServeConn = %v", err)
	}
	alice.expectPresence("alice")

	snap, ok := m.Store().Current("room", "doc")
	if !ok || snap.Text != "" || snap.Version != 2 {
		t.Fatalf("Current = %+v, %v", snap, ok)
	}
}

func TestOpsBeforeJoinAreIgnored(t *testing.T) {
	m := newTestManager(Options{})
	t.Cleanup(m.Shutdown)

	c := connect(t, m)
	c.send(models.NewOpMessage(insert(0, "ghost")))
	c.send(models.ClientMessage{Type: models.ClientSyncRequest})
	c.send(models.NewJoin("alice", "r", "d"))

	msg, err := c.read()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != models.ServerWelcome || msg.Text != "" || msg.Version != 0 {
		t.Fatalf("first frame = %+v, want empty Welcome", msg)
	}
}

func TestDoubleJoinReportsError(t *testing.T) {
	m := newTestManager(Options{})
	t.Cleanup(m.Shutdown)

	c := connect(t, m)
	c.send(models.NewJoin("alice", "r", "d"))
	c.expect(models.ServerWelcome)
	c.send(models.NewJoin("alice", "r", "other"))

	msg := c.expect(models.ServerError)
	if msg.Message != ErrAlreadyJoined.Error() {
		t.Fatalf("Error = %q", msg.Message)
	}
	if got := m.Presence().Len(); got != 1 {
		t.Fatalf("presence has %d users, want 1", got)
	}
}

func TestMalformedFramesAreDropped(t *testing.T) {
	m := newTestManager(Options{})
	t.Cleanup(m.Shutdown)

	c := connect(t, m)
	c.send(models.NewJoin("alice", "r", "d"))
	c.expect(models.ServerWelcome)

	c.sendRaw("not json\n")
	c.sendRaw(`{"Explode":{}}` + "\n")
	c.sendRaw(`{"Insert":{"pos":-1,"text":"x"}}` + "\n")
	c.sendRaw("\"Ping\"\n")
	c.sendRaw("\"SyncRequest\"\n")

	msg := c.expect(models.ServerSyncResponse)
	if msg.Text != "" || msg.Version != 0 {
		t.Fatalf("SyncResponse = %+v", msg)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	m := newTestManager(Options{})
	t.Cleanup(m.Shutdown)

	a := connect(t, m)
	a.send(models.NewJoin("a", "r", "one"))
	a.expect(models.ServerWelcome)

	b := connect(t, m)
	b.send(models.NewJoin("b", "r", "two"))
	b.expect(models.ServerWelcome)

	b.send(models.NewOpMessage(insert(0, "two")))
	b.expect(models.ServerApplied)

	a.send(models.NewOpMessage(insert(0, "one")))
	got := a.expect(models.ServerApplied)
	if got.UserID != 1 || got.Doc != "one" || got.Version != 1 {
		t.Fatalf("a received %+v", got)
	}
}

func TestIdleTimeoutClosesConnection(t *testing.T) {
	m := newTestManager(Options{IdleTimeout: 50 * time.Millisecond})
	t.Cleanup(m.Shutdown)

	c := connect(t, m)
	c.send(models.NewJoin("alice", "r", "d"))
	c.expect(models.ServerWelcome)

	msg := c.expect(models.ServerError)
	if msg.Message != ErrIdleTimeout.Error() {
		t.Fatalf("Error = %q", msg.Message)
	}
	if err := <-c.done; !errors.Is(err, ErrIdleTimeout) {
		t.Fatalf("ServeConn = %v, want idle timeout", err)
	}
	if got := m.Presence().Len(); got != 0 {
		t.Fatalf("presence has %d users after timeout", got)
	}
}

func TestShutdownEndsConnections(t *testing.T) {
	m := newTestManager(Options{})

	c := connect(t, m)
	c.send(models.NewJoin("alice", "r", "d"))
	c.expect(models.ServerWelcome)

	m.Shutdown()
	select {
	case <-c.done:
	case <-time.After(readTimeout):
		t.Fatal("ServeConn still running after Shutdown")
	}
	if got := m.ActiveConnections(); got != 0 {
		t.Fatalf("ActiveConnections = %d", got)
	}

	server, client := net.Pipe()
	defer client.Close()
	if err := m.ServeConn(context.Background(), NewLineTransport(server), "test"); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("ServeConn after Shutdown = %v", err)
	}
}
