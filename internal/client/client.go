package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"time"

	"collabd/internal/models"
	"collabd/internal/position"

	"github.com/cenkalti/backoff"
)

const (
	maxFrameSize = 1 << 20
	drainTimeout = time.Second
)

// Config describes one client session.
type Config struct {
	Addr string
	User string
	Room string
	Doc  string

	// DialRetries bounds reconnect attempts while the server is not yet
	// reachable. 0 tries once.
	DialRetries uint64
	// PingInterval keeps the connection alive against a server idle
	// timeout. 0 disables pings.
	PingInterval time.Duration
}

// Dial connects to addr, retrying with exponential backoff.
func Dial(ctx context.Context, addr string, retries uint64) (net.Conn, error) {
	var conn net.Conn
	var d net.Dialer

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	err := backoff.RetryNotify(func() error {
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx), func(err error, wait time.Duration) {
		log.Printf("⚠️  Dial %s failed: %v; retrying in %v", addr, err, wait)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return conn, nil
}

// Run joins cfg's session and serves the interactive prompt: commands are
// read from in, document and status output goes to out. It returns when in
// is exhausted, /quit is typed, the server closes the connection or ctx is
// cancelled.
func Run(ctx context.Context, cfg Config, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "[client] connecting to %s\n", cfg.Addr)
	conn, err := Dial(ctx, cfg.Addr, cfg.DialRetries)
	if err != nil {
		return err
	}
	defer conn.Close()

	s := &session{
		replica:    NewReplica(cfg.User, cfg.Room, cfg.Doc),
		out:        out,
		outbound:   make(chan models.ClientMessage, 64),
		writerDone: make(chan struct{}),
	}
	go s.writeLoop(conn)
	defer s.drain()

	done := make(chan struct{})
	defer close(done)

	serverMsgs := make(chan models.ServerMessage)
	serverErr := make(chan error, 1)
	go readServer(conn, serverMsgs, serverErr, done)

	inputs := make(chan string)
	go readInput(in, inputs, done)

	s.send(models.NewJoin(cfg.User, cfg.Room, cfg.Doc))
	fmt.Fprintf(out, "[client] joined room '%s' doc '%s'\n", cfg.Room, cfg.Doc)
	fmt.Fprintln(out, "[client] type /help for commands")

	var pingC <-chan time.Time
	if cfg.PingInterval > 0 {
		ticker := time.NewTicker(cfg.PingInterval)
		defer ticker.Stop()
		pingC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-serverErr:
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "[client] server closed connection")
				return nil
			}
			return fmt.Errorf("read from server: %w", err)

		case <-s.writerDone:
			return errors.New("connection lost")

		case msg := <-serverMsgs:
			s.handleServer(msg)

		case line, ok := <-inputs:
			if !ok {
				return nil
			}
			if quit := s.handleInput(line); quit {
				return nil
			}

		case <-pingC:
			s.send(models.ClientMessage{Type: models.ClientPing})
		}
	}
}

type session struct {
	replica    *Replica
	out        io.Writer
	outbound   chan models.ClientMessage
	writerDone chan struct{}
}

func (s *session) send(msg models.ClientMessage) {
	select {
	case s.outbound <- msg:
	case <-s.writerDone:
	}
}

// drain stops the writer after it has flushed what is queued, so edits
// typed just before /quit still reach the server.
func (s *session) drain() {
	close(s.outbound)
	select {
	case <-s.writerDone:
	case <-time.After(drainTimeout):
	}
}

func (s *session) writeLoop(conn net.Conn) {
	defer close(s.writerDone)

	w := bufio.NewWriter(conn)
	for msg := range s.outbound {
		line, err := models.EncodeLine(msg)
		if err != nil {
			continue
		}
		if _, err := w.Write(line); err != nil {
			return
		}
		if len(s.outbound) == 0 {
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *session) handleServer(msg models.ServerMessage) {
	needSync := s.replica.Apply(msg)

	switch msg.Type {
	case models.ServerWelcome:
		fmt.Fprintf(s.out, "[client] welcome user_id=%d version=%d\n", msg.UserID, msg.Version)
		printDocument(s.out, s.replica.Text())
	case models.ServerApplied:
		if msg.Op.Mutates() {
			fmt.Fprintf(s.out, "[client] applied op from user %d (v%d)\n", msg.UserID, msg.Version)
		}
	case models.ServerPresence:
		fmt.Fprintf(s.out, "[client] users online: %d\n", len(msg.Users))
	case models.ServerSyncResponse:
		fmt.Fprintf(s.out, "[client] sync complete (v%d)\n", msg.Version)
	case models.ServerError:
		fmt.Fprintf(s.out, "[client] error: %s\n", msg.Message)
	}

	if needSync {
		fmt.Fprintln(s.out, "[client] replica out of step, resyncing")
		s.send(models.ClientMessage{Type: models.ClientSyncRequest})
	}
}

// handleInput runs one prompt line and reports whether the user quit.
func (s *session) handleInput(line string) bool {
	cmd, err := ParseCommand(line)
	if errors.Is(err, ErrEmptyCommand) {
		return false
	}
	if err != nil {
		fmt.Fprintf(s.out, "[client] %v\n", err)
		return false
	}

	switch cmd.Kind {
	case CmdQuit:
		return true
	case CmdHelp:
		fmt.Fprintln(s.out, helpText)
	case CmdShow:
		printDocument(s.out, s.replica.Text())
	case CmdUsers:
		fmt.Fprintln(s.out, "[client] users:")
		for _, u := range s.replica.Users() {
			fmt.Fprintf(s.out, "  %d: %s\n", u.ID, u.Name)
		}
	case CmdCursors:
		s.printCursors()
	case CmdSync:
		s.send(models.ClientMessage{Type: models.ClientSyncRequest})
	case CmdLeft, CmdRight:
		if s.replica.Joined() {
			s.send(models.NewOpMessage(s.replica.MoveCursor(cmd.Kind == CmdLeft)))
		}
	case CmdEdit:
		if !s.replica.Joined() {
			fmt.Fprintln(s.out, "[client] not joined yet")
			return false
		}
		if op, ok := s.replica.Local(cmd.Op); ok {
			s.send(models.NewOpMessage(op))
		}
	}
	return false
}

func (s *session) printCursors() {
	text := s.replica.Text()
	cursors := s.replica.Cursors()

	line, col := position.LineCol(text, s.replica.Cursor())
	fmt.Fprintln(s.out, "[client] cursors:")
	fmt.Fprintf(s.out, "  you: %d (line %d, col %d)\n", s.replica.Cursor(), line+1, col+1)
	for _, u := range s.replica.Users() {
		pos, ok := cursors[u.ID]
		if !ok {
			continue
		}
		line, col := position.LineCol(text, pos)
		fmt.Fprintf(s.out, "  %d (%s): %d (line %d, col %d)\n", u.ID, u.Name, pos, line+1, col+1)
	}
}

func printDocument(out io.Writer, text string) {
	fmt.Fprintf(out, "[doc] %d bytes\n", len(text))
	if text == "" {
		return
	}
	for i, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		fmt.Fprintf(out, "%4d | %s\n", i+1, line)
	}
}

func readServer(conn net.Conn, msgs chan<- models.ServerMessage, errs chan<- error, done <-chan struct{}) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	for scanner.Scan() {
		msg, err := models.DecodeServerMessage(scanner.Bytes())
		if err != nil {
			continue
		}
		select {
		case msgs <- msg:
		case <-done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		errs <- err
		return
	}
	errs <- io.EOF
}

// readInput never returns while in blocks (stdin); it only stops
// forwarding once done is closed.
func readInput(in io.Reader, lines chan<- string, done <-chan struct{}) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-done:
			return
		}
	}
}
