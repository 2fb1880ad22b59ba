package collaboration

import (
	"bufio"
	"bytes"
	"net"
	"sync"
	"time"
)

const (
	// MaxFrameSize bounds one inbound line. Longer lines end the connection.
	MaxFrameSize = 1 << 20

	writeWait = 10 * time.Second
)

// LineTransport frames a stream connection as newline-delimited lines.
type LineTransport struct {
	conn    net.Conn
	scanner *bufio.Scanner
	wmu     sync.Mutex
}

// NewLineTransport wraps conn.
func NewLineTransport(conn net.Conn) *LineTransport {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	return &LineTransport{conn: conn, scanner: scanner}
}

// ReadFrame returns the next line without its terminator. A clean close by
// the peer yields net.ErrClosed.
func (t *LineTransport) ReadFrame() ([]byte, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, net.ErrClosed
	}
	return bytes.Clone(t.scanner.Bytes()), nil
}

// WriteFrame writes frame, appending a newline if it lacks one.
func (t *LineTransport) WriteFrame(frame []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	if len(frame) == 0 || frame[len(frame)-1] != '\n' {
		frame = append(frame, '\n')
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	_, err := t.conn.Write(frame)
	return err
}

func (t *LineTransport) Close() error {
	return t.conn.Close()
}

func (t *LineTransport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
