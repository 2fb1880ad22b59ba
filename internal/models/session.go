package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// ConnState is the protocol state of one client connection.
type ConnState int

const (
	StateUnjoined ConnState = iota
	StateJoined
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session describes one accepted connection. ID is a KSUID so log lines
// and trace spans for the same connection sort by connect time.
type Session struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remote_addr"`
	Transport    string    `json:"transport"`
	UserID       uint64    `json:"user_id,omitempty"`
	UserName     string    `json:"user_name,omitempty"`
	Room         string    `json:"room,omitempty"`
	Doc          string    `json:"doc,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// UserState is a joined user's presence entry.
type UserState struct {
	ID   uint64
	Name string
	Room string
	Doc  string
}

// Info returns the wire form of the user.
func (u UserState) Info() UserInfo {
	return UserInfo{ID: u.ID, Name: u.Name}
}

func NewSession(remoteAddr, transport string) *Session {
	now := time.Now()
	return &Session{
		ID:           ksuid.New().String(),
		RemoteAddr:   remoteAddr,
		Transport:    transport,
		ConnectedAt:  now,
		LastActiveAt: now,
	}
}

// DocKey identifies one (room, document) session. It is used directly as a
// map key, so room and document names may contain any character,
// including the "/" that String puts between them.
type DocKey struct {
	Room string
	Doc  string
}

// SessionKey returns the key of the (room, doc) session.
func SessionKey(room, doc string) DocKey {
	return DocKey{Room: room, Doc: doc}
}

// String renders the key for logs and span attributes. Distinct keys may
// render alike; compare DocKey values, not strings.
func (k DocKey) String() string {
	return k.Room + "/" + k.Doc
}
