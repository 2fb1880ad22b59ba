package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

/*
LEARNING: EXTERNALLY TAGGED JSON FRAMES

Every frame is one JSON value on one line. The variant name is the only key
of the object and its value carries the fields:

  {"Join":{"user":"alice","room":"r","doc":"d"}}
  {"Insert":{"pos":0,"text":"Hello"}}
  "SyncRequest"

Variants without fields are sent as a bare string; {"SyncRequest":null} is
accepted too. Go has no sum types, so each message is a struct with a Type
discriminator and custom MarshalJSON/UnmarshalJSON methods.
*/

var (
	// ErrUnknownMessage is returned when a frame's tag is not a known variant.
	ErrUnknownMessage = errors.New("unknown message type")
	// ErrMalformedFrame is returned when a frame is not a tagged JSON value.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrNegativeOffset is returned for positions or lengths below zero.
	ErrNegativeOffset = errors.New("negative offset")
)

// UserInfo identifies a session member in Welcome and Presence payloads.
type UserInfo struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// OpKind names an editing operation.
type OpKind string

const (
	OpInsert OpKind = "Insert"
	OpDelete OpKind = "Delete"
	OpCursor OpKind = "Cursor"
)

// Op is one editing intent. Pos and Len are UTF-8 byte offsets in the
// sender's view of the document.
type Op struct {
	Kind OpKind
	Pos  int
	Len  int    // Delete only
	Text string // Insert only
}

// Mutates reports whether the op changes document content.
func (o Op) Mutates() bool {
	return o.Kind == OpInsert || o.Kind == OpDelete
}

func (o Op) String() string {
	switch o.Kind {
	case OpInsert:
		return fmt.Sprintf("Insert{pos:%d, text:%q}", o.Pos, o.Text)
	case OpDelete:
		return fmt.Sprintf("Delete{pos:%d, len:%d}", o.Pos, o.Len)
	case OpCursor:
		return fmt.Sprintf("Cursor{pos:%d}", o.Pos)
	}
	return fmt.Sprintf("Op(%s)", o.Kind)
}

type insertBody struct {
	Pos  int    `json:"pos"`
	Text string `json:"text"`
}

type deleteBody struct {
	Pos int `json:"pos"`
	Len int `json:"len"`
}

type cursorBody struct {
	Pos int `json:"pos"`
}

func (o Op) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case OpInsert:
		return tagged(string(o.Kind), insertBody{Pos: o.Pos, Text: o.Text})
	case OpDelete:
		return tagged(string(o.Kind), deleteBody{Pos: o.Pos, Len: o.Len})
	case OpCursor:
		return tagged(string(o.Kind), cursorBody{Pos: o.Pos})
	}
	return nil, fmt.Errorf("%w: op %q", ErrUnknownMessage, o.Kind)
}

func (o *Op) UnmarshalJSON(data []byte) error {
	tag, body, err := splitTagged(data)
	if err != nil {
		return err
	}
	return o.decode(OpKind(tag), body)
}

func (o *Op) decode(kind OpKind, body json.RawMessage) error {
	switch kind {
	case OpInsert:
		var b insertBody
		if err := unmarshalBody(body, &b); err != nil {
			return err
		}
		*o = Op{Kind: kind, Pos: b.Pos, Text: b.Text}
	case OpDelete:
		var b deleteBody
		if err := unmarshalBody(body, &b); err != nil {
			return err
		}
		*o = Op{Kind: kind, Pos: b.Pos, Len: b.Len}
	case OpCursor:
		var b cursorBody
		if err := unmarshalBody(body, &b); err != nil {
			return err
		}
		*o = Op{Kind: kind, Pos: b.Pos}
	default:
		return fmt.Errorf("%w: op %q", ErrUnknownMessage, kind)
	}
	if o.Pos < 0 || o.Len < 0 {
		return ErrNegativeOffset
	}
	return nil
}

// ClientType is the tag of a client→server frame.
type ClientType string

const (
	ClientJoin        ClientType = "Join"
	ClientInsert      ClientType = "Insert"
	ClientDelete      ClientType = "Delete"
	ClientCursor      ClientType = "Cursor"
	ClientSyncRequest ClientType = "SyncRequest"
	ClientPing        ClientType = "Ping"
)

// ClientMessage is a decoded client→server frame.
type ClientMessage struct {
	Type ClientType

	// Join
	User string
	Room string
	Doc  string

	// Insert, Delete, Cursor
	Op Op
}

type joinBody struct {
	User string `json:"user"`
	Room string `json:"room"`
	Doc  string `json:"doc"`
}

// NewJoin builds a Join frame.
func NewJoin(user, room, doc string) ClientMessage {
	return ClientMessage{Type: ClientJoin, User: user, Room: room, Doc: doc}
}

// NewOpMessage wraps an op as a client frame.
func NewOpMessage(op Op) ClientMessage {
	return ClientMessage{Type: ClientType(op.Kind), Op: op}
}

func (m ClientMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case ClientJoin:
		return tagged(string(m.Type), joinBody{User: m.User, Room: m.Room, Doc: m.Doc})
	case ClientInsert, ClientDelete, ClientCursor:
		op := m.Op
		op.Kind = OpKind(m.Type)
		return op.MarshalJSON()
	case ClientSyncRequest, ClientPing:
		return json.Marshal(string(m.Type))
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
}

func (m *ClientMessage) UnmarshalJSON(data []byte) error {
	tag, body, err := splitTagged(data)
	if err != nil {
		return err
	}

	switch t := ClientType(tag); t {
	case ClientJoin:
		var b joinBody
		if err := unmarshalBody(body, &b); err != nil {
			return err
		}
		*m = NewJoin(b.User, b.Room, b.Doc)
	case ClientInsert, ClientDelete, ClientCursor:
		var op Op
		if err := op.decode(OpKind(t), body); err != nil {
			return err
		}
		*m = NewOpMessage(op)
	case ClientSyncRequest, ClientPing:
		*m = ClientMessage{Type: t}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, tag)
	}
	return nil
}

// DecodeClientMessage parses one inbound line.
func DecodeClientMessage(line []byte) (ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal(line, &m); err != nil {
		return ClientMessage{}, err
	}
	return m, nil
}

// ServerType is the tag of a server→client frame.
type ServerType string

const (
	ServerWelcome      ServerType = "Welcome"
	ServerApplied      ServerType = "Applied"
	ServerPresence     ServerType = "Presence"
	ServerSyncResponse ServerType = "SyncResponse"
	ServerError        ServerType = "Error"
)

// ServerMessage is a server→client frame. Which fields are meaningful
// depends on Type.
type ServerMessage struct {
	Type    ServerType
	UserID  uint64
	Room    string
	Doc     string
	Text    string
	Version uint64
	Users   []UserInfo
	Op      Op
	Message string
}

// Broadcast reports whether the message may travel over the fan-out bus.
// Welcome and Error frames are point-to-point only.
func (m ServerMessage) Broadcast() bool {
	switch m.Type {
	case ServerApplied, ServerPresence, ServerSyncResponse:
		return true
	}
	return false
}

// Matches reports whether m is addressed to the (room, doc) session.
func (m ServerMessage) Matches(room, doc string) bool {
	return m.Broadcast() && m.Room == room && m.Doc == doc
}

type welcomeBody struct {
	UserID  uint64     `json:"user_id"`
	Room    string     `json:"room"`
	Doc     string     `json:"doc"`
	Text    string     `json:"text"`
	Version uint64     `json:"version"`
	Users   []UserInfo `json:"users"`
}

type appliedBody struct {
	UserID  uint64 `json:"user_id"`
	Room    string `json:"room"`
	Doc     string `json:"doc"`
	Op      Op     `json:"op"`
	Version uint64 `json:"version"`
}

type presenceBody struct {
	Room  string     `json:"room"`
	Doc   string     `json:"doc"`
	Users []UserInfo `json:"users"`
}

type syncBody struct {
	Room    string `json:"room"`
	Doc     string `json:"doc"`
	Text    string `json:"text"`
	Version uint64 `json:"version"`
}

type errorBody struct {
	Message string `json:"message"`
}

func (m ServerMessage) MarshalJSON() ([]byte, error) {
	users := m.Users
	if users == nil {
		users = []UserInfo{}
	}

	switch m.Type {
	case ServerWelcome:
		return tagged(string(m.Type), welcomeBody{
			UserID: m.UserID, Room: m.Room, Doc: m.Doc,
			Text: m.Text, Version: m.Version, Users: users,
		})
	case ServerApplied:
		return tagged(string(m.Type), appliedBody{
			UserID: m.UserID, Room: m.Room, Doc: m.Doc, Op: m.Op, Version: m.Version,
		})
	case ServerPresence:
		return tagged(string(m.Type), presenceBody{Room: m.Room, Doc: m.Doc, Users: users})
	case ServerSyncResponse:
		return tagged(string(m.Type), syncBody{Room: m.Room, Doc: m.Doc, Text: m.Text, Version: m.Version})
	case ServerError:
		return tagged(string(m.Type), errorBody{Message: m.Message})
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
}

func (m *ServerMessage) UnmarshalJSON(data []byte) error {
	tag, body, err := splitTagged(data)
	if err != nil {
		return err
	}

	switch t := ServerType(tag); t {
	case ServerWelcome:
		var b welcomeBody
		if err := unmarshalBody(body, &b); err != nil {
			return err
		}
		*m = ServerMessage{Type: t, UserID: b.UserID, Room: b.Room, Doc: b.Doc,
			Text: b.Text, Version: b.Version, Users: b.Users}
	case ServerApplied:
		var b appliedBody
		if err := unmarshalBody(body, &b); err != nil {
			return err
		}
		*m = ServerMessage{Type: t, UserID: b.UserID, Room: b.Room, Doc: b.Doc,
			Op: b.Op, Version: b.Version}
	case ServerPresence:
		var b presenceBody
		if err := unmarshalBody(body, &b); err != nil {
			return err
		}
		*m = ServerMessage{Type: t, Room: b.Room, Doc: b.Doc, Users: b.Users}
	case ServerSyncResponse:
		var b syncBody
		if err := unmarshalBody(body, &b); err != nil {
			return err
		}
		*m = ServerMessage{Type: t, Room: b.Room, Doc: b.Doc, Text: b.Text, Version: b.Version}
	case ServerError:
		var b errorBody
		if err := unmarshalBody(body, &b); err != nil {
			return err
		}
		*m = ServerMessage{Type: t, Message: b.Message}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, tag)
	}
	return nil
}

// DecodeServerMessage parses one line received from the server.
func DecodeServerMessage(line []byte) (ServerMessage, error) {
	var m ServerMessage
	if err := json.Unmarshal(line, &m); err != nil {
		return ServerMessage{}, err
	}
	return m, nil
}

// EncodeLine marshals v and appends the frame delimiter.
func EncodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func tagged(tag string, body any) ([]byte, error) {
	return json.Marshal(map[string]any{tag: body})
}

// splitTagged accepts "Tag" or {"Tag": body}.
func splitTagged(data []byte) (string, json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", nil, ErrMalformedFrame
	}

	if data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return tag, nil, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("%w: want exactly one tag, got %d", ErrMalformedFrame, len(obj))
	}
	for tag, body := range obj {
		return tag, body, nil
	}
	return "", nil, ErrMalformedFrame
}

// unmarshalBody requires a body object. Fieldless variants never call it.
func unmarshalBody(body json.RawMessage, v any) error {
	if len(body) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		return fmt.Errorf("%w: missing body", ErrMalformedFrame)
	}
	return json.Unmarshal(body, v)
}
