package client

import (
	"sort"

	"collabd/internal/models"
	"collabd/internal/position"
	"collabd/internal/textdoc"

	"github.com/google/uuid"
)

/*
LEARNING: THE CLIENT REPLICA

The server is authoritative; a client only mirrors it. The rules every
client follows so byte offsets stay meaningful:

1. Welcome and SyncResponse replace the local text outright
2. Local edits are applied optimistically, then sent
3. Applied frames for our own user id are acknowledgements, never re-applied
4. Applied frames from others are applied with the same clamping the
   server used, and shift our cursor (and the cursors we track)

If another user's edit is sequenced while one of ours is still in flight,
our optimistic text may differ from the server's. The replica notices and
asks for a resync instead of guessing.
*/

// Replica mirrors one server-side session.
type Replica struct {
	room, docName string
	replicaID     string

	buf     *textdoc.Doc
	version uint64
	userID  uint64
	joined  bool

	users   map[uint64]string
	cursors map[uint64]int // remote users' byte cursors
	cursor  int            // our byte cursor

	pending int // local edits sent but not yet acknowledged
}

// NewReplica creates an empty, unjoined replica for user in (room, doc).
func NewReplica(user, room, doc string) *Replica {
	r := &Replica{
		room:      room,
		docName:   doc,
		replicaID: user + "-" + uuid.NewString(),
		users:     make(map[uint64]string),
		cursors:   make(map[uint64]int),
	}
	r.reset("", 0)
	return r
}

// Apply folds one server frame into the replica. It returns true when the
// replica may have diverged and the caller should send a SyncRequest.
func (r *Replica) Apply(msg models.ServerMessage) (needSync bool) {
	switch msg.Type {
	case models.ServerWelcome:
		r.userID = msg.UserID
		r.joined = true
		r.reset(msg.Text, msg.Version)
		r.setUsers(msg.Users)

	case models.ServerSyncResponse:
		r.reset(msg.Text, msg.Version)

	case models.ServerPresence:
		r.setUsers(msg.Users)

	case models.ServerApplied:
		return r.applied(msg)
	}
	return false
}

func (r *Replica) applied(msg models.ServerMessage) bool {
	op := msg.Op
	if op.Kind == models.OpCursor {
		if msg.UserID != r.userID {
			r.cursors[msg.UserID] = op.Pos
		}
		return false
	}

	if msg.UserID == r.userID && r.pending > 0 {
		r.pending--
		r.version = msg.Version
		return false
	}
	if msg.Version <= r.version {
		// Already part of the last snapshot.
		return false
	}

	gap := msg.Version != r.version+1
	diverged := r.pending > 0

	r.applyOp(op)
	r.shiftCursors(msg.UserID, op)
	r.version = msg.Version
	return gap || diverged
}

// Local applies a user edit optimistically and returns the op to send.
// Cursor ops move the local cursor. ok is false for ops that change
// nothing and need not be sent.
func (r *Replica) Local(op models.Op) (models.Op, bool) {
	text := r.buf.Text()

	switch op.Kind {
	case models.OpCursor:
		r.cursor = position.BoundarySafe(text, op.Pos)
		return models.Op{Kind: models.OpCursor, Pos: r.cursor}, true

	case models.OpInsert:
		if op.Text == "" {
			return op, false
		}
		pos := position.BoundarySafe(text, op.Pos)
		r.buf.Insert(position.CharIndex(text, pos), op.Text)
		r.cursor = position.ShiftForInsert(r.cursor, pos, len(op.Text))
		r.pending++
		return models.Op{Kind: models.OpInsert, Pos: pos, Text: op.Text}, true

	case models.OpDelete:
		start, end := position.DeleteRange(text, op.Pos, op.Len)
		if start >= end {
			return op, false
		}
		charStart, charCount := position.CharSpan(text, start, end)
		r.buf.Delete(charStart, charCount)
		r.cursor = position.ShiftForDelete(r.cursor, start, end-start)
		r.pending++
		return models.Op{Kind: models.OpDelete, Pos: start, Len: end - start}, true
	}
	return op, false
}

// MoveCursor steps the local cursor one character left (back) or right
// and returns the Cursor op announcing it.
func (r *Replica) MoveCursor(back bool) models.Op {
	text := r.buf.Text()
	if back {
		r.cursor = position.PrevBoundary(text, r.cursor)
	} else {
		r.cursor = position.NextBoundary(text, r.cursor)
	}
	return models.Op{Kind: models.OpCursor, Pos: r.cursor}
}

// applyOp mirrors the server's clamping exactly.
func (r *Replica) applyOp(op models.Op) {
	text := r.buf.Text()
	switch op.Kind {
	case models.OpInsert:
		if op.Text != "" {
			r.buf.Insert(position.CharIndex(text, op.Pos), op.Text)
		}
	case models.OpDelete:
		start, end := position.DeleteRange(text, op.Pos, op.Len)
		if start < end {
			r.buf.Delete(position.CharSpan(text, start, end))
		}
	}
}

func (r *Replica) shiftCursors(author uint64, op models.Op) {
	shift := func(c int) int {
		if op.Kind == models.OpInsert {
			return position.ShiftForInsert(c, op.Pos, len(op.Text))
		}
		return position.ShiftForDelete(c, op.Pos, op.Len)
	}

	r.cursor = position.BoundarySafe(r.buf.Text(), shift(r.cursor))
	for id, c := range r.cursors {
		if id != author {
			r.cursors[id] = shift(c)
		}
	}
}

func (r *Replica) reset(text string, version uint64) {
	r.buf = textdoc.FromText(models.SessionKey(r.room, r.docName).String(), r.replicaID, text)
	r.version = version
	r.pending = 0
	r.cursor = position.BoundarySafe(text, r.cursor)
	clear(r.cursors)
}

// setUsers replaces the member list and forgets cursors of users who left.
func (r *Replica) setUsers(users []models.UserInfo) {
	clear(r.users)
	for _, u := range users {
		r.users[u.ID] = u.Name
	}
	for id := range r.cursors {
		if _, ok := r.users[id]; !ok {
			delete(r.cursors, id)
		}
	}
}

func (r *Replica) Text() string { return r.buf.Text() }

func (r *Replica) Version() uint64 { return r.version }

func (r *Replica) UserID() uint64 { return r.userID }

func (r *Replica) Joined() bool { return r.joined }

// Cursor is the local user's byte cursor.
func (r *Replica) Cursor() int { return r.cursor }

// Users lists the session members ordered by id.
func (r *Replica) Users() []models.UserInfo {
	out := make([]models.UserInfo, 0, len(r.users))
	for id, name := range r.users {
		out = append(out, models.UserInfo{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cursors returns a copy of the remote cursor table.
func (r *Replica) Cursors() map[uint64]int {
	out := make(map[uint64]int, len(r.cursors))
	for id, pos := range r.cursors {
		out[id] = pos
	}
	return out
}
