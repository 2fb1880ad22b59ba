package collaboration

import (
	"context"
	"log"
	"sync"

	"collabd/internal/middleware"
	"collabd/internal/models"
	"collabd/internal/position"
	"collabd/internal/textdoc"

	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: ONE AUTHORITATIVE STORE

All document mutation goes through SessionStore, guarded by a single mutex
for the whole store. Apply does four things under that lock:

  clamp the op → mutate the content handle → bump version → save + publish

Publishing under the lock means Applied events reach the bus in version
order, so every client that applies them in delivery order converges on
the same text. Operations on unrelated documents share the lock; that is
the scaling limit of this design.
*/

// documentState is the live state of one (room, doc) session.
type documentState struct {
	doc     *textdoc.Doc
	version uint64
	cursors map[uint64]int // user id -> byte offset
}

// Snapshot is a consistent read of a session's content.
type Snapshot struct {
	Room    string
	Doc     string
	Text    string
	Version uint64
}

// Result is the outcome of Apply.
type Result struct {
	Text    string
	Version uint64
	Op      models.Op // the op as applied, with offsets clamped
	Changed bool      // content was mutated and version bumped
}

// SessionStore maps session keys to document state. Sessions are created
// lazily and live for the life of the process.
type SessionStore struct {
	mu        sync.Mutex
	docs      map[models.DocKey]*documentState
	storage   Storage
	publisher Publisher
}

// NewSessionStore creates a store backed by storage. publisher receives
// Applied events and may be nil.
func NewSessionStore(storage Storage, publisher Publisher) *SessionStore {
	return &SessionStore{
		docs:      make(map[models.DocKey]*documentState),
		storage:   storage,
		publisher: publisher,
	}
}

// Ensure returns the session's current state, creating and loading it on
// first use.
func (s *SessionStore) Ensure(ctx context.Context, room, doc string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.ensureLocked(ctx, room, doc)
	return Snapshot{Room: room, Doc: doc, Text: st.doc.Text(), Version: st.version}
}

// Current returns the session's text and version without creating it.
func (s *SessionStore) Current(room, doc string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.docs[models.SessionKey(room, doc)]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{Room: room, Doc: doc, Text: st.doc.Text(), Version: st.version}, true
}

// Apply executes op on behalf of userID and publishes the resulting
// Applied event. Offsets are sanitized, never rejected: an op that lands
// nowhere (empty insert, empty delete range) leaves content and version
// untouched.
func (s *SessionStore) Apply(ctx context.Context, room, doc string, userID uint64, op models.Op) Result {
	ctx, span := middleware.StartSpan(ctx, "SessionStore.Apply",
		attribute.String("session.key", models.SessionKey(room, doc).String()),
		attribute.String("op.kind", string(op.Kind)),
		attribute.Int64("user.id", int64(userID)),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.ensureLocked(ctx, room, doc)
	text := st.doc.Text()
	applied, changed := applyOp(st, text, userID, op)

	if changed {
		st.version++
		text = st.doc.Text()
		s.persistLocked(ctx, room, doc, text)
	}

	span.SetAttributes(
		attribute.Int64("doc.version", int64(st.version)),
		attribute.Bool("op.changed", changed),
	)

	if s.publisher != nil {
		s.publisher.Publish(models.ServerMessage{
			Type:    models.ServerApplied,
			UserID:  userID,
			Room:    room,
			Doc:     doc,
			Op:      applied,
			Version: st.version,
		})
	}

	return Result{Text: text, Version: st.version, Op: applied, Changed: changed}
}

// applyOp mutates st for op against its current text and returns the
// clamped op.
func applyOp(st *documentState, text string, userID uint64, op models.Op) (models.Op, bool) {
	switch op.Kind {
	case models.OpInsert:
		pos := position.BoundarySafe(text, op.Pos)
		applied := models.Op{Kind: models.OpInsert, Pos: pos, Text: op.Text}
		if op.Text == "" {
			return applied, false
		}
		st.doc.Insert(position.CharIndex(text, pos), op.Text)
		return applied, true

	case models.OpDelete:
		start, end := position.DeleteRange(text, op.Pos, op.Len)
		applied := models.Op{Kind: models.OpDelete, Pos: start, Len: end - start}
		if start >= end {
			return applied, false
		}
		charStart, charCount := position.CharSpan(text, start, end)
		st.doc.Delete(charStart, charCount)
		return applied, true

	case models.OpCursor:
		pos := position.BoundarySafe(text, op.Pos)
		st.cursors[userID] = pos
		return models.Op{Kind: models.OpCursor, Pos: pos}, false
	}
	return op, false
}

// Cursors returns a copy of the session's cursor table.
func (s *SessionStore) Cursors(room, doc string) map[uint64]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[uint64]int)
	if st, ok := s.docs[models.SessionKey(room, doc)]; ok {
		for id, pos := range st.cursors {
			out[id] = pos
		}
	}
	return out
}

// RemoveCursor forgets a departed user's cursor.
func (s *SessionStore) RemoveCursor(room, doc string, userID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.docs[models.SessionKey(room, doc)]; ok {
		delete(st.cursors, userID)
	}
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func (s *SessionStore) ensureLocked(ctx context.Context, room, doc string) *documentState {
	key := models.SessionKey(room, doc)
	if st, ok := s.docs[key]; ok {
		return st
	}

	text := ""
	if s.storage != nil {
		loaded, err := s.storage.LoadText(ctx, room, doc)
		if err != nil {
			log.Printf("⚠️  Failed to load %s, starting empty: %v", key, err)
			middleware.AddSpanError(ctx, err)
		} else {
			text = loaded
		}
	}

	st := &documentState{
		doc:     textdoc.FromText(key.String(), "server", text),
		cursors: make(map[uint64]int),
	}
	s.docs[key] = st
	log.Printf("  Session %s opened (%d bytes)", key, len(text))
	return st
}

// persistLocked writes the full text through. Failures are reported and
// the in-memory edit stands.
func (s *SessionStore) persistLocked(ctx context.Context, room, doc, text string) {
	if s.storage == nil {
		return
	}

	// The edit is already applied; a closing connection must not abort its save.
	ctx, span := middleware.StartSpan(context.WithoutCancel(ctx), "Storage.SaveText",
		attribute.String("session.key", models.SessionKey(room, doc).String()),
		attribute.Int("doc.bytes", len(text)),
	)
	defer span.End()

	if err := s.storage.SaveText(ctx, room, doc, text); err != nil {
		log.Printf("⚠️  Failed to persist %s: %v", models.SessionKey(room, doc), err)
		middleware.AddSpanError(ctx, err)
	}
}
