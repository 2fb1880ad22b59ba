package collaboration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"collabd/internal/models"
)

type memStorage struct {
	mu      sync.Mutex
	texts   map[models.DocKey]string
	saves   int
	saveErr error
	loadErr error
}

func newMemStorage() *memStorage {
	return &memStorage{texts: make(map[models.DocKey]string)}
}

func (m *memStorage) LoadText(_ context.Context, room, doc string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return "", m.loadErr
	}
	return m.texts[models.SessionKey(room, doc)], nil
}

func (m *memStorage) SaveText(_ context.Context, room, doc, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.texts[models.SessionKey(room, doc)] = text
	return nil
}

func insert(pos int, text string) models.Op {
	return models.Op{Kind: models.OpInsert, Pos: pos, Text: text}
}

func del(pos, length int) models.Op {
	return models.Op{Kind: models.OpDelete, Pos: pos, Len: length}
}

func cursor(pos int) models.Op {
	return models.Op{Kind: models.OpCursor, Pos: pos}
}

func TestSessionStoreEnsure(t *testing.T) {
	storage := newMemStorage()
	storage.texts[models.SessionKey("r", "d")] = "persisted"
	store := NewSessionStore(storage, nil)

	snap := store.Ensure(context.Background(), "r", "d")
	if snap.Text != "persisted" || snap.Version != 0 {
		t.Fatalf("Ensure = %+v", snap)
	}
	fresh := store.Ensure(context.Background(), "r", "new")
	if fresh.Text != "" || fresh.Version != 0 {
		t.Fatalf("Ensure(new) = %+v", fresh)
	}
	if store.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", store.Len())
	}
	if _, ok := store.Current("r", "missing"); ok {
		t.Fatal("Current created a session")
	}
}

func TestSessionStoreIsolatesSlashedNames(t *testing.T) {
	store := NewSessionStore(newMemStorage(), nil)
	ctx := context.Background()

	store.Apply(ctx, "a/b", "c", 1, insert(0, "secret"))

	snap := store.Ensure(ctx, "a", "b/c")
	if snap.Text != "" || snap.Version != 0 {
		t.Fatalf("room=a doc=b/c sees %q v%d", snap.Text, snap.Version)
	}
	if store.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", store.Len())
	}
	if got := store.Cursors("a", "b/c"); len(got) != 0 {
		t.Fatalf("cursors leaked across sessions: %v", got)
	}
}

func TestSessionStoreLoadFailureStartsEmpty(t *testing.T) {
	storage := newMemStorage()
	storage.loadErr = errors.New("disk on fire")
	store := NewSessionStore(storage, nil)

	snap := store.Ensure(context.Background(), "r", "d")
	if snap.Text != "" || snap.Version != 0 {
		t.Fatalf("Ensure = %+v", snap)
	}
}

func TestSessionStoreApply(t *testing.T) {
	tests := []struct {
		name        string
		initial     string
		op          models.Op
		wantText    string
		wantVersion uint64
		wantOp      models.Op
	}{
		{"insert into empty", "", insert(0, "Hello"), "Hello", 1, insert(0, "Hello")},
		{"insert past end clamps", "Hi", insert(99, "!"), "Hi!", 1, insert(2, "!")},
		{"insert mid rune snaps back", "é", insert(1, "x"), "xé", 1, insert(0, "x")},
		{"empty insert is a no-op", "Hi", insert(1, ""), "Hi", 0, insert(1, "")},
		{"delete clamps length", "Hi", del(0, 100), "", 1, del(0, 2)},
		{"delete past end is a no-op", "Hi", del(5, 3), "Hi", 0, del(2, 0)},
		{"delete on empty is a no-op", "", del(0, 3), "", 0, del(0, 0)},
		{"delete whole rune", "aéb", del(1, 2), "ab", 1, del(1, 2)},
		{"cursor keeps version", "Hi", cursor(1), "Hi", 0, cursor(1)},
		{"cursor clamps", "Hi", cursor(50), "Hi", 0, cursor(2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := newMemStorage()
			storage.texts[models.SessionKey("r", "d")] = tt.initial
			store := NewSessionStore(storage, nil)

			res := store.Apply(context.Background(), "r", "d", 1, tt.op)
			if res.Text != tt.wantText {
				t.Errorf("text = %q, want %q", res.Text, tt.wantText)
			}
			if res.Version != tt.wantVersion {
				t.Errorf("version = %d, want %d", res.Version, tt.wantVersion)
			}
			if res.Op != tt.wantOp {
				t.Errorf("op = %v, want %v", res.Op, tt.wantOp)
			}
			if res.Changed != (tt.wantVersion == 1) {
				t.Errorf("changed = %v", res.Changed)
			}
		})
	}
}

func TestSessionStoreVersionCountsMutations(t *testing.T) {
	store := NewSessionStore(nil, nil)
	ctx := context.Background()

	ops := []models.Op{insert(0, "abc"), cursor(1), insert(3, "def"), del(0, 0), del(0, 1), cursor(0)}
	var res Result
	for _, op := range ops {
		res = store.Apply(ctx, "r", "d", 1, op)
	}
	if res.Version != 3 || res.Text != "bcdef" {
		t.Fatalf("final = %q v%d, want \"bcdef\" v3", res.Text, res.Version)
	}
}

func TestSessionStoreDeterministic(t *testing.T) {
	ops := []models.Op{
		insert(0, "héllo"), insert(2, "X"), del(1, 3), insert(100, " wörld"),
		cursor(4), del(-1, 2), insert(3, "ü"), del(0, 1000), insert(0, "end"),
	}

	run := func() Result {
		store := NewSessionStore(nil, nil)
		var res Result
		for _, op := range ops {
			res = store.Apply(context.Background(), "r", "d", 7, op)
		}
		return res
	}

	a, b := run(), run()
	if a.Text != b.Text || a.Version != b.Version {
		t.Fatalf("replicas diverged: %q v%d vs %q v%d", a.Text, a.Version, b.Text, b.Version)
	}
}

func TestSessionStorePersistsEveryMutation(t *testing.T) {
	storage := newMemStorage()
	store := NewSessionStore(storage, nil)
	ctx := context.Background()

	store.Apply(ctx, "r", "d", 1, insert(0, "Hello"))
	store.Apply(ctx, "r", "d", 1, cursor(2))
	store.Apply(ctx, "r", "d", 1, del(0, 1))

	if storage.saves != 2 {
		t.Fatalf("saves = %d, want 2", storage.saves)
	}
	if got := storage.texts[models.SessionKey("r", "d")]; got != "ello" {
		t.Fatalf("stored %q, want %q", got, "ello")
	}
}

func TestSessionStoreSaveFailureKeepsEdit(t *testing.T) {
	storage := newMemStorage()
	storage.saveErr = errors.New("read-only filesystem")
	store := NewSessionStore(storage, nil)

	res := store.Apply(context.Background(), "r", "d", 1, insert(0, "kept"))
	if res.Text != "kept" || res.Version != 1 {
		t.Fatalf("Apply = %+v", res)
	}
	snap, _ := store.Current("r", "d")
	if snap.Text != "kept" {
		t.Fatalf("Current = %q, edit was rolled back", snap.Text)
	}
}

func TestSessionStorePublishesApplied(t *testing.T) {
	pub := &recordingPublisher{}
	store := NewSessionStore(nil, pub)
	ctx := context.Background()

	store.Apply(ctx, "r", "d", 3, insert(0, "Hi"))
	store.Apply(ctx, "r", "d", 3, cursor(9))
	store.Apply(ctx, "r", "d", 3, del(5, 1))

	if len(pub.msgs) != 3 {
		t.Fatalf("published %d events, want 3", len(pub.msgs))
	}
	wantVersions := []uint64{1, 1, 1}
	for i, msg := range pub.msgs {
		if msg.Type != models.ServerApplied || msg.UserID != 3 || !msg.Matches("r", "d") {
			t.Errorf("event %d = %+v", i, msg)
		}
		if msg.Version != wantVersions[i] {
			t.Errorf("event %d version = %d, want %d", i, msg.Version, wantVersions[i])
		}
	}
	if got := pub.msgs[1].Op; got != cursor(2) {
		t.Errorf("cursor op published as %v", got)
	}
}

func TestSessionStoreCursors(t *testing.T) {
	store := NewSessionStore(nil, nil)
	ctx := context.Background()

	store.Apply(ctx, "r", "d", 1, insert(0, "abcdef"))
	store.Apply(ctx, "r", "d", 1, cursor(3))
	store.Apply(ctx, "r", "d", 2, cursor(5))

	cursors := store.Cursors("r", "d")
	if cursors[1] != 3 || cursors[2] != 5 || len(cursors) != 2 {
		t.Fatalf("Cursors = %v", cursors)
	}

	store.RemoveCursor("r", "d", 1)
	if _, ok := store.Cursors("r", "d")[1]; ok {
		t.Fatal("cursor 1 still present after RemoveCursor")
	}
}
