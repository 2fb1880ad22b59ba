package repository

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	text, err := store.LoadText(ctx, "room", "notes.txt")
	if err != nil {
		t.Fatalf("LoadText on empty store: %v", err)
	}
	if text != "" {
		t.Fatalf("LoadText on empty store = %q, want empty", text)
	}

	if err := store.SaveText(ctx, "room", "notes.txt", "héllo\n"); err != nil {
		t.Fatalf("SaveText: %v", err)
	}
	if err := store.SaveText(ctx, "room", "notes.txt", "second"); err != nil {
		t.Fatalf("SaveText overwrite: %v", err)
	}

	text, err = store.LoadText(ctx, "room", "notes.txt")
	if err != nil {
		t.Fatalf("LoadText: %v", err)
	}
	if text != "second" {
		t.Fatalf("LoadText = %q, want %q", text, "second")
	}
}

func TestFileStoreStaysInsideDataDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "data"))

	if err := store.SaveText(ctx, "..", "../../escape", "x"); err != nil {
		t.Fatalf("SaveText: %v", err)
	}

	want := filepath.Join(dir, "data", StorageName(".."), StorageName("../../escape"))
	if !strings.HasPrefix(want, filepath.Join(dir, "data", "__~")) {
		t.Fatalf("unexpected snapshot path %s", want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected snapshot at %s: %v", want, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape")); !os.IsNotExist(err) {
		t.Fatalf("snapshot escaped the data directory")
	}
}

func TestSanitizeComponent(t *testing.T) {
	tests := map[string]string{
		"":            "untitled",
		"shared.txt":  "shared.txt",
		"my room":     "my_room",
		"a/b\\c":      "a_b_c",
		"..":          "__",
		".":           "_",
		"naïve-doc_1": "na_ve-doc_1",
	}
	for in, want := range tests {
		if got := SanitizeComponent(in); got != want {
			t.Errorf("SanitizeComponent(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFileStoreKeepsLookalikeNamesApart(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	rooms := []string{"a/b", "a_b", "a b", ""}
	for _, room := range rooms {
		if err := store.SaveText(ctx, room, "doc", "text of "+room); err != nil {
			t.Fatalf("SaveText(%q): %v", room, err)
		}
	}
	for _, room := range rooms {
		got, err := store.LoadText(ctx, room, "doc")
		if err != nil {
			t.Fatalf("LoadText(%q): %v", room, err)
		}
		if got != "text of "+room {
			t.Errorf("room %q loaded %q", room, got)
		}
	}
}

func TestStorageName(t *testing.T) {
	if got := StorageName("shared.txt"); got != "shared.txt" {
		t.Fatalf("safe name rewritten to %q", got)
	}
	a, b := StorageName("a/b"), StorageName("a_b")
	if a == b {
		t.Fatalf("StorageName(%q) == StorageName(%q) == %q", "a/b", "a_b", a)
	}
	if !strings.HasPrefix(a, "a_b~") || strings.ContainsAny(a, "/\\") {
		t.Fatalf("StorageName(a/b) = %q", a)
	}
	if StorageName("a/b") != a {
		t.Fatal("StorageName is not stable")
	}
}
