package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
)

/*
LEARNING: PERSISTENCE GATEWAY

Every backend in this package satisfies the same two-operation contract:

  LoadText(ctx, room, doc) -> text   ("" when nothing is stored)
  SaveText(ctx, room, doc, text)

The session store owns the authoritative text in memory and writes the
whole document through on every edit, so backends never see deltas.
*/

// FileStore keeps one file per document under <dataDir>/<room>/<doc>.
type FileStore struct {
	dataDir string
}

// NewFileStore creates a file-backed store rooted at dataDir
func NewFileStore(dataDir string) *FileStore {
	return &FileStore{dataDir: dataDir}
}

// LoadText reads a document snapshot. A missing file is an empty document.
func (s *FileStore) LoadText(ctx context.Context, room, doc string) (string, error) {
	data, err := os.ReadFile(s.path(room, doc))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read snapshot: %w", err)
	}
	return string(data), nil
}

// SaveText writes a document snapshot, creating the room directory on
// demand. The file is replaced by rename so readers never see a partial
// write.
func (s *FileStore) SaveText(ctx context.Context, room, doc, text string) error {
	path := s.path(room, doc)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create room directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) path(room, doc string) string {
	return filepath.Join(s.dataDir, StorageName(room), StorageName(doc))
}

// StorageName is the on-disk (and Redis key) form of a room or document
// name. Names that are already safe are used as is. Any other name is
// sanitized and suffixed with "~" and a hash of the raw name, so "a/b" and
// "a_b" land in different files. '~' never survives sanitizing, so a
// suffixed name cannot equal a plain one.
func StorageName(name string) string {
	safe := SanitizeComponent(name)
	if safe == name {
		return name
	}
	return fmt.Sprintf("%s~%016x", safe, xxhash.Sum64String(name))
}

// SanitizeComponent maps a room or document name to a single safe path
// component: ASCII letters, digits, '-', '_' and '.' pass through, anything
// else becomes '_'. Names that would still walk the tree ("", ".", "..")
// are replaced.
func SanitizeComponent(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := b.String()
	switch out {
	case "":
		return "untitled"
	case ".", "..":
		return strings.Repeat("_", len(out))
	}
	return out
}
