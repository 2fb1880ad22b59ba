package repository

import (
	"context"
	"os"
	"testing"

	"collabd/internal/models"

	"github.com/segmentio/ksuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// These tests talk to real servers and skip unless pointed at one.

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	rdb, err := DialRedis(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("DialRedis: %v", err)
	}
	defer rdb.Close()

	store := NewRedisStore(rdb, "collabd-test:"+ksuid.New().String()+":")
	exerciseStore(t, store)
}

func TestSnapshotRepository(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	if err := db.AutoMigrate(&models.DocumentSnapshot{}); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	exerciseStore(t, NewSnapshotRepository(db))
}

type textStore interface {
	LoadText(ctx context.Context, room, doc string) (string, error)
	SaveText(ctx context.Context, room, doc, text string) error
}

func exerciseStore(t *testing.T, store textStore) {
	t.Helper()
	ctx := context.Background()
	room := "room-" + ksuid.New().String()

	text, err := store.LoadText(ctx, room, "doc")
	if err != nil || text != "" {
		t.Fatalf("LoadText(missing) = %q, %v; want empty, nil", text, err)
	}

	for _, want := range []string{"first", "日本語 second"} {
		if err := store.SaveText(ctx, room, "doc", want); err != nil {
			t.Fatalf("SaveText(%q): %v", want, err)
		}
		got, err := store.LoadText(ctx, room, "doc")
		if err != nil {
			t.Fatalf("LoadText: %v", err)
		}
		if got != want {
			t.Fatalf("LoadText = %q, want %q", got, want)
		}
	}
}
