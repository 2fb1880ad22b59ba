package collaboration

import (
	"context"

	"collabd/internal/models"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES

The collaboration package consumes storage and transports, so it declares
the small interfaces it needs here. repository.FileStore,
repository.SnapshotRepositoryImpl and repository.RedisStore all satisfy
Storage without importing this package.
*/

// Storage is the persistence gateway for full document text.
type Storage interface {
	// LoadText returns "" with a nil error when nothing is stored.
	LoadText(ctx context.Context, room, doc string) (string, error)
	SaveText(ctx context.Context, room, doc, text string) error
}

// Publisher accepts broadcast events. Bus implements it.
type Publisher interface {
	Publish(msg models.ServerMessage) int
}

// Transport moves newline-delimited frames over one connection.
// ReadFrame returns a frame without its delimiter. Close must unblock a
// pending ReadFrame.
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
	RemoteAddr() string
}
