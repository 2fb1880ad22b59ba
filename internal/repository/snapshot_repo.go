package repository

import (
	"context"
	"errors"
	"fmt"

	"collabd/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotRepositoryImpl stores document snapshots in PostgreSQL using GORM
// Learning: Same LoadText/SaveText contract as FileStore, so the session
// store never knows which backend it talks to.
type SnapshotRepositoryImpl struct {
	db *gorm.DB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *gorm.DB) *SnapshotRepositoryImpl {
	return &SnapshotRepositoryImpl{db: db}
}

// LoadText returns the stored text for (room, doc), or "" if there is none
func (r *SnapshotRepositoryImpl) LoadText(ctx context.Context, room, doc string) (string, error) {
	var snap models.DocumentSnapshot

	err := r.db.WithContext(ctx).
		Where("room = ? AND doc = ?", room, doc).
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load snapshot: %w", err)
	}

	return snap.Content, nil
}

// SaveText upserts the snapshot row for (room, doc)
// Learning: ON CONFLICT on the (room, doc) unique index turns every save
// into a single round trip.
func (r *SnapshotRepositoryImpl) SaveText(ctx context.Context, room, doc, text string) error {
	snap := &models.DocumentSnapshot{
		Room:    room,
		Doc:     doc,
		Content: text,
		Bytes:   len(text),
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room"}, {Name: "doc"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "bytes", "updated_at"}),
	}).Create(snap).Error
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}
