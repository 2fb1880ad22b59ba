package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// DocumentSnapshot is the persisted full text of one (room, document)
// pair. Each save overwrites the row for that pair.
// Learning: The composite unique index makes (room, doc) the natural key
// while ID stays a time-ordered KSUID like the rest of the schema.
type DocumentSnapshot struct {
	ID        string    `json:"id" gorm:"type:char(27);primaryKey"`
	Room      string    `json:"room" gorm:"type:varchar(255);not null;uniqueIndex:idx_room_doc"`
	Doc       string    `json:"doc" gorm:"type:varchar(255);not null;uniqueIndex:idx_room_doc"`
	Content   string    `json:"content" gorm:"type:text;not null;default:''"`
	Bytes     int       `json:"bytes" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate hook generates KSUID before inserting
func (d *DocumentSnapshot) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (DocumentSnapshot) TableName() string {
	return "document_snapshots"
}
