package domain

import "time"

// RecordOutcome represents the terminal outcome of one publish attempt
// recorded in history. Values include RecordPublished and RecordEvicted.
type RecordOutcome string

const (
	RecordPublished RecordOutcome = "published"
	RecordEvicted   RecordOutcome = "evicted"
)

// PublishRecord is one row of the append-only publish history.
type PublishRecord struct {
	ID        uint          `gorm:"primaryKey" json:"id"`
	ImageKey  string        `gorm:"type:text;not null;index" json:"image_key"`
	Location  string        `gorm:"type:text;not null" json:"location"`
	Outcome   RecordOutcome `gorm:"type:text;not null" json:"outcome"`
	Detail    string        `json:"detail,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// TableName returns the database table name for PublishRecord.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (PublishRecord) TableName() string {
	return "publish_records"
}
