// Database models for the key-value persistence tables
package db

import "time"

// Entry is one persisted key-value pair.
type Entry struct {
	Key       string    `json:"key" gorm:"primaryKey;size:191"`
	Value     []byte    `json:"value" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Entry) TableName() string {
	return "kv_entries"
}
