package model

import "time"

const (
	DocumentProcessing = "processing"
	DocumentReady      = "ready"
	DocumentFailed     = "failed"
)

// Document is an indexed knowledge source (uploaded file or crawled URL).
// Deleting a document cascades to its chunks and their vectors.
type Document struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Source     string    `gorm:"size:512;not null" json:"source"`
	Status     string    `gorm:"size:16;not null" json:"status"`
	FailReason string    `gorm:"size:512" json:"fail_reason,omitempty"`
	ChunkCount int       `gorm:"not null" json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}
