package model

import (
	"encoding/json"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SourceRef is a value-copied citation attached to an assistant message.
type SourceRef struct {
	Source   string `json:"source"`
	External bool   `json:"external"`
	Snippet  string `json:"snippet,omitempty"`
}

// Message is one turn in a session. Immutable once appended; the sources
// column stores citation refs as JSON (assistant messages only).
type Message struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SessionID   string    `gorm:"size:36;not null;index" json:"session_id"`
	Seq         int       `gorm:"not null" json:"seq"`
	Role        string    `gorm:"size:16;not null" json:"role"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	ImageData   []byte    `gorm:"type:mediumblob" json:"-"`
	ImageFormat string    `gorm:"size:16" json:"image_format,omitempty"`
	Sources     string    `gorm:"type:text" json:"-"` // JSON array of SourceRef
	CreatedAt   time.Time `json:"created_at"`
}

// SourceRefs returns the parsed citation list; empty on parse error.
func (m *Message) SourceRefs() []SourceRef {
	if m.Sources == "" {
		return nil
	}
	var refs []SourceRef
	_ = json.Unmarshal([]byte(m.Sources), &refs)
	return refs
}

// SetSourceRefs stores the citation list as JSON.
func (m *Message) SetSourceRefs(refs []SourceRef) {
	if len(refs) == 0 {
		m.Sources = ""
		return
	}
	b, _ := json.Marshal(refs)
	m.Sources = string(b)
}

// HasImage reports whether the message carries an image payload.
func (m *Message) HasImage() bool {
	return len(m.ImageData) > 0
}
