package model

import "time"

// Session is a single conversation thread. Messages belonging to it are
// ordered by Seq, assigned under the session lock, so ordering survives
// equal timestamps.
type Session struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Title        string    `gorm:"size:128;not null" json:"title"`
	TitleDerived bool      `gorm:"not null" json:"-"` // set once the title was derived or chosen explicitly
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `gorm:"index" json:"last_activity"`
}
