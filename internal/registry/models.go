package registry

import "time"

// DefaultHistoryTTL is how long load attempts stay listed.
const DefaultHistoryTTL = 7 * 24 * time.Hour

// LoadAttempt tracks one document-loading operation.
type LoadAttempt struct {
	LoadID       string     `gorm:"primaryKey;type:varchar(36)" json:"load_id"`
	Source       string     `gorm:"type:varchar(32);not null" json:"source"`
	URL          string     `gorm:"not null" json:"url"`
	Status       Status     `gorm:"type:varchar(16);index;not null" json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorDetails *string    `json:"error_details,omitempty"`
	ExpiresAt    time.Time  `gorm:"index" json:"-"`
}

// Document is a user-visible knowledge base entry. DocumentID equals the
// load attempt id, so it is also the prefix of the document's chunk ids.
type Document struct {
	DocumentID string    `gorm:"primaryKey;type:varchar(36)" json:"document_id"`
	Title      string    `gorm:"not null" json:"title"`
	URL        string    `gorm:"not null" json:"url"`
	AddedAt    time.Time `gorm:"autoCreateTime" json:"added_at"`
}

// AttemptUpdate is a partial status update. Fields not tied to the target
// status are ignored.
type AttemptUpdate struct {
	Status       Status
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorDetails *string
}
