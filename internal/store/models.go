package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

type FileStatus string

const (
	FileProcessed   FileStatus = "processed"
	FileUnsupported FileStatus = "unsupported"
	FileProcessing  FileStatus = "processing"
	FileError       FileStatus = "error"
)

// KnowledgeFile is one manifest entry of the knowledge base. Name is the
// dedup key within a corpus.
type KnowledgeFile struct {
	Name           string     `json:"name"`
	Type           string     `json:"type"`
	Status         FileStatus `json:"status"`
	StorageLocator string     `json:"storage_locator,omitempty"`
}

// KnowledgeBase is the single shared corpus row: delimited file blocks plus
// the manifest of files that contributed to it.
type KnowledgeBase struct {
	Content   string          `json:"content"`
	Files     []KnowledgeFile `json:"files"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Timetable struct {
	ID             int64     `json:"id"`
	Department     string    `json:"department"`
	Year           string    `json:"year"`
	FileName       string    `json:"file_name"`
	StorageLocator string    `json:"storage_locator"`
	Content        string    `json:"content"`
	UserID         int64     `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Notification is the viewer-joined shape: IsRead belongs to the viewer's
// user_notifications row, not to the broadcast message.
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	IsRead    bool      `json:"is_read"`
}

// Broadcast is the result of fanning one notification out to every user.
type Broadcast struct {
	Notification Notification
	Recipients   []int64
}
