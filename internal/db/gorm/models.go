package gorm

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORM rows. These are the storage shapes; they are decoded into pkg/models
// structs at the store boundary.

// User is a registered identity.
type User struct {
	ID             string `gorm:"primaryKey;type:text"`
	Email          string `gorm:"uniqueIndex;not null"`
	DisplayName    string `gorm:"type:text"`
	PasswordHash   string `gorm:"type:text"`
	Provider       string `gorm:"type:text"`
	CreatedAt      string `gorm:"not null"`
	CreatedAtEpoch int64  `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// BeforeCreate hook to assign the id and timestamps.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	stampCreated(&u.CreatedAt, &u.CreatedAtEpoch)
	return nil
}

// Session is an interview conversation container owned by one user.
type Session struct {
	ID               string `gorm:"primaryKey;type:text"`
	UserID           string `gorm:"index:idx_sessions_user;not null"`
	Title            string `gorm:"type:text;not null"`
	Pinned           bool   `gorm:"default:false;not null"`
	CreatedAt        string `gorm:"not null"`
	CreatedAtEpoch   int64  `gorm:"not null"`
	LastUpdated      string `gorm:"not null"`
	LastUpdatedEpoch int64  `gorm:"index:idx_sessions_updated,sort:desc;not null"`
}

func (Session) TableName() string { return "sessions" }

// BeforeCreate hook to assign the id and timestamps.
func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	stampCreated(&s.CreatedAt, &s.CreatedAtEpoch)
	if s.LastUpdatedEpoch == 0 {
		s.LastUpdated = s.CreatedAt
		s.LastUpdatedEpoch = s.CreatedAtEpoch
	}
	return nil
}

// Message is one transcript turn, owned exclusively by its session.
type Message struct {
	ID             string `gorm:"primaryKey;type:text"`
	SessionID      string `gorm:"index:idx_messages_session;not null"`
	UserID         string `gorm:"index:idx_messages_user;not null"`
	Text           string `gorm:"type:text;not null"`
	Sender         string `gorm:"type:text;check:sender IN ('user', 'bot');not null"`
	CreatedAt      string `gorm:"not null"`
	CreatedAtEpoch int64  `gorm:"index:idx_messages_created;not null"`
}

func (Message) TableName() string { return "messages" }

// BeforeCreate hook to assign the id and timestamps.
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	stampCreated(&m.CreatedAt, &m.CreatedAtEpoch)
	return nil
}

func stampCreated(at *string, epoch *int64) {
	now := time.Now()
	if *epoch == 0 {
		*epoch = now.UnixMilli()
	}
	if *at == "" {
		*at = now.Format(time.RFC3339)
	}
}
