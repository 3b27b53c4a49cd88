package models

import "time"

// DefaultProfileID is used when the player runs without user profiles.
const DefaultProfileID = "default"

// ListeningState is the persisted playback history for one profile.
// There is one row per profile.
type ListeningState struct {
	ProfileID string `gorm:"type:varchar(64);primaryKey"`

	LastTrackID       string  `gorm:"type:varchar(128)"`
	LastPosition      float64 `gorm:"type:float"` // Session-relative seconds
	PreviousTrackID   string  `gorm:"type:varchar(128)"`
	PreviousPosition  float64 `gorm:"type:float"`
	ContinuingCurrent bool

	RepeatOne bool
	PanValue  float64 `gorm:"type:float"` // -1 (left) .. 1 (right)

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName overrides for GORM.
func (ListeningState) TableName() string {
	return "listening_states"
}

// LibraryKind separates the saved and offline id sets.
type LibraryKind string

const (
	LibrarySaved   LibraryKind = "saved"
	LibraryOffline LibraryKind = "offline"
)

// LibraryEntry marks a track id as saved or available offline for a profile.
type LibraryEntry struct {
	ID        string      `gorm:"type:varchar(36);primaryKey"`
	ProfileID string      `gorm:"type:varchar(64);uniqueIndex:idx_library_entry"`
	TrackID   string      `gorm:"type:varchar(128);uniqueIndex:idx_library_entry"`
	Kind      LibraryKind `gorm:"type:varchar(16);uniqueIndex:idx_library_entry"`
	CreatedAt time.Time
}

// TableName overrides for GORM.
func (LibraryEntry) TableName() string {
	return "library_entries"
}
