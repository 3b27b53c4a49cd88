/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Track type tags. The tag is carried through untouched; only the player UI
// and the engine adapters care what it means.
const (
	TrackTypeMP3      = "mp3"
	TrackTypeRealtime = "realtime"
)

// Track is a playable catalog entry. A track flagged Composite is a session:
// its audio lives in the ordered Blocks, and its duration is the sum of the
// block durations.
type Track struct {
	ID        string  `gorm:"type:varchar(128);primaryKey" json:"id" yaml:"id"`
	SessionID *string `gorm:"type:varchar(128);index" json:"session_id,omitempty" yaml:"-"`
	Position  int     `gorm:"not null;default:0" json:"-" yaml:"-"` // Order within the catalog or session

	Title    string `json:"title" yaml:"title"`
	Artist   string `json:"artist" yaml:"artist"`
	Album    string `json:"album,omitempty" yaml:"album,omitempty"`
	Genre    string `json:"genre,omitempty" yaml:"genre,omitempty"`
	Duration int    `json:"duration" yaml:"duration"` // Seconds
	Artwork  string `json:"artwork,omitempty" yaml:"artwork,omitempty"`
	Source   string `json:"source" yaml:"source"` // http(s) URL, asset://, s3:// or local path
	Type     string `gorm:"type:varchar(32)" json:"type,omitempty" yaml:"type,omitempty"`

	Composite bool    `json:"is_composite" yaml:"composite"`
	Blocks    []Track `gorm:"foreignKey:SessionID;references:ID" json:"blocks,omitempty" yaml:"blocks,omitempty"`

	CreatedAt time.Time `json:"-" yaml:"-"`
	UpdatedAt time.Time `json:"-" yaml:"-"`
}

// TableName overrides for GORM.
func (Track) TableName() string {
	return "tracks"
}

// IsComposite reports whether the track is a session made of blocks.
func (t Track) IsComposite() bool {
	return t.Composite && len(t.Blocks) > 0
}

// BlockIndex returns the position of the block with the given id, or -1.
func (t Track) BlockIndex(id string) int {
	for i, b := range t.Blocks {
		if b.ID == id {
			return i
		}
	}
	return -1
}
