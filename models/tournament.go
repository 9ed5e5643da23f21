package models

import (
	"time"
)

// Tournament statuses
const (
	TournamentStatusDraft     = "draft"
	TournamentStatusScheduled = "scheduled"
	TournamentStatusOpen      = "open"
	TournamentStatusClosed    = "closed"
)

// Tournament is a multi-player competition whose entrants get paired into
// duels, arena round by arena round.
type Tournament struct {
	ID          string `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Name        string `json:"name" gorm:"not null"`
	Slug        string `json:"slug" gorm:"uniqueIndex;not null"`
	Description string `json:"description"`
	CategoryID  string `json:"category_id" gorm:"index;not null"`
	Difficulty  int    `json:"difficulty" gorm:"default:5"` // problem difficulty driving rating deltas
	BannerURL   string `json:"banner_url,omitempty"`

	Status      string     `json:"status" gorm:"type:varchar(16);default:'draft'"`
	MaxEntrants int        `json:"max_entrants" gorm:"default:0"` // 0 = unlimited
	PublishAt   *time.Time `json:"publish_at,omitempty" gorm:"index"`
	StartTime   time.Time  `json:"start_time" gorm:"not null"`
	EndTime     time.Time  `json:"end_time"`
	CreatedBy   string     `json:"created_by"`

	Timestamps

	// Relationships
	Arenas []Arena `json:"arenas,omitempty" gorm:"foreignKey:TournamentID"`

	// Calculated fields (not stored in DB)
	EntrantCount int64 `json:"entrant_count,omitempty" gorm:"-"`
	WaitingCount int64 `json:"waiting_count,omitempty" gorm:"-"`
}

// Arena statuses
const (
	ArenaStatusOpen   = "open"
	ArenaStatusClosed = "closed"
)

// Arena is a single pairing round within a tournament. The pairing sweep
// matches an open arena's waiting entrants into active duels.
type Arena struct {
	ID           string `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	TournamentID string `json:"tournament_id" gorm:"index;not null"`
	RoundNumber  int    `json:"round_number" gorm:"default:1"`
	Status       string `json:"status" gorm:"type:varchar(16);default:'open'"`

	Timestamps
}
