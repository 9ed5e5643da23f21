package models

import (
	"time"
)

// Entrant statuses
const (
	EntrantStatusWaiting    = "waiting"
	EntrantStatusPaired     = "paired"
	EntrantStatusEliminated = "eliminated"
)

// Entrant is a user's participation record in a tournament arena, pending
// pairing. A user has at most one non-eliminated entrant per tournament
// (enforced by a guarded insert in the pairing service).
type Entrant struct {
	ID             string  `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	ExternalUserID string  `json:"external_user_id" gorm:"index;not null"`
	TournamentID   string  `json:"tournament_id" gorm:"index:idx_entrant_tournament_user;not null"`
	ArenaID        string  `json:"arena_id" gorm:"index;not null"`
	DuelID         *string `json:"duel_id,omitempty" gorm:"index"` // set the moment the entrant is paired

	JoinedAt time.Time `json:"joined_at" gorm:"not null;index"`
	Status   string    `json:"status" gorm:"type:varchar(16);default:'waiting';index"`

	Timestamps
}
