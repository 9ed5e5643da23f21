package models

import (
	"time"
)

// Duel statuses
const (
	DuelStatusWaiting   = "waiting"
	DuelStatusActive    = "active"
	DuelStatusCompleted = "completed"
	DuelStatusCancelled = "cancelled"
)

// Duel results (win/loss from the challenger's point of view)
const (
	DuelResultChallengerWon = "challenger_won"
	DuelResultOpponentWon   = "opponent_won"
	DuelResultDraw          = "draw"
)

// Duel is a one-on-one match. A standalone duel is created in `waiting`
// by a challenger and turns `active` when an opponent accepts; an
// arena-spawned duel is created `active` with both seats filled.
// Once the status leaves `waiting` the participants never change, and
// `completed`/`cancelled` are terminal.
type Duel struct {
	ID           string  `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	ChallengerID string  `json:"challenger_id" gorm:"index;not null"`
	OpponentID   *string `json:"opponent_id,omitempty" gorm:"index"` // nil until paired

	CategoryID string `json:"category_id" gorm:"index;not null"`
	Difficulty int    `json:"difficulty" gorm:"default:5"`

	Status string  `json:"status" gorm:"type:varchar(16);default:'waiting';index;check:status IN ('waiting','active','completed','cancelled')"`
	Result *string `json:"result,omitempty" gorm:"type:varchar(32)"`

	TournamentID *string `json:"tournament_id,omitempty" gorm:"index"` // nil = standalone duel
	ArenaID      *string `json:"arena_id,omitempty" gorm:"index"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Timestamps
}

// Winner returns the winning user id, or "" for a draw or an unfinished duel.
func (d *Duel) Winner() string {
	if d.Result == nil || d.Status != DuelStatusCompleted {
		return ""
	}
	switch *d.Result {
	case DuelResultChallengerWon:
		return d.ChallengerID
	case DuelResultOpponentWon:
		if d.OpponentID != nil {
			return *d.OpponentID
		}
	}
	return ""
}
