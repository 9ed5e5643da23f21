package models

// Rating defaults
const (
	DefaultRating = 1000
)

// UserRating is the cumulative per-user skill statistics row
// (denormalized for performance). Created lazily on the first
// rating-affecting event and updated in place ever after; rating and
// total points are clamped at zero, problems solved only grows.
type UserRating struct {
	ID             string `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	ExternalUserID string `json:"external_user_id" gorm:"uniqueIndex;not null"`

	Rating         int   `json:"rating" gorm:"default:1000"`
	TotalPoints    int64 `json:"total_points" gorm:"default:0"`
	ProblemsSolved int64 `json:"problems_solved" gorm:"default:0"`

	Timestamps
}
