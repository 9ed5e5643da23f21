package models

// DailySkip counts how many problems a user declined in a category on a
// given UTC calendar day. Keyed by (user, category, date) so the counter
// implicitly resets at the day boundary.
type DailySkip struct {
	ID             string `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	ExternalUserID string `json:"external_user_id" gorm:"uniqueIndex:idx_daily_skip_key;not null"`
	CategoryID     string `json:"category_id" gorm:"uniqueIndex:idx_daily_skip_key;not null"`
	SkipDate       string `json:"skip_date" gorm:"uniqueIndex:idx_daily_skip_key;type:date;not null"`

	SkipCount int `json:"skip_count" gorm:"default:0"`

	Timestamps
}
