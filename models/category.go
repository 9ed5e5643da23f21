package models

// Category is a problem category (algebra, geometry, ...). Skip quotas
// and duels reference categories; category content itself lives in the
// problem service.
type Category struct {
	ID   string `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Name string `json:"name" gorm:"not null"`
	Slug string `json:"slug" gorm:"uniqueIndex;not null"`

	Timestamps
}
