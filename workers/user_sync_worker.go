// workers/user_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"math-duel-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MirroredUserFromProfile matches the JSON response from the profile
// sync service.
type MirroredUserFromProfile struct {
	ID                string    `json:"id"`
	ExternalID        string    `json:"external_id"`
	Username          string    `json:"username"`
	Email             string    `json:"email"`
	FirstName         *string   `json:"first_name,omitempty"`
	LastName          *string   `json:"last_name,omitempty"`
	ProfilePictureURL *string   `json:"profile_picture_url,omitempty"`
	AccountStatus     string    `json:"account_status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type UserSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
}

// NewUserSyncWorker mirrors profile-service users into platform_users so
// lobbies and duel views can render names without a cross-service call.
func NewUserSyncWorker(db *gorm.DB, syncServiceBaseURL, endpointPath, serviceToken string) *UserSyncWorker {
	return &UserSyncWorker{
		db:           db,
		interval:     1 * time.Minute,
		baseURL:      syncServiceBaseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *UserSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting User Sync Worker (profile service → platform_users)…")
	go w.run(ctx)
}

func (w *UserSyncWorker) run(ctx context.Context) {
	// Initial backfill from the beginning of time
	lastSync := time.Time{}
	if err := w.syncBatch(ctx, lastSync); err != nil {
		log.Printf("⚠️ Initial user sync failed: %v", err)
	} else {
		lastSync = time.Now().UTC()
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("User sync worker stopped.")
			return
		case <-ticker.C:
			tickStart := time.Now().UTC()
			if err := w.syncBatch(ctx, lastSync); err != nil {
				log.Printf("⚠️ User sync failed: %v", err)
				continue // retry the same window next tick
			}
			lastSync = tickStart
		}
	}
}

func (w *UserSyncWorker) fetchChangedUsers(ctx context.Context, since time.Time) ([]MirroredUserFromProfile, error) {
	u, err := url.Parse(w.baseURL + w.endpointPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sync URL: %w", err)
	}
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call sync service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Users []MirroredUserFromProfile `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode sync service response: %w", err)
	}
	return response.Users, nil
}

func (w *UserSyncWorker) syncBatch(ctx context.Context, since time.Time) error {
	users, err := w.fetchChangedUsers(ctx, since)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return nil
	}

	mirrors := make([]models.PlatformUser, 0, len(users))
	for _, u := range users {
		mirrors = append(mirrors, models.PlatformUser{
			ExternalUserID:    u.ExternalID,
			Username:          u.Username,
			Email:             u.Email,
			FirstName:         u.FirstName,
			LastName:          u.LastName,
			ProfilePictureURL: u.ProfilePictureURL,
			IsBanned:          u.AccountStatus == "banned",
		})
	}

	// Bulk upsert in one statement
	if err := w.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "external_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"username",
				"email",
				"first_name",
				"last_name",
				"profile_picture_url",
				"is_banned",
				"updated_at",
			}),
		},
	).Create(&mirrors).Error; err != nil {
		return fmt.Errorf("failed to upsert %d user(s): %w", len(mirrors), err)
	}

	log.Printf("📥 Synced %d platform user(s).", len(mirrors))
	return nil
}
