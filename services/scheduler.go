// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"math-duel-system/models"

	"github.com/go-co-op/gocron/v2"
)

// SweepInterval matches the lobby clients' polling cadence; the
// server-side sweep makes pairing progress even when no client polls.
const SweepInterval = 3 * time.Second

// StartSweepScheduler runs the arena pairing sweep on a fixed tick.
func (s *PairingService) StartSweepScheduler(ctx context.Context) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(SweepInterval),
		gocron.NewTask(func() {
			s.SweepOpenArenas(ctx)
		}),
	)
}

// StartLifecycleScheduler opens scheduled tournaments whose publish time
// arrived and closes open tournaments past their end time.
func (s *TournamentService) StartLifecycleScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			now := time.Now()

			var due []models.Tournament
			if err := s.DB.Where("status = ? AND publish_at <= ?", models.TournamentStatusScheduled, now).
				Find(&due).Error; err != nil {
				log.Printf("[Scheduler] DB error: %v", err)
				return
			}
			for _, t := range due {
				if err := s.Open(t.ID); err != nil {
					log.Printf("[Scheduler] Failed to open tournament %s: %v", t.ID, err)
				} else {
					log.Printf("✅ Auto-opened tournament: %s", t.Name)
				}
			}

			var expired []models.Tournament
			if err := s.DB.Where("status = ? AND end_time > ? AND end_time <= ?",
				models.TournamentStatusOpen, time.Time{}, now).
				Find(&expired).Error; err != nil {
				log.Printf("[Scheduler] DB error: %v", err)
				return
			}
			for _, t := range expired {
				if err := s.Close(t.ID); err != nil {
					log.Printf("[Scheduler] Failed to close tournament %s: %v", t.ID, err)
				} else {
					log.Printf("✅ Auto-closed tournament: %s", t.Name)
				}
			}
		}),
	)
}
