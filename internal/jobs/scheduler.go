package jobs

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tradiehq/integrations/internal/store"
)

// Scheduler manages background jobs
type Scheduler struct {
	cron     *cron.Cron
	sessions store.StateStore
}

// NewScheduler creates a new job scheduler
func NewScheduler(sessions store.StateStore) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		sessions: sessions,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	// Abandoned authorization attempts leave expired state rows behind;
	// purge them every 10 minutes.
	s.cron.AddFunc("*/10 * * * *", func() {
		s.purgeExpiredSessions()
	})

	s.cron.Start()
	log.Println("Job scheduler started")

	// Run cleanup immediately on start
	go s.purgeExpiredSessions()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Job scheduler stopped")
}

func (s *Scheduler) purgeExpiredSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := s.sessions.PurgeExpired(ctx)
	if err != nil {
		log.Printf("Cleanup: failed to delete expired authorization sessions: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("Cleanup: deleted %d expired authorization sessions", deleted)
	}
}
