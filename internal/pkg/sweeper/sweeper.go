package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/Orik-dev/kcalbot/app/repository"
	"github.com/Orik-dev/kcalbot/internal/pkg/payment"
	"github.com/Orik-dev/kcalbot/internal/pkg/quota"
)

const (
	// How often a worker looks for due jobs. Each job still runs at most
	// once per day across all workers via its dated lock key.
	checkInterval = 10 * time.Minute

	// Day locks outlive the day slightly so a job is never rerun by a
	// late-arriving worker.
	dayLockTTL = 25 * time.Hour

	// Meals older than this are purged together with their total rows.
	retentionDays = 7
)

// Service runs the daily background jobs: quota reset, autopay sweep and meal
// retention cleanup. Multiple worker processes may run a Service each; the
// per-day Redis locks make sure every job executes once per day in total.
type Service struct {
	client  *redis.Client
	quota   *quota.Service
	users   repository.UserRepository
	meals   repository.MealRepository
	autopay *payment.AutopayEngine

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

func NewService(client *redis.Client, q *quota.Service, users repository.UserRepository, meals repository.MealRepository, autopay *payment.AutopayEngine) *Service {
	return &Service{
		client:  client,
		quota:   q,
		users:   users,
		meals:   meals,
		autopay: autopay,
	}
}

// Start launches the sweep loop. The first pass runs immediately.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()
		log.Infof("[Sweeper] Started (interval: %s)", checkInterval)

		s.runAll()
		for {
			select {
			case <-s.stopCh:
				log.Info("[Sweeper] Stopped")
				return
			case <-ticker.C:
				s.runAll()
			}
		}
	}()
}

// Stop shuts the loop down and waits for an in-flight pass to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	s.running = false
	s.wg.Wait()
}

func (s *Service) runAll() {
	ctx := context.Background()
	now := time.Now().UTC()
	day := now.Format("2006-01-02")

	s.runLocked(ctx, "sweep:quota_reset:"+day, func() error {
		return s.quota.DailyReset(ctx, now)
	})
	s.runLocked(ctx, "sweep:autopay:"+day, func() error {
		return s.autopaySweep(ctx, now)
	})
	s.runLocked(ctx, "sweep:retention:"+day, func() error {
		cutoff := now.AddDate(0, 0, -retentionDays).Format("2006-01-02")
		purged, err := s.meals.PurgeOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		if purged > 0 {
			log.Infof("[Sweeper] Purged %d meals older than %s", purged, cutoff)
		}
		return nil
	})
}

// runLocked executes the job only if this worker wins the dated lock. The
// lock is released on failure so a later pass can retry the job same-day.
func (s *Service) runLocked(ctx context.Context, key string, job func() error) {
	ok, err := s.client.SetNX(ctx, key, "1", dayLockTTL).Result()
	if err != nil {
		log.Errorf("[Sweeper] Lock %s: %v", key, err)
		return
	}
	if !ok {
		return
	}

	if err := job(); err != nil {
		log.Errorf("[Sweeper] Job %s failed: %v", key, err)
		if derr := s.client.Del(ctx, key).Err(); derr != nil {
			log.Errorf("[Sweeper] Failed to release lock %s: %v", key, derr)
		}
		return
	}
	log.Infof("[Sweeper] Job %s done", key)
}

func (s *Service) autopaySweep(ctx context.Context, now time.Time) error {
	candidates, err := s.users.AutopayCandidates(ctx, now)
	if err != nil {
		return fmt.Errorf("autopay sweep: %w", err)
	}

	for i := range candidates {
		if err := s.autopay.TryAutopay(ctx, &candidates[i]); err != nil {
			// One user's failed charge must not stall the rest.
			log.Warnf("[Sweeper] Autopay for user %d: %v", candidates[i].ID, err)
		}
	}
	return nil
}
