package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Orik-dev/kcalbot/internal/pkg/nutrition"
)

const (
	// ProposalTTL bounds how long an unconfirmed proposal survives. Expiry is
	// passive: nothing fires when it happens, a later Consume simply misses.
	ProposalTTL = time.Hour

	// CommitLockTTL guards the multi-step confirm path against duplicate
	// delivery of the confirm action. Sized to bound worst-case datastore
	// latency during the commit.
	CommitLockTTL = 30 * time.Second

	proposalKeyPrefix = "proposal:"
	commitLockPrefix  = "proposal_lock:"
)

// Proposal is a staged, not-yet-committed batch of parsed food items.
type Proposal struct {
	UserID     uint             `json:"user_id"`
	Items      []nutrition.Item `json:"items"`
	Timezone   string           `json:"timezone"`
	SourceText string           `json:"source_text"`
	PhotoKey   string           `json:"photo_key,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Service stages proposals in Redis keyed by (user, opaque key).
type Service struct {
	client *redis.Client
}

func NewService(client *redis.Client) *Service {
	return &Service{client: client}
}

// Stage stores the proposal under a fresh opaque key and returns the key.
// At most one live proposal exists per (user, key) by construction.
func (s *Service) Stage(ctx context.Context, p *Proposal) (string, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal proposal: %w", err)
	}

	// Short keys keep Telegram callback data under its 64-byte cap.
	key := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	if err := s.client.Set(ctx, proposalKey(p.UserID, key), data, ProposalTTL).Err(); err != nil {
		return "", fmt.Errorf("stage proposal: %w", err)
	}

	log.Debugf("[Staging] Staged proposal %s for user %d (%d items)", key, p.UserID, len(p.Items))
	return key, nil
}

// Consume atomically fetches and deletes the proposal. Exactly one caller for
// a given key observes it; everyone after gets ok=false. Confirmation, cancel
// and expiry all converge on this single removal point.
func (s *Service) Consume(ctx context.Context, userID uint, key string) (*Proposal, bool, error) {
	data, err := s.client.GetDel(ctx, proposalKey(userID, key)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("consume proposal: %w", err)
	}

	var p Proposal
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, false, fmt.Errorf("unmarshal proposal %s: %w", key, err)
	}
	return &p, true, nil
}

// AcquireCommitLock takes the short exclusive lock for the commit step.
// Returns ok=false when another confirm for the same proposal is in flight.
// The release func is safe to defer on every path.
func (s *Service) AcquireCommitLock(ctx context.Context, userID uint, key string) (release func(), ok bool, err error) {
	lockKey := commitLockKey(userID, key)
	ok, err = s.client.SetNX(ctx, lockKey, "1", CommitLockTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire commit lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	return func() {
		if derr := s.client.Del(context.Background(), lockKey).Err(); derr != nil {
			log.Warnf("[Staging] Failed to release commit lock %s: %v", lockKey, derr)
		}
	}, true, nil
}

func proposalKey(userID uint, key string) string {
	return fmt.Sprintf("%s%d:%s", proposalKeyPrefix, userID, key)
}

func commitLockKey(userID uint, key string) string {
	return fmt.Sprintf("%s%d:%s", commitLockPrefix, userID, key)
}
