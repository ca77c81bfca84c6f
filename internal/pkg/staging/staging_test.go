package staging

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Orik-dev/kcalbot/internal/pkg/nutrition"
)

func testProposal(userID uint) *Proposal {
	return &Proposal{
		UserID:   userID,
		Timezone: "Europe/Moscow",
		Items: []nutrition.Item{
			{Name: "porridge", Weight: 250, Calories: 220, Protein: 8, Fat: 4, Carbs: 38, Confidence: 0.9},
		},
	}
}

func TestStageAndConsume(t *testing.T) {
	svc := NewService(newTestRedis(t))
	ctx := context.Background()

	key, err := svc.Stage(ctx, testProposal(42))
	require.NoError(t, err)
	require.NotEmpty(t, key)

	p, ok, err := svc.Consume(ctx, 42, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, p.Items, 1)
	assert.Equal(t, "porridge", p.Items[0].Name)
	assert.False(t, p.CreatedAt.IsZero())

	// Second consume for the same key observes absence.
	_, ok, err = svc.Consume(ctx, 42, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsumeScopedToUser(t *testing.T) {
	svc := NewService(newTestRedis(t))
	ctx := context.Background()

	key, err := svc.Stage(ctx, testProposal(1))
	require.NoError(t, err)

	_, ok, err := svc.Consume(ctx, 2, key)
	require.NoError(t, err)
	assert.False(t, ok, "another user's key must not resolve")

	_, ok, err = svc.Consume(ctx, 1, key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrentConsumeExactlyOnce(t *testing.T) {
	svc := NewService(newTestRedis(t))
	ctx := context.Background()

	key, err := svc.Stage(ctx, testProposal(7))
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	won := make(chan struct{}, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := svc.Consume(ctx, 7, key)
			if !assert.NoError(t, err) {
				return
			}
			if ok {
				won <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(won)

	winners := 0
	for range won {
		winners++
	}
	assert.Equal(t, 1, winners, "exactly one concurrent consumer may win")
}

func TestCommitLockExcludes(t *testing.T) {
	svc := NewService(newTestRedis(t))
	ctx := context.Background()

	release, ok, err := svc.AcquireCommitLock(ctx, 5, "abc")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = svc.AcquireCommitLock(ctx, 5, "abc")
	require.NoError(t, err)
	assert.False(t, ok, "second acquire while held must fail")

	// A different proposal is unaffected.
	release2, ok, err := svc.AcquireCommitLock(ctx, 5, "def")
	require.NoError(t, err)
	require.True(t, ok)
	release2()

	release()

	release3, ok, err := svc.AcquireCommitLock(ctx, 5, "abc")
	require.NoError(t, err)
	assert.True(t, ok, "lock must be reacquirable after release")
	release3()
}
