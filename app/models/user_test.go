package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtendSubscriptionFromExpired(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	u := &User{SubscribedUntil: &yesterday}
	u.ExtendSubscription(30, now)

	require.NotNil(t, u.SubscribedUntil)
	assert.Equal(t, now.AddDate(0, 0, 30), *u.SubscribedUntil, "expired subscription must restart from now, not stack")
}

func TestExtendSubscriptionStacksWhileActive(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	until := now.AddDate(0, 0, 5)

	u := &User{SubscribedUntil: &until}
	u.ExtendSubscription(30, now)

	assert.Equal(t, until.AddDate(0, 0, 30), *u.SubscribedUntil)
}

func TestExtendSubscriptionFirstPurchase(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	u := &User{}
	u.ExtendSubscription(7, now)

	require.NotNil(t, u.SubscribedUntil)
	assert.Equal(t, now.AddDate(0, 0, 7), *u.SubscribedUntil)
}

func TestDailyQuota(t *testing.T) {
	now := time.Now()
	active := now.Add(24 * time.Hour)
	expired := now.Add(-24 * time.Hour)

	assert.Equal(t, SubscriberDailyQuota, (&User{SubscribedUntil: &active}).DailyQuota(now))
	assert.Equal(t, FreeDailyQuota, (&User{SubscribedUntil: &expired}).DailyQuota(now))
	assert.Equal(t, FreeDailyQuota, (&User{}).DailyQuota(now))
}

func TestLocationFallsBackOnGarbage(t *testing.T) {
	u := &User{Timezone: "Not/AZone"}
	assert.Equal(t, DefaultTimezone, u.Location().String())
}

func TestDateInRespectsTimezone(t *testing.T) {
	// 23:30 UTC on the 1st is already the 2nd in Moscow (UTC+3).
	at := time.Date(2025, 3, 1, 23, 30, 0, 0, time.UTC)
	moscow, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)

	assert.Equal(t, "2025-03-02", DateIn(at, moscow))
	assert.Equal(t, "2025-03-01", DateIn(at, time.UTC))
}
