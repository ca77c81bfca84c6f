package mealflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Orik-dev/kcalbot/app/models"
	"github.com/Orik-dev/kcalbot/internal/pkg/gpt"
	"github.com/Orik-dev/kcalbot/internal/pkg/nutrition"
	"github.com/Orik-dev/kcalbot/internal/pkg/staging"
)

const validResponse = `{"items": [{"name": "oatmeal", "weight_grams": 250, "calories": 220, "protein": 8, "fat": 4, "carbs": 38}]}`

type fakeTokens struct {
	mu    sync.Mutex
	quota int
}

func (f *fakeTokens) Reserve(ctx context.Context, userID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quota <= 0 {
		return false, nil
	}
	f.quota--
	return true, nil
}

func (f *fakeTokens) Refund(ctx context.Context, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quota++
	return nil
}

type fakeModel struct {
	response string
	err      error
}

func (f *fakeModel) Complete(ctx context.Context, messages []gpt.Message) (string, error) {
	return f.response, f.err
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	return f.text, f.err
}

// fakeStager mirrors the redis semantics: atomic consume, exclusive lock.
type fakeStager struct {
	mu        sync.Mutex
	proposals map[string]*staging.Proposal
	locks     map[string]bool
	next      int
}

func newFakeStager() *fakeStager {
	return &fakeStager{
		proposals: make(map[string]*staging.Proposal),
		locks:     make(map[string]bool),
	}
}

func (f *fakeStager) Stage(ctx context.Context, p *staging.Proposal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	key := fmt.Sprintf("key%d", f.next)
	f.proposals[key] = p
	return key, nil
}

func (f *fakeStager) Consume(ctx context.Context, userID uint, key string) (*staging.Proposal, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[key]
	if !ok || p.UserID != userID {
		return nil, false, nil
	}
	delete(f.proposals, key)
	return p, true, nil
}

func (f *fakeStager) AcquireCommitLock(ctx context.Context, userID uint, key string) (func(), bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks[key] {
		return nil, false, nil
	}
	f.locks[key] = true
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.locks, key)
	}, true, nil
}

type fakeLedger struct {
	mu    sync.Mutex
	calls int
	saved []models.Meal
}

func (f *fakeLedger) SaveMeals(ctx context.Context, userID uint, meals []models.Meal, loc *time.Location) (*models.DailyTotal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.saved = append(f.saved, meals...)

	total := &models.DailyTotal{UserID: userID, Date: models.DateIn(time.Now(), loc)}
	for _, m := range meals {
		total.Calories += m.Calories
		total.Protein += m.Protein
		total.Fat += m.Fat
		total.Carbs += m.Carbs
		total.MealCount++
	}
	return total, nil
}

func testUser() *models.User {
	return &models.User{ID: 1, Timezone: "Europe/Moscow"}
}

func newTestService(tokens *fakeTokens, model *fakeModel, stager *fakeStager, ledger *fakeLedger) *Service {
	return NewService(tokens, model, &fakeTranscriber{}, stager, ledger, nil)
}

func TestEstimateTextStagesProposal(t *testing.T) {
	tokens := &fakeTokens{quota: 3}
	stager := newFakeStager()
	svc := newTestService(tokens, &fakeModel{response: validResponse}, stager, &fakeLedger{})

	res, err := svc.EstimateText(context.Background(), testUser(), "250g oatmeal", true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStaged, res.Outcome)
	assert.NotEmpty(t, res.Key)
	require.Len(t, res.Proposal.Items, 1)

	// Token stays spent while the proposal awaits confirmation.
	assert.Equal(t, 2, tokens.quota)
	assert.Len(t, stager.proposals, 1)
}

func TestEstimateTextCalculateOnly(t *testing.T) {
	tokens := &fakeTokens{quota: 3}
	stager := newFakeStager()
	svc := newTestService(tokens, &fakeModel{response: validResponse}, stager, &fakeLedger{})

	res, err := svc.EstimateText(context.Background(), testUser(), "how much is a banana", false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEstimated, res.Outcome)
	assert.Empty(t, res.Key)
	assert.Empty(t, stager.proposals, "calculate-only must not stage")
	assert.Equal(t, 2, tokens.quota, "the token is still spent on the inference")
}

func TestEstimateTextQuotaExhausted(t *testing.T) {
	tokens := &fakeTokens{quota: 0}
	model := &fakeModel{response: validResponse}
	svc := newTestService(tokens, model, newFakeStager(), &fakeLedger{})

	res, err := svc.EstimateText(context.Background(), testUser(), "soup", true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQuotaExhausted, res.Outcome)
	assert.Equal(t, 0, tokens.quota, "quota must never go negative")
}

func TestEstimateTextModelFailureRefunds(t *testing.T) {
	// User with a single token: failure must leave them able to retry.
	tokens := &fakeTokens{quota: 1}
	svc := newTestService(tokens, &fakeModel{err: errors.New("upstream 500")}, newFakeStager(), &fakeLedger{})

	res, err := svc.EstimateText(context.Background(), testUser(), "soup", true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeModelFailed, res.Outcome)
	assert.NotEmpty(t, res.Reason)
	assert.Equal(t, 1, tokens.quota, "failed model call must refund the token")
}

func TestEstimateTextParseFailureRefunds(t *testing.T) {
	tokens := &fakeTokens{quota: 1}
	svc := newTestService(tokens, &fakeModel{response: "I had trouble with that"}, newFakeStager(), &fakeLedger{})

	res, err := svc.EstimateText(context.Background(), testUser(), "soup", true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeParseFailed, res.Outcome)
	assert.NotEmpty(t, res.Reason)
	assert.Equal(t, 1, tokens.quota)
}

func TestEstimateVoiceEmptyTranscriptRefunds(t *testing.T) {
	tokens := &fakeTokens{quota: 1}
	svc := NewService(tokens, &fakeModel{response: validResponse}, &fakeTranscriber{text: "  "}, newFakeStager(), &fakeLedger{}, nil)

	res, err := svc.EstimateVoice(context.Background(), testUser(), nil, "voice.ogg")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoSpeech, res.Outcome)
	assert.Equal(t, 1, tokens.quota)
}

func TestConfirmCommitsOnce(t *testing.T) {
	tokens := &fakeTokens{quota: 3}
	stager := newFakeStager()
	ledger := &fakeLedger{}
	svc := newTestService(tokens, &fakeModel{response: validResponse}, stager, ledger)

	user := testUser()
	res, err := svc.EstimateText(context.Background(), user, "oatmeal", true)
	require.NoError(t, err)

	first, err := svc.Confirm(context.Background(), user, res.Key)
	require.NoError(t, err)
	assert.Equal(t, ConfirmCommitted, first.Status)
	require.NotNil(t, first.Total)
	assert.Equal(t, 220.0, first.Total.Calories)

	// Second tap: benign "already processed", no second write.
	second, err := svc.Confirm(context.Background(), user, res.Key)
	require.NoError(t, err)
	assert.Equal(t, ConfirmAlreadyProcessed, second.Status)
	assert.Equal(t, 1, ledger.calls)
}

func TestConcurrentConfirmSingleCommit(t *testing.T) {
	tokens := &fakeTokens{quota: 3}
	stager := newFakeStager()
	ledger := &fakeLedger{}
	svc := newTestService(tokens, &fakeModel{response: validResponse}, stager, ledger)

	user := testUser()
	res, err := svc.EstimateText(context.Background(), user, "oatmeal", true)
	require.NoError(t, err)

	const taps = 6
	var wg sync.WaitGroup
	committed := 0
	var mu sync.Mutex

	for i := 0; i < taps; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, cerr := svc.Confirm(context.Background(), user, res.Key)
			if !assert.NoError(t, cerr) {
				return
			}
			if out.Status == ConfirmCommitted {
				mu.Lock()
				committed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, committed)
	assert.Equal(t, 1, ledger.calls, "exactly one SaveMeals across concurrent confirms")
}

func TestConfirmCarriesPhotoAndSource(t *testing.T) {
	stager := newFakeStager()
	ledger := &fakeLedger{}
	svc := newTestService(&fakeTokens{quota: 3}, &fakeModel{response: validResponse}, stager, ledger)

	user := testUser()
	key, err := stager.Stage(context.Background(), &staging.Proposal{
		UserID:     user.ID,
		Timezone:   user.Timezone,
		SourceText: "breakfast photo",
		PhotoKey:   "meals/1/abc.jpg",
		Items:      mustItems(t),
	})
	require.NoError(t, err)

	out, err := svc.Confirm(context.Background(), user, key)
	require.NoError(t, err)
	require.Equal(t, ConfirmCommitted, out.Status)
	require.Len(t, ledger.saved, 1)
	assert.Equal(t, "meals/1/abc.jpg", ledger.saved[0].PhotoKey)
	assert.Equal(t, "breakfast photo", ledger.saved[0].SourceText)
}

func TestCancelRefundsOnce(t *testing.T) {
	tokens := &fakeTokens{quota: 3}
	stager := newFakeStager()
	svc := newTestService(tokens, &fakeModel{response: validResponse}, stager, &fakeLedger{})

	user := testUser()
	res, err := svc.EstimateText(context.Background(), user, "oatmeal", true)
	require.NoError(t, err)
	require.Equal(t, 2, tokens.quota)

	status, err := svc.Cancel(context.Background(), user, res.Key)
	require.NoError(t, err)
	assert.Equal(t, CancelRefunded, status)
	assert.Equal(t, 3, tokens.quota)

	// Second cancel: no proposal left, no double refund.
	status, err = svc.Cancel(context.Background(), user, res.Key)
	require.NoError(t, err)
	assert.Equal(t, CancelAlreadyProcessed, status)
	assert.Equal(t, 3, tokens.quota)
}

func TestCancelAfterConfirmDoesNotRefund(t *testing.T) {
	tokens := &fakeTokens{quota: 3}
	stager := newFakeStager()
	svc := newTestService(tokens, &fakeModel{response: validResponse}, stager, &fakeLedger{})

	user := testUser()
	res, err := svc.EstimateText(context.Background(), user, "oatmeal", true)
	require.NoError(t, err)

	_, err = svc.Confirm(context.Background(), user, res.Key)
	require.NoError(t, err)

	status, err := svc.Cancel(context.Background(), user, res.Key)
	require.NoError(t, err)
	assert.Equal(t, CancelAlreadyProcessed, status)
	assert.Equal(t, 2, tokens.quota, "committed meals keep the token spent")
}

func mustItems(t *testing.T) []nutrition.Item {
	t.Helper()
	return []nutrition.Item{
		{Name: "omelette", Weight: 150, Calories: 230, Protein: 16, Fat: 17, Carbs: 2, Confidence: 0.8},
	}
}
