package mealflow

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/Orik-dev/kcalbot/app/models"
	"github.com/Orik-dev/kcalbot/internal/pkg/gpt"
	"github.com/Orik-dev/kcalbot/internal/pkg/nutrition"
	"github.com/Orik-dev/kcalbot/internal/pkg/staging"
)

// Outcome labels how an estimation request ended.
type Outcome string

const (
	// OutcomeStaged: proposal stored, confirmation pending. Token stays spent.
	OutcomeStaged Outcome = "staged"
	// OutcomeEstimated: calculate-only request, nothing staged or saved.
	OutcomeEstimated Outcome = "estimated"
	// OutcomeQuotaExhausted: no token available, nothing happened.
	OutcomeQuotaExhausted Outcome = "quota_exhausted"
	// OutcomeModelFailed: model call failed or returned nothing; token refunded.
	OutcomeModelFailed Outcome = "model_failed"
	// OutcomeParseFailed: model output rejected by validation; token refunded.
	OutcomeParseFailed Outcome = "parse_failed"
	// OutcomeNoSpeech: transcription came back empty; token refunded.
	OutcomeNoSpeech Outcome = "no_speech"
)

// Result is what an estimation request produced.
type Result struct {
	Outcome  Outcome
	Key      string // staging key when Outcome == OutcomeStaged
	Proposal *nutrition.Proposal
	Reason   string // human-readable cause for the failure outcomes
}

// ConfirmStatus labels how a confirm action ended.
type ConfirmStatus string

const (
	// ConfirmCommitted: meals written, totals returned.
	ConfirmCommitted ConfirmStatus = "committed"
	// ConfirmAlreadyProcessed: proposal was consumed or expired earlier.
	// Benign, not an error.
	ConfirmAlreadyProcessed ConfirmStatus = "already_processed"
	// ConfirmBusy: another confirm for the same proposal holds the commit lock.
	ConfirmBusy ConfirmStatus = "busy"
)

// ConfirmResult carries the fresh daily total on commit.
type ConfirmResult struct {
	Status ConfirmStatus
	Total  *models.DailyTotal
}

// CancelStatus labels how a cancel action ended.
type CancelStatus string

const (
	// CancelRefunded: proposal dropped, token returned.
	CancelRefunded CancelStatus = "refunded"
	// CancelAlreadyProcessed: nothing to cancel; no double refund.
	CancelAlreadyProcessed CancelStatus = "already_processed"
)

// Collaborator seams. The workflow owns orchestration only; everything with a
// wire or a disk behind it comes in through one of these.
type (
	Completer interface {
		Complete(ctx context.Context, messages []gpt.Message) (string, error)
	}

	Transcriber interface {
		Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
	}

	TokenLedger interface {
		Reserve(ctx context.Context, userID uint) (bool, error)
		Refund(ctx context.Context, userID uint) error
	}

	Stager interface {
		Stage(ctx context.Context, p *staging.Proposal) (string, error)
		Consume(ctx context.Context, userID uint, key string) (*staging.Proposal, bool, error)
		AcquireCommitLock(ctx context.Context, userID uint, key string) (release func(), ok bool, err error)
	}

	Ledger interface {
		SaveMeals(ctx context.Context, userID uint, meals []models.Meal, loc *time.Location) (*models.DailyTotal, error)
	}

	PhotoStore interface {
		Put(ctx context.Context, userID uint, body io.Reader, contentType string) (string, error)
	}
)

// Service drives a request through reserve -> model -> validate -> stage, and
// finalizes proposals on confirm/cancel.
type Service struct {
	tokens      TokenLedger
	model       Completer
	transcriber Transcriber
	stager      Stager
	ledger      Ledger
	photos      PhotoStore // nil when photo storage is disabled
}

func NewService(tokens TokenLedger, model Completer, transcriber Transcriber, stager Stager, ledger Ledger, photos PhotoStore) *Service {
	return &Service{
		tokens:      tokens,
		model:       model,
		transcriber: transcriber,
		stager:      stager,
		ledger:      ledger,
		photos:      photos,
	}
}

// EstimateText runs the pipeline for a food description. With save=false
// (calculate-only intent) the proposal is returned but never staged; the
// token is still spent on the model call.
func (s *Service) EstimateText(ctx context.Context, user *models.User, text string, save bool) (*Result, error) {
	reserved, err := s.tokens.Reserve(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return &Result{Outcome: OutcomeQuotaExhausted}, nil
	}

	return s.estimate(ctx, user, textMessages(text), text, "", save)
}

// EstimateVoice transcribes first, then follows the text pipeline. An empty
// transcript refunds the token exactly like a parse failure.
func (s *Service) EstimateVoice(ctx context.Context, user *models.User, audio io.Reader, filename string) (*Result, error) {
	reserved, err := s.tokens.Reserve(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return &Result{Outcome: OutcomeQuotaExhausted}, nil
	}

	transcript, err := s.transcriber.Transcribe(ctx, audio, filename)
	if err != nil {
		s.refund(ctx, user.ID)
		log.Errorf("[MealFlow] Transcription failed for user %d: %v", user.ID, err)
		return &Result{Outcome: OutcomeModelFailed, Reason: "could not transcribe the voice message"}, nil
	}
	if strings.TrimSpace(transcript) == "" {
		s.refund(ctx, user.ID)
		return &Result{Outcome: OutcomeNoSpeech, Reason: "no speech recognized"}, nil
	}

	return s.estimate(ctx, user, textMessages(transcript), transcript, "", true)
}

// EstimatePhoto runs the pipeline for a food photo. The photo bytes are
// stored (best effort) so the committed meals can reference them; the model
// sees the photo through its public URL.
func (s *Service) EstimatePhoto(ctx context.Context, user *models.User, photoURL string, photo io.Reader, caption string) (*Result, error) {
	reserved, err := s.tokens.Reserve(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return &Result{Outcome: OutcomeQuotaExhausted}, nil
	}

	photoKey := ""
	if s.photos != nil && photo != nil {
		key, perr := s.photos.Put(ctx, user.ID, photo, "image/jpeg")
		if perr != nil {
			// Degrade to a text-only record rather than failing the flow.
			log.Warnf("[MealFlow] Photo upload failed for user %d: %v", user.ID, perr)
		} else {
			photoKey = key
		}
	}

	source := caption
	if source == "" {
		source = "photo"
	}
	return s.estimate(ctx, user, photoMessages(photoURL, caption), source, photoKey, true)
}

// estimate is the shared model -> validate -> stage tail. The token is
// already reserved; every failure exit refunds it.
func (s *Service) estimate(ctx context.Context, user *models.User, messages []gpt.Message, sourceText, photoKey string, save bool) (*Result, error) {
	raw, err := s.model.Complete(ctx, messages)
	if err != nil || strings.TrimSpace(raw) == "" {
		s.refund(ctx, user.ID)
		log.Errorf("[MealFlow] Model call failed for user %d: %v", user.ID, err)
		return &Result{Outcome: OutcomeModelFailed, Reason: "the nutrition model is unavailable, please try again"}, nil
	}

	proposal, err := nutrition.Parse(raw)
	if err != nil {
		s.refund(ctx, user.ID)
		var pe *nutrition.ParseError
		reason := "could not understand the model response"
		if errors.As(err, &pe) {
			reason = pe.Error()
		}
		log.Warnf("[MealFlow] Parse failed for user %d: %v", user.ID, err)
		return &Result{Outcome: OutcomeParseFailed, Reason: reason}, nil
	}

	if !save {
		// Calculate-only: the token is spent on the inference, nothing staged.
		return &Result{Outcome: OutcomeEstimated, Proposal: proposal}, nil
	}

	key, err := s.stager.Stage(ctx, &staging.Proposal{
		UserID:     user.ID,
		Items:      proposal.Items,
		Timezone:   user.Timezone,
		SourceText: sourceText,
		PhotoKey:   photoKey,
	})
	if err != nil {
		s.refund(ctx, user.ID)
		return nil, err
	}

	return &Result{Outcome: OutcomeStaged, Key: key, Proposal: proposal}, nil
}

// Confirm finalizes a staged proposal into the ledger. The commit lock guards
// the multi-step transition against duplicate confirm delivery; the atomic
// Consume guarantees at most one commit even across lock expiry.
func (s *Service) Confirm(ctx context.Context, user *models.User, key string) (*ConfirmResult, error) {
	release, ok, err := s.stager.AcquireCommitLock(ctx, user.ID, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &ConfirmResult{Status: ConfirmBusy}, nil
	}
	defer release()

	proposal, ok, err := s.stager.Consume(ctx, user.ID, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Already committed, cancelled or expired. Informational, not an error.
		return &ConfirmResult{Status: ConfirmAlreadyProcessed}, nil
	}

	meals := make([]models.Meal, 0, len(proposal.Items))
	for _, item := range proposal.Items {
		meals = append(meals, models.Meal{
			Name:       item.Name,
			Weight:     item.Weight,
			Calories:   item.Calories,
			Protein:    item.Protein,
			Fat:        item.Fat,
			Carbs:      item.Carbs,
			Confidence: item.Confidence,
			SourceText: proposal.SourceText,
			PhotoKey:   proposal.PhotoKey,
		})
	}

	loc := locationFor(proposal.Timezone)
	total, err := s.ledger.SaveMeals(ctx, user.ID, meals, loc)
	if err != nil {
		return nil, err
	}

	log.Infof("[MealFlow] Committed %d meals for user %d (%s)", len(meals), user.ID, total.Date)
	return &ConfirmResult{Status: ConfirmCommitted, Total: total}, nil
}

// Cancel drops a staged proposal and refunds the token. A proposal that was
// already consumed (or expired) yields no refund.
func (s *Service) Cancel(ctx context.Context, user *models.User, key string) (CancelStatus, error) {
	_, ok, err := s.stager.Consume(ctx, user.ID, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return CancelAlreadyProcessed, nil
	}

	s.refund(ctx, user.ID)
	return CancelRefunded, nil
}

func (s *Service) refund(ctx context.Context, userID uint) {
	if err := s.tokens.Refund(ctx, userID); err != nil {
		log.Errorf("[MealFlow] Token refund failed for user %d: %v", userID, err)
	}
}

func locationFor(tz string) *time.Location {
	if tz == "" {
		tz = models.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc, _ = time.LoadLocation(models.DefaultTimezone)
	}
	return loc
}
