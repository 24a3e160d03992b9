package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/SinaHo/referral-gate-backend/internal/model"
	"github.com/SinaHo/referral-gate-backend/internal/notify"
	"github.com/SinaHo/referral-gate-backend/internal/repository"
)

// RegisterRequest is a registration event from the messaging front-end.
type RegisterRequest struct {
	TelegramID  int64
	FirstName   string
	Handle      string
	ReferralArg string
	At          time.Time
}

// RegisterResult reports the user record and, when a referrer was credited,
// the referrer's new tally.
type RegisterResult struct {
	User     *model.User
	Created  bool
	Referral *model.ReferralTally
}

// ReferralService defines registration and referral crediting.
type ReferralService interface {
	Register(ctx context.Context, in RegisterRequest) (*RegisterResult, error)
	Status(ctx context.Context, telegramID int64) (*model.User, error)
	Threshold() int
}

type referralService struct {
	repo       repository.UserRepository
	notifier   notify.Notifier
	logger     *zap.SugaredLogger
	threshold  int
	codePrefix string
}

// NewReferralService constructs a new ReferralService.
func NewReferralService(
	repo repository.UserRepository,
	notifier notify.Notifier,
	logger *zap.SugaredLogger,
	threshold int,
	codePrefix string,
) ReferralService {
	return &referralService{
		repo:       repo,
		notifier:   notifier,
		logger:     logger,
		threshold:  threshold,
		codePrefix: codePrefix,
	}
}

func (s *referralService) Threshold() int { return s.threshold }

// Register creates the user on first contact and credits the referrer named by
// the referral argument. Known users are returned unchanged with Created=false,
// so redelivered events never credit twice.
func (s *referralService) Register(ctx context.Context, in RegisterRequest) (*RegisterResult, error) {
	if in.TelegramID == 0 {
		return nil, ErrInvalidUserID
	}

	existing, err := s.repo.GetByTelegramID(ctx, in.TelegramID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &RegisterResult{User: existing}, nil
	}

	var referredBy *int64
	if id, ok := model.ParseReferrer(in.ReferralArg); ok && id != in.TelegramID {
		referredBy = &id
	}

	at := in.At
	if at.IsZero() {
		at = time.Now()
	}
	u := &model.User{
		TelegramID:   in.TelegramID,
		FirstName:    in.FirstName,
		Handle:       in.Handle,
		ReferralCode: model.ReferralCode(s.codePrefix, in.TelegramID),
		ReferredBy:   referredBy,
		CreatedAt:    at.UTC(),
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			// Lost a race with a concurrent delivery of the same event.
			existing, err := s.repo.GetByTelegramID(ctx, in.TelegramID)
			if err != nil {
				return nil, err
			}
			return &RegisterResult{User: existing}, nil
		}
		return nil, err
	}

	res := &RegisterResult{User: u, Created: true}
	if referredBy == nil {
		return res, nil
	}

	tally, err := s.repo.IncrementReferralCount(ctx, *referredBy, s.threshold)
	if err != nil {
		return nil, fmt.Errorf("credit referrer %d: %w", *referredBy, err)
	}
	if tally == nil {
		return res, nil
	}
	res.Referral = tally

	kind := notify.ReferralCounted
	if tally.Unlocked {
		kind = notify.AccessUnlocked
	}
	ev := notify.Event{
		Kind:       kind,
		ReferrerID: tally.ReferrerID,
		ReferredID: u.TelegramID,
		Count:      tally.Count,
		Threshold:  s.threshold,
		At:         u.CreatedAt,
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.Warnw("failed to notify referrer",
			"referrer_id", tally.ReferrerID,
			"kind", string(kind),
			"error", err,
		)
	}
	return res, nil
}

// Status returns the user record, or (nil, nil) for unknown users.
func (s *referralService) Status(ctx context.Context, telegramID int64) (*model.User, error) {
	if telegramID == 0 {
		return nil, ErrInvalidUserID
	}
	return s.repo.GetByTelegramID(ctx, telegramID)
}
