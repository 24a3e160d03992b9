package service

import (
	"context"
	"errors"
	"time"

	"github.com/SinaHo/referral-gate-backend/internal/model"
	"github.com/SinaHo/referral-gate-backend/internal/repository"
)

type ClaimOutcome int

const (
	ClaimDeniedNoAccess ClaimOutcome = iota + 1
	ClaimAlreadyAllocated
	ClaimPoolExhausted
	ClaimAllocated
)

func (o ClaimOutcome) String() string {
	switch o {
	case ClaimDeniedNoAccess:
		return "DENIED_NO_ACCESS"
	case ClaimAlreadyAllocated:
		return "ALREADY_ALLOCATED"
	case ClaimPoolExhausted:
		return "POOL_EXHAUSTED"
	case ClaimAllocated:
		return "ALLOCATED"
	default:
		return "UNKNOWN"
	}
}

// ClaimResult carries the profile and its account only for ClaimAllocated.
type ClaimResult struct {
	Outcome ClaimOutcome
	Profile *model.Profile
	Account *model.Account
}

// AllocationService hands out profiles to users who unlocked access.
type AllocationService interface {
	Claim(ctx context.Context, telegramID int64, at time.Time) (*ClaimResult, error)
}

type allocationService struct {
	users repository.UserRepository
	pool  repository.PoolRepository
}

// NewAllocationService constructs a new AllocationService.
func NewAllocationService(users repository.UserRepository, pool repository.PoolRepository) AllocationService {
	return &allocationService{users: users, pool: pool}
}

// Claim allocates at most one profile per user. Denials are outcomes, not
// errors; only store failures are returned as errors.
func (s *allocationService) Claim(ctx context.Context, telegramID int64, at time.Time) (*ClaimResult, error) {
	if telegramID == 0 {
		return nil, ErrInvalidUserID
	}

	u, err := s.users.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.HasAccess {
		return &ClaimResult{Outcome: ClaimDeniedNoAccess}, nil
	}
	if u.AssignedProfileID != nil {
		return &ClaimResult{Outcome: ClaimAlreadyAllocated}, nil
	}

	if at.IsZero() {
		at = time.Now()
	}
	alloc, err := s.pool.ClaimProfile(ctx, telegramID, at.UTC())
	switch {
	case errors.Is(err, repository.ErrPoolExhausted):
		return &ClaimResult{Outcome: ClaimPoolExhausted}, nil
	case errors.Is(err, repository.ErrAlreadyAllocated):
		return &ClaimResult{Outcome: ClaimAlreadyAllocated}, nil
	case errors.Is(err, repository.ErrNoAccess):
		return &ClaimResult{Outcome: ClaimDeniedNoAccess}, nil
	case err != nil:
		return nil, err
	}

	return &ClaimResult{
		Outcome: ClaimAllocated,
		Profile: &alloc.Profile,
		Account: &alloc.Account,
	}, nil
}
