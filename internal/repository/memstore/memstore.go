// Package memstore is an in-process implementation of the repository
// interfaces. A single mutex serializes every operation, which gives the
// claim path the same all-or-nothing behaviour as the SQL transaction.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SinaHo/referral-gate-backend/internal/model"
	"github.com/SinaHo/referral-gate-backend/internal/repository"
)

type Store struct {
	mu       sync.Mutex
	users    map[int64]*model.User
	accounts map[uuid.UUID]*model.Account
	profiles map[uuid.UUID]*model.Profile
	// insertion order of profiles; claims scan it from the front
	order []uuid.UUID
}

func New() *Store {
	return &Store{
		users:    make(map[int64]*model.User),
		accounts: make(map[uuid.UUID]*model.Account),
		profiles: make(map[uuid.UUID]*model.Profile),
	}
}

var (
	_ repository.UserRepository = (*Store)(nil)
	_ repository.PoolRepository = (*Store)(nil)
)

func (s *Store) Create(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.TelegramID]; ok {
		return repository.ErrUserExists
	}
	cp := *u
	s.users[u.TelegramID] = &cp
	return nil
}

func (s *Store) GetByTelegramID(_ context.Context, telegramID int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[telegramID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *Store) IncrementReferralCount(_ context.Context, referrerID int64, threshold int) (*model.ReferralTally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[referrerID]
	if !ok {
		return nil, nil
	}
	had := u.HasAccess
	u.ReferralCount++
	u.HasAccess = u.HasAccess || u.ReferralCount >= threshold
	return &model.ReferralTally{
		ReferrerID: referrerID,
		Count:      u.ReferralCount,
		HasAccess:  u.HasAccess,
		Unlocked:   u.HasAccess && !had,
	}, nil
}

func (s *Store) List(_ context.Context) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TelegramID < out[j].TelegramID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) CreateAccount(_ context.Context, acc *model.Account, profiles []model.Profile) (*model.AccountWithProfiles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := *acc
	a.ID = uuid.New()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.accounts[a.ID] = &a

	out := model.AccountWithProfiles{Account: a, Profiles: make([]model.Profile, 0, len(profiles))}
	for _, p := range profiles {
		p.ID = uuid.New()
		p.AccountID = a.ID
		p.Status = model.ProfileAvailable
		p.AssignedToUserID = nil
		p.AssignedAt = nil
		cp := p
		s.profiles[p.ID] = &cp
		s.order = append(s.order, p.ID)
		out.Profiles = append(out.Profiles, p)
	}
	return &out, nil
}

func (s *Store) ClaimProfile(_ context.Context, telegramID int64, at time.Time) (*model.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[telegramID]
	switch {
	case !ok || !u.HasAccess:
		return nil, repository.ErrNoAccess
	case u.AssignedProfileID != nil:
		return nil, repository.ErrAlreadyAllocated
	}

	var p *model.Profile
	for _, id := range s.order {
		if cand := s.profiles[id]; cand.Status == model.ProfileAvailable {
			p = cand
			break
		}
	}
	if p == nil {
		return nil, repository.ErrPoolExhausted
	}

	uid := telegramID
	ts := at
	p.Status = model.ProfileUsed
	p.AssignedToUserID = &uid
	p.AssignedAt = &ts
	pid := p.ID
	u.AssignedProfileID = &pid

	return &model.Allocation{Profile: *p, Account: *s.accounts[p.AccountID]}, nil
}

func (s *Store) ListAccountsWithProfiles(_ context.Context) ([]model.AccountWithProfiles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, *a)
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].ID.String() < accounts[j].ID.String()
		}
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	profiles := make([]model.Profile, 0, len(s.order))
	for _, id := range s.order {
		profiles = append(profiles, *s.profiles[id])
	}
	return repository.JoinProfiles(accounts, profiles), nil
}
