package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SinaHo/referral-gate-backend/internal/model"
	"github.com/SinaHo/referral-gate-backend/internal/repository"
	"github.com/SinaHo/referral-gate-backend/internal/repository/memstore"
	"github.com/SinaHo/referral-gate-backend/internal/service"
)

// mockPoolRepo returns a fixed claim error and counts calls.
type mockPoolRepo struct {
	claimErr   error
	claimCalls int
}

func (m *mockPoolRepo) CreateAccount(_ context.Context, _ *model.Account, _ []model.Profile) (*model.AccountWithProfiles, error) {
	return nil, nil
}

func (m *mockPoolRepo) ClaimProfile(_ context.Context, _ int64, _ time.Time) (*model.Allocation, error) {
	m.claimCalls++
	return nil, m.claimErr
}

func (m *mockPoolRepo) ListAccountsWithProfiles(_ context.Context) ([]model.AccountWithProfiles, error) {
	return nil, nil
}

func seedPool(t *testing.T, store *memstore.Store, profiles int) *model.AccountWithProfiles {
	t.Helper()
	in := make([]model.Profile, profiles)
	for i := range in {
		in[i] = model.Profile{Name: "p", Password: "1234"}
	}
	acc, err := store.CreateAccount(context.Background(), &model.Account{Email: "shared@example.com", Password: "pw"}, in)
	require.NoError(t, err)
	return acc
}

// assertPoolInvariants checks used <=> assigned and that no user holds two profiles.
func assertPoolInvariants(t *testing.T, store *memstore.Store) {
	t.Helper()
	ctx := context.Background()
	accounts, err := store.ListAccountsWithProfiles(ctx)
	require.NoError(t, err)

	holders := map[int64]uuid.UUID{}
	for _, a := range accounts {
		for _, p := range a.Profiles {
			assert.Equal(t, p.Status == model.ProfileUsed, p.AssignedToUserID != nil, "profile %s", p.ID)
			if p.AssignedToUserID == nil {
				continue
			}
			_, dup := holders[*p.AssignedToUserID]
			assert.False(t, dup, "user %d holds two profiles", *p.AssignedToUserID)
			holders[*p.AssignedToUserID] = p.ID
		}
	}

	users, err := store.List(ctx)
	require.NoError(t, err)
	for _, u := range users {
		if u.AssignedProfileID != nil {
			assert.True(t, u.HasAccess, "user %d holds a profile without access", u.TelegramID)
			assert.Equal(t, holders[u.TelegramID], *u.AssignedProfileID)
		}
	}
}

func TestClaim_DeniedWithoutAccess(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedPool(t, store, 1)
	require.NoError(t, store.Create(ctx, &model.User{TelegramID: 1}))
	svc := service.NewAllocationService(store, store)

	res, err := svc.Claim(ctx, 1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, service.ClaimDeniedNoAccess, res.Outcome)
	assert.Nil(t, res.Profile)

	res, err = svc.Claim(ctx, 404, time.Now())
	require.NoError(t, err)
	assert.Equal(t, service.ClaimDeniedNoAccess, res.Outcome)

	accounts, err := store.ListAccountsWithProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ProfileAvailable, accounts[0].Profiles[0].Status)
}

func TestClaim_AllocatesThenAlreadyAllocated(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	acc := seedPool(t, store, 1)
	require.NoError(t, store.Create(ctx, &model.User{TelegramID: 1, ReferralCount: 5, HasAccess: true}))
	svc := service.NewAllocationService(store, store)

	at := time.Date(2026, 5, 5, 10, 0, 0, 0, time.UTC)
	res, err := svc.Claim(ctx, 1, at)
	require.NoError(t, err)
	require.Equal(t, service.ClaimAllocated, res.Outcome)
	assert.Equal(t, acc.Profiles[0].ID, res.Profile.ID)
	assert.Equal(t, acc.ID, res.Account.ID)
	assert.Equal(t, "shared@example.com", res.Account.Email)
	assert.Equal(t, model.ProfileUsed, res.Profile.Status)
	require.NotNil(t, res.Profile.AssignedToUserID)
	assert.Equal(t, int64(1), *res.Profile.AssignedToUserID)
	assert.Equal(t, at, *res.Profile.AssignedAt)

	u, err := store.GetByTelegramID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, u.AssignedProfileID)
	assert.Equal(t, res.Profile.ID, *u.AssignedProfileID)

	for i := 0; i < 2; i++ {
		again, err := svc.Claim(ctx, 1, at)
		require.NoError(t, err)
		assert.Equal(t, service.ClaimAlreadyAllocated, again.Outcome)
		assert.Nil(t, again.Profile)
	}
	assertPoolInvariants(t, store)
}

func TestClaim_AlreadyAllocatedDoesNotTouchPool(t *testing.T) {
	ctx := context.Background()
	pid := uuid.New()
	users := memstore.New()
	require.NoError(t, users.Create(ctx, &model.User{TelegramID: 1, HasAccess: true, AssignedProfileID: &pid}))
	pool := &mockPoolRepo{}
	svc := service.NewAllocationService(users, pool)

	res, err := svc.Claim(ctx, 1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, service.ClaimAlreadyAllocated, res.Outcome)
	assert.Equal(t, 0, pool.claimCalls)
}

func TestClaim_PoolExhausted(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Create(ctx, &model.User{TelegramID: 1, HasAccess: true}))
	svc := service.NewAllocationService(store, store)

	res, err := svc.Claim(ctx, 1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, service.ClaimPoolExhausted, res.Outcome)

	u, err := store.GetByTelegramID(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, u.AssignedProfileID)
}

func TestClaim_StoreErrorMapping(t *testing.T) {
	ctx := context.Background()
	users := memstore.New()
	require.NoError(t, users.Create(ctx, &model.User{TelegramID: 1, HasAccess: true}))

	cases := []struct {
		err  error
		want service.ClaimOutcome
	}{
		{repository.ErrPoolExhausted, service.ClaimPoolExhausted},
		{repository.ErrAlreadyAllocated, service.ClaimAlreadyAllocated},
		{repository.ErrNoAccess, service.ClaimDeniedNoAccess},
	}
	for _, tc := range cases {
		svc := service.NewAllocationService(users, &mockPoolRepo{claimErr: tc.err})
		res, err := svc.Claim(ctx, 1, time.Now())
		require.NoError(t, err)
		assert.Equal(t, tc.want, res.Outcome, tc.want.String())
	}

	boom := errors.New("connection reset")
	svc := service.NewAllocationService(users, &mockPoolRepo{claimErr: boom})
	_, err := svc.Claim(ctx, 1, time.Now())
	assert.ErrorIs(t, err, boom)
}

func TestClaim_InvalidID(t *testing.T) {
	svc := service.NewAllocationService(memstore.New(), memstore.New())
	_, err := svc.Claim(context.Background(), 0, time.Now())
	assert.ErrorIs(t, err, service.ErrInvalidUserID)
}

func TestClaim_ConcurrentUsersNeverShareAProfile(t *testing.T) {
	const (
		users     = 64
		available = 10
	)
	ctx := context.Background()
	store := memstore.New()
	seedPool(t, store, available)
	for id := int64(1); id <= users; id++ {
		require.NoError(t, store.Create(ctx, &model.User{TelegramID: id, ReferralCount: 5, HasAccess: true}))
	}
	svc := service.NewAllocationService(store, store)

	var (
		mu       sync.Mutex
		outcomes = map[service.ClaimOutcome]int{}
		claimed  = map[uuid.UUID]int64{}
	)
	var wg conc.WaitGroup
	for id := int64(1); id <= users; id++ {
		id := id
		wg.Go(func() {
			res, err := svc.Claim(ctx, id, time.Now())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			outcomes[res.Outcome]++
			if res.Outcome == service.ClaimAllocated {
				prev, dup := claimed[res.Profile.ID]
				assert.False(t, dup, "profile %s claimed by %d and %d", res.Profile.ID, prev, id)
				claimed[res.Profile.ID] = id
			}
		})
	}
	wg.Wait()

	assert.Equal(t, available, outcomes[service.ClaimAllocated])
	assert.Equal(t, users-available, outcomes[service.ClaimPoolExhausted])
	assert.Len(t, claimed, available)
	assertPoolInvariants(t, store)
}

func TestClaim_ConcurrentSameUserGetsOneProfile(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedPool(t, store, 5)
	require.NoError(t, store.Create(ctx, &model.User{TelegramID: 1, HasAccess: true}))
	svc := service.NewAllocationService(store, store)

	var (
		mu        sync.Mutex
		allocated int
	)
	var wg conc.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Go(func() {
			res, err := svc.Claim(ctx, 1, time.Now())
			if !assert.NoError(t, err) {
				return
			}
			if res.Outcome == service.ClaimAllocated {
				mu.Lock()
				allocated++
				mu.Unlock()
			} else {
				assert.Equal(t, service.ClaimAlreadyAllocated, res.Outcome)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 1, allocated)
	assertPoolInvariants(t, store)
}

func TestClaimOutcomeString(t *testing.T) {
	assert.Equal(t, "DENIED_NO_ACCESS", service.ClaimDeniedNoAccess.String())
	assert.Equal(t, "ALREADY_ALLOCATED", service.ClaimAlreadyAllocated.String())
	assert.Equal(t, "POOL_EXHAUSTED", service.ClaimPoolExhausted.String())
	assert.Equal(t, "ALLOCATED", service.ClaimAllocated.String())
	assert.Equal(t, "UNKNOWN", service.ClaimOutcome(0).String())
}
