package integration_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/SinaHo/referral-gate-backend/internal/auth"
	"github.com/SinaHo/referral-gate-backend/internal/config"
	"github.com/SinaHo/referral-gate-backend/internal/handler"
	"github.com/SinaHo/referral-gate-backend/internal/model"
	"github.com/SinaHo/referral-gate-backend/internal/repository"
	"github.com/SinaHo/referral-gate-backend/internal/server"
)

// Runs against a real PostgreSQL configured through POSTGRES_* variables.
func setup(t *testing.T) (*config.Config, *sqlx.DB) {
	t.Helper()
	if os.Getenv("INTEGRATION_POSTGRES") != "1" {
		t.Skip("set INTEGRATION_POSTGRES=1 to run against PostgreSQL")
	}

	cfg, err := config.LoadConfig("../../internal/config")
	require.NoError(t, err)
	cfg.Storage.Driver = "postgres"
	cfg.Redis.Enabled = false

	db, err := sqlx.Connect("postgres", cfg.Postgres.DSN())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, repository.Migrate(db))
	_, err = db.Exec(`TRUNCATE profiles, accounts, users`)
	require.NoError(t, err)
	return cfg, db
}

func TestIntegration_RegisterReferAndClaim(t *testing.T) {
	cfg, db := setup(t)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	app, err := server.NewAppServer(cfg, zap.NewNop())
	require.NoError(t, err)
	go func() {
		if serveErr := app.GRPC.Serve(lis); serveErr != nil {
			panic(fmt.Sprintf("gRPC serve error: %v", serveErr))
		}
	}()
	defer app.GracefulStop(context.Background())

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	tok, err := auth.IssueToken([]byte(cfg.JWT.SigningKey), "it", auth.RoleFrontend, time.Minute)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)

	call := func(method string, in map[string]interface{}) map[string]interface{} {
		req, err := structpb.NewStruct(in)
		require.NoError(t, err)
		out := new(structpb.Struct)
		require.NoError(t, conn.Invoke(ctx, method, req, out))
		return out.AsMap()
	}

	call(handler.RegisterMethod, map[string]interface{}{"user_id": 1000, "first_name": "Referrer"})
	for i := 0; i < cfg.Referral.Threshold; i++ {
		call(handler.RegisterMethod, map[string]interface{}{
			"user_id":      2000 + i,
			"referral_arg": model.ReferralCode(cfg.Referral.CodePrefix, 1000),
		})
	}

	status := call(handler.StatusMethod, map[string]interface{}{"user_id": 1000})
	user := status["user"].(map[string]interface{})
	assert.Equal(t, true, user["has_access"])
	assert.Equal(t, float64(cfg.Referral.Threshold), user["referral_count"])

	claim := call(handler.ClaimMethod, map[string]interface{}{"user_id": 1000})
	assert.Equal(t, "POOL_EXHAUSTED", claim["outcome"])

	pool := repository.NewPoolRepository(db)
	_, err = pool.CreateAccount(ctx, &model.Account{Email: "shared@example.com", Password: "pw"},
		[]model.Profile{{Name: "A", Password: "1111"}})
	require.NoError(t, err)

	claim = call(handler.ClaimMethod, map[string]interface{}{"user_id": 1000})
	assert.Equal(t, "ALLOCATED", claim["outcome"])
	claim = call(handler.ClaimMethod, map[string]interface{}{"user_id": 1000})
	assert.Equal(t, "ALREADY_ALLOCATED", claim["outcome"])
}

func TestIntegration_ConcurrentClaims(t *testing.T) {
	_, db := setup(t)
	ctx := context.Background()
	users := repository.NewUserRepository(db)
	pool := repository.NewPoolRepository(db)

	const claimants, available = 30, 7
	for id := int64(1); id <= claimants; id++ {
		require.NoError(t, users.Create(ctx, &model.User{
			TelegramID:    id,
			ReferralCode:  model.ReferralCode("ref_", id),
			ReferralCount: 5,
			HasAccess:     true,
			CreatedAt:     time.Now().UTC(),
		}))
	}
	profiles := make([]model.Profile, available)
	_, err := pool.CreateAccount(ctx, &model.Account{Email: "shared@example.com"}, profiles)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		allocated = map[string]int64{}
		exhausted int
	)
	for id := int64(1); id <= claimants; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			alloc, err := pool.ClaimProfile(ctx, id, time.Now().UTC())
			mu.Lock()
			defer mu.Unlock()
			if err == repository.ErrPoolExhausted {
				exhausted++
				return
			}
			if !assert.NoError(t, err) {
				return
			}
			_, dup := allocated[alloc.Profile.ID.String()]
			assert.False(t, dup)
			allocated[alloc.Profile.ID.String()] = id
		}(id)
	}
	wg.Wait()

	assert.Len(t, allocated, available)
	assert.Equal(t, claimants-available, exhausted)

	var mismatched int
	require.NoError(t, db.Get(&mismatched, `
		SELECT COUNT(*) FROM profiles p
		LEFT JOIN users u ON u.assigned_profile_id = p.id
		WHERE (p.status = 'used') <> (u.telegram_id IS NOT NULL)
		   OR (u.telegram_id IS NOT NULL AND u.telegram_id <> p.assigned_to_user_id)
	`))
	assert.Equal(t, 0, mismatched)
}

func TestIntegration_ConcurrentSameUserClaims(t *testing.T) {
	_, db := setup(t)
	ctx := context.Background()
	users := repository.NewUserRepository(db)
	pool := repository.NewPoolRepository(db)

	require.NoError(t, users.Create(ctx, &model.User{
		TelegramID:    42,
		ReferralCode:  model.ReferralCode("ref_", 42),
		ReferralCount: 5,
		HasAccess:     true,
		CreatedAt:     time.Now().UTC(),
	}))
	_, err := pool.CreateAccount(ctx, &model.Account{Email: "shared@example.com"}, make([]model.Profile, 5))
	require.NoError(t, err)

	const attempts = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		won      int
		repeated int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.ClaimProfile(ctx, 42, time.Now().UTC())
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, repository.ErrAlreadyAllocated) {
				repeated++
				return
			}
			if assert.NoError(t, err) {
				won++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, attempts-1, repeated)

	var used int
	require.NoError(t, db.Get(&used, `SELECT COUNT(*) FROM profiles WHERE status = 'used'`))
	assert.Equal(t, 1, used)
}

func TestIntegration_ClaimStoreFailureIsNotADenial(t *testing.T) {
	_, db := setup(t)
	ctx := context.Background()
	users := repository.NewUserRepository(db)
	require.NoError(t, users.Create(ctx, &model.User{
		TelegramID:   7,
		ReferralCode: model.ReferralCode("ref_", 7),
		HasAccess:    true,
		CreatedAt:    time.Now().UTC(),
	}))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err := repository.NewPoolRepository(db).ClaimProfile(cctx, 7, time.Now().UTC())
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrNoAccess)
	assert.NotErrorIs(t, err, repository.ErrAlreadyAllocated)
	assert.NotErrorIs(t, err, repository.ErrPoolExhausted)
}
