package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/SinaHo/referral-gate-backend/internal/model"
)

// PoolRepository stores accounts and the profiles allocated from them.
type PoolRepository interface {
	CreateAccount(ctx context.Context, acc *model.Account, profiles []model.Profile) (*model.AccountWithProfiles, error)
	ClaimProfile(ctx context.Context, telegramID int64, at time.Time) (*model.Allocation, error)
	ListAccountsWithProfiles(ctx context.Context) ([]model.AccountWithProfiles, error)
}

const profileColumns = `id, account_id, profile_name, profile_password, status, assigned_to_user_id, assigned_at`

type poolRepository struct {
	db *sqlx.DB
}

// NewPoolRepository constructs a PoolRepository backed by a sqlx.DB.
func NewPoolRepository(db *sqlx.DB) PoolRepository {
	return &poolRepository{db: db}
}

// CreateAccount inserts the account and all of its profiles in one transaction.
// IDs are generated here; every profile starts out available.
func (r *poolRepository) CreateAccount(ctx context.Context, acc *model.Account, profiles []model.Profile) (*model.AccountWithProfiles, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	out := model.AccountWithProfiles{Account: *acc, Profiles: make([]model.Profile, 0, len(profiles))}
	out.ID = uuid.New()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO accounts (id, email, password, recovery_account, created_at)
		VALUES (:id, :email, :password, :recovery_account, :created_at)
	`, &out.Account)
	if err != nil {
		return nil, fmt.Errorf("error inserting account: %w", err)
	}

	for _, p := range profiles {
		p.ID = uuid.New()
		p.AccountID = out.ID
		p.Status = model.ProfileAvailable
		p.AssignedToUserID = nil
		p.AssignedAt = nil
		out.Profiles = append(out.Profiles, p)
	}
	if len(out.Profiles) > 0 {
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO profiles (`+profileColumns+`)
			VALUES (:id, :account_id, :profile_name, :profile_password, :status, :assigned_to_user_id, :assigned_at)
		`, out.Profiles)
		if err != nil {
			return nil, fmt.Errorf("error inserting profiles: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &out, nil
}

// ClaimProfile atomically moves one available profile to used and links it to
// the user. The user row is locked first, so concurrent claims by the same user
// queue behind each other and the later ones see the assignment. Concurrent
// claimers never see the same profile row: the candidate is locked with SKIP
// LOCKED. Both writes commit together or not at all.
func (r *poolRepository) ClaimProfile(ctx context.Context, telegramID int64, at time.Time) (*model.Allocation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var holder struct {
		HasAccess         bool       `db:"has_access"`
		AssignedProfileID *uuid.UUID `db:"assigned_profile_id"`
	}
	err = tx.GetContext(ctx, &holder, `
		SELECT has_access, assigned_profile_id FROM users
		WHERE telegram_id = $1
		FOR UPDATE
	`, telegramID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoAccess
		}
		return nil, fmt.Errorf("error locking user: %w", err)
	}
	if !holder.HasAccess {
		return nil, ErrNoAccess
	}
	if holder.AssignedProfileID != nil {
		return nil, ErrAlreadyAllocated
	}

	var p model.Profile
	err = tx.GetContext(ctx, &p, `
		UPDATE profiles
		SET status = 'used', assigned_to_user_id = $1, assigned_at = $2
		WHERE id = (
			SELECT id FROM profiles
			WHERE status = 'available'
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+profileColumns, telegramID, at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPoolExhausted
		}
		return nil, fmt.Errorf("error claiming profile: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE users SET assigned_profile_id = $2
		WHERE telegram_id = $1 AND assigned_profile_id IS NULL
	`, telegramID, p.ID)
	if err != nil {
		return nil, fmt.Errorf("error linking profile to user: %w", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	} else if rows != 1 {
		return nil, fmt.Errorf("expected 1 user row to be linked, got %d", rows)
	}

	var acc model.Account
	err = tx.GetContext(ctx, &acc,
		`SELECT id, email, password, recovery_account, created_at FROM accounts WHERE id = $1`, p.AccountID)
	if err != nil {
		return nil, fmt.Errorf("error selecting parent account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &model.Allocation{Profile: p, Account: acc}, nil
}

// ListAccountsWithProfiles joins every account with its profiles.
func (r *poolRepository) ListAccountsWithProfiles(ctx context.Context) ([]model.AccountWithProfiles, error) {
	var accounts []model.Account
	err := r.db.SelectContext(ctx, &accounts,
		`SELECT id, email, password, recovery_account, created_at FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("error listing accounts: %w", err)
	}

	var profiles []model.Profile
	err = r.db.SelectContext(ctx, &profiles,
		`SELECT `+profileColumns+` FROM profiles ORDER BY account_id, profile_name, id`)
	if err != nil {
		return nil, fmt.Errorf("error listing profiles: %w", err)
	}

	return JoinProfiles(accounts, profiles), nil
}

// JoinProfiles nests profiles under their owning accounts, preserving the
// order of accounts. Accounts without profiles get an empty list.
func JoinProfiles(accounts []model.Account, profiles []model.Profile) []model.AccountWithProfiles {
	byAccount := make(map[uuid.UUID][]model.Profile, len(accounts))
	for _, p := range profiles {
		byAccount[p.AccountID] = append(byAccount[p.AccountID], p)
	}
	out := make([]model.AccountWithProfiles, 0, len(accounts))
	for _, a := range accounts {
		ps := byAccount[a.ID]
		if ps == nil {
			ps = []model.Profile{}
		}
		out = append(out, model.AccountWithProfiles{Account: a, Profiles: ps})
	}
	return out
}
