package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/SinaHo/referral-gate-backend/internal/model"
)

// UserRepository defines the methods we need for storing and retrieving users.
type UserRepository interface {
	Create(ctx context.Context, u *model.User) error
	GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
	IncrementReferralCount(ctx context.Context, referrerID int64, threshold int) (*model.ReferralTally, error)
	List(ctx context.Context) ([]model.User, error)
}

const userColumns = `telegram_id, first_name, handle, referral_code, referred_by,
	referral_count, has_access, assigned_profile_id, created_at`

type userRepository struct {
	db *sqlx.DB
}

// NewUserRepository constructs a new UserRepository backed by a sqlx.DB.
func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

// Create inserts a new User. A second registration of the same identity
// returns ErrUserExists.
func (r *userRepository) Create(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (
			telegram_id, first_name, handle, referral_code, referred_by,
			referral_count, has_access, assigned_profile_id, created_at
		) VALUES (
			:telegram_id, :first_name, :handle, :referral_code, :referred_by,
			:referral_count, :has_access, :assigned_profile_id, :created_at
		)
	`
	res, err := r.db.NamedExecContext(ctx, query, u)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrUserExists
		}
		return fmt.Errorf("error inserting user: %w", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	} else if rows != 1 {
		return fmt.Errorf("expected 1 row to be affected, got %d", rows)
	}
	return nil
}

// GetByTelegramID fetches a user row by identity. Returns (nil, nil) if not found.
func (r *userRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	var u model.User
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`
	err := r.db.GetContext(ctx, &u, query, telegramID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error selecting user by telegram id: %w", err)
	}
	return &u, nil
}

// IncrementReferralCount credits one referral and latches has_access once the
// new count reaches threshold, in a single statement. The previous access flag
// is returned alongside so the caller can tell whether this call crossed the
// threshold. Returns (nil, nil) if the referrer does not exist.
func (r *userRepository) IncrementReferralCount(ctx context.Context, referrerID int64, threshold int) (*model.ReferralTally, error) {
	query := `
		WITH prev AS (
			SELECT telegram_id, has_access FROM users WHERE telegram_id = $1 FOR UPDATE
		)
		UPDATE users u
		SET referral_count = u.referral_count + 1,
		    has_access = u.has_access OR u.referral_count + 1 >= $2
		FROM prev
		WHERE u.telegram_id = prev.telegram_id
		RETURNING u.referral_count, u.has_access, prev.has_access AS had_access
	`
	var row struct {
		Count     int  `db:"referral_count"`
		HasAccess bool `db:"has_access"`
		HadAccess bool `db:"had_access"`
	}
	err := r.db.GetContext(ctx, &row, query, referrerID, threshold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error incrementing referral count: %w", err)
	}
	return &model.ReferralTally{
		ReferrerID: referrerID,
		Count:      row.Count,
		HasAccess:  row.HasAccess,
		Unlocked:   row.HasAccess && !row.HadAccess,
	}, nil
}

// List returns every registered user, oldest first.
func (r *userRepository) List(ctx context.Context) ([]model.User, error) {
	users := []model.User{}
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at, telegram_id`
	if err := r.db.SelectContext(ctx, &users, query); err != nil {
		return nil, fmt.Errorf("error listing users: %w", err)
	}
	return users, nil
}
