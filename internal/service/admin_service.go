package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-password/password"
	"golang.org/x/crypto/bcrypt"

	"github.com/SinaHo/referral-gate-backend/internal/auth"
	"github.com/SinaHo/referral-gate-backend/internal/model"
	"github.com/SinaHo/referral-gate-backend/internal/repository"
)

type ProfileInput struct {
	Name     string
	Password string
}

type AddAccountRequest struct {
	Email           string
	Password        string
	RecoveryAccount string
	Profiles        []ProfileInput
}

// AdminService backs the administrative panel.
type AdminService interface {
	Login(ctx context.Context, password string) (string, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	ListAccountsWithProfiles(ctx context.Context) ([]model.AccountWithProfiles, error)
	AddAccount(ctx context.Context, in AddAccountRequest) (*model.AccountWithProfiles, error)
}

type adminService struct {
	users        repository.UserRepository
	pool         repository.PoolRepository
	passwordHash []byte
	jwtSecret    []byte
	tokenExpiry  time.Duration
	pinLength    int
}

// NewAdminService constructs a new AdminService. Only a bcrypt hash of the
// admin password is retained.
func NewAdminService(
	users repository.UserRepository,
	pool repository.PoolRepository,
	adminPassword string,
	jwtSecret []byte,
	tokenExpiry time.Duration,
	pinLength int,
) (AdminService, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash admin password: %w", err)
	}
	return &adminService{
		users:        users,
		pool:         pool,
		passwordHash: hashed,
		jwtSecret:    jwtSecret,
		tokenExpiry:  tokenExpiry,
		pinLength:    pinLength,
	}, nil
}

// Login verifies the shared admin secret and returns a fresh admin token.
func (s *adminService) Login(_ context.Context, pw string) (string, error) {
	if pw == "" {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(pw)); err != nil {
		return "", ErrInvalidCredentials
	}
	return auth.IssueToken(s.jwtSecret, auth.RoleAdmin, auth.RoleAdmin, s.tokenExpiry)
}

func (s *adminService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.users.List(ctx)
}

func (s *adminService) ListAccountsWithProfiles(ctx context.Context) ([]model.AccountWithProfiles, error) {
	return s.pool.ListAccountsWithProfiles(ctx)
}

// AddAccount stores a new account with its profiles, all available. A profile
// without a password gets a generated numeric PIN.
func (s *adminService) AddAccount(ctx context.Context, in AddAccountRequest) (*model.AccountWithProfiles, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" || len(in.Profiles) == 0 {
		return nil, ErrInvalidAccount
	}

	profiles := make([]model.Profile, 0, len(in.Profiles))
	for i, p := range in.Profiles {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			name = fmt.Sprintf("Profile %d", i+1)
		}
		pw := p.Password
		if pw == "" && s.pinLength > 0 {
			pin, err := password.Generate(s.pinLength, s.pinLength, 0, false, true)
			if err != nil {
				return nil, fmt.Errorf("generate profile pin: %w", err)
			}
			pw = pin
		}
		profiles = append(profiles, model.Profile{Name: name, Password: pw})
	}

	return s.pool.CreateAccount(ctx, &model.Account{
		Email:           email,
		Password:        in.Password,
		RecoveryAccount: in.RecoveryAccount,
	}, profiles)
}
