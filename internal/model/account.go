package model

import (
	"time"

	"github.com/google/uuid"
)

type ProfileStatus string

const (
	ProfileAvailable ProfileStatus = "available"
	ProfileUsed      ProfileStatus = "used"
)

// Account is a shared-service credential bundle owning a set of profiles.
type Account struct {
	ID              uuid.UUID `db:"id" json:"_id"`
	Email           string    `db:"email" json:"netflix_email"`
	Password        string    `db:"password" json:"netflix_password"`
	RecoveryAccount string    `db:"recovery_account" json:"gmail_account"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}

// Profile is a single allocatable slot beneath an Account.
type Profile struct {
	ID               uuid.UUID     `db:"id" json:"_id"`
	AccountID        uuid.UUID     `db:"account_id" json:"account_id"`
	Name             string        `db:"profile_name" json:"profile_name"`
	Password         string        `db:"profile_password" json:"profile_password"`
	Status           ProfileStatus `db:"status" json:"status"`
	AssignedToUserID *int64        `db:"assigned_to_user_id" json:"assigned_to_user_id"`
	AssignedAt       *time.Time    `db:"assigned_at" json:"assignedAt"`
}

// AccountWithProfiles is the administrative join of an account and its profiles.
type AccountWithProfiles struct {
	Account
	Profiles []Profile `json:"profiles"`
}

// Allocation is a claimed profile together with its parent account.
type Allocation struct {
	Profile Profile
	Account Account
}
