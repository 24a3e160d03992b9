package model

import (
	"time"

	"github.com/google/uuid"
)

// User is one end user registered through the messaging front-end.
type User struct {
	TelegramID        int64      `db:"telegram_id" json:"telegram_id"`
	FirstName         string     `db:"first_name" json:"first_name"`
	Handle            string     `db:"handle" json:"username"`
	ReferralCode      string     `db:"referral_code" json:"referral_code"`
	ReferredBy        *int64     `db:"referred_by" json:"referred_by"`
	ReferralCount     int        `db:"referral_count" json:"referral_count"`
	HasAccess         bool       `db:"has_access" json:"has_access"`
	AssignedProfileID *uuid.UUID `db:"assigned_profile_id" json:"assigned_profile_id"`
	CreatedAt         time.Time  `db:"created_at" json:"createdAt"`
}

// ReferralTally is the referrer state after one credited registration.
type ReferralTally struct {
	ReferrerID int64
	Count      int
	HasAccess  bool
	// Unlocked is true only for the increment that flipped HasAccess.
	Unlocked bool
}
