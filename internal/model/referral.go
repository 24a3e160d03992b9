package model

import (
	"strconv"
	"strings"
)

// ReferralCode derives the shareable code for a user identity.
func ReferralCode(prefix string, telegramID int64) string {
	return prefix + strconv.FormatInt(telegramID, 10)
}

// ParseReferrer extracts the referrer identity from a start argument such as
// "ref_12345". The identity is the token between the first and second
// underscore. ok is false for anything that does not carry an integer there.
func ParseReferrer(arg string) (int64, bool) {
	parts := strings.Split(strings.TrimSpace(arg), "_")
	if len(parts) < 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
