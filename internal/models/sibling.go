package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SiblingMember is one student inside a sibling group, ordered by birth date.
type SiblingMember struct {
	StudentID  string    `json:"student_id"`
	FullName   string    `json:"full_name"`
	BirthDate  time.Time `json:"birth_date"`
	BirthOrder int       `json:"birth_order"`
}

// SiblingInfo is the detector's answer for a single student. Derived data:
// recomputed on demand, cached with explicit invalidation, never ground truth.
type SiblingInfo struct {
	Fingerprint   string          `json:"fingerprint"`
	Members       []SiblingMember `json:"members"`
	BirthOrder    int             `json:"birth_order"`
	WaiverPercent decimal.Decimal `json:"waiver_percent"`
	Reason        string          `json:"reason"`
}

// NormalizeGuardianName folds a guardian name for grouping: trimmed and
// lower-cased.
func NormalizeGuardianName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizePhoneDigits reduces a phone number to its national significant
// digits: formatting stripped, then the international call prefix, the
// country code, and the trunk zero, so "+62 812-333-444" and "0812333444"
// compare equal.
func NormalizePhoneDigits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimPrefix(b.String(), "00")
	digits = strings.TrimPrefix(digits, "62")
	return strings.TrimLeft(digits, "0")
}

// GuardianFingerprint normalizes guardian identity into a grouping key:
// case-folded trimmed name plus normalized phone digits. Empty when either
// part is missing, which marks the student as an unlinkable singleton.
func GuardianFingerprint(name, phone string) string {
	n := NormalizeGuardianName(name)
	digits := NormalizePhoneDigits(phone)
	if n == "" || digits == "" {
		return ""
	}
	return n + "|" + digits
}
