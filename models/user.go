package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID               uuid.UUID  `json:"id"`
	Email            string     `json:"email"`
	FullName         string     `json:"full_name"`
	PasswordHash     string     `json:"-"`
	IsVerified       bool       `json:"is_verified"`
	IsActive         bool       `json:"is_active"`
	Profile          Profile    `json:"profile"`
	QueriesThisMonth int        `json:"queries_this_month"`
	QueryLimit       int        `json:"query_limit"`
	QuotaMonth       string     `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	LastLogin        *time.Time `json:"last_login,omitempty"`
}

// Profile holds business defaults that pre-fill discovery and scoring prompts.
type Profile struct {
	CompanyName   string `json:"company_name"`
	BusinessNiche string `json:"business_niche"`
}

// Merge returns p with every non-blank field of update applied. Blank values
// never clear a stored field.
func (p Profile) Merge(update Profile) Profile {
	if update.CompanyName != "" {
		p.CompanyName = update.CompanyName
	}
	if update.BusinessNiche != "" {
		p.BusinessNiche = update.BusinessNiche
	}
	return p
}

// QuotaPeriod formats the month bucket used for query quota accounting.
func QuotaPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// QueriesRemaining returns how many queries are left in the current month.
func (u *User) QueriesRemaining(now time.Time) int {
	used := u.QueriesThisMonth
	if u.QuotaMonth != QuotaPeriod(now) {
		used = 0
	}
	if remaining := u.QueryLimit - used; remaining > 0 {
		return remaining
	}
	return 0
}

type OTPType string

const (
	OTPTypeSignup        OTPType = "signup"
	OTPTypePasswordReset OTPType = "password_reset"
)

// Valid reports whether t is a known OTP type.
func (t OTPType) Valid() bool {
	return t == OTPTypeSignup || t == OTPTypePasswordReset
}

type OTPCode struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Code      string    `json:"-"`
	Type      OTPType   `json:"otp_type"`
	Attempts  int       `json:"attempts"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
