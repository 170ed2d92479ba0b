package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anatech/leadscout/models"
	"github.com/anatech/leadscout/shared"
	"github.com/google/uuid"
)

// UserStore persists accounts, one-time codes and query usage.
type UserStore interface {
	// CreateUser fails with a validation error when the email is taken.
	CreateUser(ctx context.Context, user models.User) error
	// UserByEmail and UserByID return nil without an error when absent.
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// ReplaceUnverified overwrites the name and password of an unverified account.
	ReplaceUnverified(ctx context.Context, id uuid.UUID, fullName, passwordHash string) error
	MarkVerified(ctx context.Context, id uuid.UUID) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateProfile(ctx context.Context, id uuid.UUID, profile models.Profile) (models.Profile, error)
	// RecordQuery logs a query and bumps the monthly counter, resetting it
	// when the quota month has rolled over.
	RecordQuery(ctx context.Context, id uuid.UUID, queryType string, at time.Time) error

	StoreOTP(ctx context.Context, otp models.OTPCode) error
	// LatestOTP returns the newest code of the given type for email, or nil.
	LatestOTP(ctx context.Context, email string, otpType models.OTPType) (*models.OTPCode, error)
	IncrementOTPAttempts(ctx context.Context, id int64) error
	MarkOTPUsed(ctx context.Context, id int64) error
	PurgeExpiredOTPs(ctx context.Context, now time.Time) (int64, error)

	Ping(ctx context.Context) error
}

// QueryLogEntry is one tracked discover or fetch call.
type QueryLogEntry struct {
	UserID    uuid.UUID
	QueryType string
	CreatedAt time.Time
}

// MemoryUserStore is the in-process UserStore used without DATABASE_URL.
type MemoryUserStore struct {
	mutex     sync.RWMutex
	users     map[uuid.UUID]*models.User
	byEmail   map[string]uuid.UUID
	otps      []*models.OTPCode
	queries   []QueryLogEntry
	nextOTPID int64
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		users:   make(map[uuid.UUID]*models.User),
		byEmail: make(map[string]uuid.UUID),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *MemoryUserStore) CreateUser(ctx context.Context, user models.User) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	email := normalizeEmail(user.Email)
	if _, exists := s.byEmail[email]; exists {
		return shared.NewValidationError("MemoryUserStore", "CreateUser", "Email already registered")
	}
	user.Email = email
	s.users[user.ID] = &user
	s.byEmail[email] = user.ID
	return nil
}

func (s *MemoryUserStore) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	copied := copyUser(s.users[id])
	return &copied, nil
}

func (s *MemoryUserStore) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	copied := copyUser(user)
	return &copied, nil
}

func (s *MemoryUserStore) update(operation string, id uuid.UUID, apply func(user *models.User)) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	user, ok := s.users[id]
	if !ok {
		return shared.NewNotFoundError("MemoryUserStore", operation, "User not found")
	}
	apply(user)
	return nil
}

func (s *MemoryUserStore) ReplaceUnverified(ctx context.Context, id uuid.UUID, fullName, passwordHash string) error {
	return s.update("ReplaceUnverified", id, func(user *models.User) {
		user.FullName = fullName
		user.PasswordHash = passwordHash
	})
}

func (s *MemoryUserStore) MarkVerified(ctx context.Context, id uuid.UUID) error {
	return s.update("MarkVerified", id, func(user *models.User) {
		user.IsVerified = true
	})
}

func (s *MemoryUserStore) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return s.update("UpdatePassword", id, func(user *models.User) {
		user.PasswordHash = passwordHash
	})
}

func (s *MemoryUserStore) TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.update("TouchLogin", id, func(user *models.User) {
		user.LastLogin = &at
	})
}

func (s *MemoryUserStore) UpdateProfile(ctx context.Context, id uuid.UUID, profile models.Profile) (models.Profile, error) {
	var merged models.Profile
	err := s.update("UpdateProfile", id, func(user *models.User) {
		user.Profile = user.Profile.Merge(profile)
		merged = user.Profile
	})
	return merged, err
}

func (s *MemoryUserStore) RecordQuery(ctx context.Context, id uuid.UUID, queryType string, at time.Time) error {
	err := s.update("RecordQuery", id, func(user *models.User) {
		period := models.QuotaPeriod(at)
		if user.QuotaMonth != period {
			user.QuotaMonth = period
			user.QueriesThisMonth = 0
		}
		user.QueriesThisMonth++
	})
	if err != nil {
		return err
	}

	s.mutex.Lock()
	s.queries = append(s.queries, QueryLogEntry{UserID: id, QueryType: queryType, CreatedAt: at})
	s.mutex.Unlock()
	return nil
}

func (s *MemoryUserStore) StoreOTP(ctx context.Context, otp models.OTPCode) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.nextOTPID++
	otp.ID = s.nextOTPID
	otp.Email = normalizeEmail(otp.Email)
	s.otps = append(s.otps, &otp)
	return nil
}

func (s *MemoryUserStore) LatestOTP(ctx context.Context, email string, otpType models.OTPType) (*models.OTPCode, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	email = normalizeEmail(email)
	var candidates []*models.OTPCode
	for _, otp := range s.otps {
		if otp.Email == email && otp.Type == otpType {
			candidates = append(candidates, otp)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
		}
		return candidates[i].ID > candidates[j].ID
	})
	latest := *candidates[0]
	return &latest, nil
}

func (s *MemoryUserStore) findOTP(id int64) *models.OTPCode {
	for _, otp := range s.otps {
		if otp.ID == id {
			return otp
		}
	}
	return nil
}

func (s *MemoryUserStore) IncrementOTPAttempts(ctx context.Context, id int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if otp := s.findOTP(id); otp != nil {
		otp.Attempts++
	}
	return nil
}

func (s *MemoryUserStore) MarkOTPUsed(ctx context.Context, id int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if otp := s.findOTP(id); otp != nil {
		otp.Used = true
	}
	return nil
}

func (s *MemoryUserStore) PurgeExpiredOTPs(ctx context.Context, now time.Time) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	kept := s.otps[:0]
	var purged int64
	for _, otp := range s.otps {
		if now.After(otp.ExpiresAt) {
			purged++
			continue
		}
		kept = append(kept, otp)
	}
	s.otps = kept
	return purged, nil
}

func (s *MemoryUserStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func copyUser(user *models.User) models.User {
	copied := *user
	if user.LastLogin != nil {
		at := *user.LastLogin
		copied.LastLogin = &at
	}
	return copied
}
