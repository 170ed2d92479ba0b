package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/anatech/leadscout/models"
	"github.com/anatech/leadscout/shared"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 8
	otpDigits         = 6
)

// QuotaStatus describes a user's monthly query allowance.
type QuotaStatus struct {
	Used      int `json:"queries_used"`
	Limit     int `json:"query_limit"`
	Remaining int `json:"queries_remaining"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token string      `json:"session_token"`
	User  models.User `json:"user"`
}

// AuthService owns account lifecycle: signup with email verification,
// login sessions, password reset, profile defaults and query quota.
type AuthService struct {
	users    UserStore
	sessions SessionStore
	mailer   Mailer
	config   shared.SessionConfig
	hashCost int
	now      func() time.Time
	newCode  func() (string, error)
}

func NewAuthService(users UserStore, sessions SessionStore, mailer Mailer, config shared.SessionConfig) *AuthService {
	if config.OTPTTL <= 0 {
		config.OTPTTL = 10 * time.Minute
	}
	if config.OTPMaxAttempts <= 0 {
		config.OTPMaxAttempts = 3
	}
	if config.DefaultQueryLimit <= 0 {
		config.DefaultQueryLimit = 100
	}
	if mailer == nil {
		mailer = LogMailer{}
	}
	return &AuthService{
		users:    users,
		sessions: sessions,
		mailer:   mailer,
		config:   config,
		hashCost: bcrypt.DefaultCost,
		now:      time.Now,
		newCode:  generateOTPCode,
	}
}

func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

func authValidation(operation, message string) error {
	return shared.NewValidationError("AuthService", operation, message)
}

func invalidCredentials(operation string) error {
	return shared.NewServiceError(shared.ErrorCategoryAuthentication, "INVALID_CREDENTIALS",
		"Invalid email or password", "AuthService", operation, nil)
}

func parseUserID(operation, userID string) (uuid.UUID, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, shared.NewUnauthenticatedError(operation)
	}
	return id, nil
}

func (a *AuthService) hashPassword(operation, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.hashCost)
	if err != nil {
		return "", shared.WrapError(err, shared.ErrorCategoryInternal, "PASSWORD_HASH", "AuthService", operation)
	}
	return string(hash), nil
}

func validateEmail(operation, email string) error {
	if email == "" {
		return authValidation(operation, "Email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return authValidation(operation, "Invalid email address")
	}
	return nil
}

func validatePassword(operation, password string) error {
	if len(password) < MinPasswordLength {
		return authValidation(operation, fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}
	return nil
}

func (a *AuthService) issueOTP(ctx context.Context, operation, email string, otpType models.OTPType) error {
	code, err := a.newCode()
	if err != nil {
		return shared.WrapError(err, shared.ErrorCategoryInternal, "OTP_GENERATION", "AuthService", operation)
	}

	now := a.now()
	otp := models.OTPCode{
		Email:     email,
		Code:      code,
		Type:      otpType,
		CreatedAt: now,
		ExpiresAt: now.Add(a.config.OTPTTL),
	}
	if err := a.users.StoreOTP(ctx, otp); err != nil {
		return err
	}
	if err := a.mailer.SendOTP(ctx, email, code, otpType); err != nil {
		return shared.NewServiceError(shared.ErrorCategoryInternal, "EMAIL_DELIVERY",
			"Failed to send verification email", "AuthService", operation, err)
	}
	return nil
}

// Signup registers an account and emails a verification code. Signing up
// again with an unverified email replaces its name and password and sends a
// fresh code.
func (a *AuthService) Signup(ctx context.Context, email, password, fullName string) (uuid.UUID, error) {
	const operation = "Signup"
	email = normalizeEmail(email)
	fullName = strings.TrimSpace(fullName)

	if err := validateEmail(operation, email); err != nil {
		return uuid.Nil, err
	}
	if err := validatePassword(operation, password); err != nil {
		return uuid.Nil, err
	}
	if fullName == "" {
		return uuid.Nil, authValidation(operation, "Full name is required")
	}

	hash, err := a.hashPassword(operation, password)
	if err != nil {
		return uuid.Nil, err
	}

	existing, err := a.users.UserByEmail(ctx, email)
	if err != nil {
		return uuid.Nil, err
	}

	var userID uuid.UUID
	switch {
	case existing != nil && existing.IsVerified:
		return uuid.Nil, authValidation(operation, "Email already registered")
	case existing != nil:
		userID = existing.ID
		if err := a.users.ReplaceUnverified(ctx, userID, fullName, hash); err != nil {
			return uuid.Nil, err
		}
	default:
		now := a.now()
		userID = uuid.New()
		user := models.User{
			ID:           userID,
			Email:        email,
			FullName:     fullName,
			PasswordHash: hash,
			IsActive:     true,
			QueryLimit:   a.config.DefaultQueryLimit,
			QuotaMonth:   models.QuotaPeriod(now),
			CreatedAt:    now,
		}
		if err := a.users.CreateUser(ctx, user); err != nil {
			return uuid.Nil, err
		}
	}

	if err := a.issueOTP(ctx, operation, email, models.OTPTypeSignup); err != nil {
		return uuid.Nil, err
	}

	logrus.WithFields(logrus.Fields{
		"component": "AuthService",
		"user_id":   userID,
		"resignup":  existing != nil,
	}).Info("User signed up")
	return userID, nil
}

// checkOTP validates code against the newest OTP of otpType for email. A
// wrong code counts as a failed attempt. allowUsed admits a code that was
// already consumed by VerifyOTP, which the reset flow relies on.
func (a *AuthService) checkOTP(ctx context.Context, operation, email, code string, otpType models.OTPType, allowUsed bool) (*models.OTPCode, error) {
	otp, err := a.users.LatestOTP(ctx, email, otpType)
	if err != nil {
		return nil, err
	}
	if otp == nil {
		return nil, authValidation(operation, "Invalid OTP code")
	}
	if otp.Used && !allowUsed {
		return nil, authValidation(operation, "OTP already used")
	}
	if !a.now().Before(otp.ExpiresAt) {
		return nil, authValidation(operation, "OTP expired. Request a new one")
	}
	if otp.Attempts >= a.config.OTPMaxAttempts {
		return nil, authValidation(operation, "Too many failed attempts. Request new OTP")
	}
	if subtle.ConstantTimeCompare([]byte(otp.Code), []byte(strings.TrimSpace(code))) != 1 {
		if err := a.users.IncrementOTPAttempts(ctx, otp.ID); err != nil {
			return nil, err
		}
		return nil, authValidation(operation, "Invalid OTP code")
	}
	return otp, nil
}

// VerifyOTP consumes a code. A signup code marks the account verified and
// triggers the welcome email.
func (a *AuthService) VerifyOTP(ctx context.Context, email, code string, otpType models.OTPType) error {
	const operation = "VerifyOTP"
	email = normalizeEmail(email)
	if !otpType.Valid() {
		return authValidation(operation, "Unknown OTP type")
	}

	otp, err := a.checkOTP(ctx, operation, email, code, otpType, false)
	if err != nil {
		return err
	}
	if err := a.users.MarkOTPUsed(ctx, otp.ID); err != nil {
		return err
	}
	if otpType != models.OTPTypeSignup {
		return nil
	}

	user, err := a.users.UserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return shared.NewNotFoundError("AuthService", operation, "User not found")
	}
	if err := a.users.MarkVerified(ctx, user.ID); err != nil {
		return err
	}
	if err := a.mailer.SendWelcome(ctx, email, user.FullName); err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "AuthService",
			"user_id":   user.ID,
			"error":     err.Error(),
		}).Warn("Welcome email failed")
	}
	return nil
}

func (a *AuthService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	const operation = "Login"
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, authValidation(operation, "Email and password are required")
	}

	user, err := a.users.UserByEmail(ctx, email)
	if err != nil {
		return LoginResult{}, err
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return LoginResult{}, invalidCredentials(operation)
	}
	if !user.IsVerified {
		return LoginResult{}, authValidation(operation, "Please verify your email first")
	}
	if !user.IsActive {
		return LoginResult{}, shared.NewServiceError(shared.ErrorCategoryAuthentication, "ACCOUNT_DISABLED",
			"Account is disabled", "AuthService", operation, nil)
	}

	token, err := a.sessions.Issue(ctx, user.ID.String())
	if err != nil {
		return LoginResult{}, err
	}
	now := a.now()
	if err := a.users.TouchLogin(ctx, user.ID, now); err != nil {
		return LoginResult{}, err
	}
	user.LastLogin = &now

	logrus.WithFields(logrus.Fields{
		"component": "AuthService",
		"user_id":   user.ID,
	}).Info("User logged in")
	return LoginResult{Token: token, User: *user}, nil
}

func (a *AuthService) Logout(ctx context.Context, token string) error {
	return a.sessions.Revoke(ctx, token)
}

// CheckSession resolves token to its user.
func (a *AuthService) CheckSession(ctx context.Context, token string) (*models.User, error) {
	const operation = "CheckSession"
	userID, err := a.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	return a.loadUser(ctx, operation, userID)
}

func (a *AuthService) loadUser(ctx context.Context, operation, userID string) (*models.User, error) {
	id, err := parseUserID(operation, userID)
	if err != nil {
		return nil, err
	}
	user, err := a.users.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, shared.NewUnauthenticatedError(operation)
	}
	return user, nil
}

// ForgotPassword sends a reset code when the account exists. It reports
// success either way so the endpoint cannot be used to enumerate registered emails.
func (a *AuthService) ForgotPassword(ctx context.Context, email string) error {
	const operation = "ForgotPassword"
	email = normalizeEmail(email)
	if err := validateEmail(operation, email); err != nil {
		return err
	}

	user, err := a.users.UserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		logrus.WithFields(logrus.Fields{
			"component": "AuthService",
		}).Debug("Password reset requested for unknown email")
		return nil
	}
	return a.issueOTP(ctx, operation, email, models.OTPTypePasswordReset)
}

// ResetPassword sets a new password after checking the reset code and
// revokes every session of the account.
func (a *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	const operation = "ResetPassword"
	email = normalizeEmail(email)
	if err := validatePassword(operation, newPassword); err != nil {
		return err
	}

	otp, err := a.checkOTP(ctx, operation, email, code, models.OTPTypePasswordReset, true)
	if err != nil {
		return err
	}

	user, err := a.users.UserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return shared.NewNotFoundError("AuthService", operation, "User not found")
	}

	hash, err := a.hashPassword(operation, newPassword)
	if err != nil {
		return err
	}
	if err := a.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	if !otp.Used {
		if err := a.users.MarkOTPUsed(ctx, otp.ID); err != nil {
			return err
		}
	}
	if err := a.sessions.RevokeAll(ctx, user.ID.String()); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"component": "AuthService",
		"user_id":   user.ID,
	}).Info("Password reset")
	return nil
}

func (a *AuthService) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	user, err := a.loadUser(ctx, "GetProfile", userID)
	if err != nil {
		return models.Profile{}, err
	}
	return user.Profile, nil
}

// UpdateProfile applies the non-blank fields of update.
func (a *AuthService) UpdateProfile(ctx context.Context, userID string, update models.Profile) (models.Profile, error) {
	id, err := parseUserID("UpdateProfile", userID)
	if err != nil {
		return models.Profile{}, err
	}
	update.CompanyName = strings.TrimSpace(update.CompanyName)
	update.BusinessNiche = strings.TrimSpace(update.BusinessNiche)
	return a.users.UpdateProfile(ctx, id, update)
}

// CheckQueryLimit fails with a quota error once the monthly allowance is used up.
func (a *AuthService) CheckQueryLimit(ctx context.Context, userID string) (QuotaStatus, error) {
	const operation = "CheckQueryLimit"
	user, err := a.loadUser(ctx, operation, userID)
	if err != nil {
		return QuotaStatus{}, err
	}

	remaining := user.QueriesRemaining(a.now())
	status := QuotaStatus{
		Used:      user.QueryLimit - remaining,
		Limit:     user.QueryLimit,
		Remaining: remaining,
	}
	if remaining == 0 {
		return status, shared.NewQuotaExceededError("AuthService", operation, user.QueryLimit)
	}
	return status, nil
}

func (a *AuthService) TrackQuery(ctx context.Context, userID, queryType string) error {
	id, err := parseUserID("TrackQuery", userID)
	if err != nil {
		return err
	}
	return a.users.RecordQuery(ctx, id, queryType, a.now())
}

// Sessions exposes the session gate for the auth middleware.
func (a *AuthService) Sessions() SessionStore {
	return a.sessions
}
