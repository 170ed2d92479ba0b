package services

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anatech/leadscout/models"
	"github.com/anatech/leadscout/shared"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type sentMail struct {
	to      string
	code    string
	otpType models.OTPType
	welcome bool
}

type recordingMailer struct {
	mutex sync.Mutex
	sent  []sentMail
	err   error
}

func (m *recordingMailer) SendOTP(ctx context.Context, to, code string, otpType models.OTPType) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sent = append(m.sent, sentMail{to: to, code: code, otpType: otpType})
	return m.err
}

func (m *recordingMailer) SendWelcome(ctx context.Context, to, name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sent = append(m.sent, sentMail{to: to, welcome: true})
	return nil
}

func (m *recordingMailer) lastCode() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if !m.sent[i].welcome {
			return m.sent[i].code
		}
	}
	return ""
}

type authFixture struct {
	auth     *AuthService
	users    *MemoryUserStore
	sessions *MemorySessionStore
	mailer   *recordingMailer
	now      time.Time
}

func newAuthFixture() *authFixture {
	f := &authFixture{
		users:    NewMemoryUserStore(),
		sessions: NewMemorySessionStore(time.Hour),
		mailer:   &recordingMailer{},
		now:      time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC),
	}
	f.sessions.SetClock(func() time.Time { return f.now })
	f.auth = NewAuthService(f.users, f.sessions, f.mailer, shared.NewDefaultUnifiedConfiguration().Session)
	f.auth.hashCost = bcrypt.MinCost
	f.auth.now = func() time.Time { return f.now }
	return f
}

// verifiedUser signs up and verifies an account, returning its login result.
func (f *authFixture) verifiedUser(t *testing.T, email string) LoginResult {
	t.Helper()
	ctx := context.Background()
	if _, err := f.auth.Signup(ctx, email, "correct horse", "Jane Doe"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if err := f.auth.VerifyOTP(ctx, email, f.mailer.lastCode(), models.OTPTypeSignup); err != nil {
		t.Fatalf("verify: %v", err)
	}
	result, err := f.auth.Login(ctx, email, "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return result
}

func TestSignupVerifyLogin(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	userID, err := f.auth.Signup(ctx, "  Jane@Example.com ", "correct horse", "Jane Doe")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if len(f.mailer.sent) != 1 || f.mailer.sent[0].to != "jane@example.com" || len(f.mailer.sent[0].code) != 6 {
		t.Fatalf("mail = %+v", f.mailer.sent)
	}

	if _, err := f.auth.Login(ctx, "jane@example.com", "correct horse"); shared.CategoryOf(err) != shared.ErrorCategoryValidation {
		t.Errorf("login before verification: %v", err)
	}

	if err := f.auth.VerifyOTP(ctx, "jane@example.com", f.mailer.lastCode(), models.OTPTypeSignup); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !f.mailer.sent[len(f.mailer.sent)-1].welcome {
		t.Error("welcome email not sent")
	}
	if err := f.auth.VerifyOTP(ctx, "jane@example.com", f.mailer.lastCode(), models.OTPTypeSignup); err == nil {
		t.Error("a used code verified twice")
	}

	if _, err := f.auth.Login(ctx, "jane@example.com", "wrong password"); shared.CategoryOf(err) != shared.ErrorCategoryAuthentication {
		t.Errorf("wrong password: %v", err)
	}
	result, err := f.auth.Login(ctx, "JANE@example.com", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.User.ID != userID || result.User.LastLogin == nil || result.Token == "" {
		t.Errorf("login result = %+v", result)
	}

	user, err := f.auth.CheckSession(ctx, result.Token)
	if err != nil || user.ID != userID {
		t.Fatalf("check session = %v, %v", user, err)
	}

	if err := f.auth.Logout(ctx, result.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := f.auth.CheckSession(ctx, result.Token); !errors.Is(err, shared.ErrUnauthenticated) {
		t.Errorf("session after logout: %v", err)
	}
}

func TestSignupValidation(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	tests := []struct {
		name, email, password, fullName string
	}{
		{"blank email", "", "correct horse", "Jane"},
		{"bad email", "not-an-email", "correct horse", "Jane"},
		{"short password", "a@b.co", "short", "Jane"},
		{"no name", "a@b.co", "correct horse", "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.auth.Signup(ctx, tt.email, tt.password, tt.fullName); shared.CategoryOf(err) != shared.ErrorCategoryValidation {
				t.Errorf("got %v, want validation error", err)
			}
		})
	}

	f.verifiedUser(t, "taken@example.com")
	if _, err := f.auth.Signup(ctx, "taken@example.com", "another pass", "Someone"); shared.CategoryOf(err) != shared.ErrorCategoryValidation {
		t.Errorf("verified email re-signup: %v", err)
	}
}

func TestResignupReplacesUnverifiedAccount(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	first, err := f.auth.Signup(ctx, "re@example.com", "first password", "First")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	second, err := f.auth.Signup(ctx, "re@example.com", "second password", "Second")
	if err != nil {
		t.Fatalf("re-signup: %v", err)
	}
	if first != second {
		t.Errorf("re-signup created a new account")
	}
	if err := f.auth.VerifyOTP(ctx, "re@example.com", f.mailer.lastCode(), models.OTPTypeSignup); err != nil {
		t.Fatalf("verify newest code: %v", err)
	}
	if _, err := f.auth.Login(ctx, "re@example.com", "second password"); err != nil {
		t.Errorf("login with replaced password: %v", err)
	}
}

func TestOTPAttemptsAndExpiry(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	if _, err := f.auth.Signup(ctx, "otp@example.com", "correct horse", "Otp"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	code := f.mailer.lastCode()
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < 3; i++ {
		if err := f.auth.VerifyOTP(ctx, "otp@example.com", wrong, models.OTPTypeSignup); err == nil {
			t.Fatal("wrong code accepted")
		}
	}
	err := f.auth.VerifyOTP(ctx, "otp@example.com", code, models.OTPTypeSignup)
	if err == nil || !strings.Contains(shared.UserMessage(err), "Too many failed attempts") {
		t.Errorf("correct code after lockout: %v", err)
	}

	if _, err := f.auth.Signup(ctx, "otp@example.com", "correct horse", "Otp"); err != nil {
		t.Fatalf("re-signup: %v", err)
	}
	f.now = f.now.Add(11 * time.Minute)
	err = f.auth.VerifyOTP(ctx, "otp@example.com", f.mailer.lastCode(), models.OTPTypeSignup)
	if err == nil || !strings.Contains(shared.UserMessage(err), "expired") {
		t.Errorf("expired code: %v", err)
	}

	if err := f.auth.VerifyOTP(ctx, "otp@example.com", "123456", "bogus"); shared.CategoryOf(err) != shared.ErrorCategoryValidation {
		t.Errorf("unknown otp type: %v", err)
	}
	if err := f.auth.VerifyOTP(ctx, "nobody@example.com", "123456", models.OTPTypeSignup); shared.CategoryOf(err) != shared.ErrorCategoryValidation {
		t.Errorf("no code issued: %v", err)
	}
}

func TestPasswordResetRevokesSessions(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	login := f.verifiedUser(t, "reset@example.com")
	other, err := f.auth.Login(ctx, "reset@example.com", "correct horse")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	mailed := len(f.mailer.sent)
	if err := f.auth.ForgotPassword(ctx, "unknown@example.com"); err != nil {
		t.Errorf("unknown email should look like success: %v", err)
	}
	if len(f.mailer.sent) != mailed {
		t.Error("reset code mailed to an unknown address")
	}

	if err := f.auth.ForgotPassword(ctx, "reset@example.com"); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	code := f.mailer.lastCode()
	if f.mailer.sent[len(f.mailer.sent)-1].otpType != models.OTPTypePasswordReset {
		t.Errorf("mailed otp type = %q", f.mailer.sent[len(f.mailer.sent)-1].otpType)
	}

	if err := f.auth.VerifyOTP(ctx, "reset@example.com", code, models.OTPTypePasswordReset); err != nil {
		t.Fatalf("verify reset code: %v", err)
	}
	if err := f.auth.ResetPassword(ctx, "reset@example.com", code, "short"); shared.CategoryOf(err) != shared.ErrorCategoryValidation {
		t.Errorf("short new password: %v", err)
	}
	if err := f.auth.ResetPassword(ctx, "reset@example.com", code, "brand new secret"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	for _, token := range []string{login.Token, other.Token} {
		if _, err := f.auth.CheckSession(ctx, token); !errors.Is(err, shared.ErrUnauthenticated) {
			t.Errorf("session survived password reset: %v", err)
		}
	}
	if _, err := f.auth.Login(ctx, "reset@example.com", "correct horse"); err == nil {
		t.Error("old password still accepted")
	}
	if _, err := f.auth.Login(ctx, "reset@example.com", "brand new secret"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
}

func TestProfileAndQuota(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	login := f.verifiedUser(t, "quota@example.com")
	userID := login.User.ID.String()

	profile, err := f.auth.UpdateProfile(ctx, userID, models.Profile{CompanyName: " Acme "})
	if err != nil || profile.CompanyName != "Acme" {
		t.Fatalf("update profile = %+v, %v", profile, err)
	}
	profile, err = f.auth.UpdateProfile(ctx, userID, models.Profile{BusinessNiche: "Bakeries"})
	if err != nil || profile.CompanyName != "Acme" || profile.BusinessNiche != "Bakeries" {
		t.Errorf("merge = %+v, %v", profile, err)
	}
	stored, err := f.auth.GetProfile(ctx, userID)
	if err != nil || stored != profile {
		t.Errorf("get profile = %+v, %v", stored, err)
	}

	if _, err := f.auth.GetProfile(ctx, "not-a-uuid"); shared.CategoryOf(err) != shared.ErrorCategoryAuthentication {
		t.Errorf("bad user id: %v", err)
	}

	f.users.update("test", login.User.ID, func(user *models.User) { user.QueryLimit = 2 })
	for i := 0; i < 2; i++ {
		status, err := f.auth.CheckQueryLimit(ctx, userID)
		if err != nil || status.Remaining != 2-i {
			t.Fatalf("quota before query %d = %+v, %v", i, status, err)
		}
		if err := f.auth.TrackQuery(ctx, userID, "fetch_leads"); err != nil {
			t.Fatalf("track: %v", err)
		}
	}
	status, err := f.auth.CheckQueryLimit(ctx, userID)
	if !errors.Is(err, shared.ErrQuotaExceeded) || status.Used != 2 {
		t.Errorf("exhausted quota = %+v, %v", status, err)
	}
	if entries := queryLog(f.users, login.User.ID); len(entries) != 2 || entries[0].QueryType != "fetch_leads" {
		t.Errorf("query log = %+v", entries)
	}

	f.now = f.now.AddDate(0, 1, 0)
	if status, err := f.auth.CheckQueryLimit(ctx, userID); err != nil || status.Remaining != 2 {
		t.Errorf("quota after month rollover = %+v, %v", status, err)
	}
}

func TestSignupMailFailure(t *testing.T) {
	f := newAuthFixture()
	f.mailer.err = errors.New("relay down")
	_, err := f.auth.Signup(context.Background(), "mail@example.com", "correct horse", "Mail")
	if shared.CategoryOf(err) != shared.ErrorCategoryInternal {
		t.Errorf("mail failure: %v", err)
	}
}

func TestSessionStoreExpiry(t *testing.T) {
	store := NewMemorySessionStore(time.Hour)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	ctx := context.Background()

	token, err := store.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(token) < 40 {
		t.Errorf("token %q is too short", token)
	}
	if userID, err := store.Validate(ctx, token); err != nil || userID != "user-1" {
		t.Errorf("validate = %q, %v", userID, err)
	}
	if _, err := store.Validate(ctx, ""); !errors.Is(err, shared.ErrUnauthenticated) {
		t.Errorf("blank token: %v", err)
	}
	if _, err := store.Issue(ctx, " "); shared.CategoryOf(err) != shared.ErrorCategoryValidation {
		t.Errorf("blank user: %v", err)
	}

	now = now.Add(time.Hour)
	if _, err := store.Validate(ctx, token); !errors.Is(err, shared.ErrUnauthenticated) {
		t.Errorf("expired token: %v", err)
	}
}

func TestSMTPMailerMessage(t *testing.T) {
	mailer := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "bot@example.com", Password: "pw"})
	var addr, from string
	var message []byte
	mailer.send = func(a string, auth smtp.Auth, f string, to []string, msg []byte) error {
		addr, from, message = a, f, msg
		return nil
	}

	if err := mailer.SendOTP(context.Background(), "jane@example.com", "424242", models.OTPTypePasswordReset); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	if addr != "smtp.example.com:587" || from != "bot@example.com" {
		t.Errorf("addr = %q from = %q", addr, from)
	}
	body := string(message)
	if !strings.Contains(body, "Subject: Password Reset") || !strings.Contains(body, "424242") || !strings.Contains(body, "To: jane@example.com") {
		t.Errorf("message = %q", body)
	}

	mailer.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("refused") }
	if err := mailer.SendWelcome(context.Background(), "jane@example.com", "Jane"); err == nil {
		t.Error("expected delivery error")
	}
}

func queryLog(store *MemoryUserStore, id uuid.UUID) []QueryLogEntry {
	store.mutex.RLock()
	defer store.mutex.RUnlock()

	var entries []QueryLogEntry
	for _, entry := range store.queries {
		if entry.UserID == id {
			entries = append(entries, entry)
		}
	}
	return entries
}
