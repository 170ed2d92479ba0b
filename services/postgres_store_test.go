package services

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/anatech/leadscout/database"
	"github.com/anatech/leadscout/models"
	"github.com/anatech/leadscout/shared"
	"github.com/google/uuid"
)

// openTestDatabase connects to TEST_DATABASE_URL and applies the schema.
// Tests are skipped when no database is configured.
func openTestDatabase(t *testing.T) *sql.DB {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping Postgres store tests - TEST_DATABASE_URL not set")
	}

	config := shared.NewDefaultUnifiedConfiguration().Database
	db, err := database.Open(dbURL, &config)
	if err != nil {
		t.Skipf("Skipping Postgres store tests - database not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := database.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func createTestUser(t *testing.T, users UserStore) models.User {
	t.Helper()
	user := models.User{
		ID:           uuid.New(),
		Email:        uuid.NewString() + "@example.com",
		FullName:     "Test User",
		PasswordHash: "hash",
		IsActive:     true,
		QueryLimit:   100,
		CreatedAt:    time.Now().UTC(),
	}
	if err := users.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func TestPostgresLeadStoreContract(t *testing.T) {
	db := openTestDatabase(t)
	user := createTestUser(t, NewPostgresUserStore(db))
	store := NewPostgresLeadStore(db)
	leadStoreContract(t, store, user.ID.String())
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestPostgresLeadStoreDismissals(t *testing.T) {
	db := openTestDatabase(t)
	user := createTestUser(t, NewPostgresUserStore(db))
	store := NewPostgresLeadStore(db)
	ctx := context.Background()

	marker, err := store.Dismiss(ctx, user.ID.String(), "p1")
	if err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	active, err := store.DismissedPostIDs(ctx, user.ID.String(), time.Now())
	if err != nil || !active["p1"] {
		t.Errorf("dismissed ids = %v, %v", active, err)
	}
	expired, _ := store.DismissedPostIDs(ctx, user.ID.String(), marker.ExpiresAt.Add(time.Second))
	if expired["p1"] {
		t.Error("marker active after expiry")
	}
}

func TestPostgresUserStore(t *testing.T) {
	db := openTestDatabase(t)
	users := NewPostgresUserStore(db)
	ctx := context.Background()
	user := createTestUser(t, users)

	if err := users.CreateUser(ctx, user); shared.CategoryOf(err) != shared.ErrorCategoryValidation {
		t.Errorf("duplicate email: got %v", err)
	}

	found, err := users.UserByEmail(ctx, user.Email)
	if err != nil || found == nil || found.ID != user.ID {
		t.Fatalf("UserByEmail = %v, %v", found, err)
	}

	profile, err := users.UpdateProfile(ctx, user.ID, models.Profile{CompanyName: "Acme"})
	if err != nil || profile.CompanyName != "Acme" {
		t.Errorf("UpdateProfile = %+v, %v", profile, err)
	}
	profile, err = users.UpdateProfile(ctx, user.ID, models.Profile{BusinessNiche: "Retail"})
	if err != nil || profile.CompanyName != "Acme" || profile.BusinessNiche != "Retail" {
		t.Errorf("blank field cleared the stored value: %+v, %v", profile, err)
	}

	if err := users.RecordQuery(ctx, user.ID, "fetch_leads", time.Now()); err != nil {
		t.Fatalf("RecordQuery: %v", err)
	}
	reloaded, _ := users.UserByID(ctx, user.ID)
	if reloaded.QueriesThisMonth != 1 {
		t.Errorf("queries this month = %d", reloaded.QueriesThisMonth)
	}

	now := time.Now().UTC()
	code := models.OTPCode{Email: user.Email, Code: "123456", Type: models.OTPTypeSignup, CreatedAt: now, ExpiresAt: now.Add(10 * time.Minute)}
	if err := users.StoreOTP(ctx, code); err != nil {
		t.Fatalf("StoreOTP: %v", err)
	}
	latest, err := users.LatestOTP(ctx, user.Email, models.OTPTypeSignup)
	if err != nil || latest == nil || latest.Code != "123456" {
		t.Fatalf("LatestOTP = %+v, %v", latest, err)
	}
	if err := users.IncrementOTPAttempts(ctx, latest.ID); err != nil {
		t.Errorf("IncrementOTPAttempts: %v", err)
	}
	if err := users.MarkOTPUsed(ctx, latest.ID); err != nil {
		t.Errorf("MarkOTPUsed: %v", err)
	}
	latest, _ = users.LatestOTP(ctx, user.Email, models.OTPTypeSignup)
	if latest.Attempts != 1 || !latest.Used {
		t.Errorf("otp after updates = %+v", latest)
	}
}
