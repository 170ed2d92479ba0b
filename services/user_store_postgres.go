package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/anatech/leadscout/models"
	"github.com/anatech/leadscout/shared"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const userColumns = `id, email, full_name, password_hash, is_verified, is_active,
	company_name, business_niche, queries_this_month, query_limit, quota_month,
	created_at, last_login`

// PostgresUserStore implements UserStore over the users, otp_codes and query_log tables.
type PostgresUserStore struct {
	db *sql.DB
}

var _ UserStore = (*PostgresUserStore)(nil)

func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

func userDBError(operation string, err error) error {
	return shared.WrapError(err, shared.ErrorCategoryDatabase, "DB_ERROR", "PostgresUserStore", operation)
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var lastLogin sql.NullTime
	err := row.Scan(
		&user.ID, &user.Email, &user.FullName, &user.PasswordHash, &user.IsVerified, &user.IsActive,
		&user.Profile.CompanyName, &user.Profile.BusinessNiche, &user.QueriesThisMonth,
		&user.QueryLimit, &user.QuotaMonth, &user.CreatedAt, &lastLogin,
	)
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		at := lastLogin.Time
		user.LastLogin = &at
	}
	return &user, nil
}

func (s *PostgresUserStore) CreateUser(ctx context.Context, user models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, full_name, password_hash, is_verified, is_active,
			company_name, business_niche, query_limit, quota_month, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		user.ID, normalizeEmail(user.Email), user.FullName, user.PasswordHash, user.IsVerified,
		user.IsActive, user.Profile.CompanyName, user.Profile.BusinessNiche, user.QueryLimit,
		user.QuotaMonth, user.CreatedAt,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return shared.NewValidationError("PostgresUserStore", "CreateUser", "Email already registered")
	}
	if err != nil {
		return userDBError("CreateUser", err)
	}
	return nil
}

func (s *PostgresUserStore) queryUser(ctx context.Context, operation, where string, arg interface{}) (*models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, userDBError(operation, err)
	}
	return user, nil
}

func (s *PostgresUserStore) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.queryUser(ctx, "UserByEmail", "email = $1", normalizeEmail(email))
}

func (s *PostgresUserStore) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.queryUser(ctx, "UserByID", "id = $1", id)
}

func (s *PostgresUserStore) exec(ctx context.Context, operation, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return userDBError(operation, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return userDBError(operation, err)
	}
	if affected == 0 {
		return shared.NewNotFoundError("PostgresUserStore", operation, "User not found")
	}
	return nil
}

func (s *PostgresUserStore) ReplaceUnverified(ctx context.Context, id uuid.UUID, fullName, passwordHash string) error {
	return s.exec(ctx, "ReplaceUnverified",
		`UPDATE users SET full_name = $2, password_hash = $3 WHERE id = $1 AND NOT is_verified`,
		id, fullName, passwordHash)
}

func (s *PostgresUserStore) MarkVerified(ctx context.Context, id uuid.UUID) error {
	return s.exec(ctx, "MarkVerified", `UPDATE users SET is_verified = TRUE WHERE id = $1`, id)
}

func (s *PostgresUserStore) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return s.exec(ctx, "UpdatePassword", `UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
}

func (s *PostgresUserStore) TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.exec(ctx, "TouchLogin", `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
}

func (s *PostgresUserStore) UpdateProfile(ctx context.Context, id uuid.UUID, profile models.Profile) (models.Profile, error) {
	var merged models.Profile
	err := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET company_name = COALESCE(NULLIF($2, ''), company_name),
		    business_niche = COALESCE(NULLIF($3, ''), business_niche)
		WHERE id = $1
		RETURNING company_name, business_niche`,
		id, profile.CompanyName, profile.BusinessNiche,
	).Scan(&merged.CompanyName, &merged.BusinessNiche)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, shared.NewNotFoundError("PostgresUserStore", "UpdateProfile", "User not found")
	}
	if err != nil {
		return models.Profile{}, userDBError("UpdateProfile", err)
	}
	return merged, nil
}

func (s *PostgresUserStore) RecordQuery(ctx context.Context, id uuid.UUID, queryType string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return userDBError("RecordQuery", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO query_log (user_id, query_type, created_at) VALUES ($1, $2, $3)`,
		id, queryType, at); err != nil {
		return userDBError("RecordQuery", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users
		SET queries_this_month = CASE WHEN quota_month = $2 THEN queries_this_month + 1 ELSE 1 END,
		    quota_month = $2
		WHERE id = $1`, id, models.QuotaPeriod(at)); err != nil {
		return userDBError("RecordQuery", err)
	}

	if err := tx.Commit(); err != nil {
		return userDBError("RecordQuery", err)
	}
	return nil
}

func (s *PostgresUserStore) StoreOTP(ctx context.Context, otp models.OTPCode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO otp_codes (email, code, otp_type, attempts, used, created_at, expires_at)
		VALUES ($1, $2, $3, 0, FALSE, $4, $5)`,
		normalizeEmail(otp.Email), otp.Code, string(otp.Type), otp.CreatedAt, otp.ExpiresAt)
	if err != nil {
		return userDBError("StoreOTP", err)
	}
	return nil
}

func (s *PostgresUserStore) LatestOTP(ctx context.Context, email string, otpType models.OTPType) (*models.OTPCode, error) {
	var otp models.OTPCode
	var kind string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, code, otp_type, attempts, used, created_at, expires_at
		FROM otp_codes
		WHERE email = $1 AND otp_type = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, normalizeEmail(email), string(otpType),
	).Scan(&otp.ID, &otp.Email, &otp.Code, &kind, &otp.Attempts, &otp.Used, &otp.CreatedAt, &otp.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, userDBError("LatestOTP", err)
	}
	otp.Type = models.OTPType(kind)
	return &otp, nil
}

func (s *PostgresUserStore) IncrementOTPAttempts(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE otp_codes SET attempts = attempts + 1 WHERE id = $1`, id); err != nil {
		return userDBError("IncrementOTPAttempts", err)
	}
	return nil
}

func (s *PostgresUserStore) MarkOTPUsed(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE otp_codes SET used = TRUE WHERE id = $1`, id); err != nil {
		return userDBError("MarkOTPUsed", err)
	}
	return nil
}

func (s *PostgresUserStore) PurgeExpiredOTPs(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE expires_at < $1`, now)
	if err != nil {
		return 0, userDBError("PurgeExpiredOTPs", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, userDBError("PurgeExpiredOTPs", err)
	}
	return purged, nil
}

func (s *PostgresUserStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return userDBError("Ping", err)
	}
	return nil
}
