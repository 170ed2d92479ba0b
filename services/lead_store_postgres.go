package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/anatech/leadscout/database"
	"github.com/anatech/leadscout/models"
	"github.com/anatech/leadscout/shared"
	"github.com/lib/pq"
)

var savedLeadColumns = []string{
	"id", "user_id", "reddit_post_id", "subreddit", "author", "title", "content", "url",
	"post_score", "num_comments", "created_utc", "relevancy_score", "reasoning",
	"intent_strength", "key_pain_points", "is_help_seeking", "help_seeking_signals",
	"potential_value", "ai_response", "ai_response_generated", "is_contacted", "contacted_at",
	"user_notes", "saved_at",
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresLeadStore persists leads in the saved_leads and dismissed_posts tables.
type PostgresLeadStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ LeadStore = (*PostgresLeadStore)(nil)

func NewPostgresLeadStore(db *sql.DB) *PostgresLeadStore {
	return &PostgresLeadStore{db: db, now: time.Now}
}

func dbError(operation string, err error) error {
	return shared.WrapError(err, shared.ErrorCategoryDatabase, "DB_ERROR", "PostgresLeadStore", operation)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSavedLead(row rowScanner) (models.SavedLead, error) {
	var lead models.SavedLead
	var intent string
	var painPoints, signals pq.StringArray
	var aiResponse sql.NullString
	var contactedAt sql.NullTime

	err := row.Scan(
		&lead.ID, &lead.UserID, &lead.PostID, &lead.Post.Subreddit, &lead.Post.Author,
		&lead.Post.Title, &lead.Post.Content, &lead.Post.URL, &lead.Post.Score,
		&lead.Post.NumComments, &lead.Post.CreatedUTC, &lead.RelevancyScore, &lead.Reasoning,
		&intent, &painPoints, &lead.IsHelpSeeking, &signals, &lead.PotentialValue,
		&aiResponse, &lead.AIResponseGenerated, &lead.IsContacted, &contactedAt,
		&lead.UserNotes, &lead.SavedAt,
	)
	if err != nil {
		return models.SavedLead{}, err
	}

	lead.Post.ID = lead.PostID
	lead.IntentStrength = models.ParseIntentStrength(intent)
	lead.KeyPainPoints = copyStrings(painPoints)
	lead.HelpSeekingSignals = copyStrings(signals)
	if aiResponse.Valid {
		text := aiResponse.String
		lead.AIResponse = &text
	}
	if contactedAt.Valid {
		at := contactedAt.Time
		lead.ContactedAt = &at
	}
	return lead, nil
}

func (s *PostgresLeadStore) Save(ctx context.Context, userID, postID string, snapshot *models.ScoredLead) (models.SavedLead, bool, error) {
	const operation = "Save"
	if err := validateLeadKey("PostgresLeadStore", operation, userID, postID); err != nil {
		return models.SavedLead{}, false, err
	}

	existing, err := s.Get(ctx, userID, postID)
	if err != nil {
		return models.SavedLead{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}
	if err := validateSnapshot("PostgresLeadStore", operation, postID, snapshot); err != nil {
		return models.SavedLead{}, false, err
	}

	lead := models.NewSavedLead(userID, snapshot, s.now())
	query := `
		INSERT INTO saved_leads (
			user_id, reddit_post_id, subreddit, author, title, content, url,
			post_score, num_comments, created_utc, relevancy_score, reasoning,
			intent_strength, key_pain_points, is_help_seeking, help_seeking_signals,
			potential_value, ai_response, ai_response_generated, saved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (reddit_post_id, user_id) DO NOTHING
		RETURNING id, saved_at`

	var aiResponse sql.NullString
	if lead.AIResponse != nil {
		aiResponse = sql.NullString{String: *lead.AIResponse, Valid: true}
	}

	err = s.db.QueryRowContext(ctx, query,
		userID, postID, lead.Post.Subreddit, lead.Post.Author, lead.Post.Title, lead.Post.Content,
		lead.Post.URL, lead.Post.Score, lead.Post.NumComments, lead.Post.CreatedUTC,
		lead.RelevancyScore, lead.Reasoning, string(lead.IntentStrength),
		pq.StringArray(lead.KeyPainPoints), lead.IsHelpSeeking, pq.StringArray(lead.HelpSeekingSignals),
		lead.PotentialValue, aiResponse, lead.AIResponseGenerated, lead.SavedAt,
	).Scan(&lead.ID, &lead.SavedAt)

	if errors.Is(err, sql.ErrNoRows) {
		// A concurrent save won the insert.
		winner, getErr := s.Get(ctx, userID, postID)
		if getErr != nil {
			return models.SavedLead{}, false, getErr
		}
		if winner == nil {
			return models.SavedLead{}, false, dbError(operation, fmt.Errorf("lead %s vanished after conflicting insert", postID))
		}
		return *winner, false, nil
	}
	if err != nil {
		return models.SavedLead{}, false, dbError(operation, err)
	}
	return lead, true, nil
}

func (s *PostgresLeadStore) Get(ctx context.Context, userID, postID string) (*models.SavedLead, error) {
	query, args, err := psql.Select(savedLeadColumns...).
		From("saved_leads").
		Where(sq.Eq{"user_id": userID, "reddit_post_id": postID}).
		ToSql()
	if err != nil {
		return nil, dbError("Get", err)
	}

	lead, err := scanSavedLead(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("Get", err)
	}
	return &lead, nil
}

func (s *PostgresLeadStore) Delete(ctx context.Context, userID, postID string) (bool, error) {
	if err := validateLeadKey("PostgresLeadStore", "Delete", userID, postID); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM saved_leads WHERE user_id = $1 AND reddit_post_id = $2`, userID, postID)
	if err != nil {
		return false, dbError("Delete", err)
	}
	return rowsAffected(result)
}

func (s *PostgresLeadStore) Dismiss(ctx context.Context, userID, postID string) (models.DismissedMarker, error) {
	if err := validateLeadKey("PostgresLeadStore", "Dismiss", userID, postID); err != nil {
		return models.DismissedMarker{}, err
	}

	marker := models.NewDismissedMarker(userID, postID, s.now())
	query := `
		INSERT INTO dismissed_posts (user_id, reddit_post_id, dismissed_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (reddit_post_id, user_id) DO UPDATE
		SET dismissed_at = EXCLUDED.dismissed_at,
		    expires_at = EXCLUDED.expires_at
		RETURNING dismissed_at, expires_at`

	err := s.db.QueryRowContext(ctx, query, userID, postID, marker.DismissedAt, marker.ExpiresAt).
		Scan(&marker.DismissedAt, &marker.ExpiresAt)
	if err != nil {
		return models.DismissedMarker{}, dbError("Dismiss", err)
	}
	return marker, nil
}

func (s *PostgresLeadStore) ListSaved(ctx context.Context, userID string, options models.ListOptions) ([]models.SavedLead, error) {
	options = options.Normalize()

	builder := psql.Select(savedLeadColumns...).
		From("saved_leads").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("saved_at DESC", "id DESC").
		Limit(uint64(options.Limit)).
		Offset(uint64(options.Offset))
	if options.MinScore > 0 {
		builder = builder.Where(sq.GtOrEq{"relevancy_score": options.MinScore})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, dbError("ListSaved", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("ListSaved", err)
	}
	defer rows.Close()

	leads := make([]models.SavedLead, 0)
	for rows.Next() {
		lead, err := scanSavedLead(rows)
		if err != nil {
			return nil, dbError("ListSaved", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("ListSaved", err)
	}
	return leads, nil
}

func (s *PostgresLeadStore) Stats(ctx context.Context, userID string) (models.LeadStats, error) {
	stats := models.LeadStats{TopSubreddits: []models.SubredditCount{}}

	var average float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE relevancy_score >= $2),
		       COUNT(*) FILTER (WHERE is_contacted),
		       COALESCE(AVG(relevancy_score), 0)
		FROM saved_leads
		WHERE user_id = $1`, userID, models.HighQualityScore,
	).Scan(&stats.TotalSaved, &stats.HighQuality, &stats.Contacted, &average)
	if err != nil {
		return models.LeadStats{}, dbError("Stats", err)
	}
	stats.NotContacted = stats.TotalSaved - stats.Contacted
	stats.AverageScore = roundScore(average)

	rows, err := s.db.QueryContext(ctx, `
		SELECT subreddit, COUNT(*) AS count
		FROM saved_leads
		WHERE user_id = $1
		GROUP BY subreddit
		ORDER BY count DESC, subreddit ASC
		LIMIT 5`, userID)
	if err != nil {
		return models.LeadStats{}, dbError("Stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry models.SubredditCount
		if err := rows.Scan(&entry.Subreddit, &entry.Count); err != nil {
			return models.LeadStats{}, dbError("Stats", err)
		}
		stats.TopSubreddits = append(stats.TopSubreddits, entry)
	}
	if err := rows.Err(); err != nil {
		return models.LeadStats{}, dbError("Stats", err)
	}
	return stats, nil
}

func (s *PostgresLeadStore) SavedPostIDs(ctx context.Context, userID string, postIDs []string) (map[string]bool, error) {
	if len(postIDs) == 0 {
		return map[string]bool{}, nil
	}
	return s.queryIDSet(ctx, "SavedPostIDs",
		`SELECT reddit_post_id FROM saved_leads WHERE user_id = $1 AND reddit_post_id = ANY($2)`,
		userID, pq.StringArray(postIDs))
}

func (s *PostgresLeadStore) DismissedPostIDs(ctx context.Context, userID string, now time.Time) (map[string]bool, error) {
	return s.queryIDSet(ctx, "DismissedPostIDs",
		`SELECT reddit_post_id FROM dismissed_posts WHERE user_id = $1 AND expires_at > $2`,
		userID, now)
}

func (s *PostgresLeadStore) queryIDSet(ctx context.Context, operation, query string, args ...interface{}) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError(operation, err)
	}
	defer rows.Close()

	result := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dbError(operation, err)
		}
		result[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(operation, err)
	}
	return result, nil
}

func (s *PostgresLeadStore) MarkContacted(ctx context.Context, userID, postID string, contacted bool) (bool, error) {
	if err := validateLeadKey("PostgresLeadStore", "MarkContacted", userID, postID); err != nil {
		return false, err
	}

	var contactedAt sql.NullTime
	if contacted {
		contactedAt = sql.NullTime{Time: s.now(), Valid: true}
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE saved_leads SET is_contacted = $3, contacted_at = $4 WHERE user_id = $1 AND reddit_post_id = $2`,
		userID, postID, contacted, contactedAt)
	if err != nil {
		return false, dbError("MarkContacted", err)
	}
	return rowsAffected(result)
}

func (s *PostgresLeadStore) UpdateNotes(ctx context.Context, userID, postID, notes string) (bool, error) {
	if err := validateLeadKey("PostgresLeadStore", "UpdateNotes", userID, postID); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE saved_leads SET user_notes = $3 WHERE user_id = $1 AND reddit_post_id = $2`,
		userID, postID, notes)
	if err != nil {
		return false, dbError("UpdateNotes", err)
	}
	return rowsAffected(result)
}

func (s *PostgresLeadStore) PurgeExpiredDismissals(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM dismissed_posts WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, dbError("PurgeExpiredDismissals", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, dbError("PurgeExpiredDismissals", err)
	}
	return purged, nil
}

// Ping backs the connection check; it also logs pool statistics.
func (s *PostgresLeadStore) Ping(ctx context.Context) error {
	if err := database.HealthCheck(ctx, s.db); err != nil {
		return dbError("Ping", err)
	}
	return nil
}

func rowsAffected(result sql.Result) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
