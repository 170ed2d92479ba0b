package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anatech/leadscout/models"
	"github.com/anatech/leadscout/shared"
)

// LeadStore is the durable per-user record of saved leads and dismissals.
// Writes are atomic per (userID, postID).
type LeadStore interface {
	// Save is idempotent: an existing lead is returned unchanged with created=false.
	// A snapshot is required only when no lead exists yet.
	Save(ctx context.Context, userID, postID string, snapshot *models.ScoredLead) (models.SavedLead, bool, error)
	// Get returns nil without an error when the post is not saved.
	Get(ctx context.Context, userID, postID string) (*models.SavedLead, error)
	Delete(ctx context.Context, userID, postID string) (bool, error)
	// Dismiss creates or refreshes a marker expiring 30 days from now.
	Dismiss(ctx context.Context, userID, postID string) (models.DismissedMarker, error)
	ListSaved(ctx context.Context, userID string, options models.ListOptions) ([]models.SavedLead, error)
	Stats(ctx context.Context, userID string) (models.LeadStats, error)
	SavedPostIDs(ctx context.Context, userID string, postIDs []string) (map[string]bool, error)
	DismissedPostIDs(ctx context.Context, userID string, now time.Time) (map[string]bool, error)
	MarkContacted(ctx context.Context, userID, postID string, contacted bool) (bool, error)
	UpdateNotes(ctx context.Context, userID, postID, notes string) (bool, error)
	PurgeExpiredDismissals(ctx context.Context, now time.Time) (int64, error)
	Ping(ctx context.Context) error
}

func validateLeadKey(store, operation, userID, postID string) error {
	if strings.TrimSpace(userID) == "" {
		return shared.NewUnauthenticatedError(operation)
	}
	if strings.TrimSpace(postID) == "" {
		return shared.NewValidationError(store, operation, "No post ID")
	}
	return nil
}

func validateSnapshot(store, operation, postID string, snapshot *models.ScoredLead) error {
	if snapshot == nil {
		return shared.NewValidationError(store, operation,
			fmt.Sprintf("post %s is not saved and no snapshot was supplied", postID))
	}
	if err := snapshot.Validate(postID); err != nil {
		return shared.NewValidationError(store, operation, "invalid post snapshot: "+err.Error())
	}
	return nil
}

func roundScore(value float64) float64 {
	return float64(int64(value*10+0.5)) / 10
}
