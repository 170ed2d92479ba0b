package models

import (
	"fmt"
	"strings"
	"time"
)

// QualifyingScore is the minimum relevancy score a lead needs to be returned.
const QualifyingScore = 40

// HighQualityScore is the threshold counted as high quality in lead stats.
const HighQualityScore = 70

// DismissalPeriod is how long a dismissed post stays hidden from fetch results.
const DismissalPeriod = 30 * 24 * time.Hour

type IntentStrength string

const (
	IntentLow    IntentStrength = "low"
	IntentMedium IntentStrength = "medium"
	IntentHigh   IntentStrength = "high"
)

// ParseIntentStrength normalises free-form oracle output. Unknown values map to low.
func ParseIntentStrength(raw string) IntentStrength {
	switch IntentStrength(strings.ToLower(strings.TrimSpace(raw))) {
	case IntentHigh:
		return IntentHigh
	case IntentMedium:
		return IntentMedium
	default:
		return IntentLow
	}
}

// ScoredLead is a Post annotated by the scoring oracle. It lives only in the
// pipeline result and the per-user result cache.
type ScoredLead struct {
	Post
	RelevancyScore      int            `json:"relevancy_score"`
	Reasoning           string         `json:"reasoning"`
	IntentStrength      IntentStrength `json:"intent_strength"`
	KeyPainPoints       []string       `json:"key_pain_points"`
	IsHelpSeeking       bool           `json:"is_help_seeking"`
	HelpSeekingSignals  []string       `json:"help_seeking_signals,omitempty"`
	PotentialValue      string         `json:"potential_value,omitempty"`
	AIResponseGenerated bool           `json:"ai_response_generated"`
	AIResponse          *string        `json:"ai_response,omitempty"`
	IsSaved             bool           `json:"is_saved"`
	DiscoveredAt        time.Time      `json:"discovered_at"`
}

// Validate checks a client-supplied snapshot before it is persisted.
func (l *ScoredLead) Validate(postID string) error {
	if l == nil {
		return fmt.Errorf("snapshot is required")
	}
	if strings.TrimSpace(l.ID) == "" {
		return fmt.Errorf("snapshot id is required")
	}
	if l.ID != postID {
		return fmt.Errorf("snapshot id %q does not match post id %q", l.ID, postID)
	}
	if strings.TrimSpace(l.Title) == "" {
		return fmt.Errorf("snapshot title is required")
	}
	if strings.TrimSpace(l.Subreddit) == "" {
		return fmt.Errorf("snapshot subreddit is required")
	}
	if l.RelevancyScore < 0 || l.RelevancyScore > 100 {
		return fmt.Errorf("relevancy score %d out of range", l.RelevancyScore)
	}
	return nil
}

// SavedLead is the durable per-user copy of a lead.
type SavedLead struct {
	ID             int64          `json:"id"`
	UserID         string         `json:"user_id"`
	PostID              string         `json:"post_id"`
	Post                Post           `json:"post"`
	RelevancyScore      int            `json:"relevancy_score"`
	Reasoning           string         `json:"reasoning"`
	IntentStrength      IntentStrength `json:"intent_strength"`
	KeyPainPoints       []string       `json:"key_pain_points"`
	IsHelpSeeking       bool           `json:"is_help_seeking"`
	HelpSeekingSignals  []string       `json:"help_seeking_signals"`
	PotentialValue      string         `json:"potential_value,omitempty"`
	AIResponse          *string        `json:"ai_response,omitempty"`
	AIResponseGenerated bool           `json:"ai_response_generated"`
	SavedAt             time.Time      `json:"saved_at"`
	IsContacted         bool           `json:"is_contacted"`
	ContactedAt         *time.Time     `json:"contacted_at,omitempty"`
	UserNotes           string         `json:"user_notes"`
}

// NewSavedLead builds the durable record from a scored snapshot.
func NewSavedLead(userID string, lead *ScoredLead, savedAt time.Time) SavedLead {
	painPoints := make([]string, len(lead.KeyPainPoints))
	copy(painPoints, lead.KeyPainPoints)
	signals := make([]string, len(lead.HelpSeekingSignals))
	copy(signals, lead.HelpSeekingSignals)

	var response *string
	if lead.AIResponse != nil {
		text := *lead.AIResponse
		response = &text
	}

	return SavedLead{
		UserID:              userID,
		PostID:              lead.ID,
		Post:                lead.Post,
		RelevancyScore:      lead.RelevancyScore,
		Reasoning:           lead.Reasoning,
		IntentStrength:      ParseIntentStrength(string(lead.IntentStrength)),
		KeyPainPoints:       painPoints,
		IsHelpSeeking:       lead.IsHelpSeeking,
		HelpSeekingSignals:  signals,
		PotentialValue:      lead.PotentialValue,
		AIResponse:          response,
		AIResponseGenerated: lead.AIResponseGenerated || response != nil,
		SavedAt:             savedAt,
	}
}

// ToScoredLead rebuilds a transient lead from the saved copy, used when a
// response is requested for a lead that only exists in the store.
func (s SavedLead) ToScoredLead() *ScoredLead {
	lead := &ScoredLead{
		Post:                s.Post,
		RelevancyScore:      s.RelevancyScore,
		Reasoning:           s.Reasoning,
		IntentStrength:      s.IntentStrength,
		KeyPainPoints:       append([]string(nil), s.KeyPainPoints...),
		IsHelpSeeking:       s.IsHelpSeeking,
		HelpSeekingSignals:  append([]string(nil), s.HelpSeekingSignals...),
		PotentialValue:      s.PotentialValue,
		AIResponseGenerated: s.AIResponseGenerated,
		IsSaved:             true,
		DiscoveredAt:        s.SavedAt,
	}
	if s.AIResponse != nil {
		text := *s.AIResponse
		lead.AIResponse = &text
		lead.AIResponseGenerated = true
	}
	return lead
}

type DismissedMarker struct {
	UserID      string    `json:"user_id"`
	PostID      string    `json:"post_id"`
	DismissedAt time.Time `json:"dismissed_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewDismissedMarker returns a marker expiring DismissalPeriod after now.
func NewDismissedMarker(userID, postID string, now time.Time) DismissedMarker {
	return DismissedMarker{
		UserID:      userID,
		PostID:      postID,
		DismissedAt: now,
		ExpiresAt:   now.Add(DismissalPeriod),
	}
}

// Active reports whether the marker still hides its post at time now.
func (m DismissedMarker) Active(now time.Time) bool {
	return now.Before(m.ExpiresAt)
}

type SubredditCount struct {
	Subreddit string `json:"subreddit"`
	Count     int    `json:"count"`
}

type LeadStats struct {
	TotalSaved    int              `json:"total_saved"`
	HighQuality   int              `json:"high_quality"`
	NotContacted  int              `json:"not_contacted"`
	Contacted     int              `json:"contacted"`
	AverageScore  float64          `json:"average_score"`
	TopSubreddits []SubredditCount `json:"top_subreddits"`
}

// ListOptions controls ListSaved paging and filtering.
type ListOptions struct {
	Limit    int
	Offset   int
	MinScore int
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// Normalize applies the default and maximum page size.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.MinScore < 0 {
		o.MinScore = 0
	}
	return o
}
