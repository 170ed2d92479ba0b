package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/anatech/leadscout/models"
)

// MemoryLeadStore keeps leads in process memory. It backs development runs
// without DATABASE_URL and the test suite.
type MemoryLeadStore struct {
	mutex     sync.RWMutex
	saved     map[string]map[string]*models.SavedLead
	dismissed map[string]map[string]models.DismissedMarker
	nextID    int64
	now       func() time.Time
}

func NewMemoryLeadStore() *MemoryLeadStore {
	return &MemoryLeadStore{
		saved:     make(map[string]map[string]*models.SavedLead),
		dismissed: make(map[string]map[string]models.DismissedMarker),
		now:       time.Now,
	}
}

// SetClock replaces the store's time source.
func (s *MemoryLeadStore) SetClock(now func() time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.now = now
}

func (s *MemoryLeadStore) Save(ctx context.Context, userID, postID string, snapshot *models.ScoredLead) (models.SavedLead, bool, error) {
	const operation = "Save"
	if err := validateLeadKey("MemoryLeadStore", operation, userID, postID); err != nil {
		return models.SavedLead{}, false, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if existing, ok := s.saved[userID][postID]; ok {
		return copySavedLead(existing), false, nil
	}
	if err := validateSnapshot("MemoryLeadStore", operation, postID, snapshot); err != nil {
		return models.SavedLead{}, false, err
	}

	s.nextID++
	lead := models.NewSavedLead(userID, snapshot, s.now())
	lead.ID = s.nextID
	if s.saved[userID] == nil {
		s.saved[userID] = make(map[string]*models.SavedLead)
	}
	s.saved[userID][postID] = &lead
	return copySavedLead(&lead), true, nil
}

func (s *MemoryLeadStore) Get(ctx context.Context, userID, postID string) (*models.SavedLead, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	lead, ok := s.saved[userID][postID]
	if !ok {
		return nil, nil
	}
	copied := copySavedLead(lead)
	return &copied, nil
}

func (s *MemoryLeadStore) Delete(ctx context.Context, userID, postID string) (bool, error) {
	if err := validateLeadKey("MemoryLeadStore", "Delete", userID, postID); err != nil {
		return false, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.saved[userID][postID]; !ok {
		return false, nil
	}
	delete(s.saved[userID], postID)
	return true, nil
}

func (s *MemoryLeadStore) Dismiss(ctx context.Context, userID, postID string) (models.DismissedMarker, error) {
	if err := validateLeadKey("MemoryLeadStore", "Dismiss", userID, postID); err != nil {
		return models.DismissedMarker{}, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	marker := models.NewDismissedMarker(userID, postID, s.now())
	if s.dismissed[userID] == nil {
		s.dismissed[userID] = make(map[string]models.DismissedMarker)
	}
	s.dismissed[userID][postID] = marker
	return marker, nil
}

func (s *MemoryLeadStore) ListSaved(ctx context.Context, userID string, options models.ListOptions) ([]models.SavedLead, error) {
	options = options.Normalize()

	s.mutex.RLock()
	leads := make([]models.SavedLead, 0, len(s.saved[userID]))
	for _, lead := range s.saved[userID] {
		if lead.RelevancyScore >= options.MinScore {
			leads = append(leads, copySavedLead(lead))
		}
	}
	s.mutex.RUnlock()

	sort.Slice(leads, func(i, j int) bool {
		if !leads[i].SavedAt.Equal(leads[j].SavedAt) {
			return leads[i].SavedAt.After(leads[j].SavedAt)
		}
		return leads[i].ID > leads[j].ID
	})

	if options.Offset >= len(leads) {
		return []models.SavedLead{}, nil
	}
	leads = leads[options.Offset:]
	if len(leads) > options.Limit {
		leads = leads[:options.Limit]
	}
	return leads, nil
}

func (s *MemoryLeadStore) Stats(ctx context.Context, userID string) (models.LeadStats, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stats := models.LeadStats{TopSubreddits: []models.SubredditCount{}}
	counts := make(map[string]int)
	total := 0
	for _, lead := range s.saved[userID] {
		stats.TotalSaved++
		total += lead.RelevancyScore
		if lead.RelevancyScore >= models.HighQualityScore {
			stats.HighQuality++
		}
		if lead.IsContacted {
			stats.Contacted++
		} else {
			stats.NotContacted++
		}
		counts[lead.Post.Subreddit]++
	}
	if stats.TotalSaved > 0 {
		stats.AverageScore = roundScore(float64(total) / float64(stats.TotalSaved))
	}

	for subreddit, count := range counts {
		stats.TopSubreddits = append(stats.TopSubreddits, models.SubredditCount{Subreddit: subreddit, Count: count})
	}
	sort.Slice(stats.TopSubreddits, func(i, j int) bool {
		if stats.TopSubreddits[i].Count != stats.TopSubreddits[j].Count {
			return stats.TopSubreddits[i].Count > stats.TopSubreddits[j].Count
		}
		return stats.TopSubreddits[i].Subreddit < stats.TopSubreddits[j].Subreddit
	})
	if len(stats.TopSubreddits) > 5 {
		stats.TopSubreddits = stats.TopSubreddits[:5]
	}
	return stats, nil
}

func (s *MemoryLeadStore) SavedPostIDs(ctx context.Context, userID string, postIDs []string) (map[string]bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	saved := make(map[string]bool)
	for _, postID := range postIDs {
		if _, ok := s.saved[userID][postID]; ok {
			saved[postID] = true
		}
	}
	return saved, nil
}

func (s *MemoryLeadStore) DismissedPostIDs(ctx context.Context, userID string, now time.Time) (map[string]bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	dismissed := make(map[string]bool)
	for postID, marker := range s.dismissed[userID] {
		if marker.Active(now) {
			dismissed[postID] = true
		}
	}
	return dismissed, nil
}

func (s *MemoryLeadStore) MarkContacted(ctx context.Context, userID, postID string, contacted bool) (bool, error) {
	if err := validateLeadKey("MemoryLeadStore", "MarkContacted", userID, postID); err != nil {
		return false, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	lead, ok := s.saved[userID][postID]
	if !ok {
		return false, nil
	}
	lead.IsContacted = contacted
	if contacted {
		at := s.now()
		lead.ContactedAt = &at
	} else {
		lead.ContactedAt = nil
	}
	return true, nil
}

func (s *MemoryLeadStore) UpdateNotes(ctx context.Context, userID, postID, notes string) (bool, error) {
	if err := validateLeadKey("MemoryLeadStore", "UpdateNotes", userID, postID); err != nil {
		return false, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	lead, ok := s.saved[userID][postID]
	if !ok {
		return false, nil
	}
	lead.UserNotes = notes
	return true, nil
}

func (s *MemoryLeadStore) PurgeExpiredDismissals(ctx context.Context, now time.Time) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var purged int64
	for userID, markers := range s.dismissed {
		for postID, marker := range markers {
			if !marker.Active(now) {
				delete(markers, postID)
				purged++
			}
		}
		if len(markers) == 0 {
			delete(s.dismissed, userID)
		}
	}
	return purged, nil
}

func (s *MemoryLeadStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func copySavedLead(lead *models.SavedLead) models.SavedLead {
	copied := *lead
	copied.KeyPainPoints = copyStrings(lead.KeyPainPoints)
	copied.HelpSeekingSignals = copyStrings(lead.HelpSeekingSignals)
	if lead.AIResponse != nil {
		text := *lead.AIResponse
		copied.AIResponse = &text
	}
	if lead.ContactedAt != nil {
		at := *lead.ContactedAt
		copied.ContactedAt = &at
	}
	return copied
}
