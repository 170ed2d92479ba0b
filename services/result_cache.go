package services

import (
	"sync"
	"time"

	"github.com/anatech/leadscout/models"
	"github.com/sirupsen/logrus"
)

// FetchContext is the outcome of a user's most recent fetch, kept so later
// save, dismiss and generate-response calls can find the transient leads.
type FetchContext struct {
	Business    models.BusinessContext `json:"business"`
	Communities []string               `json:"communities"`
	Leads       []models.ScoredLead    `json:"leads"`
	FetchedAt   time.Time              `json:"fetched_at"`
}

// CacheEntry represents a cached fetch context with expiration
type CacheEntry struct {
	Data      FetchContext
	ExpiresAt time.Time
}

// IsExpired checks if the cache entry has expired at now
func (ce *CacheEntry) IsExpired(now time.Time) bool {
	return now.After(ce.ExpiresAt)
}

// ResultCache holds one FetchContext per user. Entries expire lazily after
// the configured TTL; PurgeExpired removes them eagerly.
type ResultCache struct {
	cache      map[string]*CacheEntry
	mutex      sync.RWMutex
	defaultTTL time.Duration
	maxSize    int
	now        func() time.Time
}

// NewResultCache creates a result cache with the given TTL and user capacity
func NewResultCache(defaultTTL time.Duration, maxSize int) *ResultCache {
	if defaultTTL <= 0 {
		defaultTTL = 2 * time.Hour
	}
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &ResultCache{
		cache:      make(map[string]*CacheEntry),
		defaultTTL: defaultTTL,
		maxSize:    maxSize,
		now:        time.Now,
	}
}

// Store replaces the user's fetch context
func (rc *ResultCache) Store(userID string, fetch FetchContext) {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if _, exists := rc.cache[userID]; !exists && len(rc.cache) >= rc.maxSize {
		rc.evictOldest()
	}

	rc.cache[userID] = &CacheEntry{
		Data:      cloneFetchContext(fetch),
		ExpiresAt: rc.now().Add(rc.defaultTTL),
	}
}

// Get returns a copy of the user's fetch context
func (rc *ResultCache) Get(userID string) (FetchContext, bool) {
	rc.mutex.RLock()
	defer rc.mutex.RUnlock()

	entry, exists := rc.cache[userID]
	if !exists || entry.IsExpired(rc.now()) {
		return FetchContext{}, false
	}
	return cloneFetchContext(entry.Data), true
}

// FindLead returns a copy of one cached lead plus the business context it was scored against
func (rc *ResultCache) FindLead(userID, postID string) (*models.ScoredLead, models.BusinessContext, bool) {
	rc.mutex.RLock()
	defer rc.mutex.RUnlock()

	entry, exists := rc.cache[userID]
	if !exists || entry.IsExpired(rc.now()) {
		return nil, models.BusinessContext{}, false
	}
	for i := range entry.Data.Leads {
		if entry.Data.Leads[i].ID == postID {
			lead := cloneLead(entry.Data.Leads[i])
			return &lead, entry.Data.Business, true
		}
	}
	return nil, entry.Data.Business, false
}

// UpdateLead applies update to the cached lead with postID. It reports whether the lead was found.
func (rc *ResultCache) UpdateLead(userID, postID string, update func(lead *models.ScoredLead)) bool {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	entry, exists := rc.cache[userID]
	if !exists || entry.IsExpired(rc.now()) {
		return false
	}
	for i := range entry.Data.Leads {
		if entry.Data.Leads[i].ID == postID {
			update(&entry.Data.Leads[i])
			return true
		}
	}
	return false
}

// RemoveLead drops a lead from the user's cached results
func (rc *ResultCache) RemoveLead(userID, postID string) {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	entry, exists := rc.cache[userID]
	if !exists {
		return
	}
	kept := entry.Data.Leads[:0]
	for _, lead := range entry.Data.Leads {
		if lead.ID != postID {
			kept = append(kept, lead)
		}
	}
	entry.Data.Leads = kept
}

// Clear removes the user's fetch context
func (rc *ResultCache) Clear(userID string) {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	delete(rc.cache, userID)
}

// Size returns the number of users with a cached context
func (rc *ResultCache) Size() int {
	rc.mutex.RLock()
	defer rc.mutex.RUnlock()

	return len(rc.cache)
}

// PurgeExpired removes expired entries and returns how many were dropped
func (rc *ResultCache) PurgeExpired() int {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	now := rc.now()
	purged := 0
	for key, entry := range rc.cache {
		if entry.IsExpired(now) {
			delete(rc.cache, key)
			purged++
		}
	}

	if purged > 0 {
		logrus.WithFields(logrus.Fields{
			"component": "ResultCache",
			"purged":    purged,
		}).Debug("Purged expired fetch contexts")
	}
	return purged
}

// evictOldest removes the entry closest to expiry
func (rc *ResultCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range rc.cache {
		if oldestKey == "" || entry.ExpiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.ExpiresAt
		}
	}

	if oldestKey != "" {
		delete(rc.cache, oldestKey)
	}
}

func cloneFetchContext(fetch FetchContext) FetchContext {
	clone := fetch
	clone.Communities = copyStrings(fetch.Communities)
	clone.Leads = make([]models.ScoredLead, len(fetch.Leads))
	for i, lead := range fetch.Leads {
		clone.Leads[i] = cloneLead(lead)
	}
	return clone
}

func cloneLead(lead models.ScoredLead) models.ScoredLead {
	clone := lead
	clone.KeyPainPoints = copyStrings(lead.KeyPainPoints)
	clone.HelpSeekingSignals = copyStrings(lead.HelpSeekingSignals)
	if lead.AIResponse != nil {
		text := *lead.AIResponse
		clone.AIResponse = &text
	}
	return clone
}

func copyStrings(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	return out
}
