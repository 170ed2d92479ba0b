package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anatech/leadscout/models"
	"github.com/anatech/leadscout/shared"
	"github.com/sirupsen/logrus"
)

// MinPromptLength is the shortest business description accepted by discover and fetch.
const MinPromptLength = 10

// FetchRequest describes one fetch-and-score run.
type FetchRequest struct {
	Communities  []string
	Business     models.BusinessContext
	MaxAgeDays   int
	PostsPerFeed int
}

// FetchResult is the ranked outcome of FetchAndScore. Errors holds one entry
// per failed feed or scoring batch; the leads gathered elsewhere are kept.
type FetchResult struct {
	Leads          []models.ScoredLead  `json:"leads"`
	Communities    []string             `json:"communities"`
	TotalFetched   int                  `json:"total_fetched"`
	TotalQualified int                  `json:"total_qualified"`
	Errors         []shared.ScopedError `json:"errors"`
}

// LeadPipeline orchestrates discovery, fetching, scoring and the per-user
// actions taken on the resulting leads.
type LeadPipeline struct {
	source  ContentSource
	oracle  Oracle
	store   LeadStore
	cache   *ResultCache
	config  shared.PipelineConfig
	metrics *shared.ServiceMetrics
	now     func() time.Time
}

func NewLeadPipeline(source ContentSource, oracle Oracle, store LeadStore, cache *ResultCache, config shared.PipelineConfig) *LeadPipeline {
	if config.ScoreBatchSize <= 0 || config.ScoreBatchSize > MaxScoreBatch {
		config.ScoreBatchSize = MaxScoreBatch
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.QualifyingScore <= 0 {
		config.QualifyingScore = models.QualifyingScore
	}
	if config.DefaultMaxAgeDays <= 0 {
		config.DefaultMaxAgeDays = 30
	}
	if config.DefaultPostsPerFeed <= 0 {
		config.DefaultPostsPerFeed = 30
	}
	if config.MaxCommunities <= 0 {
		config.MaxCommunities = 15
	}
	if cache == nil {
		cache = NewResultCache(config.ResultCacheTTL, 0)
	}
	return &LeadPipeline{
		source:  source,
		oracle:  oracle,
		store:   store,
		cache:   cache,
		config:  config,
		metrics: shared.NewServiceMetrics("LeadPipeline"),
		now:     time.Now,
	}
}

func (p *LeadPipeline) Cache() *ResultCache {
	return p.cache
}

func (p *LeadPipeline) Metrics() *shared.ServiceMetrics {
	return p.metrics
}

func validatePrompt(operation, prompt string) error {
	if len([]rune(strings.TrimSpace(prompt))) < MinPromptLength {
		return shared.NewValidationError("LeadPipeline", operation,
			fmt.Sprintf("Please provide a detailed business description (at least %d characters)", MinPromptLength))
	}
	return nil
}

// Discover asks the oracle for communities matching the business.
func (p *LeadPipeline) Discover(ctx context.Context, business models.BusinessContext) ([]models.CommunitySuggestion, error) {
	if err := validatePrompt("Discover", business.Prompt); err != nil {
		return nil, err
	}
	business.Prompt = strings.TrimSpace(business.Prompt)

	start := p.now()
	suggestions, err := p.oracle.SuggestCommunities(ctx, business)
	p.metrics.RecordRequest(err == nil, p.now().Sub(start))
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"component":   "LeadPipeline",
		"suggestions": len(suggestions),
	}).Info("Discovered communities")
	return suggestions, nil
}

func (p *LeadPipeline) normalizeRequest(request FetchRequest) (FetchRequest, error) {
	const operation = "FetchAndScore"
	if err := validatePrompt(operation, request.Business.Prompt); err != nil {
		return request, err
	}
	request.Business.Prompt = strings.TrimSpace(request.Business.Prompt)

	seen := make(map[string]bool)
	communities := make([]string, 0, len(request.Communities))
	for _, raw := range request.Communities {
		name := models.NormalizeCommunityName(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		communities = append(communities, name)
	}
	if len(communities) == 0 {
		return request, shared.NewValidationError("LeadPipeline", operation, "Please select at least one subreddit")
	}
	if len(communities) > p.config.MaxCommunities {
		return request, shared.NewValidationError("LeadPipeline", operation,
			fmt.Sprintf("At most %d subreddits can be searched at once", p.config.MaxCommunities))
	}
	request.Communities = communities

	if request.MaxAgeDays <= 0 {
		request.MaxAgeDays = p.config.DefaultMaxAgeDays
	}
	if request.PostsPerFeed <= 0 {
		request.PostsPerFeed = p.config.DefaultPostsPerFeed
	}
	if request.PostsPerFeed > 100 {
		request.PostsPerFeed = 100
	}
	return request, nil
}

// forEachBounded runs fn for every index in [0,n) with at most limit running at once.
func forEachBounded(n, limit int, fn func(i int)) {
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer func() {
				<-sem
				wg.Done()
			}()
			fn(i)
		}(i)
	}
	wg.Wait()
}

type communityPosts struct {
	posts  []models.Post
	errors []shared.ScopedError
}

func (p *LeadPipeline) fetchCommunity(ctx context.Context, community string, limit int) communityPosts {
	var result communityPosts
	for _, feed := range AllFeeds {
		posts, err := p.source.FetchFeed(ctx, community, feed, limit)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"component": "LeadPipeline",
				"community": community,
				"feed":      feed,
				"error":     err.Error(),
			}).Warn("Feed fetch failed")
			if shared.CategoryOf(err) != shared.ErrorCategorySource {
				err = shared.NewSourceUnavailableError("LeadPipeline", "FetchFeed", err)
			}
			result.errors = append(result.errors, shared.NewScopedError(fmt.Sprintf("r/%s (%s)", community, feed), err))
			continue
		}
		result.posts = append(result.posts, posts...)
	}
	return result
}

func (p *LeadPipeline) scoreCommunity(ctx context.Context, community string, business models.BusinessContext, posts []models.Post, discoveredAt time.Time) ([]models.ScoredLead, []shared.ScopedError) {
	var leads []models.ScoredLead
	var failures []shared.ScopedError

	batchSize := p.config.ScoreBatchSize
	for start := 0; start < len(posts); start += batchSize {
		end := start + batchSize
		if end > len(posts) {
			end = len(posts)
		}
		batch := posts[start:end]

		analyses, err := p.oracle.ScorePosts(ctx, business, batch)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"component": "LeadPipeline",
				"community": community,
				"batch":     start/batchSize + 1,
				"error":     err.Error(),
			}).Warn("Scoring batch failed")
			if shared.CategoryOf(err) != shared.ErrorCategoryOracle {
				err = shared.NewOracleUnavailableError("LeadPipeline", "ScorePosts", err)
			}
			failures = append(failures, shared.NewScopedError("r/"+community, err))
			continue
		}

		for _, post := range batch {
			analysis, ok := analyses[post.ID]
			if !ok {
				continue
			}
			leads = append(leads, models.ScoredLead{
				Post:               post,
				RelevancyScore:     analysis.RelevancyScore,
				Reasoning:          analysis.Reasoning,
				IntentStrength:     analysis.IntentStrength,
				KeyPainPoints:      copyStrings(analysis.KeyPainPoints),
				IsHelpSeeking:      analysis.IsHelpSeeking,
				HelpSeekingSignals: copyStrings(analysis.HelpSeekingSignals),
				PotentialValue:     analysis.PotentialValue,
				DiscoveredAt:       discoveredAt,
			})
		}
	}
	return leads, failures
}

// FetchAndScore pulls the new, hot and top feeds of every community,
// dedupes and filters the posts, scores them in batches and returns the
// qualifying leads ranked by score then recency. The result replaces the
// user's cached fetch context.
func (p *LeadPipeline) FetchAndScore(ctx context.Context, userID string, request FetchRequest) (FetchResult, error) {
	const operation = "FetchAndScore"
	if strings.TrimSpace(userID) == "" {
		return FetchResult{}, shared.NewUnauthenticatedError(operation)
	}
	request, err := p.normalizeRequest(request)
	if err != nil {
		return FetchResult{}, err
	}

	start := p.now()
	logger := logrus.WithFields(logrus.Fields{
		"component":   "LeadPipeline",
		"user_id":     userID,
		"communities": len(request.Communities),
	})

	fetched := make([]communityPosts, len(request.Communities))
	forEachBounded(len(request.Communities), p.config.MaxConcurrency, func(i int) {
		fetched[i] = p.fetchCommunity(ctx, request.Communities[i], request.PostsPerFeed)
	})

	result := FetchResult{
		Leads:       []models.ScoredLead{},
		Communities: request.Communities,
		Errors:      []shared.ScopedError{},
	}

	seen := make(map[string]bool)
	grouped := make([][]models.Post, len(request.Communities))
	for i, community := range fetched {
		result.Errors = append(result.Errors, community.errors...)
		for _, post := range community.posts {
			if post.ID == "" || seen[post.ID] {
				continue
			}
			seen[post.ID] = true
			grouped[i] = append(grouped[i], post)
		}
	}
	result.TotalFetched = len(seen)

	now := p.now()
	dismissed, err := p.store.DismissedPostIDs(ctx, userID, now)
	if err != nil {
		p.metrics.RecordRequest(false, p.now().Sub(start))
		return FetchResult{}, err
	}

	candidates := 0
	for i, posts := range grouped {
		kept := posts[:0]
		for _, post := range posts {
			if post.OlderThan(request.MaxAgeDays, now) || dismissed[post.ID] {
				continue
			}
			kept = append(kept, post)
		}
		grouped[i] = kept
		candidates += len(kept)
	}

	scored := make([][]models.ScoredLead, len(grouped))
	scoreErrors := make([][]shared.ScopedError, len(grouped))
	forEachBounded(len(grouped), p.config.MaxConcurrency, func(i int) {
		if len(grouped[i]) == 0 {
			return
		}
		scored[i], scoreErrors[i] = p.scoreCommunity(ctx, request.Communities[i], request.Business, grouped[i], now)
	})

	var leads []models.ScoredLead
	for i := range scored {
		leads = append(leads, scored[i]...)
		result.Errors = append(result.Errors, scoreErrors[i]...)
	}

	ids := make([]string, len(leads))
	for i, lead := range leads {
		ids[i] = lead.ID
	}
	saved, err := p.store.SavedPostIDs(ctx, userID, ids)
	if err != nil {
		p.metrics.RecordRequest(false, p.now().Sub(start))
		return FetchResult{}, err
	}

	for _, lead := range leads {
		if lead.RelevancyScore < p.config.QualifyingScore {
			continue
		}
		lead.IsSaved = saved[lead.ID]
		result.Leads = append(result.Leads, lead)
	}
	RankLeads(result.Leads)
	result.TotalQualified = len(result.Leads)

	p.cache.Store(userID, FetchContext{
		Business:    request.Business,
		Communities: request.Communities,
		Leads:       result.Leads,
		FetchedAt:   now,
	})

	p.metrics.RecordRequest(true, p.now().Sub(start))
	logger.WithFields(logrus.Fields{
		"total_fetched":   result.TotalFetched,
		"candidates":      candidates,
		"total_qualified": result.TotalQualified,
		"errors":          len(result.Errors),
		"duration":        p.now().Sub(start),
	}).Info("Fetch and score completed")
	if len(result.Errors) > 0 {
		logger.Warn(shared.BuildBatchProcessingErrorSummary(len(request.Communities), result.Errors))
	}
	return result, nil
}

// RankLeads orders leads by relevancy score, then by creation time, newest first.
func RankLeads(leads []models.ScoredLead) {
	sort.SliceStable(leads, func(i, j int) bool {
		if leads[i].RelevancyScore != leads[j].RelevancyScore {
			return leads[i].RelevancyScore > leads[j].RelevancyScore
		}
		if !leads[i].CreatedUTC.Equal(leads[j].CreatedUTC) {
			return leads[i].CreatedUTC.After(leads[j].CreatedUTC)
		}
		return leads[i].ID < leads[j].ID
	})
}

// GenerateResponse drafts a reply to lead for business. Nothing is persisted.
func (p *LeadPipeline) GenerateResponse(ctx context.Context, business models.BusinessContext, lead *models.ScoredLead) (string, error) {
	start := p.now()
	reply, err := p.oracle.DraftReply(ctx, business, lead)
	p.metrics.RecordRequest(err == nil, p.now().Sub(start))
	return reply, err
}

// ResolveLead finds postID for userID in the lead store, then the result
// cache, then the client snapshot. The returned business context is the one
// the lead was fetched with when it came from the cache.
func (p *LeadPipeline) ResolveLead(ctx context.Context, userID, postID string, snapshot *models.ScoredLead) (*models.ScoredLead, models.BusinessContext, error) {
	const operation = "ResolveLead"
	if err := validateLeadKey("LeadPipeline", operation, userID, postID); err != nil {
		return nil, models.BusinessContext{}, err
	}

	cached, business, found := p.cache.FindLead(userID, postID)

	saved, err := p.store.Get(ctx, userID, postID)
	if err != nil {
		return nil, models.BusinessContext{}, err
	}
	if saved != nil {
		return saved.ToScoredLead(), business, nil
	}
	if found {
		return cached, business, nil
	}
	if snapshot == nil {
		return nil, business, shared.NewNotFoundError("LeadPipeline", operation,
			"Post not found. Please fetch leads again.")
	}
	if err := snapshot.Validate(postID); err != nil {
		return nil, business, shared.NewValidationError("LeadPipeline", operation, "invalid post snapshot: "+err.Error())
	}
	return snapshot, business, nil
}

// RespondToLead drafts a reply for a lead the user has seen and records it on
// the cached lead. A blank business prompt falls back to the one the lead was
// fetched with.
func (p *LeadPipeline) RespondToLead(ctx context.Context, userID, postID string, snapshot *models.ScoredLead, business models.BusinessContext) (string, error) {
	lead, cachedBusiness, err := p.ResolveLead(ctx, userID, postID, snapshot)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(business.Prompt) == "" {
		business.Prompt = cachedBusiness.Prompt
	}
	if strings.TrimSpace(business.CompanyName) == "" {
		business.CompanyName = cachedBusiness.CompanyName
	}
	if strings.TrimSpace(business.BusinessNiche) == "" {
		business.BusinessNiche = cachedBusiness.BusinessNiche
	}

	reply, err := p.GenerateResponse(ctx, business, lead)
	if err != nil {
		return "", err
	}

	p.cache.UpdateLead(userID, postID, func(cached *models.ScoredLead) {
		text := reply
		cached.AIResponse = &text
		cached.AIResponseGenerated = true
	})
	return reply, nil
}

// SaveLead persists a lead. The cached copy wins over the client snapshot
// since it is the one the server scored.
func (p *LeadPipeline) SaveLead(ctx context.Context, userID, postID string, snapshot *models.ScoredLead) (models.SavedLead, bool, error) {
	if cached, _, found := p.cache.FindLead(userID, postID); found {
		snapshot = cached
	}

	saved, created, err := p.store.Save(ctx, userID, postID, snapshot)
	if err != nil {
		return models.SavedLead{}, false, err
	}
	p.cache.UpdateLead(userID, postID, func(cached *models.ScoredLead) {
		cached.IsSaved = true
	})

	logrus.WithFields(logrus.Fields{
		"component": "LeadPipeline",
		"user_id":   userID,
		"post_id":   postID,
		"created":   created,
	}).Info("Lead saved")
	return saved, created, nil
}

// DeleteLead removes a saved lead. It reports false when nothing was saved.
func (p *LeadPipeline) DeleteLead(ctx context.Context, userID, postID string) (bool, error) {
	deleted, err := p.store.Delete(ctx, userID, postID)
	if err != nil {
		return false, err
	}
	p.cache.UpdateLead(userID, postID, func(cached *models.ScoredLead) {
		cached.IsSaved = false
	})
	return deleted, nil
}

// DismissPost hides postID from the user's fetches for the dismissal period
// and drops it from the cached result.
func (p *LeadPipeline) DismissPost(ctx context.Context, userID, postID string) (models.DismissedMarker, error) {
	marker, err := p.store.Dismiss(ctx, userID, postID)
	if err != nil {
		return models.DismissedMarker{}, err
	}
	p.cache.RemoveLead(userID, postID)
	return marker, nil
}

// CachedLeads returns the user's last fetch result filtered by minScore.
func (p *LeadPipeline) CachedLeads(userID string, minScore int) (FetchContext, bool) {
	fetch, ok := p.cache.Get(userID)
	if !ok {
		return FetchContext{Leads: []models.ScoredLead{}, Communities: []string{}}, false
	}
	filtered := make([]models.ScoredLead, 0, len(fetch.Leads))
	for _, lead := range fetch.Leads {
		if lead.RelevancyScore >= minScore {
			filtered = append(filtered, lead)
		}
	}
	fetch.Leads = filtered
	return fetch, true
}

func (p *LeadPipeline) ClearCachedLeads(userID string) {
	p.cache.Clear(userID)
}
