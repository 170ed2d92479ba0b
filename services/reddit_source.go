package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anatech/leadscout/models"
	"github.com/anatech/leadscout/shared"
	"github.com/sirupsen/logrus"
)

// Feed is one of the listing orders a community is read from.
type Feed string

const (
	FeedNew Feed = "new"
	FeedHot Feed = "hot"
	FeedTop Feed = "top"
)

// AllFeeds is the set of orderings merged for every community.
var AllFeeds = []Feed{FeedNew, FeedHot, FeedTop}

// ContentSource is a read-only provider of community posts.
type ContentSource interface {
	FetchFeed(ctx context.Context, community string, feed Feed, limit int) ([]models.Post, error)
	Ping(ctx context.Context) error
}

const (
	redditOAuthBaseURL = "https://oauth.reddit.com"
	redditTokenURL     = "https://www.reddit.com/api/v1/access_token"
)

// RedditSourceConfig configures RedditSource.
type RedditSourceConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	UserAgent    string
	Timeout      time.Duration
	TokenURL     string
	OAuthBaseURL string
}

// RedditSource reads listings from the Reddit JSON API. With client
// credentials it uses app-only OAuth; otherwise it reads the public .json
// endpoints. Every outbound call, token requests included, is admitted
// through the shared rate limiter.
type RedditSource struct {
	config      RedditSourceConfig
	clients     *shared.HTTPClientFactory
	httpClient  *http.Client
	rateLimiter *shared.HTTPRequestRateLimiter
	utility     *UtilityService
	metrics     *shared.ServiceMetrics

	tokenMutex  sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewRedditSource creates a Reddit client sharing rateLimiter with every other
// Content Source caller in the process.
func NewRedditSource(config RedditSourceConfig, factory *shared.HTTPClientFactory, rateLimiter *shared.HTTPRequestRateLimiter) *RedditSource {
	if config.BaseURL == "" {
		config.BaseURL = "https://www.reddit.com"
	}
	if config.OAuthBaseURL == "" {
		config.OAuthBaseURL = redditOAuthBaseURL
	}
	if config.TokenURL == "" {
		config.TokenURL = redditTokenURL
	}
	if config.UserAgent == "" {
		config.UserAgent = "leadscout/1.0"
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	config.OAuthBaseURL = strings.TrimRight(config.OAuthBaseURL, "/")

	return &RedditSource{
		config:      config,
		clients:     factory,
		httpClient:  factory.CreateOptimizedHTTPClient(config.Timeout),
		rateLimiter: rateLimiter,
		utility:     NewUtilityService(),
		metrics:     shared.NewServiceMetrics("Reddit_Source"),
	}
}

// RateLimiter returns the pacing gate shared by every Content Source call.
func (s *RedditSource) RateLimiter() *shared.HTTPRequestRateLimiter {
	return s.rateLimiter
}

// TextMetrics exposes post text extraction counters.
func (s *RedditSource) TextMetrics() *shared.ServiceMetrics {
	return s.utility.Metrics()
}

// Close releases pooled connections held by the source's HTTP clients.
func (s *RedditSource) Close() {
	s.clients.CleanupAllClients()
}

// Metrics exposes call counters for the usage endpoint.
func (s *RedditSource) Metrics() *shared.ServiceMetrics {
	return s.metrics
}

func (s *RedditSource) useOAuth() bool {
	return s.config.ClientID != "" && s.config.ClientSecret != ""
}

type redditListing struct {
	Kind string `json:"kind"`
	Data struct {
		Children []struct {
			Kind string          `json:"kind"`
			Data redditPostEntry `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPostEntry struct {
	ID           string  `json:"id"`
	Subreddit    string  `json:"subreddit"`
	Author       string  `json:"author"`
	Title        string  `json:"title"`
	Selftext     string  `json:"selftext"`
	SelftextHTML string  `json:"selftext_html"`
	CreatedUTC   float64 `json:"created_utc"`
	Score        int     `json:"score"`
	NumComments  int     `json:"num_comments"`
	Permalink    string  `json:"permalink"`
}

// FetchFeed returns up to limit posts from one listing of community.
func (s *RedditSource) FetchFeed(ctx context.Context, community string, feed Feed, limit int) ([]models.Post, error) {
	const operation = "FetchFeed"
	start := time.Now()
	logger := logrus.WithFields(logrus.Fields{
		"component": "RedditSource",
		"community": community,
		"feed":      feed,
	})

	community = models.NormalizeCommunityName(community)
	if community == "" {
		return nil, shared.NewValidationError("RedditSource", operation, "community name is required")
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	var bearer string
	if s.useOAuth() {
		token, err := s.token(ctx)
		if err != nil {
			s.metrics.RecordRequest(false, time.Since(start))
			return nil, shared.NewSourceUnavailableError("RedditSource", operation, err)
		}
		bearer = token
	}

	// The deadline covers the call itself, not the time queued at the gate.
	if err := s.rateLimiter.Wait(ctx); err != nil {
		s.metrics.RecordRequest(false, time.Since(start))
		return nil, shared.NewSourceUnavailableError("RedditSource", operation, err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	request, err := s.newListingRequest(ctx, community, feed, limit, bearer)
	if err != nil {
		s.metrics.RecordRequest(false, time.Since(start))
		return nil, shared.NewSourceUnavailableError("RedditSource", operation, err)
	}

	response, err := shared.ExecuteHTTPRequest(s.httpClient, request)
	if err != nil {
		s.metrics.RecordRequest(false, time.Since(start))
		logger.WithError(err).Warn("Failed to fetch community feed")
		return nil, shared.NewSourceUnavailableError("RedditSource", operation,
			fmt.Errorf("r/%s/%s: %w", community, feed, err)).
			WithDetails(map[string]string{"community": community, "feed": string(feed)})
	}
	defer response.Body.Close()

	var listing redditListing
	if err := json.NewDecoder(response.Body).Decode(&listing); err != nil {
		s.metrics.RecordRequest(false, time.Since(start))
		return nil, shared.NewSourceUnavailableError("RedditSource", operation,
			fmt.Errorf("decode r/%s/%s listing: %w", community, feed, err))
	}

	posts := make([]models.Post, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		if child.Kind != "" && child.Kind != "t3" {
			continue
		}
		if post, ok := s.toPost(child.Data); ok {
			posts = append(posts, post)
		}
	}

	s.metrics.RecordRequest(true, time.Since(start))
	logger.WithFields(logrus.Fields{
		"posts":    len(posts),
		"duration": time.Since(start),
	}).Debug("Fetched community feed")

	return posts, nil
}

// Ping checks that the source answers a minimal listing request.
func (s *RedditSource) Ping(ctx context.Context) error {
	_, err := s.FetchFeed(ctx, "all", FeedNew, 1)
	return err
}

func (s *RedditSource) newListingRequest(ctx context.Context, community string, feed Feed, limit int, bearer string) (*http.Request, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if feed == FeedTop {
		query.Set("t", "all")
	}

	base := s.config.BaseURL
	path := fmt.Sprintf("/r/%s/%s.json", url.PathEscape(community), feed)
	if bearer != "" {
		base = s.config.OAuthBaseURL
		path = fmt.Sprintf("/r/%s/%s", url.PathEscape(community), feed)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	shared.SetJSONAPIHeaders(request, s.config.UserAgent)
	if bearer != "" {
		request.Header.Set("Authorization", "Bearer "+bearer)
	}
	return request, nil
}

type redditTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

// token returns a cached app-only OAuth token, refreshing it a minute before expiry.
func (s *RedditSource) token(ctx context.Context) (string, error) {
	s.tokenMutex.Lock()
	defer s.tokenMutex.Unlock()

	if s.accessToken != "" && time.Now().Before(s.tokenExpiry.Add(-time.Minute)) {
		return s.accessToken, nil
	}

	if err := s.rateLimiter.Wait(ctx); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	request.SetBasicAuth(s.config.ClientID, s.config.ClientSecret)
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("User-Agent", s.config.UserAgent)

	response, err := shared.ExecuteHTTPRequest(s.httpClient, request)
	if err != nil {
		return "", fmt.Errorf("obtain access token: %w", err)
	}
	defer response.Body.Close()

	var payload redditTokenResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode access token: %w", err)
	}
	if payload.AccessToken == "" {
		if payload.Error != "" {
			return "", errors.New("access token rejected: " + payload.Error)
		}
		return "", errors.New("access token missing from response")
	}

	s.accessToken = payload.AccessToken
	s.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)

	logrus.WithFields(logrus.Fields{
		"component":  "RedditSource",
		"expires_in": payload.ExpiresIn,
	}).Debug("Obtained app-only access token")

	return s.accessToken, nil
}

func (s *RedditSource) toPost(entry redditPostEntry) (models.Post, bool) {
	if entry.ID == "" || strings.TrimSpace(entry.Title) == "" {
		return models.Post{}, false
	}

	author := entry.Author
	if author == "" {
		author = "[deleted]"
	}

	seconds := int64(entry.CreatedUTC)
	postURL := entry.Permalink
	if strings.HasPrefix(postURL, "/") {
		postURL = "https://reddit.com" + postURL
	}

	return models.Post{
		ID:          entry.ID,
		Subreddit:   entry.Subreddit,
		Author:      author,
		Title:       s.utility.NormalizeTitle(entry.Title),
		Content:     s.utility.ExtractPostText(entry.Selftext, entry.SelftextHTML),
		CreatedUTC:  time.Unix(seconds, 0).UTC(),
		Score:       entry.Score,
		NumComments: entry.NumComments,
		URL:         postURL,
	}, true
}
