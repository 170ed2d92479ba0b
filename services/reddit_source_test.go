package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anatech/leadscout/shared"
)

const listingJSON = `{"kind":"Listing","data":{"children":[
	{"kind":"t3","data":{"id":"abc","subreddit":"freelance","author":"","title":"Need  help &amp; advice","selftext":"How do I chase invoices?","created_utc":1700000000,"score":12,"num_comments":4,"permalink":"/r/freelance/comments/abc/need_help/"}},
	{"kind":"t3","data":{"id":"","title":"no id"}},
	{"kind":"t1","data":{"id":"comment","title":"a comment"}},
	{"kind":"t3","data":{"id":"def","subreddit":"freelance","author":"bob","title":"Link post","created_utc":1700000100}}
]}}`

func newTestRedditSource(config RedditSourceConfig) *RedditSource {
	return NewRedditSource(config, shared.NewHTTPClientFactory(5*time.Second), shared.NewHTTPRequestRateLimiter(0))
}

func TestRedditSourceFetchFeed(t *testing.T) {
	var path, query, agent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, query, agent = r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, listingJSON)
	}))
	defer server.Close()

	source := newTestRedditSource(RedditSourceConfig{BaseURL: server.URL, UserAgent: "test-agent/1.0"})
	posts, err := source.FetchFeed(context.Background(), "r/Freelance", FeedTop, 500)
	if err != nil {
		t.Fatalf("FetchFeed: %v", err)
	}

	if path != "/r/freelance/top.json" {
		t.Errorf("path = %q", path)
	}
	if !strings.Contains(query, "limit=100") || !strings.Contains(query, "t=all") {
		t.Errorf("query = %q", query)
	}
	if agent != "test-agent/1.0" {
		t.Errorf("user agent = %q", agent)
	}

	if len(posts) != 2 {
		t.Fatalf("posts = %+v, want 2", posts)
	}
	first := posts[0]
	if first.ID != "abc" || first.Author != "[deleted]" || first.Title != "Need help & advice" {
		t.Errorf("first post = %+v", first)
	}
	if first.URL != "https://reddit.com/r/freelance/comments/abc/need_help/" {
		t.Errorf("url = %q", first.URL)
	}
	if !first.CreatedUTC.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("created = %v", first.CreatedUTC)
	}
	if posts[1].Content != NoTextContent {
		t.Errorf("link post content = %q", posts[1].Content)
	}

	if snapshot := source.Metrics().GetSnapshot(); snapshot.TotalRequests != 1 {
		t.Errorf("requests recorded = %d", snapshot.TotalRequests)
	}
	if snapshot := source.TextMetrics().GetSnapshot(); snapshot.TotalRequests != 2 {
		t.Errorf("text extractions recorded = %d, want 2", snapshot.TotalRequests)
	}
}

func TestRedditSourceCloseReleasesClients(t *testing.T) {
	factory := shared.NewHTTPClientFactory(time.Second)
	config := RedditSourceConfig{Timeout: 2 * time.Second}
	source := NewRedditSource(config, factory, shared.NewHTTPRequestRateLimiter(0))

	if factory.CreateOptimizedHTTPClient(config.Timeout) != source.httpClient {
		t.Fatal("source did not take its client from the shared pool")
	}
	source.Close()
	if factory.CreateOptimizedHTTPClient(config.Timeout) == source.httpClient {
		t.Error("pooled client survived Close")
	}
}

func TestRedditSourceFailures(t *testing.T) {
	status := http.StatusServiceUnavailable
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		fmt.Fprint(w, "not json")
	}))
	defer server.Close()

	source := newTestRedditSource(RedditSourceConfig{BaseURL: server.URL})
	ctx := context.Background()

	_, err := source.FetchFeed(ctx, "saas", FeedNew, 10)
	if shared.CategoryOf(err) != shared.ErrorCategorySource {
		t.Errorf("5xx: got %v", err)
	}
	var serviceErr *shared.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("5xx error is not a ServiceError: %v", err)
	}
	if details, ok := serviceErr.Details.(map[string]string); !ok || details["community"] != "saas" || details["feed"] != "new" {
		t.Errorf("details = %#v", serviceErr.Details)
	}
	status = http.StatusOK
	if _, err := source.FetchFeed(ctx, "saas", FeedNew, 10); shared.CategoryOf(err) != shared.ErrorCategorySource {
		t.Errorf("bad body: got %v", err)
	}
	if _, err := source.FetchFeed(ctx, "  ", FeedNew, 10); shared.CategoryOf(err) != shared.ErrorCategoryValidation {
		t.Errorf("blank community: got %v", err)
	}
}

func TestRedditSourceTimeoutExcludesGateQueue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, listingJSON)
	}))
	defer server.Close()

	config := RedditSourceConfig{BaseURL: server.URL, Timeout: 100 * time.Millisecond}
	source := NewRedditSource(config, shared.NewHTTPClientFactory(config.Timeout), shared.NewHTTPRequestRateLimiter(250*time.Millisecond))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := source.FetchFeed(ctx, "saas", FeedHot, 5); err != nil {
			t.Fatalf("fetch %d after queueing at the gate: %v", i, err)
		}
	}
}

func TestRedditSourceOAuth(t *testing.T) {
	var tokenCalls int32
	var authorization string
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "id" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		fmt.Fprint(w, `{"access_token":"tok123","expires_in":3600}`)
	})
	mux.HandleFunc("/r/saas/new", func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"data":{"children":[]}}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	source := newTestRedditSource(RedditSourceConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     server.URL + "/token",
		OAuthBaseURL: server.URL,
	})
	for i := 0; i < 2; i++ {
		if _, err := source.FetchFeed(context.Background(), "saas", FeedNew, 5); err != nil {
			t.Fatalf("FetchFeed: %v", err)
		}
	}
	if authorization != "Bearer tok123" {
		t.Errorf("authorization = %q", authorization)
	}
	if calls := atomic.LoadInt32(&tokenCalls); calls != 1 {
		t.Errorf("token requested %d times, want cached after the first", calls)
	}

	rejected := newTestRedditSource(RedditSourceConfig{
		ClientID:     "id",
		ClientSecret: "wrong",
		TokenURL:     server.URL + "/token",
		OAuthBaseURL: server.URL,
	})
	if _, err := rejected.FetchFeed(context.Background(), "saas", FeedNew, 5); shared.CategoryOf(err) != shared.ErrorCategorySource {
		t.Errorf("rejected credentials: got %v", err)
	}
}
