package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anatech/leadscout/jobs"
	"github.com/anatech/leadscout/models"
	"github.com/anatech/leadscout/services"
	"github.com/anatech/leadscout/shared"
	"github.com/gofiber/fiber/v2"
)

type stubSource struct{}

func (stubSource) FetchFeed(ctx context.Context, community string, feed services.Feed, limit int) ([]models.Post, error) {
	if community == "broken" {
		return nil, shared.NewSourceUnavailableError("stubSource", "FetchFeed", errors.New("status 503"))
	}
	created := time.Now().Add(-2 * time.Hour)
	return []models.Post{
		{ID: community + "-1", Subreddit: community, Title: "Looking for a CRM", Content: "Any tips?", CreatedUTC: created, URL: "https://reddit.com/1"},
		{ID: community + "-2", Subreddit: community, Title: "Weekend photos", Content: "Nice hike", CreatedUTC: created.Add(time.Minute), URL: "https://reddit.com/2"},
	}, nil
}

func (stubSource) Ping(ctx context.Context) error { return nil }

type stubOracle struct {
	err error
}

func (o stubOracle) SuggestCommunities(ctx context.Context, business models.BusinessContext) ([]models.CommunitySuggestion, error) {
	if o.err != nil {
		return nil, o.err
	}
	return []models.CommunitySuggestion{{Name: "smallbusiness", RelevanceScore: 90, EstimatedSize: "large", Reason: "owners"}}, nil
}

func (o stubOracle) ScorePosts(ctx context.Context, business models.BusinessContext, posts []models.Post) (map[string]services.PostAnalysis, error) {
	analyses := make(map[string]services.PostAnalysis, len(posts))
	for _, post := range posts {
		score := 15
		if strings.Contains(post.Title, "CRM") {
			score = 85
		}
		analyses[post.ID] = services.PostAnalysis{RelevancyScore: score, IntentStrength: models.IntentHigh, KeyPainPoints: []string{"tracking"}}
	}
	return analyses, nil
}

func (o stubOracle) DraftReply(ctx context.Context, business models.BusinessContext, lead *models.ScoredLead) (string, error) {
	return "Happy to share what worked for " + business.CompanyName, nil
}

func (o stubOracle) Ping(ctx context.Context) error { return o.err }

type codeMailer struct {
	mutex sync.Mutex
	codes map[string]string
}

func (m *codeMailer) SendOTP(ctx context.Context, to, code string, otpType models.OTPType) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.codes[to+"/"+string(otpType)] = code
	return nil
}

func (m *codeMailer) SendWelcome(ctx context.Context, to, name string) error { return nil }

func (m *codeMailer) code(email string, otpType models.OTPType) string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.codes[email+"/"+string(otpType)]
}

const testAdminKey = "admin-secret"

type testServer struct {
	app    *fiber.App
	mailer *codeMailer
	gate   *shared.HTTPRequestRateLimiter
}

func newTestServer(t *testing.T, oracle services.Oracle, queryLimit int) *testServer {
	t.Helper()
	defaults := shared.NewDefaultUnifiedConfiguration()
	session := defaults.Session
	if queryLimit > 0 {
		session.DefaultQueryLimit = queryLimit
	}

	mailer := &codeMailer{codes: make(map[string]string)}
	leads := services.NewMemoryLeadStore()
	sessions := services.NewMemorySessionStore(session.TokenTTL)
	users := services.NewMemoryUserStore()
	auth := services.NewAuthService(users, sessions, mailer, session)
	cache := services.NewResultCache(time.Hour, 10)
	pipeline := services.NewLeadPipeline(stubSource{}, oracle, leads, cache, defaults.Pipeline)
	gate := shared.NewHTTPRequestRateLimiter(time.Second)

	app := fiber.New(fiber.Config{ErrorHandler: FallbackErrorHandler})
	SetupRoutes(app, Routes{
		Sessions:    sessions,
		Leads:       NewLeadHandler(pipeline, leads, auth, defaults.Pipeline.MaxResponseLeads),
		Auth:        NewAuthHandler(auth),
		Check:       NewCheckHandler(stubSource{}, oracle, leads),
		Performance: NewPerformanceHandler(nil, auth, pipeline.Metrics()),
		Admin:       NewAdminHandler(jobs.NewCleanupJob(leads, users, cache), cache, gate),
		AdminKey:    testAdminKey,
	})
	return &testServer{app: app, mailer: mailer, gate: gate}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	return s.doWithHeaders(t, method, path, token, nil, body)
}

func (s *testServer) doWithHeaders(t *testing.T, method, path, token string, headers map[string]string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	decoded := make(map[string]interface{})
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("%s %s: decode body: %v", method, path, err)
	}
	return resp.StatusCode, decoded
}

// login signs up, verifies and logs in a fresh account, returning its token.
func (s *testServer) login(t *testing.T, email string) string {
	t.Helper()
	password := "correct-horse"
	if status, body := s.do(t, http.MethodPost, "/api/auth/signup", "", fiber.Map{"email": email, "password": password, "full_name": "Dana"}); status != http.StatusOK {
		t.Fatalf("signup = %d %v", status, body)
	}
	code := s.mailer.code(email, models.OTPTypeSignup)
	if status, body := s.do(t, http.MethodPost, "/api/auth/verify-otp", "", fiber.Map{"email": email, "otp": code}); status != http.StatusOK {
		t.Fatalf("verify = %d %v", status, body)
	}
	status, body := s.do(t, http.MethodPost, "/api/auth/login", "", fiber.Map{"email": email, "password": password})
	if status != http.StatusOK {
		t.Fatalf("login = %d %v", status, body)
	}
	token, _ := body["session_token"].(string)
	if token == "" {
		t.Fatalf("login returned no token: %v", body)
	}
	return token
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	server := newTestServer(t, stubOracle{}, 0)

	for _, path := range []string{"/api/fetch-leads", "/api/save-lead", "/api/discover-subreddits"} {
		status, body := server.do(t, http.MethodPost, path, "bogus-token", fiber.Map{"post_id": "x"})
		if status != http.StatusUnauthorized {
			t.Errorf("%s status = %d", path, status)
		}
		if body["success"] != false || body["error"] != "unauthenticated" || body["message"] != "Please login first" {
			t.Errorf("%s body = %v", path, body)
		}
	}

	status, body := server.do(t, http.MethodGet, "/api/auth/check-session", "", nil)
	if status != http.StatusOK || body["valid"] != false {
		t.Errorf("check-session without token = %d %v", status, body)
	}
}

// unreachableSessions fails every lookup the way a dropped Redis connection does.
type unreachableSessions struct {
	services.SessionStore
}

func (unreachableSessions) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", shared.NewUnauthenticatedError("Validate")
	}
	return "", shared.WrapError(errors.New("dial tcp 127.0.0.1:6379: connection refused"),
		shared.ErrorCategoryDatabase, "SESSION_STORE", "RedisSessionStore", "Validate")
}

func TestSessionStoreFailureIsNotReportedAsLoggedOut(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: FallbackErrorHandler})
	app.Get("/api/protected", RequireAuth(unreachableSessions{}), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true})
	})
	server := &testServer{app: app}

	status, body := server.do(t, http.MethodGet, "/api/protected", "some-token", nil)
	if status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", status)
	}
	if body["success"] != false || body["error"] != "database" || body["message"] != "Storage is temporarily unavailable" {
		t.Errorf("body = %v", body)
	}

	status, body = server.do(t, http.MethodGet, "/api/protected", "", nil)
	if status != http.StatusUnauthorized || body["message"] != "Please login first" {
		t.Errorf("missing token = %d %v", status, body)
	}
}

func TestAuthFlow(t *testing.T) {
	server := newTestServer(t, stubOracle{}, 0)
	token := server.login(t, "dana@example.com")

	status, body := server.do(t, http.MethodGet, "/api/auth/check-session", token, nil)
	if status != http.StatusOK || body["valid"] != true {
		t.Fatalf("check-session = %d %v", status, body)
	}

	status, body = server.do(t, http.MethodPost, "/api/auth/login", "", fiber.Map{"email": "dana@example.com", "password": "wrong-password"})
	if status != http.StatusUnauthorized || body["success"] != false {
		t.Errorf("bad login = %d %v", status, body)
	}

	status, body = server.do(t, http.MethodPost, "/api/profile/update", token, fiber.Map{"company_name": "Pipeline Co"})
	if status != http.StatusOK {
		t.Fatalf("profile update = %d %v", status, body)
	}
	_, body = server.do(t, http.MethodGet, "/api/profile/get", token, nil)
	profile, _ := body["profile"].(map[string]interface{})
	if profile["company_name"] != "Pipeline Co" {
		t.Errorf("profile = %v", body)
	}

	if status, _ := server.do(t, http.MethodPost, "/api/auth/logout", token, nil); status != http.StatusOK {
		t.Errorf("logout status = %d", status)
	}
	if status, _ := server.do(t, http.MethodGet, "/api/saved-leads", token, nil); status != http.StatusUnauthorized {
		t.Errorf("revoked token still accepted: %d", status)
	}
}

func TestSignupValidationErrors(t *testing.T) {
	server := newTestServer(t, stubOracle{}, 0)

	status, body := server.do(t, http.MethodPost, "/api/auth/signup", "", fiber.Map{"email": "not-an-email", "password": "correct-horse", "full_name": "Dana"})
	if status != http.StatusBadRequest || body["error"] != "validation" {
		t.Errorf("invalid email = %d %v", status, body)
	}

	status, body = server.do(t, http.MethodPost, "/api/auth/forgot-password", "", fiber.Map{"email": "nobody@example.com"})
	if status != http.StatusOK || body["success"] != true {
		t.Errorf("forgot-password for unknown email = %d %v", status, body)
	}
}

func TestLeadLifecycle(t *testing.T) {
	server := newTestServer(t, stubOracle{}, 0)
	token := server.login(t, "lead@example.com")
	status, body := server.do(t, http.MethodPost, "/api/discover-subreddits", token, fiber.Map{"prompt": "CRM for small agencies"})
	if status != http.StatusOK {
		t.Fatalf("discover = %d %v", status, body)
	}
	if suggestions, _ := body["subreddits"].([]interface{}); len(suggestions) != 1 {
		t.Errorf("suggestions = %v", body["subreddits"])
	}

	status, body = server.do(t, http.MethodPost, "/api/fetch-leads", token, fiber.Map{
		"prompt":     "CRM for small agencies",
		"company":    "Pipeline Co",
		"subreddits": []string{"r/agency", "broken"},
	})
	if status != http.StatusOK {
		t.Fatalf("fetch = %d %v", status, body)
	}
	leads, _ := body["leads"].([]interface{})
	if len(leads) != 1 || body["total_fetched"] != float64(2) {
		t.Fatalf("fetch body = %v", body)
	}
	if failures, _ := body["errors"].([]interface{}); len(failures) != 3 {
		t.Errorf("expected one error per feed of the broken community, got %v", body["errors"])
	}
	lead := leads[0].(map[string]interface{})
	if lead["id"] != "agency-1" || lead["relevancy_score"] != float64(85) {
		t.Errorf("lead = %v", lead)
	}

	_, body = server.do(t, http.MethodGet, "/api/get-leads", token, nil)
	if body["total"] != float64(1) {
		t.Errorf("cached leads = %v", body)
	}

	status, body = server.do(t, http.MethodPost, "/api/generate-response", token, fiber.Map{"post_id": "agency-1"})
	if status != http.StatusOK || body["ai_response"] != "Happy to share what worked for Pipeline Co" {
		t.Errorf("generate-response = %d %v", status, body)
	}

	status, body = server.do(t, http.MethodPost, "/api/save-lead", token, fiber.Map{"post_id": "agency-1"})
	if status != http.StatusOK || body["created"] != true {
		t.Fatalf("save = %d %v", status, body)
	}
	_, body = server.do(t, http.MethodPost, "/api/save-lead", token, fiber.Map{"post_id": "agency-1"})
	if body["created"] != false || body["message"] != "Lead already saved" {
		t.Errorf("second save = %v", body)
	}

	if status, _ := server.do(t, http.MethodPost, "/api/mark-contacted", token, fiber.Map{"post_id": "agency-1"}); status != http.StatusOK {
		t.Errorf("mark-contacted status = %d", status)
	}
	if status, _ := server.do(t, http.MethodPost, "/api/mark-contacted", token, fiber.Map{"post_id": "missing"}); status != http.StatusNotFound {
		t.Errorf("mark-contacted on a missing lead = %d", status)
	}
	if status, _ := server.do(t, http.MethodPost, "/api/update-notes", token, fiber.Map{"post_id": "agency-1", "notes": "call friday"}); status != http.StatusOK {
		t.Errorf("update-notes status = %d", status)
	}

	_, body = server.do(t, http.MethodGet, "/api/saved-leads?min_score=50", token, nil)
	if body["total"] != float64(1) {
		t.Errorf("saved leads = %v", body)
	}
	_, body = server.do(t, http.MethodGet, "/api/saved-leads-stats", token, nil)
	stats, _ := body["stats"].(map[string]interface{})
	if stats["contacted"] != float64(1) {
		t.Errorf("stats = %v", body)
	}

	status, body = server.do(t, http.MethodPost, "/api/dismiss-post", token, fiber.Map{"post_id": "agency-1"})
	if status != http.StatusOK || body["expires_at"] == nil {
		t.Errorf("dismiss = %d %v", status, body)
	}
	_, body = server.do(t, http.MethodGet, "/api/get-leads", token, nil)
	if body["total"] != float64(0) {
		t.Errorf("dismissed lead still cached: %v", body)
	}

	_, body = server.do(t, http.MethodPost, "/api/delete-lead", token, fiber.Map{"post_id": "agency-1"})
	if body["deleted"] != true {
		t.Errorf("delete = %v", body)
	}
	_, body = server.do(t, http.MethodPost, "/api/delete-lead", token, fiber.Map{"post_id": "agency-1"})
	if body["deleted"] != false || body["message"] != "Lead was not saved" {
		t.Errorf("second delete = %v", body)
	}

	if _, body := server.do(t, http.MethodPost, "/api/clear-leads", token, nil); body["success"] != true {
		t.Errorf("clear-leads = %v", body)
	}

	_, body = server.do(t, http.MethodGet, "/api/usage", token, nil)
	data, _ := body["data"].(map[string]interface{})
	quota, _ := data["quota"].(map[string]interface{})
	if quota["queries_used"] != float64(2) {
		t.Errorf("usage = %v", body)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	server := newTestServer(t, stubOracle{err: shared.NewOracleUnavailableError("stubOracle", "SuggestCommunities", errors.New("timeout"))}, 1)
	token := server.login(t, "limits@example.com")

	status, body := server.do(t, http.MethodPost, "/api/fetch-leads", token, fiber.Map{"prompt": "short", "subreddits": []string{"saas"}})
	if status != http.StatusBadRequest || body["error"] != "validation" {
		t.Errorf("short prompt = %d %v", status, body)
	}

	status, body = server.do(t, http.MethodPost, "/api/discover-subreddits", token, fiber.Map{"prompt": "CRM for small agencies"})
	if status != http.StatusBadGateway || body["error"] != "oracle" {
		t.Errorf("oracle failure = %d %v", status, body)
	}

	if status, _ := server.do(t, http.MethodPost, "/api/save-lead", token, fiber.Map{}); status != http.StatusBadRequest {
		t.Errorf("save without post id = %d", status)
	}

	status, _ = server.do(t, http.MethodPost, "/api/fetch-leads", token, fiber.Map{"prompt": "CRM for small agencies", "subreddits": []string{"saas"}})
	if status != http.StatusOK {
		t.Fatalf("first fetch = %d", status)
	}
	status, body = server.do(t, http.MethodPost, "/api/fetch-leads", token, fiber.Map{"prompt": "CRM for small agencies", "subreddits": []string{"saas"}})
	if status != http.StatusTooManyRequests || body["error"] != "quota" {
		t.Errorf("over quota = %d %v", status, body)
	}

	status, body = server.do(t, http.MethodGet, "/api/no-such-route", "", nil)
	if status != http.StatusNotFound || body["error"] != "not_found" {
		t.Errorf("unknown route = %d %v", status, body)
	}
}

func TestConnectionChecks(t *testing.T) {
	server := newTestServer(t, stubOracle{err: fmt.Errorf("no api key")}, 0)

	status, body := server.do(t, http.MethodGet, "/api/test-connection", "", nil)
	if status != http.StatusOK {
		t.Fatalf("test-connection status = %d", status)
	}
	if body["reddit"] != true || body["oracle"] != false || body["database"] != true {
		t.Errorf("test-connection = %v", body)
	}

	if _, body := server.do(t, http.MethodGet, "/health", "", nil); body["status"] != "ok" {
		t.Errorf("health = %v", body)
	}
}

func TestAdminRoutes(t *testing.T) {
	server := newTestServer(t, stubOracle{}, 0)

	status, body := server.do(t, http.MethodPost, "/api/admin/cleanup", "", nil)
	if status != http.StatusForbidden || body["error"] != "forbidden" {
		t.Errorf("cleanup without key = %d %v", status, body)
	}
	status, _ = server.doWithHeaders(t, http.MethodPost, "/api/admin/cleanup", "", map[string]string{AdminKeyHeader: "wrong"}, nil)
	if status != http.StatusForbidden {
		t.Errorf("cleanup with wrong key = %d", status)
	}

	admin := map[string]string{AdminKeyHeader: testAdminKey}
	status, body = server.doWithHeaders(t, http.MethodPost, "/api/admin/cleanup", "", admin, nil)
	if status != http.StatusOK || body["report"] == nil {
		t.Errorf("cleanup = %d %v", status, body)
	}

	token := server.login(t, "admin@example.com")
	server.do(t, http.MethodPost, "/api/fetch-leads", token, fiber.Map{"prompt": "CRM for small agencies", "subreddits": []string{"agency"}})
	_, body = server.doWithHeaders(t, http.MethodGet, "/api/admin/cache", "", admin, nil)
	if body["cached_fetches"] != float64(1) || body["cleanup_running"] != false || body["source_delay_ms"] != float64(1000) {
		t.Errorf("cache stats = %v", body)
	}

	for _, delay := range []int{0, 500, 120000} {
		status, _ = server.doWithHeaders(t, http.MethodPost, "/api/admin/rate-limit", "", admin, fiber.Map{"delay_ms": delay})
		if status != http.StatusBadRequest {
			t.Errorf("delay %d accepted with status %d", delay, status)
		}
	}
	status, body = server.doWithHeaders(t, http.MethodPost, "/api/admin/rate-limit", "", admin, fiber.Map{"delay_ms": 2500})
	if status != http.StatusOK || body["delay_ms"] != float64(2500) {
		t.Errorf("rate limit update = %d %v", status, body)
	}
	if server.gate.GetMinimumDelay() != 2500*time.Millisecond {
		t.Errorf("gate delay = %v", server.gate.GetMinimumDelay())
	}
}
