package handlers

import (
	"context"
	"strings"

	"github.com/anatech/leadscout/models"
	"github.com/anatech/leadscout/services"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// DefaultCachedMinScore is the get-leads filter when min_score is omitted.
const DefaultCachedMinScore = 50

// AccountService is the slice of account behaviour lead endpoints depend on.
type AccountService interface {
	CheckQueryLimit(ctx context.Context, userID string) (services.QuotaStatus, error)
	TrackQuery(ctx context.Context, userID, queryType string) error
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
}

type LeadHandler struct {
	Pipeline         *services.LeadPipeline
	Store            services.LeadStore
	Accounts         AccountService
	MaxResponseLeads int
}

func NewLeadHandler(pipeline *services.LeadPipeline, store services.LeadStore, accounts AccountService, maxResponseLeads int) *LeadHandler {
	if maxResponseLeads <= 0 {
		maxResponseLeads = 100
	}
	return &LeadHandler{
		Pipeline:         pipeline,
		Store:            store,
		Accounts:         accounts,
		MaxResponseLeads: maxResponseLeads,
	}
}

type businessRequest struct {
	Prompt  string `json:"prompt"`
	Company string `json:"company"`
	Niche   string `json:"niche"`
}

func (r businessRequest) context() models.BusinessContext {
	return models.BusinessContext{
		Prompt:        strings.TrimSpace(r.Prompt),
		CompanyName:   strings.TrimSpace(r.Company),
		BusinessNiche: strings.TrimSpace(r.Niche),
	}
}

type postRequest struct {
	PostID string             `json:"post_id"`
	Post   *models.ScoredLead `json:"post,omitempty"`
}

func parsePostRequest(c *fiber.Ctx) (postRequest, bool) {
	var req postRequest
	if err := c.BodyParser(&req); err != nil {
		return req, false
	}
	req.PostID = strings.TrimSpace(req.PostID)
	return req, req.PostID != ""
}

// businessFor applies the user's stored profile to blank company fields.
func (h *LeadHandler) businessFor(ctx context.Context, userID string, business models.BusinessContext) (models.BusinessContext, error) {
	profile, err := h.Accounts.GetProfile(ctx, userID)
	if err != nil {
		return business, err
	}
	return business.WithProfileDefaults(profile), nil
}

func (h *LeadHandler) trackQuery(ctx context.Context, userID, queryType string) {
	if err := h.Accounts.TrackQuery(ctx, userID, queryType); err != nil {
		logrus.WithFields(logrus.Fields{
			"component":  "LeadHandler",
			"user_id":    userID,
			"query_type": queryType,
			"error":      err.Error(),
		}).Warn("Failed to track query")
	}
}

func (h *LeadHandler) DiscoverSubreddits(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := UserID(c)

	var req businessRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if _, err := h.Accounts.CheckQueryLimit(ctx, userID); err != nil {
		return ErrorResponse(c, err)
	}
	business, err := h.businessFor(ctx, userID, req.context())
	if err != nil {
		return ErrorResponse(c, err)
	}

	suggestions, err := h.Pipeline.Discover(ctx, business)
	if err != nil {
		return ErrorResponse(c, err)
	}
	h.trackQuery(ctx, userID, "discover_subreddits")

	return c.JSON(fiber.Map{
		"success":    true,
		"subreddits": suggestions,
		"prompt":     business.Prompt,
	})
}

func (h *LeadHandler) FetchLeads(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := UserID(c)

	var req struct {
		businessRequest
		Subreddits        []string `json:"subreddits"`
		MaxAgeDays        int      `json:"max_age_days"`
		PostsPerSubreddit int      `json:"posts_per_subreddit"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if _, err := h.Accounts.CheckQueryLimit(ctx, userID); err != nil {
		return ErrorResponse(c, err)
	}
	business, err := h.businessFor(ctx, userID, req.context())
	if err != nil {
		return ErrorResponse(c, err)
	}

	result, err := h.Pipeline.FetchAndScore(ctx, userID, services.FetchRequest{
		Communities:  req.Subreddits,
		Business:     business,
		MaxAgeDays:   req.MaxAgeDays,
		PostsPerFeed: req.PostsPerSubreddit,
	})
	if err != nil {
		return ErrorResponse(c, err)
	}
	h.trackQuery(ctx, userID, "fetch_leads")

	leads := result.Leads
	if len(leads) > h.MaxResponseLeads {
		leads = leads[:h.MaxResponseLeads]
	}
	return c.JSON(fiber.Map{
		"success":         true,
		"leads":           leads,
		"total_fetched":   result.TotalFetched,
		"total_qualified": result.TotalQualified,
		"errors":          result.Errors,
	})
}

func (h *LeadHandler) GenerateResponse(c *fiber.Ctx) error {
	var req struct {
		postRequest
		businessRequest
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	postID := strings.TrimSpace(req.PostID)
	if postID == "" {
		return badRequest(c, "No post ID")
	}

	ctx := c.UserContext()
	userID := UserID(c)
	business, err := h.businessFor(ctx, userID, req.businessRequest.context())
	if err != nil {
		return ErrorResponse(c, err)
	}

	reply, err := h.Pipeline.RespondToLead(ctx, userID, postID, req.Post, business)
	if err != nil {
		return ErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success":     true,
		"post_id":     postID,
		"ai_response": reply,
	})
}

func (h *LeadHandler) SaveLead(c *fiber.Ctx) error {
	req, ok := parsePostRequest(c)
	if !ok {
		return badRequest(c, "No post ID")
	}

	lead, created, err := h.Pipeline.SaveLead(c.UserContext(), UserID(c), req.PostID, req.Post)
	if err != nil {
		return ErrorResponse(c, err)
	}

	message := "Lead saved"
	if !created {
		message = "Lead already saved"
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": message,
		"created": created,
		"lead":    lead,
	})
}

func (h *LeadHandler) DeleteLead(c *fiber.Ctx) error {
	req, ok := parsePostRequest(c)
	if !ok {
		return badRequest(c, "No post ID")
	}

	deleted, err := h.Pipeline.DeleteLead(c.UserContext(), UserID(c), req.PostID)
	if err != nil {
		return ErrorResponse(c, err)
	}

	message := "Lead deleted"
	if !deleted {
		message = "Lead was not saved"
	}
	return c.JSON(fiber.Map{
		"success": true,
		"deleted": deleted,
		"message": message,
	})
}

func (h *LeadHandler) DismissPost(c *fiber.Ctx) error {
	req, ok := parsePostRequest(c)
	if !ok {
		return badRequest(c, "No post ID")
	}

	marker, err := h.Pipeline.DismissPost(c.UserContext(), UserID(c), req.PostID)
	if err != nil {
		return ErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"message":    "Post dismissed for 30 days",
		"expires_at": marker.ExpiresAt,
	})
}

func (h *LeadHandler) MarkContacted(c *fiber.Ctx) error {
	var req struct {
		PostID    string `json:"post_id"`
		Contacted *bool  `json:"contacted"`
	}
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.PostID) == "" {
		return badRequest(c, "No post ID")
	}
	contacted := true
	if req.Contacted != nil {
		contacted = *req.Contacted
	}

	updated, err := h.Store.MarkContacted(c.UserContext(), UserID(c), strings.TrimSpace(req.PostID), contacted)
	if err != nil {
		return ErrorResponse(c, err)
	}
	if !updated {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "Lead not found"})
	}

	message := "Marked as contacted"
	if !contacted {
		message = "Marked as not contacted"
	}
	return c.JSON(fiber.Map{"success": true, "message": message})
}

func (h *LeadHandler) UpdateNotes(c *fiber.Ctx) error {
	var req struct {
		PostID string `json:"post_id"`
		Notes  string `json:"notes"`
	}
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.PostID) == "" {
		return badRequest(c, "No post ID")
	}

	updated, err := h.Store.UpdateNotes(c.UserContext(), UserID(c), strings.TrimSpace(req.PostID), req.Notes)
	if err != nil {
		return ErrorResponse(c, err)
	}
	if !updated {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "Lead not found"})
	}
	return c.JSON(fiber.Map{"success": true, "message": "Notes updated"})
}

func (h *LeadHandler) SavedLeads(c *fiber.Ctx) error {
	options := models.ListOptions{
		Limit:    c.QueryInt("limit", models.DefaultListLimit),
		Offset:   c.QueryInt("offset", 0),
		MinScore: c.QueryInt("min_score", 0),
	}

	leads, err := h.Store.ListSaved(c.UserContext(), UserID(c), options)
	if err != nil {
		return ErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"total":   len(leads),
		"leads":   leads,
	})
}

func (h *LeadHandler) SavedLeadsStats(c *fiber.Ctx) error {
	stats, err := h.Store.Stats(c.UserContext(), UserID(c))
	if err != nil {
		return ErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "stats": stats})
}

// GetLeads returns the user's last fetch result from the result cache.
func (h *LeadHandler) GetLeads(c *fiber.Ctx) error {
	fetch, _ := h.Pipeline.CachedLeads(UserID(c), c.QueryInt("min_score", DefaultCachedMinScore))
	return c.JSON(fiber.Map{
		"success":     true,
		"total":       len(fetch.Leads),
		"leads":       fetch.Leads,
		"communities": fetch.Communities,
		"fetched_at":  fetch.FetchedAt,
	})
}

func (h *LeadHandler) ClearLeads(c *fiber.Ctx) error {
	h.Pipeline.ClearCachedLeads(UserID(c))
	return c.JSON(fiber.Map{"success": true, "message": "Cleared"})
}
