package handlers

import (
	"github.com/anatech/leadscout/services"
	"github.com/gofiber/fiber/v2"
)

// Routes bundles every handler mounted by SetupRoutes.
type Routes struct {
	Sessions    services.SessionStore
	Leads       *LeadHandler
	Auth        *AuthHandler
	Check       *CheckHandler
	Performance *PerformanceHandler

	// Admin routes are mounted only when both are set.
	Admin    *AdminHandler
	AdminKey string
}

func SetupRoutes(app *fiber.App, r Routes) {
	app.Get("/health", r.Check.Health)

	api := app.Group("/api")
	api.Get("/test-connection", r.Check.TestConnection)

	auth := api.Group("/auth")
	auth.Post("/signup", r.Auth.Signup)
	auth.Post("/verify-otp", r.Auth.VerifyOTP)
	auth.Post("/login", r.Auth.Login)
	auth.Post("/logout", r.Auth.Logout)
	auth.Post("/forgot-password", r.Auth.ForgotPassword)
	auth.Post("/reset-password", r.Auth.ResetPassword)
	auth.Get("/check-session", r.Auth.CheckSession)

	requireAuth := RequireAuth(r.Sessions)

	api.Post("/discover-subreddits", requireAuth, r.Leads.DiscoverSubreddits)
	api.Post("/fetch-leads", requireAuth, r.Leads.FetchLeads)
	api.Post("/generate-response", requireAuth, r.Leads.GenerateResponse)
	api.Post("/save-lead", requireAuth, r.Leads.SaveLead)
	api.Post("/delete-lead", requireAuth, r.Leads.DeleteLead)
	api.Post("/dismiss-post", requireAuth, r.Leads.DismissPost)
	api.Post("/mark-contacted", requireAuth, r.Leads.MarkContacted)
	api.Post("/update-notes", requireAuth, r.Leads.UpdateNotes)
	api.Get("/saved-leads", requireAuth, r.Leads.SavedLeads)
	api.Get("/saved-leads-stats", requireAuth, r.Leads.SavedLeadsStats)
	api.Get("/get-leads", requireAuth, r.Leads.GetLeads)
	api.Post("/clear-leads", requireAuth, r.Leads.ClearLeads)

	api.Get("/usage", requireAuth, r.Performance.GetUsage)

	profile := api.Group("/profile", requireAuth)
	profile.Get("/get", r.Auth.GetProfile)
	profile.Post("/update", r.Auth.UpdateProfile)

	if r.Admin != nil && r.AdminKey != "" {
		admin := api.Group("/admin", RequireAdminKey(r.AdminKey))
		admin.Post("/cleanup", r.Admin.TriggerCleanup)
		admin.Get("/cache", r.Admin.CacheStats)
		admin.Post("/rate-limit", r.Admin.UpdateSourceDelay)
	}
}
