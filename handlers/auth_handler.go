package handlers

import (
	"strings"

	"github.com/anatech/leadscout/models"
	"github.com/anatech/leadscout/services"
	"github.com/gofiber/fiber/v2"
)

type AuthHandler struct {
	Auth *services.AuthService
}

func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{Auth: auth}
}

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FullName    string `json:"full_name"`
	OTP         string `json:"otp"`
	Type        string `json:"type"`
	NewPassword string `json:"new_password"`
}

func parseCredentials(c *fiber.Ctx) (credentialsRequest, error) {
	var req credentialsRequest
	err := c.BodyParser(&req)
	return req, err
}

func (h *AuthHandler) Signup(c *fiber.Ctx) error {
	req, err := parseCredentials(c)
	if err != nil {
		return badRequest(c, "Invalid request body")
	}

	userID, err := h.Auth.Signup(c.UserContext(), req.Email, req.Password, req.FullName)
	if err != nil {
		return ErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Signup successful. Check your email for the verification code",
		"user_id": userID,
	})
}

func (h *AuthHandler) VerifyOTP(c *fiber.Ctx) error {
	req, err := parseCredentials(c)
	if err != nil {
		return badRequest(c, "Invalid request body")
	}
	otpType := models.OTPType(strings.TrimSpace(req.Type))
	if otpType == "" {
		otpType = models.OTPTypeSignup
	}

	if err := h.Auth.VerifyOTP(c.UserContext(), req.Email, req.OTP, otpType); err != nil {
		return ErrorResponse(c, err)
	}

	message := "Email verified successfully!"
	if otpType == models.OTPTypePasswordReset {
		message = "Code verified. Choose a new password"
	}
	return c.JSON(fiber.Map{"success": true, "message": message})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	req, err := parseCredentials(c)
	if err != nil {
		return badRequest(c, "Invalid request body")
	}

	result, err := h.Auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return ErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success":       true,
		"message":       "Login successful",
		"session_token": result.Token,
		"user":          result.User,
	})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if err := h.Auth.Logout(c.UserContext(), BearerToken(c)); err != nil {
		return ErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "message": "Logged out"})
}

func (h *AuthHandler) ForgotPassword(c *fiber.Ctx) error {
	req, err := parseCredentials(c)
	if err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := h.Auth.ForgotPassword(c.UserContext(), req.Email); err != nil {
		return ErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "If that email is registered, a reset code has been sent",
	})
}

func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	req, err := parseCredentials(c)
	if err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := h.Auth.ResetPassword(c.UserContext(), req.Email, req.OTP, req.NewPassword); err != nil {
		return ErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "message": "Password reset successful! Please login"})
}

// CheckSession always answers 200 and reports validity in the body.
func (h *AuthHandler) CheckSession(c *fiber.Ctx) error {
	user, err := h.Auth.CheckSession(c.UserContext(), BearerToken(c))
	if err != nil {
		return c.JSON(fiber.Map{"valid": false})
	}
	return c.JSON(fiber.Map{
		"valid":   true,
		"user_id": user.ID,
		"user":    user,
	})
}

func (h *AuthHandler) GetProfile(c *fiber.Ctx) error {
	profile, err := h.Auth.GetProfile(c.UserContext(), UserID(c))
	if err != nil {
		return ErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "profile": profile})
}

func (h *AuthHandler) UpdateProfile(c *fiber.Ctx) error {
	var req models.Profile
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	profile, err := h.Auth.UpdateProfile(c.UserContext(), UserID(c), req)
	if err != nil {
		return ErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Profile updated",
		"profile": profile,
	})
}
