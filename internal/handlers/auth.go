package handlers

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/ahmetk3436/inkwell/internal/config"
	"github.com/ahmetk3436/inkwell/internal/middleware"
	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/ahmetk3436/inkwell/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type AuthHandler struct {
	cfg   *config.Config
	users *services.UserService
	teams *services.TeamService
	audit *services.AuditService
}

func NewAuthHandler(cfg *config.Config, users *services.UserService, teams *services.TeamService, audit *services.AuditService) *AuthHandler {
	return &AuthHandler{cfg: cfg, users: users, teams: teams, audit: audit}
}

type credentials struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req credentials
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	user, err := h.users.Register(c.UserContext(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		return serviceError(c, err, "Failed to register")
	}
	h.audit.Record(c.UserContext(), user.ID, "auth.register", user.Email, nil)

	return h.issue(c.Status(fiber.StatusCreated), user)
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req credentials
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	user, err := h.users.Authenticate(c.UserContext(), req.Email, req.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		return errorJSON(c, fiber.StatusUnauthorized, "Invalid credentials")
	}
	if err != nil {
		return serviceError(c, err, "Failed to log in")
	}
	h.audit.Record(c.UserContext(), user.ID, "auth.login", user.Email, fiber.Map{"ip": c.IP()})

	return h.issue(c, user)
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	claims, err := middleware.ParseToken(req.RefreshToken, h.cfg.JWTSecret, middleware.TokenRefresh)
	if err != nil {
		return errorJSON(c, fiber.StatusUnauthorized, "Invalid or expired refresh token")
	}
	user, err := h.users.Get(c.UserContext(), uuid.MustParse(claims.UserID))
	if err != nil {
		return errorJSON(c, fiber.StatusUnauthorized, "Invalid or expired refresh token")
	}

	return h.issue(c, user)
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user, err := h.users.Get(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return serviceError(c, err, "Failed to load user")
	}
	teams, err := h.teams.ListTeams(c.UserContext(), user.ID)
	if err != nil {
		return serviceError(c, err, "Failed to load teams")
	}

	return c.JSON(fiber.Map{
		"user":  userJSON(user),
		"teams": teams,
	})
}

func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		return errorJSON(c, fiber.StatusBadRequest, "Both old_password and new_password are required")
	}

	userID := middleware.UserID(c)
	err := h.users.ChangePassword(c.UserContext(), userID, req.OldPassword, req.NewPassword)
	if errors.Is(err, services.ErrInvalidCredentials) {
		return errorJSON(c, fiber.StatusUnauthorized, "Current password is incorrect")
	}
	if err != nil {
		return serviceError(c, err, "Failed to update password")
	}
	h.audit.Record(c.UserContext(), userID, "auth.password_change", "", nil)

	return c.JSON(fiber.Map{
		"message": "Password changed successfully",
	})
}

func (h *AuthHandler) issue(c *fiber.Ctx, user *models.User) error {
	access, refresh, err := middleware.GenerateTokens(user.ID, user.Email, h.cfg.JWTSecret)
	if err != nil {
		slog.Error("Failed to generate tokens", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to generate tokens")
	}
	return c.JSON(fiber.Map{
		"access_token":  access,
		"refresh_token": refresh,
		"user":          userJSON(user),
	})
}

func userJSON(user *models.User) fiber.Map {
	name := user.DisplayName
	if name == "" {
		name = strings.SplitN(user.Email, "@", 2)[0]
	}
	return fiber.Map{
		"id":              user.ID,
		"email":           user.Email,
		"display_name":    name,
		"avatar_initials": buildInitials(name),
	}
}

func buildInitials(name string) string {
	parts := strings.Fields(name)
	initials := ""
	for _, p := range parts {
		if len(initials) == 2 {
			break
		}
		initials += strings.ToUpper(string([]rune(p)[0]))
	}
	if initials == "" {
		return "?"
	}
	return initials
}
