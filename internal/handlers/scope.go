package handlers

import (
	"github.com/ahmetk3436/inkwell/internal/middleware"
	"github.com/ahmetk3436/inkwell/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// requestScope reads the optional team_id query parameter. Membership is
// checked by the services.
func requestScope(c *fiber.Ctx) (services.Scope, error) {
	scope := services.PersonalScope(middleware.UserID(c))
	if raw := c.Query("team_id"); raw != "" {
		teamID, err := uuid.Parse(raw)
		if err != nil {
			return scope, fiber.NewError(fiber.StatusBadRequest, "Invalid team_id")
		}
		scope.TeamID = &teamID
	}
	return scope, nil
}
