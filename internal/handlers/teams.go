package handlers

import (
	"strings"

	"github.com/ahmetk3436/inkwell/internal/middleware"
	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/ahmetk3436/inkwell/internal/services"
	"github.com/gofiber/fiber/v2"
)

type TeamHandler struct {
	teams *services.TeamService
	audit *services.AuditService
}

func NewTeamHandler(teams *services.TeamService, audit *services.AuditService) *TeamHandler {
	return &TeamHandler{teams: teams, audit: audit}
}

func (h *TeamHandler) ListTeams(c *fiber.Ctx) error {
	teams, err := h.teams.ListTeams(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return serviceError(c, err, "Failed to list teams")
	}
	return c.JSON(fiber.Map{"teams": teams})
}

func (h *TeamHandler) CreateTeam(c *fiber.Ctx) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		return errorJSON(c, fiber.StatusBadRequest, "Name is required")
	}

	userID := middleware.UserID(c)
	team, err := h.teams.CreateTeam(c.UserContext(), userID, req.Name)
	if err != nil {
		return serviceError(c, err, "Failed to create team")
	}
	h.audit.Record(c.UserContext(), userID, "team.create", team.ID.String(), fiber.Map{"name": team.Name})

	return c.Status(fiber.StatusCreated).JSON(team)
}

func (h *TeamHandler) ListMembers(c *fiber.Ctx) error {
	teamID, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	members, err := h.teams.Members(c.UserContext(), teamID, middleware.UserID(c))
	if err != nil {
		return serviceError(c, err, "Failed to list members")
	}
	return c.JSON(fiber.Map{"members": members})
}

func (h *TeamHandler) AddMember(c *fiber.Ctx) error {
	teamID, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		Email string          `json:"email"`
		Role  models.TeamRole `json:"role"`
	}
	if err := c.BodyParser(&req); err != nil || req.Email == "" {
		return errorJSON(c, fiber.StatusBadRequest, "Email is required")
	}

	actorID := middleware.UserID(c)
	member, err := h.teams.AddMember(c.UserContext(), actorID, teamID, req.Email, req.Role)
	if err != nil {
		return serviceError(c, err, "Failed to add member")
	}
	h.audit.Record(c.UserContext(), actorID, "team.member_add", teamID.String(), fiber.Map{
		"user_id": member.UserID,
		"role":    member.Role,
	})

	return c.Status(fiber.StatusCreated).JSON(member)
}

func (h *TeamHandler) RemoveMember(c *fiber.Ctx) error {
	teamID, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	userID, err := paramUUID(c, "userId")
	if err != nil {
		return err
	}

	actorID := middleware.UserID(c)
	if err := h.teams.RemoveMember(c.UserContext(), actorID, teamID, userID); err != nil {
		return serviceError(c, err, "Failed to remove member")
	}
	h.audit.Record(c.UserContext(), actorID, "team.member_remove", teamID.String(), fiber.Map{"user_id": userID})

	return c.JSON(fiber.Map{"message": "Member removed"})
}
