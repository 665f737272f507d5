package handlers

import (
	"github.com/ahmetk3436/inkwell/internal/middleware"
	"github.com/ahmetk3436/inkwell/internal/services"
	"github.com/gofiber/fiber/v2"
)

type AuditHandler struct {
	audit *services.AuditService
}

func NewAuditHandler(audit *services.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// ListAuditLogs returns the caller's audit entries, newest first,
// optionally filtered by action.
func (h *AuditHandler) ListAuditLogs(c *fiber.Ctx) error {
	page, perPage := pagination(c, 50, 200)

	logs, total, err := h.audit.List(c.UserContext(), middleware.UserID(c), c.Query("action"), page, perPage)
	if err != nil {
		return serviceError(c, err, "Failed to list audit logs")
	}

	return c.JSON(fiber.Map{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}
