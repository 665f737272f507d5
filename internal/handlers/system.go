package handlers

import (
	"time"

	"github.com/ahmetk3436/inkwell/internal/llm"
	"github.com/ahmetk3436/inkwell/internal/middleware"
	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/ahmetk3436/inkwell/internal/tools"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

var startTime = time.Now()
var Version = "1.0.0"

type SystemHandler struct {
	db       *gorm.DB
	registry *tools.Registry
}

func NewSystemHandler(db *gorm.DB, registry *tools.Registry) *SystemHandler {
	return &SystemHandler{db: db, registry: registry}
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	dbStatus := "ok"
	statusCode := fiber.StatusOK

	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		statusCode = fiber.StatusServiceUnavailable
	} else if err := sqlDB.PingContext(c.UserContext()); err != nil {
		dbStatus = "unreachable: " + err.Error()
		statusCode = fiber.StatusServiceUnavailable
	}

	overall := "ok"
	if statusCode != fiber.StatusOK {
		overall = "degraded"
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":  overall,
		"service": "inkwell",
		"version": Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"uptime":  time.Since(startTime).String(),
		"db":      dbStatus,
	})
}

func (h *SystemHandler) Info(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"version": Version,
		"uptime":  time.Since(startTime).String(),
		"models":  llm.Models,
		"tools":   h.registry.Names(),
	})
}

// DashboardOverview counts the caller's personal notes, tasks and
// conversations.
func (h *SystemHandler) DashboardOverview(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	db := h.db.WithContext(c.UserContext())
	personal := func(model interface{}) *gorm.DB {
		return db.Model(model).Where("user_id = ? AND team_id IS NULL", userID)
	}

	var notes, conversations int64
	personal(&models.Note{}).Count(&notes)
	personal(&models.Conversation{}).Count(&conversations)

	var rows []struct {
		Status models.TaskStatus
		Count  int64
	}
	personal(&models.Task{}).Select("status, COUNT(*) AS count").Group("status").Scan(&rows)
	tasks := fiber.Map{
		string(models.TaskTodo):       int64(0),
		string(models.TaskInProgress): int64(0),
		string(models.TaskDone):       int64(0),
	}
	for _, r := range rows {
		tasks[string(r.Status)] = r.Count
	}

	return c.JSON(fiber.Map{
		"notes":          notes,
		"tasks":          tasks,
		"conversations":  conversations,
		"uptime_seconds": int64(time.Since(startTime).Seconds()),
	})
}
