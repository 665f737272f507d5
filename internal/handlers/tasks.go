package handlers

import (
	"strconv"

	"github.com/ahmetk3436/inkwell/internal/middleware"
	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/ahmetk3436/inkwell/internal/services"
	"github.com/gofiber/fiber/v2"
)

type TaskHandler struct {
	tasks *services.TaskService
	audit *services.AuditService
}

func NewTaskHandler(tasks *services.TaskService, audit *services.AuditService) *TaskHandler {
	return &TaskHandler{tasks: tasks, audit: audit}
}

func (h *TaskHandler) ListTasks(c *fiber.Ctx) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	status := models.TaskStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid status")
	}

	if q := c.Query("q"); q != "" {
		limit, _ := strconv.Atoi(c.Query("limit", "20"))
		tasks, err := h.tasks.Search(c.UserContext(), scope, q, status, limit)
		if err != nil {
			return serviceError(c, err, "Failed to search tasks")
		}
		return c.JSON(fiber.Map{"tasks": tasks})
	}

	tasks, err := h.tasks.List(c.UserContext(), scope, status)
	if err != nil {
		return serviceError(c, err, "Failed to list tasks")
	}
	return c.JSON(fiber.Map{"tasks": tasks})
}

func (h *TaskHandler) GetTask(c *fiber.Ctx) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	task, err := h.tasks.Get(c.UserContext(), scope, id)
	if err != nil {
		return serviceError(c, err, "Failed to load task")
	}
	return c.JSON(task)
}

func (h *TaskHandler) CreateTask(c *fiber.Ctx) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	var in services.TaskInput
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	task, err := h.tasks.Create(c.UserContext(), scope, in)
	if err != nil {
		return serviceError(c, err, "Failed to create task")
	}
	return c.Status(fiber.StatusCreated).JSON(task)
}

func (h *TaskHandler) UpdateTask(c *fiber.Ctx) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var in services.TaskInput
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	task, err := h.tasks.Update(c.UserContext(), scope, id, in)
	if err != nil {
		return serviceError(c, err, "Failed to update task")
	}
	return c.JSON(task)
}

// MoveTask places a task at a position in a board column.
func (h *TaskHandler) MoveTask(c *fiber.Ctx) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		Status   models.TaskStatus `json:"status"`
		Position int               `json:"position"`
	}
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	task, err := h.tasks.Move(c.UserContext(), scope, id, req.Status, req.Position)
	if err != nil {
		return serviceError(c, err, "Failed to move task")
	}
	return c.JSON(task)
}

func (h *TaskHandler) DeleteTask(c *fiber.Ctx) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.tasks.Delete(c.UserContext(), scope, id); err != nil {
		return serviceError(c, err, "Failed to delete task")
	}
	h.audit.Record(c.UserContext(), middleware.UserID(c), "task.delete", id.String(), nil)

	return c.JSON(fiber.Map{"message": "Task deleted"})
}
