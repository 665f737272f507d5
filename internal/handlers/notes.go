package handlers

import (
	"strconv"

	"github.com/ahmetk3436/inkwell/internal/middleware"
	"github.com/ahmetk3436/inkwell/internal/services"
	"github.com/gofiber/fiber/v2"
)

type NoteHandler struct {
	notes *services.NoteService
	audit *services.AuditService
}

func NewNoteHandler(notes *services.NoteService, audit *services.AuditService) *NoteHandler {
	return &NoteHandler{notes: notes, audit: audit}
}

func (h *NoteHandler) ListNotes(c *fiber.Ctx) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}

	if q := c.Query("q"); q != "" {
		limit, _ := strconv.Atoi(c.Query("limit", "20"))
		notes, err := h.notes.Search(c.UserContext(), scope, q, limit)
		if err != nil {
			return serviceError(c, err, "Failed to search notes")
		}
		return c.JSON(fiber.Map{"notes": notes})
	}

	notes, err := h.notes.List(c.UserContext(), scope)
	if err != nil {
		return serviceError(c, err, "Failed to list notes")
	}
	return c.JSON(fiber.Map{"notes": notes})
}

func (h *NoteHandler) Tree(c *fiber.Ctx) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	tree, err := h.notes.Tree(c.UserContext(), scope)
	if err != nil {
		return serviceError(c, err, "Failed to load notes")
	}
	return c.JSON(fiber.Map{"tree": tree})
}

func (h *NoteHandler) GetNote(c *fiber.Ctx) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	note, err := h.notes.Get(c.UserContext(), scope, id)
	if err != nil {
		return serviceError(c, err, "Failed to load note")
	}
	return c.JSON(note)
}

func (h *NoteHandler) CreateNote(c *fiber.Ctx) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	var in services.NoteInput
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	note, err := h.notes.Create(c.UserContext(), scope, in)
	if err != nil {
		return serviceError(c, err, "Failed to create note")
	}
	return c.Status(fiber.StatusCreated).JSON(note)
}

func (h *NoteHandler) UpdateNote(c *fiber.Ctx) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var in services.NoteInput
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	note, err := h.notes.Update(c.UserContext(), scope, id, in)
	if err != nil {
		return serviceError(c, err, "Failed to update note")
	}
	return c.JSON(note)
}

func (h *NoteHandler) DeleteNote(c *fiber.Ctx) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.notes.Delete(c.UserContext(), scope, id); err != nil {
		return serviceError(c, err, "Failed to delete note")
	}
	h.audit.Record(c.UserContext(), middleware.UserID(c), "note.delete", id.String(), nil)

	return c.JSON(fiber.Map{"message": "Note deleted"})
}
