package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/ahmetk3436/inkwell/internal/chat"
	"github.com/ahmetk3436/inkwell/internal/llm"
	"github.com/ahmetk3436/inkwell/internal/middleware"
	"github.com/ahmetk3436/inkwell/internal/services"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

type ChatHandler struct {
	ctx   context.Context
	orch  *chat.Orchestrator
	store *services.ConversationStore
	audit *services.AuditService
}

// NewChatHandler creates the chat endpoints. Turns run under ctx, which
// the server cancels on shutdown.
func NewChatHandler(ctx context.Context, orch *chat.Orchestrator, store *services.ConversationStore, audit *services.AuditService) *ChatHandler {
	return &ChatHandler{ctx: ctx, orch: orch, store: store, audit: audit}
}

func (h *ChatHandler) Ask(c *fiber.Ctx) error {
	return h.stream(c, chat.ModeAsk)
}

func (h *ChatHandler) Agent(c *fiber.Ctx) error {
	return h.stream(c, chat.ModeAgent)
}

func (h *ChatHandler) stream(c *fiber.Ctx, mode chat.Mode) error {
	var req chat.Request
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	turn, err := h.orch.Prepare(c.UserContext(), middleware.UserID(c), mode, req)
	if err != nil {
		return chatError(c, err)
	}
	turn.RequestID, _ = c.Locals("requestid").(string)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ctx := h.ctx
	var write fasthttp.StreamWriter = func(w *bufio.Writer) {
		_ = h.orch.Run(ctx, turn, chat.NewSSEEncoder(w))
	}
	c.Context().SetBodyStreamWriter(write)
	return nil
}

// chatError reports a failed turn validation before any stream starts.
func chatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, llm.ErrUnknownModel):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
			"models":  llm.Models,
		})
	case errors.Is(err, services.ErrNotFound):
		return errorJSON(c, fiber.StatusNotFound, "Conversation not found")
	}
	return serviceError(c, err, "Failed to start chat turn")
}

// UpgradeCheck only lets WebSocket upgrades through to HandleWebSocket.
func (h *ChatHandler) UpgradeCheck() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// HandleWebSocket runs one turn per received JSON request, streaming its
// events back as text frames. Turns on one connection are sequential.
func (h *ChatHandler) HandleWebSocket() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("user_id").(uuid.UUID)
		mode := chat.Mode(conn.Query("mode", string(chat.ModeAgent)))
		sink := chat.NewWebSocketSink(conn)
		log := slog.With("user_id", userID, "mode", mode)
		log.Info("Chat socket opened")
		defer log.Info("Chat socket closed")

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req chat.Request
			if err := json.Unmarshal(data, &req); err != nil {
				if sink.Send(chat.Event{Type: chat.EventError, Message: "Invalid request body"}) != nil {
					return
				}
				continue
			}

			turn, err := h.orch.Prepare(h.ctx, userID, mode, req)
			if err != nil {
				if sink.Send(chat.Event{Type: chat.EventError, Message: socketErrorMessage(err)}) != nil {
					return
				}
				continue
			}
			if err := h.orch.Run(h.ctx, turn, sink); err != nil && errors.Is(err, context.Canceled) {
				return
			}
		}
	})
}

func socketErrorMessage(err error) string {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return "Conversation not found"
	case errors.Is(err, services.ErrForbidden):
		return "You do not have access to this team"
	case errors.Is(err, chat.ErrInvalidRequest):
		return err.Error()
	}
	slog.Error("Failed to start chat turn", "error", err)
	return "Failed to start chat turn"
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	page, perPage := pagination(c, 20, 100)

	convs, total, err := h.store.ListConversations(c.UserContext(), scope, page, perPage)
	if err != nil {
		return serviceError(c, err, "Failed to list conversations")
	}

	return c.JSON(fiber.Map{
		"conversations": convs,
		"total":         total,
		"page":          page,
		"per_page":      perPage,
	})
}

func (h *ChatHandler) GetConversation(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	conv, msgs, err := h.store.GetConversation(c.UserContext(), middleware.UserID(c), id)
	if err != nil {
		return serviceError(c, err, "Failed to load conversation")
	}

	return c.JSON(fiber.Map{
		"conversation": conv,
		"messages":     msgs,
	})
}

func (h *ChatHandler) UpdateConversation(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := c.BodyParser(&req); err != nil || req.Title == "" {
		return errorJSON(c, fiber.StatusBadRequest, "Title is required")
	}

	conv, err := h.store.UpdateTitle(c.UserContext(), middleware.UserID(c), id, req.Title)
	if err != nil {
		return serviceError(c, err, "Failed to update conversation")
	}
	return c.JSON(conv)
}

func (h *ChatHandler) DeleteConversation(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	userID := middleware.UserID(c)
	if err := h.store.DeleteConversation(c.UserContext(), userID, id); err != nil {
		return serviceError(c, err, "Failed to delete conversation")
	}
	h.audit.Record(c.UserContext(), userID, "conversation.delete", id.String(), nil)

	return c.JSON(fiber.Map{
		"message": "Conversation deleted",
	})
}

// Models lists the selectable model identifiers.
func (h *ChatHandler) Models(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"models": llm.Models,
	})
}
