package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxOrderRetries bounds how often an append is retried after losing a
// race for the same order value.
const maxOrderRetries = 3

const previewLength = 120

// ConversationStore persists conversations and their ordered messages.
type ConversationStore struct {
	db    *gorm.DB
	teams *TeamService
}

func NewConversationStore(db *gorm.DB, teams *TeamService) *ConversationStore {
	return &ConversationStore{db: db, teams: teams}
}

// NewMessage is the input to AppendMessage. The store assigns ID and Order.
type NewMessage struct {
	Role     models.Role
	Content  string
	ParentID *uuid.UUID
	Metadata models.MessageMetadata
}

// ConversationSummary is a read-only projection used by listings.
type ConversationSummary struct {
	models.Conversation
	MessageCount int64  `json:"message_count"`
	LastMessage  string `json:"last_message"`
}

func (s *ConversationStore) CreateConversation(ctx context.Context, scope Scope, title string) (*models.Conversation, error) {
	if err := s.teams.CheckScope(ctx, scope); err != nil {
		return nil, err
	}

	conv := &models.Conversation{
		UserID: scope.UserID,
		TeamID: scope.TeamID,
		Title:  truncate(strings.TrimSpace(title), 100),
	}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// Authorize loads a conversation the user may read: their own personal
// conversation or one belonging to a team they are a member of.
// Anything else is reported as ErrNotFound.
func (s *ConversationStore) Authorize(ctx context.Context, userID, id uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}

	if conv.TeamID == nil {
		if conv.UserID != userID {
			return nil, ErrNotFound
		}
		return &conv, nil
	}

	if _, err := s.teams.Membership(ctx, *conv.TeamID, userID); err != nil {
		if errors.Is(err, ErrForbidden) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

func (s *ConversationStore) GetConversation(ctx context.Context, userID, id uuid.UUID) (*models.Conversation, []models.Message, error) {
	conv, err := s.Authorize(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.Messages(ctx, conv.ID)
	if err != nil {
		return nil, nil, err
	}
	return conv, msgs, nil
}

// Messages returns a conversation's messages sorted by order.
func (s *ConversationStore) Messages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	var msgs []models.Message
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("sort_order ASC").
		Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return msgs, nil
}

func (s *ConversationStore) ListConversations(ctx context.Context, scope Scope, page, perPage int) ([]ConversationSummary, int64, error) {
	if err := s.teams.CheckScope(ctx, scope); err != nil {
		return nil, 0, err
	}

	db := s.db.WithContext(ctx)
	var total int64
	if err := scope.apply(db.Model(&models.Conversation{})).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	var convs []models.Conversation
	if err := scope.apply(db.Model(&models.Conversation{})).
		Order("updated_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&convs).Error; err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}

	summaries := make([]ConversationSummary, len(convs))
	if len(convs) == 0 {
		return summaries, total, nil
	}

	ids := make([]uuid.UUID, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}

	var counts []struct {
		ConversationID uuid.UUID
		Count          int64
	}
	if err := db.Model(&models.Message{}).
		Select("conversation_id, COUNT(*) AS count").
		Where("conversation_id IN ?", ids).
		Group("conversation_id").
		Scan(&counts).Error; err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	latest := db.Model(&models.Message{}).
		Select("conversation_id, MAX(sort_order) AS max_order").
		Where("conversation_id IN ?", ids).
		Group("conversation_id")
	var last []models.Message
	if err := db.Table("messages AS m").
		Select("m.*").
		Joins("JOIN (?) AS latest ON latest.conversation_id = m.conversation_id AND latest.max_order = m.sort_order", latest).
		Find(&last).Error; err != nil {
		return nil, 0, fmt.Errorf("load last messages: %w", err)
	}

	countByID := make(map[uuid.UUID]int64, len(counts))
	for _, c := range counts {
		countByID[c.ConversationID] = c.Count
	}
	lastByID := make(map[uuid.UUID]string, len(last))
	for _, m := range last {
		lastByID[m.ConversationID] = truncate(m.Content, previewLength)
	}

	for i, c := range convs {
		summaries[i] = ConversationSummary{
			Conversation: c,
			MessageCount: countByID[c.ID],
			LastMessage:  lastByID[c.ID],
		}
	}
	return summaries, total, nil
}

// AppendMessage inserts a message at max(order)+1 inside one transaction.
// On Postgres the conversation row is locked for the duration; on every
// dialect the unique (conversation_id, order) index catches a lost race,
// which is retried.
func (s *ConversationStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, in NewMessage) (*models.Message, error) {
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}

	msg := &models.Message{
		ConversationID: conversationID,
		ParentID:       in.ParentID,
		Role:           in.Role,
		Content:        in.Content,
	}
	if err := msg.SetMetadata(in.Metadata); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var err error
	for attempt := 0; attempt < maxOrderRetries; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.insertNext(tx, msg)
		})
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (s *ConversationStore) insertNext(tx *gorm.DB, msg *models.Message) error {
	lookup := tx
	if tx.Dialector.Name() == "postgres" {
		lookup = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var conv models.Conversation
	if err := lookup.Select("id").First(&conv, "id = ?", msg.ConversationID).Error; err != nil {
		return notFound(err)
	}

	var next int
	if err := tx.Model(&models.Message{}).
		Where("conversation_id = ?", msg.ConversationID).
		Select("COALESCE(MAX(sort_order), -1) + 1").
		Scan(&next).Error; err != nil {
		return err
	}

	msg.Order = next
	if err := tx.Create(msg).Error; err != nil {
		return err
	}

	return tx.Model(&models.Conversation{}).
		Where("id = ?", msg.ConversationID).
		Update("updated_at", time.Now()).Error
}

func (s *ConversationStore) UpdateTitle(ctx context.Context, userID, id uuid.UUID, title string) (*models.Conversation, error) {
	conv, err := s.Authorize(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, ErrForbidden
	}
	conv.Title = truncate(strings.TrimSpace(title), 100)
	if err := s.db.WithContext(ctx).Model(conv).Update("title", conv.Title).Error; err != nil {
		return nil, fmt.Errorf("update title: %w", err)
	}
	return conv, nil
}

// DeleteConversation removes a conversation and all of its messages.
// Only the conversation's owner may delete it.
func (s *ConversationStore) DeleteConversation(ctx context.Context, userID, id uuid.UUID) error {
	conv, err := s.Authorize(ctx, userID, id)
	if err != nil {
		return err
	}
	if conv.UserID != userID {
		return ErrForbidden
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conv.ID).Delete(&models.Message{}).Error; err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if err := tx.Delete(&models.Conversation{}, "id = ?", conv.ID).Error; err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		return nil
	})
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	// Cut on a rune boundary.
	cut := maxLen
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
