package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// Record appends an audit entry. Failures are logged, never returned,
// so auditing cannot fail the action being audited.
func (s *AuditService) Record(ctx context.Context, actorID uuid.UUID, action, target string, details map[string]interface{}) {
	var detailsJSON datatypes.JSON
	if details != nil {
		b, err := json.Marshal(details)
		if err == nil {
			detailsJSON = datatypes.JSON(b)
		}
	}

	entry := models.AuditLog{
		ActorID: actorID,
		Action:  action,
		Target:  target,
		Details: detailsJSON,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		slog.Error("Failed to write audit log", "action", action, "error", err)
	}
}

func (s *AuditService) List(ctx context.Context, actorID uuid.UUID, action string, page, perPage int) ([]models.AuditLog, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.AuditLog{}).Where("actor_id = ?", actorID)
	if action != "" {
		query = query.Where("action = ?", action)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	var logs []models.AuditLog
	if err := query.Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, total, nil
}
