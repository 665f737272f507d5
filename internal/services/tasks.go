package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TaskService struct {
	db    *gorm.DB
	teams *TeamService
}

func NewTaskService(db *gorm.DB, teams *TeamService) *TaskService {
	return &TaskService{db: db, teams: teams}
}

type TaskInput struct {
	Title       *string            `json:"title"`
	Description *string            `json:"description"`
	Status      *models.TaskStatus `json:"status"`
	Position    *int               `json:"position"`
	DueDate     *time.Time         `json:"due_date"`
}

func (s *TaskService) List(ctx context.Context, scope Scope, status models.TaskStatus) ([]models.Task, error) {
	if err := s.teams.CheckScope(ctx, scope); err != nil {
		return nil, err
	}
	q := scope.apply(s.db.WithContext(ctx))
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var tasks []models.Task
	if err := q.Order("status ASC, position ASC, created_at ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (s *TaskService) Get(ctx context.Context, scope Scope, id uuid.UUID) (*models.Task, error) {
	if err := s.teams.CheckScope(ctx, scope); err != nil {
		return nil, err
	}
	var task models.Task
	if err := scope.apply(s.db.WithContext(ctx)).First(&task, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

func (s *TaskService) Create(ctx context.Context, scope Scope, in TaskInput) (*models.Task, error) {
	if err := s.teams.CheckScope(ctx, scope); err != nil {
		return nil, err
	}
	if in.Title == nil || strings.TrimSpace(*in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	task := &models.Task{UserID: scope.UserID, TeamID: scope.TeamID, Status: models.TaskTodo}
	if err := applyTaskInput(task, in); err != nil {
		return nil, err
	}
	if in.Position == nil {
		var maxPos sql.NullInt64
		if err := scope.apply(s.db.WithContext(ctx).Model(&models.Task{})).
			Where("status = ?", task.Status).
			Select("MAX(position)").
			Scan(&maxPos).Error; err != nil {
			return nil, fmt.Errorf("find column end: %w", err)
		}
		if maxPos.Valid {
			task.Position = int(maxPos.Int64) + 1
		}
	}
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

func (s *TaskService) Update(ctx context.Context, scope Scope, id uuid.UUID, in TaskInput) (*models.Task, error) {
	task, err := s.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if err := applyTaskInput(task, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(task).Error; err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return task, nil
}

// Move places a task in a board column at position, shifting the tasks
// at or after that position down by one.
func (s *TaskService) Move(ctx context.Context, scope Scope, id uuid.UUID, status models.TaskStatus, position int) (*models.Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if position < 0 {
		position = 0
	}
	task, err := s.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := scope.apply(tx.Model(&models.Task{})).
			Where("status = ? AND position >= ? AND id <> ?", status, position, task.ID).
			Update("position", gorm.Expr("position + 1")).Error; err != nil {
			return err
		}
		task.Status = status
		task.Position = position
		return tx.Model(task).Updates(map[string]interface{}{
			"status":   status,
			"position": position,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("move task: %w", err)
	}
	return task, nil
}

func (s *TaskService) Delete(ctx context.Context, scope Scope, id uuid.UUID) error {
	task, err := s.Get(ctx, scope, id)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(&models.Task{}, "id = ?", task.ID).Error
}

func (s *TaskService) Search(ctx context.Context, scope Scope, query string, status models.TaskStatus, limit int) ([]models.Task, error) {
	if err := s.teams.CheckScope(ctx, scope); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	q := scope.apply(s.db.WithContext(ctx))
	if query = strings.TrimSpace(query); query != "" {
		pattern := "%" + strings.ToLower(query) + "%"
		q = q.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", pattern, pattern)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var tasks []models.Task
	if err := q.Order("updated_at DESC").Limit(limit).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}
	return tasks, nil
}

func applyTaskInput(task *models.Task, in TaskInput) error {
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
		}
		task.Title = title
	}
	if in.Description != nil {
		task.Description = *in.Description
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *in.Status)
		}
		task.Status = *in.Status
	}
	if in.Position != nil {
		task.Position = *in.Position
	}
	if in.DueDate != nil {
		due := *in.DueDate
		task.DueDate = &due
	}
	return nil
}
