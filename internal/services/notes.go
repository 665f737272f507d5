package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type NoteService struct {
	db    *gorm.DB
	teams *TeamService
}

func NewNoteService(db *gorm.DB, teams *TeamService) *NoteService {
	return &NoteService{db: db, teams: teams}
}

type NoteInput struct {
	Title    *string    `json:"title"`
	Content  *string    `json:"content"`
	ParentID *uuid.UUID `json:"parent_id"`
	Tags     []string   `json:"tags"`
	Position *int       `json:"position"`
}

// NoteNode is a note with its children, for tree display.
type NoteNode struct {
	models.Note
	Children []*NoteNode `json:"children"`
}

func (s *NoteService) List(ctx context.Context, scope Scope) ([]models.Note, error) {
	if err := s.teams.CheckScope(ctx, scope); err != nil {
		return nil, err
	}
	var notes []models.Note
	if err := scope.apply(s.db.WithContext(ctx)).Order("position ASC, title ASC").Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return notes, nil
}

func (s *NoteService) Get(ctx context.Context, scope Scope, id uuid.UUID) (*models.Note, error) {
	if err := s.teams.CheckScope(ctx, scope); err != nil {
		return nil, err
	}
	var note models.Note
	if err := scope.apply(s.db.WithContext(ctx)).First(&note, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &note, nil
}

// GetMany returns the notes among ids that are visible in scope, in no
// particular order. Unknown ids are skipped.
func (s *NoteService) GetMany(ctx context.Context, scope Scope, ids []uuid.UUID) ([]models.Note, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.teams.CheckScope(ctx, scope); err != nil {
		return nil, err
	}
	var notes []models.Note
	if err := scope.apply(s.db.WithContext(ctx)).Where("id IN ?", ids).Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	return notes, nil
}

func (s *NoteService) Create(ctx context.Context, scope Scope, in NoteInput) (*models.Note, error) {
	if err := s.teams.CheckScope(ctx, scope); err != nil {
		return nil, err
	}
	note := &models.Note{UserID: scope.UserID, TeamID: scope.TeamID}
	if err := s.applyInput(ctx, scope, note, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(note).Error; err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	return note, nil
}

func (s *NoteService) Update(ctx context.Context, scope Scope, id uuid.UUID, in NoteInput) (*models.Note, error) {
	note, err := s.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if err := s.applyInput(ctx, scope, note, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(note).Error; err != nil {
		return nil, fmt.Errorf("update note: %w", err)
	}
	return note, nil
}

func (s *NoteService) applyInput(ctx context.Context, scope Scope, note *models.Note, in NoteInput) error {
	if in.Title != nil {
		note.Title = strings.TrimSpace(*in.Title)
	}
	if in.Content != nil {
		note.Content = *in.Content
	}
	if in.Tags != nil {
		note.Tags = datatypes.JSONSlice[string](in.Tags)
	}
	if in.Position != nil {
		note.Position = *in.Position
	}
	if in.ParentID != nil {
		if *in.ParentID == uuid.Nil {
			note.ParentID = nil
			return nil
		}
		if *in.ParentID == note.ID {
			return fmt.Errorf("%w: a note cannot be its own parent", ErrInvalidInput)
		}
		if _, err := s.Get(ctx, scope, *in.ParentID); err != nil {
			return fmt.Errorf("%w: parent note not found", ErrInvalidInput)
		}
		if note.ID != uuid.Nil {
			if err := s.checkNoCycle(ctx, scope, note.ID, *in.ParentID); err != nil {
				return err
			}
		}
		parent := *in.ParentID
		note.ParentID = &parent
	}
	return nil
}

// checkNoCycle walks up from parentID and fails if it reaches noteID.
func (s *NoteService) checkNoCycle(ctx context.Context, scope Scope, noteID, parentID uuid.UUID) error {
	notes, err := s.List(ctx, scope)
	if err != nil {
		return err
	}
	parents := make(map[uuid.UUID]*uuid.UUID, len(notes))
	for _, n := range notes {
		parents[n.ID] = n.ParentID
	}
	seen := map[uuid.UUID]bool{}
	for cur := &parentID; cur != nil && !seen[*cur]; cur = parents[*cur] {
		if *cur == noteID {
			return fmt.Errorf("%w: moving the note there would create a cycle", ErrInvalidInput)
		}
		seen[*cur] = true
	}
	return nil
}

// Delete removes a note and moves its children up to its parent.
func (s *NoteService) Delete(ctx context.Context, scope Scope, id uuid.UUID) error {
	note, err := s.Get(ctx, scope, id)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Note{}).
			Where("parent_id = ?", note.ID).
			Update("parent_id", note.ParentID).Error; err != nil {
			return fmt.Errorf("reparent children: %w", err)
		}
		return tx.Delete(&models.Note{}, "id = ?", note.ID).Error
	})
}

// Search matches query against title and content, case-insensitively.
func (s *NoteService) Search(ctx context.Context, scope Scope, query string, limit int) ([]models.Note, error) {
	if err := s.teams.CheckScope(ctx, scope); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"

	var notes []models.Note
	if err := scope.apply(s.db.WithContext(ctx)).
		Where("LOWER(title) LIKE ? OR LOWER(content) LIKE ?", pattern, pattern).
		Order("updated_at DESC").
		Limit(limit).
		Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("search notes: %w", err)
	}
	return notes, nil
}

func (s *NoteService) Tree(ctx context.Context, scope Scope) ([]*NoteNode, error) {
	notes, err := s.List(ctx, scope)
	if err != nil {
		return nil, err
	}
	return BuildNoteTree(notes), nil
}

// BuildNoteTree arranges a parent-pointer list into a forest. Notes whose
// parent is not in the list become roots. Siblings are sorted by
// position, then title.
func BuildNoteTree(notes []models.Note) []*NoteNode {
	nodes := make(map[uuid.UUID]*NoteNode, len(notes))
	for _, n := range notes {
		nodes[n.ID] = &NoteNode{Note: n, Children: []*NoteNode{}}
	}

	var roots []*NoteNode
	for _, n := range notes {
		node := nodes[n.ID]
		if n.ParentID != nil {
			if parent, ok := nodes[*n.ParentID]; ok && parent != node {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}

	var sortNodes func([]*NoteNode)
	sortNodes = func(list []*NoteNode) {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Position != list[j].Position {
				return list[i].Position < list[j].Position
			}
			return list[i].Title < list[j].Title
		})
		for _, n := range list {
			sortNodes(n.Children)
		}
	}
	sortNodes(roots)

	if roots == nil {
		roots = []*NoteNode{}
	}
	return roots
}
