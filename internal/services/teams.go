package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TeamService struct {
	db *gorm.DB
}

func NewTeamService(db *gorm.DB) *TeamService {
	return &TeamService{db: db}
}

// CreateTeam creates a team and makes the owner its first member.
func (s *TeamService) CreateTeam(ctx context.Context, ownerID uuid.UUID, name string) (*models.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: team name is required", ErrInvalidInput)
	}

	team := &models.Team{Name: name, OwnerID: ownerID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(team).Error; err != nil {
			return err
		}
		return tx.Create(&models.TeamMember{
			TeamID: team.ID,
			UserID: ownerID,
			Role:   models.TeamRoleOwner,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}
	return team, nil
}

func (s *TeamService) ListTeams(ctx context.Context, userID uuid.UUID) ([]models.Team, error) {
	var teams []models.Team
	err := s.db.WithContext(ctx).
		Select("teams.*").
		Joins("JOIN team_members ON team_members.team_id = teams.id").
		Where("team_members.user_id = ?", userID).
		Order("teams.name ASC").
		Find(&teams).Error
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	return teams, nil
}

// Membership returns the caller's membership in a team, or ErrForbidden.
func (s *TeamService) Membership(ctx context.Context, teamID, userID uuid.UUID) (*models.TeamMember, error) {
	var m models.TeamMember
	err := s.db.WithContext(ctx).First(&m, "team_id = ? AND user_id = ?", teamID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, fmt.Errorf("load membership: %w", err)
	}
	return &m, nil
}

// Team loads a team the user belongs to.
func (s *TeamService) Team(ctx context.Context, teamID, userID uuid.UUID) (*models.Team, error) {
	if _, err := s.Membership(ctx, teamID, userID); err != nil {
		return nil, err
	}
	var team models.Team
	if err := s.db.WithContext(ctx).First(&team, "id = ?", teamID).Error; err != nil {
		return nil, notFound(err)
	}
	return &team, nil
}

// CheckScope fails with ErrForbidden when a team scope names a team the
// user does not belong to.
func (s *TeamService) CheckScope(ctx context.Context, scope Scope) error {
	if scope.TeamID == nil {
		return nil
	}
	_, err := s.Membership(ctx, *scope.TeamID, scope.UserID)
	return err
}

func (s *TeamService) Members(ctx context.Context, teamID, userID uuid.UUID) ([]models.TeamMember, error) {
	if _, err := s.Membership(ctx, teamID, userID); err != nil {
		return nil, err
	}
	var members []models.TeamMember
	if err := s.db.WithContext(ctx).Preload("User").Where("team_id = ?", teamID).Order("created_at ASC").Find(&members).Error; err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

func (s *TeamService) AddMember(ctx context.Context, actorID, teamID uuid.UUID, email string, role models.TeamRole) (*models.TeamMember, error) {
	actor, err := s.Membership(ctx, teamID, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage() {
		return nil, ErrForbidden
	}
	if role == "" {
		role = models.TeamRoleMember
	}
	if role != models.TeamRoleMember && role != models.TeamRoleAdmin {
		return nil, fmt.Errorf("%w: role must be member or admin", ErrInvalidInput)
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "email = ?", normalizeEmail(email)).Error; err != nil {
		return nil, notFound(err)
	}

	member := &models.TeamMember{TeamID: teamID, UserID: user.ID, Role: role}
	if err := s.db.WithContext(ctx).Create(member).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: user is already a member", ErrConflict)
		}
		return nil, fmt.Errorf("add member: %w", err)
	}
	member.User = &user
	return member, nil
}

func (s *TeamService) RemoveMember(ctx context.Context, actorID, teamID, userID uuid.UUID) error {
	actor, err := s.Membership(ctx, teamID, actorID)
	if err != nil {
		return err
	}
	if actorID != userID && !actor.CanManage() {
		return ErrForbidden
	}

	target, err := s.Membership(ctx, teamID, userID)
	if errors.Is(err, ErrForbidden) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if target.Role == models.TeamRoleOwner {
		return fmt.Errorf("%w: the team owner cannot be removed", ErrInvalidInput)
	}

	return s.db.WithContext(ctx).
		Where("team_id = ? AND user_id = ?", teamID, userID).
		Delete(&models.TeamMember{}).Error
}
