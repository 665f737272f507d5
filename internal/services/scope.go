package services

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)

// Scope selects the rows a request works on: the caller's personal rows
// when TeamID is nil, otherwise the team's rows.
type Scope struct {
	UserID uuid.UUID
	TeamID *uuid.UUID
}

func PersonalScope(userID uuid.UUID) Scope {
	return Scope{UserID: userID}
}

func (s Scope) IsTeam() bool { return s.TeamID != nil }

func (s Scope) apply(q *gorm.DB) *gorm.DB {
	if s.TeamID != nil {
		return q.Where("team_id = ?", *s.TeamID)
	}
	return q.Where("user_id = ? AND team_id IS NULL", s.UserID)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
