package users

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/expenseflow/expenseflow/internal/shared"
)

// User represents an employee account within a company.
type User struct {
	ID           uuid.UUID
	CompanyID    uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	Role         shared.Role
	Department   string
	ManagerID    *uuid.UUID
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ErrNotFound indicates the user does not exist.
var ErrNotFound = fmt.Errorf("users: %w", shared.ErrNotFound)
