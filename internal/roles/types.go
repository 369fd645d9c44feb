package roles

import (
	"context"
	"time"
)

// Predefined role names. These live in configuration, never in storage.
const (
	RoleReadOnly         = "ReadOnly"
	RoleSupport          = "Support"
	RoleInventoryManager = "InventoryManager"
)

// Definition is a named capability tag assignable to accounts.
type Definition struct {
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Assignment is the stored user→role-set mapping, unique per email. The
// effective role set observed externally is this stored set plus any roles
// synthesized from the account's privilege tier at read time.
type Assignment struct {
	ID        string    `json:"id"`
	UserEmail string    `json:"user_email"`
	Roles     []string  `json:"roles"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store describes persistence for custom role definitions and assignments.
type Store interface {
	CreateDefinition(ctx context.Context, def *Definition) error
	DefinitionByName(ctx context.Context, name string) (*Definition, error)
	ListDefinitions(ctx context.Context) ([]Definition, error)
	UpdateDefinition(ctx context.Context, def *Definition) error
	DeleteDefinition(ctx context.Context, name string) error

	AssignmentByEmail(ctx context.Context, email string) (*Assignment, error)
	ListAssignments(ctx context.Context) ([]Assignment, error)
	SaveAssignment(ctx context.Context, assignment *Assignment) error
}
