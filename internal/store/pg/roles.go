package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"carousel.org/internal/domain"
	"carousel.org/internal/roles"
)

func (s *Store) CreateDefinition(ctx context.Context, def *roles.Definition) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into role_definitions (id, name, description)
		values ($1, $2, $3)
		returning created_at, updated_at
	`, def.ID, def.Name, nullIfEmpty(def.Description))
	if err := row.Scan(&def.CreatedAt, &def.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) DefinitionByName(ctx context.Context, name string) (*roles.Definition, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		def  roles.Definition
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, coalesce(description,''), created_at, updated_at
		from role_definitions
		where lower(name) = lower($1)
	`, name).Scan(&def.ID, &def.Name, &desc, &def.CreatedAt, &def.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if desc.Valid {
		def.Description = desc.String
	}
	return &def, nil
}

func (s *Store) ListDefinitions(ctx context.Context) ([]roles.Definition, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name, coalesce(description,''), created_at, updated_at
		from role_definitions
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []roles.Definition
	for rows.Next() {
		var (
			def  roles.Definition
			desc sql.NullString
		)
		if err := rows.Scan(&def.ID, &def.Name, &desc, &def.CreatedAt, &def.UpdatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			def.Description = desc.String
		}
		result = append(result, def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateDefinition(ctx context.Context, def *roles.Definition) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update role_definitions
		set description = $2, updated_at = now()
		where lower(name) = lower($1)
	`, def.Name, nullIfEmpty(def.Description))
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteDefinition(ctx context.Context, name string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from role_definitions where lower(name) = lower($1)
	`, name)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) AssignmentByEmail(ctx context.Context, email string) (*roles.Assignment, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		a   roles.Assignment
		raw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_email, roles, updated_at
		from role_assignments
		where user_email = $1
	`, email).Scan(&a.ID, &a.UserEmail, &raw, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &a.Roles); err != nil {
			return nil, fmt.Errorf("decode roles: %w", err)
		}
	}
	return &a, nil
}

func (s *Store) ListAssignments(ctx context.Context) ([]roles.Assignment, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, user_email, roles, updated_at
		from role_assignments
		order by user_email
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []roles.Assignment
	for rows.Next() {
		var (
			a   roles.Assignment
			raw []byte
		)
		if err := rows.Scan(&a.ID, &a.UserEmail, &raw, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &a.Roles); err != nil {
				return nil, fmt.Errorf("decode roles: %w", err)
			}
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SaveAssignment upserts the full role set for the assignment's email.
func (s *Store) SaveAssignment(ctx context.Context, assignment *roles.Assignment) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	raw, err := json.Marshal(assignment.Roles)
	if err != nil {
		return fmt.Errorf("marshal roles: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		insert into role_assignments (id, user_email, roles, updated_at)
		values ($1, $2, $3, now())
		on conflict (user_email) do update
		set roles = excluded.roles, updated_at = now()
		returning id, updated_at
	`, assignment.ID, assignment.UserEmail, raw)
	return row.Scan(&assignment.ID, &assignment.UpdatedAt)
}
