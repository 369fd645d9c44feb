package pg

import (
	"context"
	"database/sql"
	"errors"

	"carousel.org/internal/authn"
	"carousel.org/internal/domain"
)

func (s *Store) CreateCredential(ctx context.Context, cred *authn.Credential) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into credentials (id, email, secret_hash)
		values ($1, $2, $3)
		returning created_at, updated_at
	`, cred.ID, cred.Email, cred.SecretHash)
	if err := row.Scan(&cred.CreatedAt, &cred.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) CredentialByEmail(ctx context.Context, email string) (*authn.Credential, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var cred authn.Credential
	err := s.db.QueryRowContext(ctx, `
		select id, email, secret_hash, created_at, updated_at
		from credentials
		where email = $1
	`, email).Scan(&cred.ID, &cred.Email, &cred.SecretHash, &cred.CreatedAt, &cred.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}
