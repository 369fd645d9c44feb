package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"carousel.org/internal/access"
	"carousel.org/internal/domain"
	"carousel.org/internal/identity"
)

// Email uniqueness spans both tables: a provisional registration is refused
// while a confirmed account holds the email, and vice versa. The insert-where-
// not-exists guard covers the cross-table half; the per-table unique indexes
// cover the rest.

func (s *Store) CreateProvisional(ctx context.Context, p *identity.Provisional) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		insert into provisional_accounts
			(id, first_name, last_name, email, secret, requested_level, verification_token, email_verified, created_at, updated_at)
		select $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		where not exists (select 1 from accounts where email = $4)
	`, p.ID, p.FirstName, p.LastName, p.Email, p.Secret, int(p.RequestedLevel), p.VerificationToken, p.EmailVerified, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return domain.ErrConflict
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (s *Store) ProvisionalByID(ctx context.Context, id string) (*identity.Provisional, error) {
	return s.provisionalBy(ctx, `id = $1`, id)
}

func (s *Store) ProvisionalByToken(ctx context.Context, token string) (*identity.Provisional, error) {
	return s.provisionalBy(ctx, `verification_token = $1`, token)
}

func (s *Store) provisionalBy(ctx context.Context, where string, arg any) (*identity.Provisional, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		p     identity.Provisional
		level int
	)
	err := s.db.QueryRowContext(ctx, `
		select id, first_name, last_name, email, coalesce(secret,''), requested_level,
		       coalesce(verification_token,''), email_verified, created_at, updated_at
		from provisional_accounts
		where `+where, arg).Scan(
		&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.Secret, &level,
		&p.VerificationToken, &p.EmailVerified, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.RequestedLevel = access.Level(level)
	return &p, nil
}

func (s *Store) ListVerifiedProvisionals(ctx context.Context) ([]identity.Provisional, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, first_name, last_name, email, coalesce(secret,''), requested_level,
		       coalesce(verification_token,''), email_verified, created_at, updated_at
		from provisional_accounts
		where email_verified
		order by created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []identity.Provisional
	for rows.Next() {
		var (
			p     identity.Provisional
			level int
		)
		if err := rows.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.Secret, &level,
			&p.VerificationToken, &p.EmailVerified, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.RequestedLevel = access.Level(level)
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) SetProvisionalVerified(ctx context.Context, id string, at time.Time) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update provisional_accounts
		set email_verified = true, updated_at = $2
		where id = $1
	`, id, at)
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

// PromoteProvisional runs the promotion handoff in one transaction. The
// opening update locks the provisional row, so concurrent promoters
// serialize; the loser sees zero rows and reports domain.ErrNotFound, which
// callers read as "already promoted".
func (s *Store) PromoteProvisional(ctx context.Context, acct *identity.Account, provisionalID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update provisional_accounts set secret = null, updated_at = now()
		where id = $1
	`, provisionalID)
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

	if _, err := tx.ExecContext(ctx, `
		insert into accounts
			(id, first_name, last_name, email, access_level, email_verified, verification_token, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, acct.ID, acct.FirstName, acct.LastName, acct.Email, int(acct.Level), acct.EmailVerified, nullIfEmpty(acct.VerificationToken), acct.CreatedAt, acct.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return domain.ErrConflict
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from provisional_accounts where id = $1`, provisionalID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateAccount(ctx context.Context, acct *identity.Account) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		insert into accounts
			(id, first_name, last_name, email, access_level, email_verified, verification_token, created_at, updated_at)
		select $1, $2, $3, $4, $5, $6, $7, $8, $9
		where not exists (select 1 from provisional_accounts where email = $4)
	`, acct.ID, acct.FirstName, acct.LastName, acct.Email, int(acct.Level), acct.EmailVerified, nullIfEmpty(acct.VerificationToken), acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return domain.ErrConflict
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (s *Store) AccountByID(ctx context.Context, id string) (*identity.Account, error) {
	return s.accountBy(ctx, `id = $1`, id)
}

func (s *Store) AccountByEmail(ctx context.Context, email string) (*identity.Account, error) {
	return s.accountBy(ctx, `email = $1`, email)
}

func (s *Store) accountBy(ctx context.Context, where string, arg any) (*identity.Account, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		a     identity.Account
		level int
	)
	err := s.db.QueryRowContext(ctx, `
		select id, first_name, last_name, email, access_level, email_verified,
		       coalesce(verification_token,''), created_at, updated_at
		from accounts
		where `+where, arg).Scan(
		&a.ID, &a.FirstName, &a.LastName, &a.Email, &level, &a.EmailVerified,
		&a.VerificationToken, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Level = access.Level(level)
	return &a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]identity.Account, error) {
	return s.listAccounts(ctx, `
		select id, first_name, last_name, email, access_level, email_verified,
		       coalesce(verification_token,''), created_at, updated_at
		from accounts
		order by email
	`)
}

func (s *Store) ListAccountsAtOrAbove(ctx context.Context, level access.Level) ([]identity.Account, error) {
	return s.listAccounts(ctx, `
		select id, first_name, last_name, email, access_level, email_verified,
		       coalesce(verification_token,''), created_at, updated_at
		from accounts
		where access_level >= $1
		order by email
	`, int(level))
}

func (s *Store) listAccounts(ctx context.Context, query string, args ...any) ([]identity.Account, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []identity.Account
	for rows.Next() {
		var (
			a     identity.Account
			level int
		)
		if err := rows.Scan(&a.ID, &a.FirstName, &a.LastName, &a.Email, &level, &a.EmailVerified,
			&a.VerificationToken, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Level = access.Level(level)
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateAccount(ctx context.Context, acct *identity.Account) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update accounts
		set first_name = $2, last_name = $3, access_level = $4, email_verified = $5, updated_at = $6
		where id = $1
	`, acct.ID, acct.FirstName, acct.LastName, int(acct.Level), acct.EmailVerified, acct.UpdatedAt)
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

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from accounts where id = $1`, id)
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

func nullIfEmpty(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
