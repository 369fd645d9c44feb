package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"carousel.org/internal/access"
	"carousel.org/internal/approval"
	"carousel.org/internal/domain"
)

// A partial unique index on (target_account_id) where not approved backs the
// single-pending-upgrade rule, so the conflict is caught here regardless of
// how many processes race.

func (s *Store) CreateRequest(ctx context.Context, r *approval.Request) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into approvals
			(id, request_type, subject_id, target_account_id, email, first_name, last_name,
			 requested_level, approved, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.ID, string(r.Type), nullIfEmpty(r.SubjectID), nullIfEmpty(r.TargetAccountID),
		r.Email, r.FirstName, r.LastName, int(r.RequestedLevel), r.Approved, r.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) RequestByID(ctx context.Context, id string) (*approval.Request, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select id, request_type, coalesce(subject_id,''), coalesce(target_account_id,''),
		       email, first_name, last_name, requested_level, approved,
		       coalesce(approved_by,''), created_at, approved_at
		from approvals
		where id = $1
	`, id)
	req, err := scanApproval(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Store) ListPendingRequests(ctx context.Context) ([]approval.Request, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, request_type, coalesce(subject_id,''), coalesce(target_account_id,''),
		       email, first_name, last_name, requested_level, approved,
		       coalesce(approved_by,''), created_at, approved_at
		from approvals
		where not approved
		order by created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []approval.Request
	for rows.Next() {
		req, err := scanApproval(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkApproved settles the request only while it is still pending; a request
// already settled reports domain.ErrConflict so a second approver never
// re-dispatches the effect.
func (s *Store) MarkApproved(ctx context.Context, id, approvedBy string, at time.Time) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update approvals
		set approved = true, approved_by = $2, approved_at = $3
		where id = $1 and not approved
	`, id, approvedBy, at)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `select 1 from approvals where id = $1`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		return domain.ErrConflict
	}
	return nil
}

func scanApproval(scan func(dest ...any) error) (*approval.Request, error) {
	var (
		req        approval.Request
		reqType    string
		level      int
		approvedAt sql.NullTime
	)
	if err := scan(&req.ID, &reqType, &req.SubjectID, &req.TargetAccountID,
		&req.Email, &req.FirstName, &req.LastName, &level, &req.Approved,
		&req.ApprovedBy, &req.CreatedAt, &approvedAt); err != nil {
		return nil, err
	}
	req.Type = approval.RequestType(reqType)
	req.RequestedLevel = access.Level(level)
	if approvedAt.Valid {
		t := approvedAt.Time
		req.ApprovedAt = &t
	}
	return &req, nil
}
