package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core/session"
)

type sessionRow struct {
	ID           string      `db:"id"`
	UserID       string      `db:"user_id"`
	TenantID     null.String `db:"tenant_id"`
	IssuedAt     time.Time   `db:"issued_at"`
	OrigIssuedAt time.Time   `db:"orig_issued_at"`
	ExpiresAt    time.Time   `db:"expires_at"`
	Revoked      bool        `db:"revoked"`
}

func (r sessionRow) toSession() session.Session {
	return session.Session{
		ID:           r.ID,
		UserID:       r.UserID,
		TenantID:     r.TenantID.String,
		IssuedAt:     r.IssuedAt,
		OrigIssuedAt: r.OrigIssuedAt,
		ExpiresAt:    r.ExpiresAt,
		Revoked:      r.Revoked,
	}
}

// sessionRepository stores the session revocation state. Sessions are
// looked up by their token ID on every request; tenant binding is enforced
// upstream against the token claims.
type sessionRepository struct {
	gw *Gateway
}

var _ session.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(gw *Gateway) *sessionRepository {
	return &sessionRepository{gw: gw}
}

func (repo sessionRepository) CreateSession(ctx context.Context, s session.Session) (session.Session, error) {
	err := repo.gw.Insert(ctx, s.TenantID, "sessions", map[string]interface{}{
		"id":             s.ID,
		"user_id":        s.UserID,
		"issued_at":      s.IssuedAt,
		"orig_issued_at": s.OrigIssuedAt,
		"expires_at":     s.ExpiresAt,
		"revoked":        s.Revoked,
	})
	if err != nil {
		return session.Session{}, errors.Wrap(err, "inserting session")
	}
	return s, nil
}

func (repo sessionRepository) GetSessionByID(ctx context.Context, id string) (session.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return session.Session{}, session.ErrNotFound
	}
	db := repo.gw.DB()
	var row sessionRow
	q := db.Rebind("SELECT * FROM sessions WHERE id = ?")
	if err := db.GetContext(ctx, &row, q, id); err != nil {
		if err == sql.ErrNoRows {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, errors.Wrap(err, "finding session by ID")
	}
	return row.toSession(), nil
}

func (repo sessionRepository) UpdateSession(ctx context.Context, s session.Session) (session.Session, error) {
	db := repo.gw.DB()
	q := db.Rebind("UPDATE sessions SET issued_at = ?, expires_at = ? WHERE id = ? AND NOT revoked")
	res, err := db.ExecContext(ctx, q, s.IssuedAt, s.ExpiresAt, s.ID)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "updating session")
	}
	if err = trapZeroRows(res); err != nil {
		return session.Session{}, session.ErrNotFound
	}
	return s, nil
}

func (repo sessionRepository) RevokeSession(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil // unknown session: revocation is idempotent
	}
	db := repo.gw.DB()
	q := db.Rebind("UPDATE sessions SET revoked = TRUE WHERE id = ?")
	if _, err := db.ExecContext(ctx, q, id); err != nil {
		return errors.Wrap(err, "revoking session")
	}
	return nil
}
