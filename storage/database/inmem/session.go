package inmemdb

import (
	"context"

	"github.com/trezcool/shule/core/session"
)

type sessionRepository struct {
	db *DB
}

var _ session.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *DB) *sessionRepository {
	return &sessionRepository{db: db}
}

func (repo *sessionRepository) CreateSession(ctx context.Context, s session.Session) (session.Session, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.sessions[s.ID] = &s
	return s, nil
}

func (repo *sessionRepository) GetSessionByID(ctx context.Context, id string) (session.Session, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if s, ok := repo.db.sessions[id]; ok {
		return *s, nil
	}
	return session.Session{}, session.ErrNotFound
}

func (repo *sessionRepository) UpdateSession(ctx context.Context, s session.Session) (session.Session, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.sessions[s.ID]
	if !ok || orig.Revoked {
		return session.Session{}, session.ErrNotFound
	}
	orig.IssuedAt = s.IssuedAt
	orig.ExpiresAt = s.ExpiresAt
	return *orig, nil
}

func (repo *sessionRepository) RevokeSession(ctx context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if s, ok := repo.db.sessions[id]; ok {
		s.Revoked = true
	}
	return nil // unknown session: revocation is idempotent
}
