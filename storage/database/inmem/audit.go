package inmemdb

import (
	"context"

	"github.com/trezcool/shule/core/audit"
)

type auditRepository struct {
	db *DB
}

var _ audit.Repository = (*auditRepository)(nil) // interface compliance check

func NewAuditRepository(db *DB) *auditRepository {
	return &auditRepository{db: db}
}

func (repo *auditRepository) AppendAuditRecord(ctx context.Context, rec audit.Record) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.records = append(repo.db.records, rec)
	return nil
}

// Records returns a snapshot of the appended records, newest last.
func (repo *auditRepository) Records() []audit.Record {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	return append([]audit.Record(nil), repo.db.records...)
}
