package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/fee"
)

type feeRepository struct {
	db *DB
}

var _ fee.Repository = (*feeRepository)(nil) // interface compliance check

func NewFeeRepository(db *DB) *feeRepository {
	return &feeRepository{db: db}
}

func (repo *feeRepository) query(tenantID string) []fee.Fee {
	fees := make([]fee.Fee, 0, len(repo.db.fees))
	for _, f := range repo.db.fees {
		if f.TenantID == tenantID {
			fees = append(fees, *f)
		}
	}
	sort.Slice(fees, func(i, j int) bool { return fees[i].DueDate.Before(fees[j].DueDate) })
	return fees
}

func (repo *feeRepository) CreateFee(ctx context.Context, f fee.Fee) (fee.Fee, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	f.ID = uuid.New().String()
	repo.db.fees[f.ID] = &f
	return f, nil
}

func (repo *feeRepository) GetFeeByID(ctx context.Context, tenantID, id string) (fee.Fee, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if f, ok := repo.db.fees[id]; ok && f.TenantID == tenantID {
		return *f, nil
	}
	return fee.Fee{}, fee.ErrNotFound
}

func (repo *feeRepository) FilterFees(ctx context.Context, tenantID string, filter fee.QueryFilter, ordering []core.DBOrdering) ([]fee.Fee, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var fees []fee.Fee
	for _, f := range repo.query(tenantID) {
		if filter.StudentID != "" && f.StudentID != filter.StudentID {
			continue
		}
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		if !filter.DueFrom.IsZero() && f.DueDate.Before(filter.DueFrom) {
			continue
		}
		if !filter.DueTo.IsZero() && f.DueDate.After(filter.DueTo) {
			continue
		}
		fees = append(fees, f)
	}
	return fees, nil
}

func (repo *feeRepository) UpdateFee(ctx context.Context, f fee.Fee) (fee.Fee, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.fees[f.ID]
	if !ok || orig.TenantID != f.TenantID {
		return fee.Fee{}, fee.ErrNotFound
	}
	orig.Description = f.Description
	orig.AmountCents = f.AmountCents
	orig.PaidCents = f.PaidCents
	orig.Status = f.Status
	orig.DueDate = f.DueDate
	orig.UpdatedAt = f.UpdatedAt
	return *orig, nil
}

func (repo *feeRepository) DeleteFee(ctx context.Context, tenantID, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if f, ok := repo.db.fees[id]; ok && f.TenantID == tenantID {
		delete(repo.db.fees, id)
		return nil
	}
	return fee.ErrNotFound
}
