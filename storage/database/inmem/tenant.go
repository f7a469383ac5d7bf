package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/shule/core/tenant"
)

type tenantRepository struct {
	db *DB
}

var _ tenant.Repository = (*tenantRepository)(nil) // interface compliance check

func NewTenantRepository(db *DB) *tenantRepository {
	return &tenantRepository{db: db}
}

func (repo *tenantRepository) query() []tenant.Tenant {
	tenants := make([]tenant.Tenant, 0, len(repo.db.tenants))
	for _, tnt := range repo.db.tenants {
		tenants = append(tenants, *tnt)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].CreatedAt.After(tenants[j].CreatedAt) })
	return tenants
}

func (repo *tenantRepository) CheckRoutingKeyUniqueness(ctx context.Context, routingKey string) error {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, tnt := range repo.db.tenants {
		if tnt.RoutingKey == routingKey {
			return tenant.ErrRoutingKeyExists
		}
	}
	return nil
}

func (repo *tenantRepository) CreateTenant(ctx context.Context, tnt tenant.Tenant) (tenant.Tenant, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	tnt.ID = uuid.New().String()
	repo.db.tenants[tnt.ID] = &tnt
	return tnt, nil
}

func (repo *tenantRepository) GetTenantByID(ctx context.Context, id string) (tenant.Tenant, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if tnt, ok := repo.db.tenants[id]; ok {
		return *tnt, nil
	}
	return tenant.Tenant{}, tenant.ErrNotFound
}

func (repo *tenantRepository) GetTenantByRoutingKey(ctx context.Context, routingKey string) (tenant.Tenant, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, tnt := range repo.db.tenants {
		if tnt.RoutingKey == routingKey {
			return *tnt, nil
		}
	}
	return tenant.Tenant{}, tenant.ErrNotFound
}

func (repo *tenantRepository) FilterTenants(ctx context.Context, filter tenant.QueryFilter) ([]tenant.Tenant, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var tenants []tenant.Tenant
	search := strings.ToLower(filter.Search)
	for _, tnt := range repo.query() {
		if search != "" &&
			!strings.Contains(strings.ToLower(tnt.Name), search) &&
			!strings.Contains(tnt.RoutingKey, search) {
			continue
		}
		if filter.IsActive != nil && tnt.IsActive != *filter.IsActive {
			continue
		}
		tenants = append(tenants, tnt)
	}
	return tenants, nil
}

func (repo *tenantRepository) UpdateTenant(ctx context.Context, tnt tenant.Tenant, isActive *bool) (tenant.Tenant, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.tenants[tnt.ID]
	if !ok {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	orig.Name = tnt.Name
	orig.UpdatedAt = tnt.UpdatedAt
	if isActive != nil {
		orig.IsActive = *isActive
	}
	return *orig, nil
}
