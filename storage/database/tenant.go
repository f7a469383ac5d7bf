package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/tenant"
)

type tenantRow struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	RoutingKey string    `db:"routing_key"`
	IsActive   bool      `db:"is_active"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r tenantRow) toTenant() tenant.Tenant {
	return tenant.Tenant{
		ID:         r.ID,
		Name:       r.Name,
		RoutingKey: r.RoutingKey,
		IsActive:   r.IsActive,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// tenantRepository reads the tenants table through the raw handle: the
// table is the root of the tenancy model and has no scope of its own.
type tenantRepository struct {
	gw *Gateway
}

var _ tenant.Repository = (*tenantRepository)(nil) // interface compliance check

func NewTenantRepository(gw *Gateway) *tenantRepository {
	return &tenantRepository{gw: gw}
}

// trapNoRowsErr maps psql "no rows" err to tenant.ErrNotFound
func (repo tenantRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return tenant.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo tenantRepository) CheckRoutingKeyUniqueness(ctx context.Context, routingKey string) error {
	db := repo.gw.DB()
	var exists bool
	q := db.Rebind("SELECT EXISTS (SELECT 1 FROM tenants WHERE routing_key = ?)")
	if err := db.GetContext(ctx, &exists, q, routingKey); err != nil {
		return errors.Wrap(err, "checking routing key uniqueness")
	}
	if exists {
		return tenant.ErrRoutingKeyExists
	}
	return nil
}

func (repo tenantRepository) CreateTenant(ctx context.Context, tnt tenant.Tenant) (tenant.Tenant, error) {
	tnt.ID = uuid.New().String()
	db := repo.gw.DB()
	q := db.Rebind(`INSERT INTO tenants (id, name, routing_key, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := db.ExecContext(ctx, q, tnt.ID, tnt.Name, tnt.RoutingKey, tnt.IsActive, tnt.CreatedAt, tnt.UpdatedAt); err != nil {
		return tenant.Tenant{}, errors.Wrap(err, "inserting tenant")
	}
	return tnt, nil
}

func (repo tenantRepository) GetTenantByID(ctx context.Context, id string) (tenant.Tenant, error) {
	if _, err := uuid.Parse(id); err != nil {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	db := repo.gw.DB()
	var row tenantRow
	q := db.Rebind("SELECT * FROM tenants WHERE id = ?")
	if err := db.GetContext(ctx, &row, q, id); err != nil {
		return tenant.Tenant{}, repo.trapNoRowsErr(err, "finding tenant by ID")
	}
	return row.toTenant(), nil
}

func (repo tenantRepository) GetTenantByRoutingKey(ctx context.Context, routingKey string) (tenant.Tenant, error) {
	db := repo.gw.DB()
	var row tenantRow
	q := db.Rebind("SELECT * FROM tenants WHERE routing_key = ?")
	if err := db.GetContext(ctx, &row, q, routingKey); err != nil {
		return tenant.Tenant{}, repo.trapNoRowsErr(err, "finding tenant by routing key")
	}
	return row.toTenant(), nil
}

func (repo tenantRepository) FilterTenants(ctx context.Context, filter tenant.QueryFilter) ([]tenant.Tenant, error) {
	db := repo.gw.DB()
	q := "SELECT * FROM tenants"
	var (
		preds []string
		args  []interface{}
	)
	if filter.Search != "" {
		preds = append(preds, "(name ILIKE ? OR routing_key ILIKE ?)")
		val := "%" + filter.Search + "%"
		args = append(args, val, val)
	}
	if filter.IsActive != nil {
		preds = append(preds, "is_active = ?")
		args = append(args, *filter.IsActive)
	}
	for i, pred := range preds {
		if i == 0 {
			q += " WHERE " + pred
		} else {
			q += " AND " + pred
		}
	}
	q += " ORDER BY created_at DESC"

	var rows []tenantRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying tenants")
	}
	tenants := make([]tenant.Tenant, 0, len(rows))
	for _, row := range rows {
		tenants = append(tenants, row.toTenant())
	}
	return tenants, nil
}

func (repo tenantRepository) UpdateTenant(ctx context.Context, tnt tenant.Tenant, isActive *bool) (tenant.Tenant, error) {
	db := repo.gw.DB()
	if isActive != nil {
		tnt.IsActive = *isActive
	}
	q := db.Rebind("UPDATE tenants SET name = ?, is_active = ?, updated_at = ? WHERE id = ?")
	res, err := db.ExecContext(ctx, q, tnt.Name, tnt.IsActive, tnt.UpdatedAt, tnt.ID)
	if err != nil {
		return tenant.Tenant{}, errors.Wrap(err, "updating tenant")
	}
	if err = trapZeroRows(res); err != nil {
		return tenant.Tenant{}, repo.trapNoRowsErr(err, "updating tenant")
	}
	return tnt, nil
}
