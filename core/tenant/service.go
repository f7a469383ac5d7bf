package tenant

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

var (
	// errors
	ErrNotFound         = errors.New("school not found")
	ErrInactive         = errors.New("school deactivated")
	ErrRoutingKeyExists = errors.New("a school with this routing key already exists")
)

type (
	Repository interface {
		CheckRoutingKeyUniqueness(ctx context.Context, routingKey string) error
		CreateTenant(ctx context.Context, tnt Tenant) (Tenant, error)
		GetTenantByID(ctx context.Context, id string) (Tenant, error)
		GetTenantByRoutingKey(ctx context.Context, routingKey string) (Tenant, error)
		FilterTenants(ctx context.Context, filter QueryFilter) ([]Tenant, error)
		UpdateTenant(ctx context.Context, tnt Tenant, isActive *bool) (Tenant, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) checkUniqueness(ctx context.Context, routingKey string) error {
	if err := svc.repo.CheckRoutingKeyUniqueness(ctx, routingKey); err != nil {
		if errors.Cause(err) == ErrRoutingKeyExists {
			return core.NewValidationError(err, core.FieldError{Field: "routing_key", Error: err.Error()})
		}
		return err
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, nt NewTenant) (Tenant, error) {
	now := time.Now().UTC()
	tnt := Tenant{
		Name:       nt.Name,
		RoutingKey: nt.RoutingKey,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return svc.repo.CreateTenant(ctx, tnt)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Tenant, error) {
	return svc.repo.GetTenantByID(ctx, id)
}

func (svc *Service) GetByRoutingKey(ctx context.Context, key string) (Tenant, error) {
	return svc.repo.GetTenantByRoutingKey(ctx, core.CleanString(key, true /* lower */))
}

func (svc *Service) Filter(ctx context.Context, filter QueryFilter) ([]Tenant, error) {
	return svc.repo.FilterTenants(ctx, filter)
}

func (svc *Service) Update(ctx context.Context, id string, ut UpdateTenant) (Tenant, error) {
	orig, err := svc.repo.GetTenantByID(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	orig.Name = ut.Name
	orig.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateTenant(ctx, orig, ut.IsActive)
}

// Deactivate soft-deletes a tenant; tenants are never hard-deleted so the
// audit trail is preserved.
func (svc *Service) Deactivate(ctx context.Context, id string) error {
	orig, err := svc.repo.GetTenantByID(ctx, id)
	if err != nil {
		return err
	}
	isActive := false
	orig.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.UpdateTenant(ctx, orig, &isActive)
	return err
}
