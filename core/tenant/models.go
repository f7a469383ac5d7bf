package tenant

import (
	"context"
	"time"

	"github.com/trezcool/shule/core"
)

// Tenant is an isolated customer organization (a school). Its routing key
// is globally unique and immutable once assigned; tenants are only ever
// soft-deactivated so their audit trail survives.
type Tenant struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	RoutingKey string    `json:"routing_key"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"` // UTC
	UpdatedAt  time.Time `json:"updated_at"` // UTC
}

// NewTenant contains information needed to onboard a new Tenant.
type NewTenant struct {
	Name       string `json:"name" validate:"required"`
	RoutingKey string `json:"routing_key" validate:"required,min=2,routingkey"`
}

func (nt *NewTenant) Validate(ctx context.Context, svc *Service) error {
	nt.Name = core.CleanString(nt.Name)
	nt.RoutingKey = core.CleanString(nt.RoutingKey, true /* lower */)

	if err := core.Validate.Struct(nt); err != nil {
		return err
	}
	return svc.checkUniqueness(ctx, nt.RoutingKey)
}

// UpdateTenant defines what may be modified on an existing Tenant.
// The routing key deliberately cannot change.
type UpdateTenant struct {
	Name     string `json:"name"`
	IsActive *bool  `json:"is_active"`
}

func (ut *UpdateTenant) Validate(origTnt Tenant) error {
	name := core.CleanString(ut.Name)
	if name != "" {
		ut.Name = name
	} else {
		ut.Name = origTnt.Name
	}
	return core.Validate.Struct(ut)
}

type QueryFilter struct {
	Search   string `query:"search"`
	IsActive *bool  `query:"is_active"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
