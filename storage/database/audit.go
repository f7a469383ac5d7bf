package database

import (
	"context"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core/audit"
)

// auditRepository appends to the audit trail. The table is write-only from
// the application; reads happen through operator tooling.
type auditRepository struct {
	gw *Gateway
}

var _ audit.Repository = (*auditRepository)(nil) // interface compliance check

func NewAuditRepository(gw *Gateway) *auditRepository {
	return &auditRepository{gw: gw}
}

func (repo auditRepository) AppendAuditRecord(ctx context.Context, rec audit.Record) error {
	err := repo.gw.Insert(ctx, rec.TenantID, "audit_records", map[string]interface{}{
		"id":           rec.ID,
		"principal_id": null.NewString(rec.PrincipalID, rec.PrincipalID != ""),
		"action":       rec.Action,
		"resource":     rec.Resource,
		"resource_id":  null.NewString(rec.ResourceID, rec.ResourceID != ""),
		"allowed":      rec.Allowed,
		"reason":       string(rec.Reason),
		"created_at":   rec.CreatedAt,
	})
	return errors.Wrap(err, "inserting audit record")
}
