package database

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

// ErrMissingTenant is returned when a tenant-scoped query is attempted
// without a resolved tenant. The gateway fails closed rather than widening
// to an unscoped query.
var ErrMissingTenant = errors.New("query requires a tenant scope")

const (
	maxStatementAttempts  = 3
	statementRetryBackoff = 50 * time.Millisecond
)

// Gateway is the single path to tenant-owned tables. Every statement it
// produces carries a tenant predicate injected from the resolved tenant,
// never from caller-assembled SQL; repositories cannot forget it.
//
// Cross-tenant reads do not exist at this layer: a write that matches no
// row inside the scope reports sql.ErrNoRows, indistinguishable from the
// row not existing at all.
type Gateway struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewGateway(db *sql.DB, conf *core.Config) *Gateway {
	return &Gateway{
		db:      sqlx.NewDb(db, conf.Database.Engine),
		timeout: conf.Database.Timeout,
	}
}

// DB exposes the underlying handle for tables that are not tenant-owned
// (tenants, sessions, audit records).
func (g *Gateway) DB() *sqlx.DB { return g.db }

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.timeout)
}

// run executes op with a statement timeout, retrying serialization failures
// and deadlocks a bounded number of times. Retries live here only; callers
// above the gateway see a single outcome.
func (g *Gateway) run(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < maxStatementAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(statementRetryBackoff << attempt):
			}
		}

		opCtx, cancel := g.withTimeout(ctx)
		err = op(opCtx)
		cancel()
		if !isTransient(err) {
			return err
		}
	}
	return err
}

func isTransient(err error) bool {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
	}
	return false
}

// scopePredicate returns the tenant predicate and its argument. An empty
// tenantID means the platform scope and matches operator rows only.
func scopePredicate(tenantID string) (string, []interface{}) {
	if tenantID == "" {
		return "tenant_id IS NULL", nil
	}
	return "tenant_id = ?", []interface{}{tenantID}
}

func buildWhere(tenantID, where string) (string, []interface{}) {
	pred, args := scopePredicate(tenantID)
	if where != "" {
		pred += " AND (" + where + ")"
	}
	return pred, args
}

// Select runs a scoped multi-row query into dest.
func (g *Gateway) Select(ctx context.Context, dest interface{}, tenantID, table, columns, where, orderBy string, args ...interface{}) error {
	pred, scopeArgs := buildWhere(tenantID, where)
	q := "SELECT " + columns + " FROM " + table + " WHERE " + pred
	if orderBy != "" {
		q += " ORDER BY " + orderBy
	}

	return g.run(ctx, func(ctx context.Context) error {
		return g.db.SelectContext(ctx, dest, g.db.Rebind(q), append(scopeArgs, args...)...)
	})
}

// Get runs a scoped single-row query into dest; sql.ErrNoRows passes
// through for the caller to map to its domain not-found error.
func (g *Gateway) Get(ctx context.Context, dest interface{}, tenantID, table, columns, where string, args ...interface{}) error {
	pred, scopeArgs := buildWhere(tenantID, where)
	q := "SELECT " + columns + " FROM " + table + " WHERE " + pred

	return g.run(ctx, func(ctx context.Context) error {
		return g.db.GetContext(ctx, dest, g.db.Rebind(q), append(scopeArgs, args...)...)
	})
}

// Exists reports whether any row matches within the scope.
func (g *Gateway) Exists(ctx context.Context, tenantID, table, where string, args ...interface{}) (bool, error) {
	pred, scopeArgs := buildWhere(tenantID, where)
	q := "SELECT EXISTS (SELECT 1 FROM " + table + " WHERE " + pred + ")"

	var exists bool
	err := g.run(ctx, func(ctx context.Context) error {
		return g.db.GetContext(ctx, &exists, g.db.Rebind(q), append(scopeArgs, args...)...)
	})
	return exists, err
}

// Insert writes a new row stamped with the resolved tenant. Any tenant_id
// in values is ignored so client input can never pick the tenant; the
// caller's map is left untouched. Inserting into the platform scope
// requires no tenant and stores NULL.
func (g *Gateway) Insert(ctx context.Context, tenantID, table string, values map[string]interface{}) error {
	cols := make([]string, 0, len(values)+1)
	for col := range values {
		if col == "tenant_id" {
			continue
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	args := make([]interface{}, 0, len(values)+1)
	for _, col := range cols {
		args = append(args, values[col])
	}
	cols = append(cols, "tenant_id")
	if tenantID == "" {
		args = append(args, nil)
	} else {
		args = append(args, tenantID)
	}

	q := "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"

	return g.run(ctx, func(ctx context.Context) error {
		_, err := g.db.ExecContext(ctx, g.db.Rebind(q), args...)
		return err
	})
}

// Update applies set to scoped rows matching where. Updating zero rows
// returns sql.ErrNoRows: within a scope, "exists elsewhere" and "does not
// exist" must be the same answer.
func (g *Gateway) Update(ctx context.Context, tenantID, table string, set map[string]interface{}, where string, args ...interface{}) error {
	if tenantID == "" {
		return ErrMissingTenant
	}

	cols := make([]string, 0, len(set))
	for col := range set {
		if col == "tenant_id" { // scope is immutable
			continue
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	assigns := make([]string, 0, len(cols))
	setArgs := make([]interface{}, 0, len(cols))
	for _, col := range cols {
		assigns = append(assigns, col+" = ?")
		setArgs = append(setArgs, set[col])
	}

	pred, scopeArgs := buildWhere(tenantID, where)
	q := "UPDATE " + table + " SET " + strings.Join(assigns, ", ") + " WHERE " + pred
	allArgs := append(setArgs, append(scopeArgs, args...)...)

	return g.run(ctx, func(ctx context.Context) error {
		res, err := g.db.ExecContext(ctx, g.db.Rebind(q), allArgs...)
		if err != nil {
			return err
		}
		return trapZeroRows(res)
	})
}

// UpdatePlatform applies set to platform-scope rows (tenant_id IS NULL);
// operator accounts live there. Kept separate from Update so a missing
// tenant can never silently widen a school-scoped write.
func (g *Gateway) UpdatePlatform(ctx context.Context, table string, set map[string]interface{}, where string, args ...interface{}) error {
	cols := make([]string, 0, len(set))
	for col := range set {
		if col == "tenant_id" { // scope is immutable
			continue
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	assigns := make([]string, 0, len(cols))
	setArgs := make([]interface{}, 0, len(cols))
	for _, col := range cols {
		assigns = append(assigns, col+" = ?")
		setArgs = append(setArgs, set[col])
	}

	pred, _ := buildWhere("", where)
	q := "UPDATE " + table + " SET " + strings.Join(assigns, ", ") + " WHERE " + pred

	return g.run(ctx, func(ctx context.Context) error {
		res, err := g.db.ExecContext(ctx, g.db.Rebind(q), append(setArgs, args...)...)
		if err != nil {
			return err
		}
		return trapZeroRows(res)
	})
}

// Delete removes scoped rows matching where; zero rows returns sql.ErrNoRows.
func (g *Gateway) Delete(ctx context.Context, tenantID, table, where string, args ...interface{}) error {
	if tenantID == "" {
		return ErrMissingTenant
	}
	pred, scopeArgs := buildWhere(tenantID, where)
	q := "DELETE FROM " + table + " WHERE " + pred

	return g.run(ctx, func(ctx context.Context) error {
		res, err := g.db.ExecContext(ctx, g.db.Rebind(q), append(scopeArgs, args...)...)
		if err != nil {
			return err
		}
		return trapZeroRows(res)
	})
}

func trapZeroRows(res sql.Result) error {
	cnt, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "checking affected rows")
	}
	if cnt == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// OrderBy renders an ordering list for interpolation into a query.
func OrderBy(ordering []core.DBOrdering) string {
	if len(ordering) == 0 {
		return ""
	}
	parts := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		parts = append(parts, ord.String())
	}
	return strings.Join(parts, ", ")
}
