package echoapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/session"
	"github.com/trezcool/shule/core/tenant"
	"github.com/trezcool/shule/core/user"
)

const (
	contextTenantKey  = "tenant"
	contextClaimsKey  = "claims"
	contextSessionKey = "session"
	contextUserKey    = "user"
)

// tenantMiddleware resolves the request host to a tenant and stores it in
// the request context. An unresolvable or deactivated tenant is a plain
// 404: the platform does not reveal which schools exist.
func tenantMiddleware(resolver *tenant.Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			tnt, err := resolver.Resolve(ctx.Request().Context(), ctx.Request().Host)
			if err != nil {
				switch errors.Cause(err) {
				case tenant.ErrNotFound, tenant.ErrInactive:
					return errHttpNotFound
				}
				return errors.Wrap(err, "resolving tenant")
			}

			ctx.Set(contextTenantKey, tnt)
			ctx.SetRequest(ctx.Request().WithContext(tenant.NewContext(ctx.Request().Context(), tnt)))
			return next(ctx)
		}
	}
}

// sessionMiddleware authenticates the request from its bearer token and
// re-checks that the session's tenant matches the one the host resolved to.
func sessionMiddleware(svc *session.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			token, err := bearerToken(ctx)
			if err != nil {
				return err
			}

			tnt := getContextTenant(ctx)
			s, claims, err := svc.Validate(ctx.Request().Context(), token, tnt.ID)
			if err != nil {
				switch errors.Cause(err) {
				case session.ErrExpired, session.ErrRevoked, session.ErrInvalidToken, session.ErrTenantMismatch:
					return errUnauthorized
				}
				return errors.Wrap(err, "validating session")
			}

			ctx.Set(contextSessionKey, s)
			ctx.Set(contextClaimsKey, claims)
			return next(ctx)
		}
	}
}

func bearerToken(ctx echo.Context) (string, error) {
	auth := ctx.Request().Header.Get(echo.HeaderAuthorization)
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", errUnauthorized
	}
	return auth[len(prefix):], nil
}

// adminMiddleware restricts a route to school admins (and operators).
func adminMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin || claims.IsOperator {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

func getContextTenant(ctx echo.Context) tenant.Tenant {
	if tnt, ok := ctx.Get(contextTenantKey).(tenant.Tenant); ok {
		return tnt
	}
	return tenant.Tenant{}
}

func getContextClaims(ctx echo.Context) (session.Claims, error) {
	if claims, ok := ctx.Get(contextClaimsKey).(session.Claims); ok {
		return claims, nil
	}
	return session.Claims{}, errUnauthorized
}

func getContextSession(ctx echo.Context) (session.Session, error) {
	if s, ok := ctx.Get(contextSessionKey).(session.Session); ok {
		return s, nil
	}
	return session.Session{}, errUnauthorized
}

// getContextUser loads the authenticated principal, caching it on the
// request. Operators are loaded from the platform scope.
func getContextUser(ctx echo.Context, svc *user.Service) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return user.User{}, err
	}

	usr, err := svc.GetByID(ctx.Request().Context(), claims.TenantID, claims.Subject)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return user.User{}, errUnauthorized
		}
		return user.User{}, errors.Wrap(err, "finding user by ID")
	}
	if !usr.IsActive {
		return user.User{}, echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	}
	ctx.Set(contextUserKey, usr)
	return usr, nil
}
