package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/authz"
	"github.com/trezcool/shule/core/user"
)

var errNoPermsToSetRoles = "not enough rights to set these roles"

type userApi struct {
	opts *Options
}

func registerUserAPI(g *echo.Group, authed echo.MiddlewareFunc, opts *Options) {
	api := userApi{opts: opts}

	ug := g.Group("/users", authed)

	ug.GET("/me", api.me)
	ug.GET("/roles", api.queryRoles, adminMiddleware())
	ug.POST("", api.create)
	ug.GET("", api.query)
	ug.GET("/:id", api.retrieve)
	ug.PUT("/:id", api.update)
	ug.DELETE("/:id", api.deactivate)
}

// authorize gates an operation on the user resource and audits the decision.
func (api *userApi) authorize(ctx echo.Context, action authz.Action, resID string, owners ...string) error {
	principal, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return err
	}
	tnt := getContextTenant(ctx)
	d := api.opts.Engine.Authorize(principal, action, authz.ResourceUser, tnt.ID, owners...)
	api.opts.Recorder.Decision(principal.ID, tnt.ID, action, authz.ResourceUser, resID, d)
	if !d.Allowed {
		return authz.ErrPermissionDenied
	}
	return nil
}

// Handlers

func (api *userApi) me(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, user.Roles)
}

func (api *userApi) create(ctx echo.Context) error {
	if err := api.authorize(ctx, authz.ActionCreate, ""); err != nil {
		return err
	}

	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	tnt := getContextTenant(ctx)
	if err := data.Validate(ctx.Request().Context(), api.opts.UserSvc, tnt.ID); err != nil {
		return err
	}

	// ctxUser cannot set a role > their own max role
	ctxUsr, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if user.MaxRolePriority(data.Roles) > user.MaxRolePriority(ctxUsr.Roles) {
		return core.NewValidationError(nil, core.FieldError{Field: "roles", Error: errNoPermsToSetRoles})
	}

	usr, err := api.opts.UserSvc.Create(ctx.Request().Context(), tnt.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}
	return ctx.JSON(http.StatusCreated, usr)
}

func (api *userApi) query(ctx echo.Context) error {
	if err := api.authorize(ctx, authz.ActionRead, ""); err != nil {
		return err
	}

	filter := new(user.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []user.User{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	tnt := getContextTenant(ctx)
	users, err := api.opts.UserSvc.Filter(ctx.Request().Context(), tnt.ID, *filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	if users == nil {
		users = []user.User{}
	}
	return ctx.JSON(http.StatusOK, users)
}

func (api *userApi) retrieve(ctx echo.Context) error {
	tnt := getContextTenant(ctx)
	usr, err := api.opts.UserSvc.GetByID(ctx.Request().Context(), tnt.ID, ctx.Param("id"))
	if err != nil {
		return err
	}
	if err = api.authorize(ctx, authz.ActionRead, usr.ID, usr.ID); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) update(ctx echo.Context) error {
	tnt := getContextTenant(ctx)
	orig, err := api.opts.UserSvc.GetByID(ctx.Request().Context(), tnt.ID, ctx.Param("id"))
	if err != nil {
		return err
	}
	if err = api.authorize(ctx, authz.ActionUpdate, orig.ID); err != nil {
		return err
	}

	var data user.UpdateUser
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateUser")
	}
	if err = data.Validate(ctx.Request().Context(), orig, api.opts.UserSvc); err != nil {
		return err
	}

	// ctxUser cannot set a role > their own max role
	ctxUsr, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if user.MaxRolePriority(data.Roles) > user.MaxRolePriority(ctxUsr.Roles) {
		return core.NewValidationError(nil, core.FieldError{Field: "roles", Error: errNoPermsToSetRoles})
	}

	usr, err := api.opts.UserSvc.Update(ctx.Request().Context(), tnt.ID, orig.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) deactivate(ctx echo.Context) error {
	tnt := getContextTenant(ctx)
	usr, err := api.opts.UserSvc.GetByID(ctx.Request().Context(), tnt.ID, ctx.Param("id"))
	if err != nil {
		return err
	}
	if err = api.authorize(ctx, authz.ActionDelete, usr.ID); err != nil {
		return err
	}

	// Say No to Suicide! ctxUser cannot deactivate themselves
	ctxUsr, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if usr.ID == ctxUsr.ID {
		return errHttpForbidden
	}

	if err = api.opts.UserSvc.Deactivate(ctx.Request().Context(), tnt.ID, usr.ID); err != nil {
		return errors.Wrap(err, "deactivating user")
	}
	return ctx.NoContent(http.StatusNoContent)
}
