package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/student"
)

type studentApi struct {
	opts *Options
}

func registerStudentAPI(g *echo.Group, authed echo.MiddlewareFunc, opts *Options) {
	api := studentApi{opts: opts}

	sg := g.Group("/students", authed)

	sg.POST("", api.create)
	sg.GET("", api.query)
	sg.GET("/:id", api.retrieve)
	sg.PUT("/:id", api.update)
	sg.DELETE("/:id", api.destroy)
}

// Handlers

func (api *studentApi) create(ctx echo.Context) error {
	var data student.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	if err := data.Validate(ctx.Request().Context()); err != nil {
		return err
	}

	principal, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return err
	}
	tnt := getContextTenant(ctx)
	s, err := api.opts.StudentSvc.Create(ctx.Request().Context(), principal, tnt.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating student")
	}
	return ctx.JSON(http.StatusCreated, s)
}

func (api *studentApi) query(ctx echo.Context) error {
	filter := new(student.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []student.Student{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	principal, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return err
	}
	tnt := getContextTenant(ctx)
	students, err := api.opts.StudentSvc.Filter(ctx.Request().Context(), principal, tnt.ID, *filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	if students == nil {
		students = []student.Student{}
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *studentApi) retrieve(ctx echo.Context) error {
	principal, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return err
	}
	tnt := getContextTenant(ctx)
	s, err := api.opts.StudentSvc.GetByID(ctx.Request().Context(), principal, tnt.ID, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *studentApi) update(ctx echo.Context) error {
	var data student.UpdateStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStudent")
	}
	if err := data.Validate(ctx.Request().Context()); err != nil {
		return err
	}

	principal, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return err
	}
	tnt := getContextTenant(ctx)
	s, err := api.opts.StudentSvc.Update(ctx.Request().Context(), principal, tnt.ID, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating student")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *studentApi) destroy(ctx echo.Context) error {
	principal, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return err
	}
	tnt := getContextTenant(ctx)
	if err = api.opts.StudentSvc.Delete(ctx.Request().Context(), principal, tnt.ID, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting student")
	}
	return ctx.NoContent(http.StatusNoContent)
}
