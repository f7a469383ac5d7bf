package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/fee"
)

type feeApi struct {
	opts *Options
}

func registerFeeAPI(g *echo.Group, authed echo.MiddlewareFunc, opts *Options) {
	api := feeApi{opts: opts}

	fg := g.Group("/fees", authed)

	fg.POST("", api.create)
	fg.GET("", api.query)
	fg.GET("/:id", api.retrieve)
	fg.PUT("/:id", api.update)
	fg.DELETE("/:id", api.destroy)
}

// Handlers

func (api *feeApi) create(ctx echo.Context) error {
	var data fee.NewFee
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewFee")
	}
	if err := data.Validate(ctx.Request().Context()); err != nil {
		return err
	}

	principal, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return err
	}
	tnt := getContextTenant(ctx)
	f, err := api.opts.FeeSvc.Create(ctx.Request().Context(), principal, tnt.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating fee")
	}
	return ctx.JSON(http.StatusCreated, f)
}

func (api *feeApi) query(ctx echo.Context) error {
	filter := new(fee.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []fee.Fee{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	principal, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return err
	}
	tnt := getContextTenant(ctx)
	fees, err := api.opts.FeeSvc.Filter(ctx.Request().Context(), principal, tnt.ID, *filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying fees")
	}
	if fees == nil {
		fees = []fee.Fee{}
	}
	return ctx.JSON(http.StatusOK, fees)
}

func (api *feeApi) retrieve(ctx echo.Context) error {
	principal, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return err
	}
	tnt := getContextTenant(ctx)
	f, err := api.opts.FeeSvc.GetByID(ctx.Request().Context(), principal, tnt.ID, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, f)
}

func (api *feeApi) update(ctx echo.Context) error {
	var data fee.UpdateFee
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateFee")
	}
	if err := data.Validate(ctx.Request().Context()); err != nil {
		return err
	}

	principal, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return err
	}
	tnt := getContextTenant(ctx)
	f, err := api.opts.FeeSvc.Update(ctx.Request().Context(), principal, tnt.ID, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating fee")
	}
	return ctx.JSON(http.StatusOK, f)
}

func (api *feeApi) destroy(ctx echo.Context) error {
	principal, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return err
	}
	tnt := getContextTenant(ctx)
	if err = api.opts.FeeSvc.Delete(ctx.Request().Context(), principal, tnt.ID, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting fee")
	}
	return ctx.NoContent(http.StatusNoContent)
}
