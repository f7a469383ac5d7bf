package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/audit"
	"github.com/trezcool/shule/core/user"
)

type authApi struct {
	opts *Options
}

func registerAuthAPI(g *echo.Group, authed echo.MiddlewareFunc, opts *Options) {
	api := authApi{opts: opts}

	ag := g.Group("/auth")

	// un-authed endpoints
	ag.POST("/login", api.login)
	ag.POST("/second-factor", api.completeSecondFactor)
	ag.POST("/password-reset", api.resetPassword)
	ag.POST("/password-reset-confirm", api.confirmPasswordReset)

	// authed endpoints
	sg := ag.Group("", authed)
	sg.POST("/token-refresh", api.refreshToken)
	sg.POST("/logout", api.logout)
}

// Handlers

func (api *authApi) recordLogin(ctx echo.Context, usr user.User, allowed bool) {
	action := audit.ActionLogin
	if !allowed {
		action = audit.ActionLoginFailed
	}
	api.opts.Recorder.Record(audit.Record{
		TenantID:    getContextTenant(ctx).ID,
		PrincipalID: usr.ID,
		Action:      action,
		Allowed:     allowed,
	})
}

func (api *authApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	tnt := getContextTenant(ctx)
	res, err := api.opts.UserSvc.Authenticate(ctx.Request().Context(), tnt.ID, data.Username, data.Password, ctx.RealIP())
	if err != nil {
		api.recordLogin(ctx, user.User{}, false)
		return errors.Wrap(err, "authenticating")
	}

	if res.Challenge != nil {
		return ctx.JSON(http.StatusOK, SecondFactorResponse{
			SecondFactorRequired: true,
			ChallengeID:          res.Challenge.ID,
		})
	}

	_, token, err := api.opts.SessionSvc.Mint(ctx.Request().Context(), res.User)
	if err != nil {
		return errors.Wrap(err, "minting session")
	}
	api.recordLogin(ctx, res.User, true)
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *authApi) completeSecondFactor(ctx echo.Context) error {
	var data SecondFactorRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SecondFactorRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	usr, err := api.opts.UserSvc.CompleteSecondFactor(ctx.Request().Context(), data.ChallengeID, data.Code)
	if err != nil {
		api.recordLogin(ctx, user.User{}, false)
		return errors.Wrap(err, "completing second factor")
	}

	_, token, err := api.opts.SessionSvc.Mint(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "minting session")
	}
	api.recordLogin(ctx, usr, true)
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *authApi) refreshToken(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return err
	}

	token, err := bearerToken(ctx)
	if err != nil {
		return err
	}
	tnt := getContextTenant(ctx)
	_, newToken, err := api.opts.SessionSvc.Refresh(ctx.Request().Context(), token, tnt.ID, usr)
	if err != nil {
		return errors.Wrap(err, "refreshing session")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: newToken})
}

func (api *authApi) logout(ctx echo.Context) error {
	s, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	if err = api.opts.SessionSvc.Revoke(ctx.Request().Context(), s.ID); err != nil {
		return errors.Wrap(err, "revoking session")
	}

	api.opts.Recorder.Record(audit.Record{
		TenantID:    s.TenantID,
		PrincipalID: s.UserID,
		Action:      audit.ActionLogout,
		Allowed:     true,
	})
	return ctx.NoContent(http.StatusNoContent)
}

func (api *authApi) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	tnt := getContextTenant(ctx)
	if err := api.opts.UserSvc.RequestPasswordReset(ctx.Request().Context(), tnt.ID, data.Email); !(err == nil || errors.Cause(err) == user.ErrNotFound) {
		// do not return errors to attackers
		ctx.Logger().Errorf("%+v", errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})
}

func (api *authApi) confirmPasswordReset(ctx echo.Context) error {
	var data user.ResetUserPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetUserPassword")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	tnt := getContextTenant(ctx)
	if err := api.opts.UserSvc.ResetPassword(ctx.Request().Context(), tnt.ID, data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been reset with the new password."})
}

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
	}

	SecondFactorResponse struct {
		SecondFactorRequired bool   `json:"second_factor_required"`
		ChallengeID          string `json:"challenge_id"`
	}

	SecondFactorRequest struct {
		ChallengeID string `json:"challenge_id" validate:"required"`
		Code        string `json:"code" validate:"required,len=6,numeric"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func (lr *LoginRequest) Validate() error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	if err := core.Validate.Struct(lr); err != nil {
		return core.NewValidationError(err)
	}
	return nil
}

func (sr *SecondFactorRequest) Validate() error {
	sr.Code = core.CleanString(sr.Code)
	if err := core.Validate.Struct(sr); err != nil {
		return core.NewValidationError(err)
	}
	return nil
}

func (pr *PasswordResetRequest) Validate() error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	if err := core.Validate.Struct(pr); err != nil {
		return core.NewValidationError(err)
	}
	return nil
}
