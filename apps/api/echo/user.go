package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/session"
	"github.com/trezcool/darasa/core/user"
)

type userApi struct {
	server   *Server
	svc      *user.Service
	sessions *session.Manager
	validate *validator.Validate
	logger   core.Logger
}

func registerUserAPI(g *echo.Group, authed []echo.MiddlewareFunc, s *Server) {
	api := userApi{
		server:   s,
		svc:      s.deps.UserSvc,
		sessions: s.deps.Sessions,
		validate: s.deps.Validate,
		logger:   s.deps.Logger,
	}

	// un-authed endpoints
	ag := g.Group("/auth")
	ag.POST("/signup", api.signUp)
	ag.POST("/login", api.login)
	ag.POST("/oauth/:provider", api.oauthLogin)
	ag.POST("/password-reset", api.resetPassword)
	ag.POST("/password-reset-confirm", api.confirmPasswordReset)

	// device preferences survive sign-out, so they are keyed by session id only
	sg := g.Group("/sessions")
	sg.POST("", api.createSession)
	sg.GET("/:sid", api.retrieveSession)
	sg.PUT("/:sid", api.updateSession)

	// authed endpoints
	ag.POST("/token-refresh", api.refreshToken, authed...)
	ag.POST("/logout", api.logout, authed...)

	mg := g.Group("/me", authed...)
	mg.GET("", api.retrieveMe)
	mg.PUT("", api.updateMe)
}

// Handlers

func (api *userApi) signUp(ctx echo.Context) error {
	var data SignUpRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SignUpRequest")
	}
	if err := data.NewUser.Validate(api.validate); err != nil {
		return err
	}

	usr, err := api.svc.SignUp(ctx.Request().Context(), data.NewUser)
	if err != nil {
		return errors.Wrap(err, "signing up")
	}
	res, err := api.server.signIn(ctx, usr, data.SessionID, data.RememberMe)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, res)
}

func (api *userApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, err := api.svc.SignIn(ctx.Request().Context(), data.Email, data.Password)
	if err != nil {
		return errors.Wrap(err, "signing in")
	}
	res, err := api.server.signIn(ctx, usr, data.SessionID, data.RememberMe)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *userApi) oauthLogin(ctx echo.Context) error {
	var data OAuthRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to OAuthRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, err := api.svc.SignInWithProvider(ctx.Request().Context(), ctx.Param("provider"), data.IDToken)
	if err != nil {
		return errors.Wrap(err, "signing in with provider")
	}
	res, err := api.server.signIn(ctx, usr, data.SessionID, data.RememberMe)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *userApi) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.svc.RequestPasswordReset(ctx.Request().Context(), data.Email); !(err == nil || errors.Cause(err) == user.ErrNotFound) {
		// do not return errors to attackers
		api.logger.Error("requesting password reset", errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})
}

func (api *userApi) confirmPasswordReset(ctx echo.Context) error {
	var data user.ResetUserPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetUserPassword")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.svc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been reset with the new password."})
}

func (api *userApi) refreshToken(ctx echo.Context) error {
	token, err := api.server.refreshToken(ctx)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, TokenResponse{Token: token})
}

func (api *userApi) logout(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	if err := api.sessions.SignOut(ctx.Request().Context(), sess.ID); err != nil {
		return errors.Wrap(err, "signing out session")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *userApi) createSession(ctx echo.Context) error {
	var prefs session.Preferences
	if err := ctx.Bind(&prefs); err != nil {
		return errors.Wrap(err, "binding to Preferences")
	}
	sess, err := api.sessions.SetPreferences(ctx.Request().Context(), "", prefs)
	if err != nil {
		return errors.Wrap(err, "creating session")
	}
	return ctx.JSON(http.StatusCreated, sess)
}

func (api *userApi) retrieveSession(ctx echo.Context) error {
	sess, err := api.sessions.Get(ctx.Request().Context(), ctx.Param("sid"))
	if err != nil {
		return errors.Wrap(err, "getting session")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *userApi) updateSession(ctx echo.Context) error {
	var prefs session.Preferences
	if err := ctx.Bind(&prefs); err != nil {
		return errors.Wrap(err, "binding to Preferences")
	}
	sess, err := api.sessions.SetPreferences(ctx.Request().Context(), ctx.Param("sid"), prefs)
	if err != nil {
		return errors.Wrap(err, "setting preferences")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *userApi) retrieveMe(ctx echo.Context) error {
	usr, err := api.server.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	return ctx.JSON(http.StatusOK, newProfile(usr))
}

func (api *userApi) updateMe(ctx echo.Context) error {
	usr, err := api.server.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}

	var data user.UpdateProfile
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateProfile")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, err = api.svc.UpdateProfile(ctx.Request().Context(), usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating profile")
	}
	if _, err := api.sessions.UpdateUser(ctx.Request().Context(), sess.ID, snapshot(usr)); err != nil {
		return errors.Wrap(err, "updating session user")
	}
	return ctx.JSON(http.StatusOK, newProfile(usr))
}
