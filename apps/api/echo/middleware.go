package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/session"
)

// sessionMiddleware rejects tokens whose session was signed out. It must run after the JWT middleware.
func (s *Server) sessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return err
		}
		sess, err := s.deps.Sessions.Get(ctx.Request().Context(), claims.SessionID)
		if err != nil {
			if errors.Cause(err) == session.ErrNotFound {
				return errSessionEnded
			}
			return errors.Wrap(err, "getting session")
		}
		if !sess.SignedIn(claims.Subject) {
			return errSessionEnded
		}
		ctx.Set(contextSessionKey, sess)
		return next(ctx)
	}
}
