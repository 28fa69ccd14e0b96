package echoapi

import (
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/classview"
)

// stream upgrades to a websocket serving the live class page.
func (api *classApi) stream(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}

	conn, err := api.server.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return nil // the upgrader already answered with an HTTP error
	}

	logger := api.server.deps.Logger
	sess, err := classview.NewSession(classview.Deps{
		Conn:     conn,
		Service:  api.svc,
		Broker:   api.server.deps.Broker,
		Validate: api.validate,
		Logger:   logger,
		Caller:   caller,
		ClassID:  ctx.Param("id"),
	})
	if err != nil {
		_ = conn.Close()
		logger.Error(fmt.Sprintf("opening class view: %v", err), err)
		return nil
	}

	// the response is hijacked: failures can only be logged
	if err := sess.Run(api.server.streamCtx); err != nil {
		switch errors.Cause(err) {
		case classroom.ErrNotFound, classroom.ErrPermissionDenied:
		default:
			logger.Error(fmt.Sprintf("class view %s: %v", ctx.Param("id"), err), err)
		}
	}
	return nil
}
