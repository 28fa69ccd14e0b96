package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/classview"
)

type classApi struct {
	server   *Server
	svc      *classroom.Service
	validate *validator.Validate
}

func registerClassAPI(g *echo.Group, authed, streamAuthed []echo.MiddlewareFunc, s *Server) {
	api := classApi{
		server:   s,
		svc:      s.deps.ClassSvc,
		validate: s.deps.Validate,
	}

	// the live class page authenticates through the query string
	g.GET("/classes/:id/stream", api.stream, streamAuthed...)

	cg := g.Group("/classes", authed...)
	cg.GET("", api.query)
	cg.POST("", api.create)
	cg.POST("/join", api.join)

	// detail endpoints
	dg := cg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.DELETE("", api.destroy)
	dg.POST("/leave", api.leave)
	dg.GET("/code", api.code)
	dg.GET("/members", api.members)
	dg.PUT("/members/:uid/role", api.changeRole)

	dg.GET("/announcements", api.queryAnnouncements)
	dg.POST("/announcements", api.createAnnouncement)
	dg.DELETE("/announcements/:aid", api.destroyAnnouncement)

	dg.GET("/assignments", api.queryAssignments)
	dg.POST("/assignments", api.createAssignment)
	dg.GET("/assignments/:aid", api.retrieveAssignment)
	dg.DELETE("/assignments/:aid", api.destroyAssignment)
	dg.GET("/assignments/:aid/submissions", api.querySubmissions)
	dg.POST("/assignments/:aid/submissions", api.submit)
	dg.GET("/assignments/:aid/submissions/me", api.retrieveOwnSubmission)
	dg.PUT("/assignments/:aid/submissions/:sid/grade", api.grade)
}

// Classes

func (api *classApi) query(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	classes, err := api.svc.LoadClasses(ctx.Request().Context(), caller)
	if err != nil {
		return errors.Wrap(err, "loading classes")
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *classApi) create(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	var data classroom.NewClass
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClass")
	}

	cls, err := api.svc.CreateClass(ctx.Request().Context(), caller, data)
	if err != nil {
		return errors.Wrap(err, "creating class")
	}
	return ctx.JSON(http.StatusCreated, cls)
}

func (api *classApi) join(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	var data classroom.JoinClass
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to JoinClass")
	}

	cls, err := api.svc.JoinClass(ctx.Request().Context(), caller, data.Code)
	if err != nil {
		return errors.Wrap(err, "joining class")
	}
	return ctx.JSON(http.StatusOK, cls)
}

func (api *classApi) retrieve(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	cls, err := api.svc.GetClass(ctx.Request().Context(), caller, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting class")
	}
	return ctx.JSON(http.StatusOK, cls)
}

func (api *classApi) destroy(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	if err := api.svc.DeleteClass(ctx.Request().Context(), caller, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting class")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *classApi) leave(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	if err := api.svc.LeaveClass(ctx.Request().Context(), caller, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "leaving class")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *classApi) code(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	code, err := api.svc.ClassCode(ctx.Request().Context(), caller, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting class code")
	}
	return ctx.JSON(http.StatusOK, ClassCodeResponse{ClassCode: code})
}

func (api *classApi) members(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	cls, err := api.svc.GetClass(ctx.Request().Context(), caller, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting class")
	}
	return ctx.JSON(http.StatusOK, classview.Members(cls))
}

func (api *classApi) changeRole(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	var data classroom.ChangeRole
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ChangeRole")
	}

	cls, err := api.svc.ChangeRole(ctx.Request().Context(), caller, ctx.Param("id"), ctx.Param("uid"), data)
	if err != nil {
		return errors.Wrap(err, "changing role")
	}
	return ctx.JSON(http.StatusOK, cls)
}

// Announcements

func (api *classApi) queryAnnouncements(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	anns, err := api.svc.ListAnnouncements(ctx.Request().Context(), caller, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing announcements")
	}
	return ctx.JSON(http.StatusOK, anns)
}

func (api *classApi) createAnnouncement(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	var data classroom.NewAnnouncement
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAnnouncement")
	}

	ann, err := api.svc.PostAnnouncement(ctx.Request().Context(), caller, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "posting announcement")
	}
	return ctx.JSON(http.StatusCreated, ann)
}

func (api *classApi) destroyAnnouncement(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	if err := api.svc.DeleteAnnouncement(ctx.Request().Context(), caller, ctx.Param("id"), ctx.Param("aid")); err != nil {
		return errors.Wrap(err, "deleting announcement")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Assignments & submissions

func (api *classApi) queryAssignments(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	asgs, err := api.svc.ListAssignments(ctx.Request().Context(), caller, ctx.Param("id"), ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "listing assignments")
	}
	return ctx.JSON(http.StatusOK, asgs)
}

func (api *classApi) createAssignment(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	var data classroom.NewAssignment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAssignment")
	}

	asg, err := api.svc.CreateAssignment(ctx.Request().Context(), caller, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "creating assignment")
	}
	return ctx.JSON(http.StatusCreated, asg)
}

func (api *classApi) retrieveAssignment(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	asg, err := api.svc.GetAssignment(ctx.Request().Context(), caller, ctx.Param("id"), ctx.Param("aid"))
	if err != nil {
		return errors.Wrap(err, "getting assignment")
	}
	return ctx.JSON(http.StatusOK, asg)
}

func (api *classApi) destroyAssignment(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	if err := api.svc.DeleteAssignment(ctx.Request().Context(), caller, ctx.Param("id"), ctx.Param("aid")); err != nil {
		return errors.Wrap(err, "deleting assignment")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *classApi) querySubmissions(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	subs, err := api.svc.ListSubmissions(ctx.Request().Context(), caller, ctx.Param("id"), ctx.Param("aid"))
	if err != nil {
		return errors.Wrap(err, "listing submissions")
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *classApi) submit(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	var data classroom.NewSubmission
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubmission")
	}

	sub, err := api.svc.Submit(ctx.Request().Context(), caller, ctx.Param("id"), ctx.Param("aid"), data)
	if err != nil {
		return errors.Wrap(err, "submitting")
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api *classApi) retrieveOwnSubmission(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	sub, err := api.svc.GetOwnSubmission(ctx.Request().Context(), caller, ctx.Param("id"), ctx.Param("aid"))
	if err != nil {
		return errors.Wrap(err, "getting own submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *classApi) grade(ctx echo.Context) error {
	caller, err := api.server.getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	var data classroom.GradeSubmission
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GradeSubmission")
	}

	sub, err := api.svc.Grade(ctx.Request().Context(), caller, ctx.Param("id"), ctx.Param("aid"), ctx.Param("sid"), data.Grade)
	if err != nil {
		return errors.Wrap(err, "grading submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}
