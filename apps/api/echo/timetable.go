package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/timetable"
)

type timetableApi struct {
	svc timetable.Service
}

func registerTimetableAPI(g *echo.Group, jwt echo.MiddlewareFunc, s *server) {
	api := timetableApi{svc: s.opts.TimetableSvc}
	admin := adminMiddleware()
	rg := g.Group("", jwt, schoolTokenMiddleware)

	tg := rg.Group("/timetables")
	tg.GET("", api.query)
	tg.POST("", api.create, admin)
	tg.GET("/:id", api.retrieve)
	tg.PUT("/:id", api.update, admin)
	tg.DELETE("/:id", api.destroy, admin)
	tg.POST("/:id/periods", api.addPeriod, admin)
	tg.PUT("/:id/periods/:pid", api.updatePeriod, admin)
	tg.DELETE("/:id/periods/:pid", api.destroyPeriod, admin)

	rg.POST("/periods/check", api.checkPeriod)
}

// Handlers

// query lists the timetables; `?class_id=` narrows them to one class.
func (api *timetableApi) query(ctx echo.Context) error {
	tts, err := api.svc.QueryTimetables(ctx.Request().Context(), core.CleanString(ctx.QueryParam("class_id")))
	if err != nil {
		return errors.Wrap(err, "querying timetables")
	}
	if tts == nil {
		tts = []timetable.Timetable{}
	}
	return ctx.JSON(http.StatusOK, tts)
}

func (api *timetableApi) create(ctx echo.Context) error {
	var data timetable.NewTimetable
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTimetable")
	}
	tt, err := api.svc.CreateTimetable(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating timetable")
	}
	return ctx.JSON(http.StatusCreated, tt)
}

// retrieve returns the timetable with its periods.
func (api *timetableApi) retrieve(ctx echo.Context) error {
	tt, err := api.svc.ClassTimetable(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding timetable")
	}
	return ctx.JSON(http.StatusOK, tt)
}

func (api *timetableApi) update(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	tt, err := api.svc.GetTimetable(reqCtx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding timetable")
	}
	var data timetable.UpdateTimetable
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateTimetable")
	}
	tt, err = api.svc.UpdateTimetable(reqCtx, tt, data)
	if err != nil {
		return errors.Wrap(err, "updating timetable")
	}
	return ctx.JSON(http.StatusOK, tt)
}

func (api *timetableApi) destroy(ctx echo.Context) error {
	if err := api.svc.DeleteTimetable(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting timetable")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *timetableApi) addPeriod(ctx echo.Context) error {
	var data timetable.PeriodInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PeriodInput")
	}
	p, err := api.svc.AddPeriod(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "adding period")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *timetableApi) updatePeriod(ctx echo.Context) error {
	var data timetable.PeriodInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PeriodInput")
	}
	p, err := api.svc.UpdatePeriod(ctx.Request().Context(), ctx.Param("pid"), data)
	if err != nil {
		return errors.Wrap(err, "updating period")
	}
	if p.TimetableID != ctx.Param("id") {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *timetableApi) destroyPeriod(ctx echo.Context) error {
	if err := api.svc.DeletePeriod(ctx.Request().Context(), ctx.Param("pid")); err != nil {
		return errors.Wrap(err, "deleting period")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// checkPeriod reports the conflicts a period would cause, without scheduling it.
// Give period_id to check an update of an existing period.
func (api *timetableApi) checkPeriod(ctx echo.Context) error {
	var data CheckPeriodRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CheckPeriodRequest")
	}
	data.TimetableID = core.CleanString(data.TimetableID)
	data.PeriodID = core.CleanString(data.PeriodID)
	if data.TimetableID == "" && data.PeriodID == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "timetable_id", Error: "this field is required"})
	}

	conflicts, err := api.svc.CheckPeriod(ctx.Request().Context(), data.TimetableID, data.PeriodID, data.PeriodInput)
	if err != nil {
		return errors.Wrap(err, "checking period")
	}
	return ctx.JSON(http.StatusOK, CheckPeriodResponse{Conflicts: conflicts})
}

type (
	CheckPeriodRequest struct {
		TimetableID string `json:"timetable_id"`
		PeriodID    string `json:"period_id"`
		timetable.PeriodInput
	}

	CheckPeriodResponse struct {
		Conflicts []timetable.Conflict `json:"conflicts"`
	}
)
