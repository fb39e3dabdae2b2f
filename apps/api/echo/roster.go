package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-cloud/core/school"
	"github.com/trezcool/masomo-cloud/core/timetable"
)

// rosterApi serves the teachers, classes & students of a school.
// Every school user can read the roster; only admins change it.
type rosterApi struct {
	svc       school.Service
	timetable timetable.Service
}

func registerRosterAPI(g *echo.Group, jwt echo.MiddlewareFunc, s *server) {
	api := rosterApi{svc: s.opts.SchoolSvc, timetable: s.opts.TimetableSvc}
	admin := adminMiddleware()
	rg := g.Group("", jwt, schoolTokenMiddleware)

	tg := rg.Group("/teachers")
	tg.GET("", api.queryTeachers)
	tg.POST("", api.createTeacher, admin)
	tg.GET("/:id", api.retrieveTeacher)
	tg.PUT("/:id", api.updateTeacher, admin)
	tg.DELETE("/:id", api.destroyTeacher, admin)
	tg.GET("/:id/schedule", api.teacherSchedule)

	cg := rg.Group("/classes")
	cg.GET("", api.queryClasses)
	cg.POST("", api.createClass, admin)
	cg.GET("/:id", api.retrieveClass)
	cg.PUT("/:id", api.updateClass, admin)
	cg.DELETE("/:id", api.destroyClass, admin)

	sg := rg.Group("/students")
	sg.GET("", api.queryStudents)
	sg.POST("", api.createStudent, admin)
	sg.GET("/:id", api.retrieveStudent)
	sg.PUT("/:id", api.updateStudent, admin)
	sg.DELETE("/:id", api.destroyStudent, admin)
}

func bindRosterQuery(ctx echo.Context) (*school.QueryFilter, *Ordering, error) {
	filter := new(school.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return nil, nil, err
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)
	return filter, ordering, nil
}

// Teachers

func (api *rosterApi) queryTeachers(ctx echo.Context) error {
	filter, ordering, err := bindRosterQuery(ctx)
	if err != nil {
		return ctx.JSON(http.StatusOK, []school.Teacher{})
	}
	teachers, err := api.svc.QueryTeachers(ctx.Request().Context(), filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying teachers")
	}
	if teachers == nil {
		teachers = []school.Teacher{}
	}
	return ctx.JSON(http.StatusOK, teachers)
}

func (api *rosterApi) createTeacher(ctx echo.Context) error {
	var data school.TeacherInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TeacherInput")
	}
	t, err := api.svc.CreateTeacher(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating teacher")
	}
	return ctx.JSON(http.StatusCreated, t)
}

func (api *rosterApi) retrieveTeacher(ctx echo.Context) error {
	t, err := api.svc.GetTeacher(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding teacher")
	}
	return ctx.JSON(http.StatusOK, t)
}

func (api *rosterApi) updateTeacher(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	t, err := api.svc.GetTeacher(reqCtx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding teacher")
	}
	var data school.TeacherInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TeacherInput")
	}
	t, err = api.svc.UpdateTeacher(reqCtx, t, data)
	if err != nil {
		return errors.Wrap(err, "updating teacher")
	}
	return ctx.JSON(http.StatusOK, t)
}

func (api *rosterApi) destroyTeacher(ctx echo.Context) error {
	if err := api.svc.DeleteTeacher(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting teacher")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// teacherSchedule lists the periods a teacher is scheduled for, across the active timetables.
func (api *rosterApi) teacherSchedule(ctx echo.Context) error {
	periods, err := api.timetable.TeacherSchedule(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting teacher schedule")
	}
	return ctx.JSON(http.StatusOK, periods)
}

// Classes

func (api *rosterApi) queryClasses(ctx echo.Context) error {
	filter, ordering, err := bindRosterQuery(ctx)
	if err != nil {
		return ctx.JSON(http.StatusOK, []school.Class{})
	}
	classes, err := api.svc.QueryClasses(ctx.Request().Context(), filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying classes")
	}
	if classes == nil {
		classes = []school.Class{}
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *rosterApi) createClass(ctx echo.Context) error {
	var data school.ClassInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ClassInput")
	}
	c, err := api.svc.CreateClass(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating class")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *rosterApi) retrieveClass(ctx echo.Context) error {
	c, err := api.svc.GetClass(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding class")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *rosterApi) updateClass(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	c, err := api.svc.GetClass(reqCtx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding class")
	}
	var data school.ClassInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ClassInput")
	}
	c, err = api.svc.UpdateClass(reqCtx, c, data)
	if err != nil {
		return errors.Wrap(err, "updating class")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *rosterApi) destroyClass(ctx echo.Context) error {
	if err := api.svc.DeleteClass(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting class")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Students

func (api *rosterApi) queryStudents(ctx echo.Context) error {
	filter, ordering, err := bindRosterQuery(ctx)
	if err != nil {
		return ctx.JSON(http.StatusOK, []school.Student{})
	}
	students, err := api.svc.QueryStudents(ctx.Request().Context(), filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	if students == nil {
		students = []school.Student{}
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *rosterApi) createStudent(ctx echo.Context) error {
	var data school.StudentInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StudentInput")
	}
	st, err := api.svc.CreateStudent(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating student")
	}
	return ctx.JSON(http.StatusCreated, st)
}

func (api *rosterApi) retrieveStudent(ctx echo.Context) error {
	st, err := api.svc.GetStudent(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding student")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *rosterApi) updateStudent(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	st, err := api.svc.GetStudent(reqCtx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding student")
	}
	var data school.StudentInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StudentInput")
	}
	st, err = api.svc.UpdateStudent(reqCtx, st, data)
	if err != nil {
		return errors.Wrap(err, "updating student")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *rosterApi) destroyStudent(ctx echo.Context) error {
	if err := api.svc.DeleteStudent(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting student")
	}
	return ctx.NoContent(http.StatusNoContent)
}
