package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/billing"
	"github.com/trezcool/masomo-cloud/core/tenant"
)

var errSchoolNotFoundInCtx = errors.New("school object not found in echo.Context")

// schoolApi is the platform console over the schools.
type schoolApi struct {
	s       *server
	svc     tenant.Service
	billing billing.Service
}

func registerSchoolAPI(g *echo.Group, jwt echo.MiddlewareFunc, s *server) {
	api := schoolApi{s: s, svc: s.opts.TenantSvc, billing: s.opts.BillingSvc}

	sg := g.Group("/schools", jwt, platformAdminMiddleware)
	sg.GET("", api.query)
	sg.POST("", api.create)

	dg := sg.Group("/:slug", api.schoolMiddleware)
	dg.GET("", api.retrieve)
	dg.GET("/subscriptions", api.subscriptions)
	dg.POST("/subscribe", api.subscribe)
	dg.POST("/provision", api.provision)
	dg.POST("/suspend", api.suspend)
	dg.POST("/reactivate", api.reactivate)
	dg.POST("/archive", api.archive)
}

func (api *schoolApi) schoolMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		s, err := api.svc.GetBySlug(ctx.Request().Context(), ctx.Param("slug"))
		if err != nil {
			return errors.Wrap(err, "finding school by slug")
		}
		ctx.Set("object", s)
		return next(ctx)
	}
}

func contextSchool(ctx echo.Context) (tenant.School, error) {
	s, ok := ctx.Get("object").(tenant.School)
	if !ok {
		return tenant.School{}, errors.Wrap(errSchoolNotFoundInCtx, "retrieving object from context")
	}
	return s, nil
}

// Handlers

func (api *schoolApi) query(ctx echo.Context) error {
	filter := new(tenant.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []tenant.School{})
	}
	filter.Clean()

	schools, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying schools")
	}
	if schools == nil {
		schools = []tenant.School{}
	}
	return ctx.JSON(http.StatusOK, schools)
}

// create registers a school; when a plan is given, a pending subscription is started too.
func (api *schoolApi) create(ctx echo.Context) error {
	var data tenant.NewSchool
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSchool")
	}
	reqCtx := ctx.Request().Context()

	code := core.CleanString(data.PlanCode, true /* lower */)
	if code != "" {
		plan, err := api.billing.GetPlanByCode(reqCtx, code)
		if err != nil && errors.Cause(err) != billing.ErrNotFound {
			return errors.Wrap(err, "finding plan by code")
		}
		if err != nil || !plan.IsActive {
			return core.NewValidationError(billing.ErrPlanInactive, core.FieldError{Field: "plan_code", Error: billing.ErrPlanInactive.Error()})
		}
	}

	s, err := api.svc.Register(reqCtx, data)
	if err != nil {
		return errors.Wrap(err, "registering school")
	}
	resp := RegistrationResponse{School: s}
	if code != "" {
		sub, _, err := api.billing.Subscribe(reqCtx, s.ID, code)
		if err != nil {
			return errors.Wrap(err, "subscribing school")
		}
		resp.Subscription = &sub
	}
	return ctx.JSON(http.StatusCreated, resp)
}

func (api *schoolApi) retrieve(ctx echo.Context) error {
	s, err := contextSchool(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *schoolApi) subscriptions(ctx echo.Context) error {
	s, err := contextSchool(ctx)
	if err != nil {
		return err
	}
	subs, err := api.billing.Subscriptions(ctx.Request().Context(), s.ID)
	if err != nil {
		return errors.Wrap(err, "querying subscriptions")
	}
	if subs == nil {
		subs = []billing.Subscription{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *schoolApi) subscribe(ctx echo.Context) error {
	s, err := contextSchool(ctx)
	if err != nil {
		return err
	}
	var data billing.SubscribeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubscribeRequest")
	}
	if err := api.s.opts.Validate.Struct(&data); err != nil {
		return err
	}

	sub, plan, err := api.billing.Subscribe(ctx.Request().Context(), s.ID, data.PlanCode)
	if err != nil {
		return errors.Wrap(err, "subscribing school")
	}
	return ctx.JSON(http.StatusCreated, SubscriptionResponse{Subscription: sub, Plan: plan})
}

func (api *schoolApi) transition(ctx echo.Context, fn func(s tenant.School) (tenant.School, error)) error {
	s, err := contextSchool(ctx)
	if err != nil {
		return err
	}
	s, err = fn(s)
	if err != nil {
		return errors.Wrap(err, "changing school status")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *schoolApi) provision(ctx echo.Context) error {
	return api.transition(ctx, func(s tenant.School) (tenant.School, error) {
		return api.svc.Provision(ctx.Request().Context(), s)
	})
}

func (api *schoolApi) suspend(ctx echo.Context) error {
	return api.transition(ctx, func(s tenant.School) (tenant.School, error) {
		return api.svc.Suspend(ctx.Request().Context(), s)
	})
}

func (api *schoolApi) reactivate(ctx echo.Context) error {
	return api.transition(ctx, func(s tenant.School) (tenant.School, error) {
		return api.svc.Reactivate(ctx.Request().Context(), s)
	})
}

// archive archives a school; `?purge=true` drops its database as well.
func (api *schoolApi) archive(ctx echo.Context) error {
	purge := boolQueryParam(ctx, "purge", false)
	return api.transition(ctx, func(s tenant.School) (tenant.School, error) {
		return api.svc.Archive(ctx.Request().Context(), s, purge)
	})
}

type (
	RegistrationResponse struct {
		School       tenant.School         `json:"school"`
		Subscription *billing.Subscription `json:"subscription,omitempty"`
	}

	SubscriptionResponse struct {
		Subscription billing.Subscription `json:"subscription"`
		Plan         billing.Plan         `json:"plan"`
	}
)
