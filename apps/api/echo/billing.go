package echoapi

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-cloud/core/billing"
	"github.com/trezcool/masomo-cloud/services/payment/paystack"
)

const maxWebhookBody = 1 << 20 // 1 MiB

type planApi struct {
	svc billing.Service
	s   *server
}

func registerPlanAPI(g *echo.Group, jwt echo.MiddlewareFunc, s *server) {
	api := planApi{svc: s.opts.BillingSvc, s: s}

	pg := g.Group("/plans", jwt, platformAdminMiddleware)
	pg.GET("", api.query)
	pg.POST("", api.create)
	pg.GET("/:code", api.retrieve)
	pg.PUT("/:code", api.update)
}

// Handlers

// query lists the plans; `?active=true` leaves the inactive ones out.
func (api *planApi) query(ctx echo.Context) error {
	plans, err := api.svc.ListPlans(ctx.Request().Context(), boolQueryParam(ctx, "active", false))
	if err != nil {
		return errors.Wrap(err, "listing plans")
	}
	if plans == nil {
		plans = []billing.Plan{}
	}
	return ctx.JSON(http.StatusOK, plans)
}

func (api *planApi) create(ctx echo.Context) error {
	var data billing.PlanInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PlanInput")
	}
	p, err := api.svc.CreatePlan(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating plan")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *planApi) retrieve(ctx echo.Context) error {
	p, err := api.svc.GetPlanByCode(ctx.Request().Context(), ctx.Param("code"))
	if err != nil {
		return errors.Wrap(err, "finding plan by code")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *planApi) update(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	p, err := api.svc.GetPlanByCode(reqCtx, ctx.Param("code"))
	if err != nil {
		return errors.Wrap(err, "finding plan by code")
	}

	var data billing.PlanInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PlanInput")
	}
	p, err = api.svc.UpdatePlan(reqCtx, p, data)
	if err != nil {
		return errors.Wrap(err, "updating plan")
	}
	return ctx.JSON(http.StatusOK, p)
}

func registerWebhookAPI(g *echo.Group, s *server) {
	g.POST("/webhooks/paystack", func(ctx echo.Context) error {
		return paystackWebhook(ctx, s)
	})
}

// paystackWebhook applies the events Paystack notifies us of.
// Requests must be signed with the Paystack secret key; every verified event is acknowledged.
func paystackWebhook(ctx echo.Context, s *server) error {
	req := ctx.Request()
	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
	if err != nil {
		return errors.Wrap(err, "reading webhook body")
	}
	if err := paystack.VerifySignature(s.opts.Conf.Paystack.SecretKey, body, req.Header.Get(paystack.SignatureHeader)); err != nil {
		s.opts.Logger.Warn("webhook: rejected paystack request from " + ctx.RealIP())
		return err
	}

	ev, err := paystack.ParseEvent(body)
	if err != nil {
		return err
	}
	if err := s.opts.Webhook.Handle(req.Context(), ev); err != nil {
		return errors.Wrap(err, "handling paystack event")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "event received"})
}
