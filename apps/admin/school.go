package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/billing"
	"github.com/trezcool/masomo-cloud/core/tenant"
)

var nowFunc = time.Now // mockable

// addSchool registers a school. With a plan, the school waits for the payment of its subscription;
// otherwise it is provisioned right away.
func (cli *commandLine) addSchool(ctx context.Context, ns tenant.NewSchool) error {
	code := core.CleanString(ns.PlanCode, true /* lower */)
	if code != "" {
		plan, err := cli.billingSvc.GetPlanByCode(ctx, code)
		if err != nil && errors.Cause(err) != billing.ErrNotFound {
			return err
		}
		if err != nil || !plan.IsActive {
			return errors.Wrapf(billing.ErrPlanInactive, "plan %q", code)
		}
	}

	s, err := cli.tenantSvc.Register(ctx, ns)
	if err != nil {
		return err
	}
	if code != "" {
		sub, _, err := cli.billingSvc.Subscribe(ctx, s.ID, code)
		if err != nil {
			return err
		}
		fmt.Printf("school %q registered; awaiting payment of subscription %s\n", s.Slug, sub.Reference)
		return nil
	}

	if _, err := cli.tenantSvc.Provision(ctx, s); err != nil {
		return err
	}
	fmt.Printf("school %q registered & provisioned\n", s.Slug)
	return nil
}

func (cli *commandLine) provision(ctx context.Context, slug string) error {
	s, err := cli.tenantSvc.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}
	_, err = cli.tenantSvc.Provision(ctx, s)
	return err
}

func (cli *commandLine) archive(ctx context.Context, slug string, purge bool) error {
	s, err := cli.tenantSvc.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}
	_, err = cli.tenantSvc.Archive(ctx, s, purge)
	return err
}

// expireSubscriptions expires the subscriptions whose period ended, then suspends their active schools.
// A school that cannot be suspended does not stop the others; every failure is reported.
func (cli *commandLine) expireSubscriptions(ctx context.Context) error {
	schoolIDs, err := cli.billingSvc.ExpireDue(ctx, nowFunc())
	if err != nil {
		return err
	}

	var errs error
	suspended := 0
	for _, id := range schoolIDs {
		s, err := cli.tenantSvc.GetByID(ctx, id)
		if err != nil {
			err = errors.Wrapf(err, "finding school %s", id)
			cli.logger.Error(err.Error(), err)
			errs = multierr.Append(errs, err)
			continue
		}
		if !s.IsActive() {
			continue
		}
		if _, err := cli.tenantSvc.Suspend(ctx, s); err != nil {
			err = errors.Wrapf(err, "suspending school %q", s.Slug)
			cli.logger.Error(err.Error(), err)
			errs = multierr.Append(errs, err)
			continue
		}
		suspended++
	}
	cli.logger.Info(fmt.Sprintf("%d subscription(s) expired, %d school(s) suspended", len(schoolIDs), suspended))
	return errs
}
