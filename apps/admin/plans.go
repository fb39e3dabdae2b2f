package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/masomo-cloud/core/billing"
)

// planCatalog is the layout of the YAML file read by seedplans:
//
//	plans:
//	  - code: basic
//	    name: Basic
//	    price: 500000
//	    currency: NGN
//	    interval: monthly
type planCatalog struct {
	Plans []billing.PlanInput `yaml:"plans"`
}

func (cli *commandLine) seedPlans(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading plans file")
	}
	var catalog planCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "decoding plans file")
	}

	for _, in := range catalog.Plans {
		p, created, err := cli.billingSvc.UpsertPlan(ctx, in)
		if err != nil {
			return errors.Wrapf(err, "saving plan %q", in.Code)
		}
		action := "updated"
		if created {
			action = "created"
		}
		fmt.Printf("plan %q %s\n", p.Code, action)
	}
	return nil
}
