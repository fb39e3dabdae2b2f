package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/billing"
)

type billingRepository struct {
	db *DB
}

var _ billing.Repository = (*billingRepository)(nil) // interface compliance check

func NewBillingRepository(db *DB) billing.Repository {
	return &billingRepository{db: db}
}

// Plans

func (repo *billingRepository) CreatePlan(ctx context.Context, p billing.Plan) (billing.Plan, error) {
	err := repo.db.write(ctx, func(s *schema) error {
		for _, other := range s.plans {
			if other.Code == p.Code {
				return billing.ErrPlanExists
			}
		}
		s.plans[p.ID] = p
		return nil
	})
	if err != nil {
		return billing.Plan{}, err
	}
	return p, nil
}

func (repo *billingRepository) getPlan(ctx context.Context, match func(p billing.Plan) bool) (billing.Plan, error) {
	var (
		found billing.Plan
		ok    bool
	)
	repo.db.read(ctx, func(s *schema) {
		for _, p := range s.plans {
			if match(p) {
				found, ok = p, true
				return
			}
		}
	})
	if !ok {
		return billing.Plan{}, billing.ErrNotFound
	}
	return found, nil
}

func (repo *billingRepository) GetPlanByID(ctx context.Context, id string) (billing.Plan, error) {
	return repo.getPlan(ctx, func(p billing.Plan) bool { return p.ID == id })
}

func (repo *billingRepository) GetPlanByCode(ctx context.Context, code string) (billing.Plan, error) {
	return repo.getPlan(ctx, func(p billing.Plan) bool { return p.Code == code })
}

func (repo *billingRepository) QueryPlans(ctx context.Context, activeOnly bool) ([]billing.Plan, error) {
	plans := make([]billing.Plan, 0)
	repo.db.read(ctx, func(s *schema) {
		for _, p := range s.plans {
			if !activeOnly || p.IsActive {
				plans = append(plans, p)
			}
		}
	})
	sortBy(plans, nil, func(a, b billing.Plan, field string) int {
		if field == "price" {
			switch {
			case a.Price < b.Price:
				return -1
			case a.Price > b.Price:
				return 1
			}
			return 0
		}
		return strings.Compare(a.Code, b.Code)
	}, core.DBOrdering{Field: "price", Ascending: true}, core.DBOrdering{Field: "code", Ascending: true})
	return plans, nil
}

func (repo *billingRepository) UpdatePlan(ctx context.Context, p billing.Plan) (billing.Plan, error) {
	var updated billing.Plan
	err := repo.db.write(ctx, func(s *schema) error {
		orig, ok := s.plans[p.ID]
		if !ok {
			return billing.ErrNotFound
		}
		orig.Name = p.Name
		orig.Description = p.Description
		orig.Price = p.Price
		orig.Currency = p.Currency
		orig.Interval = p.Interval
		orig.IsActive = p.IsActive
		orig.UpdatedAt = p.UpdatedAt
		s.plans[p.ID] = orig
		updated = orig
		return nil
	})
	return updated, err
}

// Subscriptions

func (repo *billingRepository) CreateSubscription(ctx context.Context, sub billing.Subscription) (billing.Subscription, error) {
	err := repo.db.write(ctx, func(s *schema) error {
		s.subscriptions[sub.ID] = sub
		return nil
	})
	return sub, err
}

func (repo *billingRepository) getSubscription(ctx context.Context, match func(sub billing.Subscription) bool) (billing.Subscription, error) {
	var (
		found billing.Subscription
		ok    bool
	)
	repo.db.read(ctx, func(s *schema) {
		for _, sub := range s.subscriptions {
			if match(sub) {
				found, ok = sub, true
				return
			}
		}
	})
	if !ok {
		return billing.Subscription{}, billing.ErrNotFound
	}
	return found, nil
}

func (repo *billingRepository) GetSubscriptionByReference(ctx context.Context, reference string) (billing.Subscription, error) {
	return repo.getSubscription(ctx, func(sub billing.Subscription) bool { return sub.Reference == reference })
}

func (repo *billingRepository) GetSubscriptionByProviderCode(ctx context.Context, code string) (billing.Subscription, error) {
	if code == "" {
		return billing.Subscription{}, billing.ErrNotFound
	}
	return repo.getSubscription(ctx, func(sub billing.Subscription) bool { return sub.ProviderCode == code })
}

func sortSubscriptions(subs []billing.Subscription) {
	sortBy(subs, nil, func(a, b billing.Subscription, _ string) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	}, core.DBOrdering{Field: "created_at"})
}

func (repo *billingRepository) QuerySubscriptions(ctx context.Context, schoolID string) ([]billing.Subscription, error) {
	subs := make([]billing.Subscription, 0)
	repo.db.read(ctx, func(s *schema) {
		for _, sub := range s.subscriptions {
			if sub.SchoolID == schoolID {
				subs = append(subs, sub)
			}
		}
	})
	sortSubscriptions(subs)
	return subs, nil
}

func (repo *billingRepository) QuerySubscriptionsByCustomer(ctx context.Context, email string) ([]billing.Subscription, error) {
	subs := make([]billing.Subscription, 0)
	repo.db.read(ctx, func(s *schema) {
		for _, sub := range s.subscriptions {
			if email != "" && sub.CustomerEmail == email {
				subs = append(subs, sub)
			}
		}
	})
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].CurrentPeriodStart.After(subs[j].CurrentPeriodStart)
	})
	return subs, nil
}

func (repo *billingRepository) UpdateSubscription(ctx context.Context, sub billing.Subscription) (billing.Subscription, error) {
	var updated billing.Subscription
	err := repo.db.write(ctx, func(s *schema) error {
		orig, ok := s.subscriptions[sub.ID]
		if !ok {
			return billing.ErrNotFound
		}
		if sub.ProviderCode != "" && sub.ProviderCode != orig.ProviderCode {
			for id, other := range s.subscriptions {
				if id != sub.ID && other.ProviderCode == sub.ProviderCode {
					return errors.Errorf("provider code %q already linked", sub.ProviderCode)
				}
			}
		}
		orig.Status = sub.Status
		orig.CustomerEmail = sub.CustomerEmail
		orig.ProviderCode = sub.ProviderCode
		orig.CurrentPeriodStart = sub.CurrentPeriodStart
		orig.CurrentPeriodEnd = sub.CurrentPeriodEnd
		orig.UpdatedAt = sub.UpdatedAt
		s.subscriptions[sub.ID] = orig
		updated = orig
		return nil
	})
	return updated, err
}

func (repo *billingRepository) CancelActiveSubscriptions(ctx context.Context, schoolID, exceptID string, at time.Time) error {
	return repo.db.write(ctx, func(s *schema) error {
		for id, sub := range s.subscriptions {
			if sub.SchoolID == schoolID && sub.Status == billing.StatusActive && id != exceptID {
				sub.Status = billing.StatusCancelled
				sub.UpdatedAt = at.UTC()
				s.subscriptions[id] = sub
			}
		}
		return nil
	})
}

func (repo *billingRepository) ExpireSubscriptions(ctx context.Context, now time.Time) ([]billing.Subscription, error) {
	expired := make([]billing.Subscription, 0)
	err := repo.db.write(ctx, func(s *schema) error {
		for id, sub := range s.subscriptions {
			if sub.Status == billing.StatusActive && !sub.CurrentPeriodEnd.IsZero() && sub.CurrentPeriodEnd.Before(now) {
				sub.Status = billing.StatusExpired
				sub.UpdatedAt = now.UTC()
				s.subscriptions[id] = sub
				expired = append(expired, sub)
			}
		}
		return nil
	})
	sortSubscriptions(expired)
	return expired, err
}

// Events

func (repo *billingRepository) RecordEvent(ctx context.Context, ev billing.Event, _ time.Time) (bool, error) {
	var recorded bool
	err := repo.db.write(ctx, func(s *schema) error {
		key := ev.Provider + "|" + ev.Name + "|" + ev.Key()
		if _, ok := s.events[key]; !ok {
			s.events[key] = struct{}{}
			recorded = true
		}
		return nil
	})
	return recorded, err
}
