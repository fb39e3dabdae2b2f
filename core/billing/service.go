package billing

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"

	"github.com/trezcool/masomo-cloud/core"
)

const referencePrefix = "msm_"

var (
	NowFunc = time.Now // mockable

	// errors
	ErrNotFound     = errors.New("not found")
	ErrPlanExists   = errors.New("a plan with this code already exists")
	ErrPlanInactive = errors.New("this plan is not available")
	ErrInvalidState = errors.New("invalid subscription state")
)

type (
	Repository interface {
		CreatePlan(ctx context.Context, p Plan) (Plan, error)
		GetPlanByID(ctx context.Context, id string) (Plan, error)
		GetPlanByCode(ctx context.Context, code string) (Plan, error)
		QueryPlans(ctx context.Context, activeOnly bool) ([]Plan, error)
		UpdatePlan(ctx context.Context, p Plan) (Plan, error)

		CreateSubscription(ctx context.Context, sub Subscription) (Subscription, error)
		GetSubscriptionByReference(ctx context.Context, reference string) (Subscription, error)
		GetSubscriptionByProviderCode(ctx context.Context, code string) (Subscription, error)
		QuerySubscriptions(ctx context.Context, schoolID string) ([]Subscription, error)
		// QuerySubscriptionsByCustomer returns the subscriptions paid by email, latest period first.
		QuerySubscriptionsByCustomer(ctx context.Context, email string) ([]Subscription, error)
		UpdateSubscription(ctx context.Context, sub Subscription) (Subscription, error)
		// CancelActiveSubscriptions cancels the active subscriptions of a school, except exceptID.
		CancelActiveSubscriptions(ctx context.Context, schoolID, exceptID string, at time.Time) error
		// ExpireSubscriptions marks the active subscriptions whose period ended before now as expired & returns them.
		ExpireSubscriptions(ctx context.Context, now time.Time) ([]Subscription, error)

		// RecordEvent stores a payment event; it returns false when the event was already recorded.
		RecordEvent(ctx context.Context, ev Event, at time.Time) (bool, error)
	}

	Service interface {
		CreatePlan(ctx context.Context, in PlanInput) (Plan, error)
		UpdatePlan(ctx context.Context, p Plan, in PlanInput) (Plan, error)
		// UpsertPlan creates the plan identified by in.Code, or updates it when it exists.
		UpsertPlan(ctx context.Context, in PlanInput) (Plan, bool, error)
		ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error)
		GetPlanByCode(ctx context.Context, code string) (Plan, error)

		// Subscribe starts a pending subscription of a school to a plan, to be paid under the returned reference.
		Subscribe(ctx context.Context, schoolID, planCode string) (Subscription, Plan, error)
		Subscriptions(ctx context.Context, schoolID string) ([]Subscription, error)
		GetSubscription(ctx context.Context, reference string) (Subscription, error)
		// ActivateByReference activates the subscription paid under reference.
		// Activating an active subscription is a no-op.
		ActivateByReference(ctx context.Context, reference string, paidAt time.Time) (Subscription, error)
		Cancel(ctx context.Context, reference string) (Subscription, error)
		// AttachCustomer records the email of the customer who paid the subscription.
		AttachCustomer(ctx context.Context, reference, email string) (Subscription, error)
		// AttachProviderCode links the provider's recurring subscription code to the latest active
		// subscription paid by email that has none yet. Linking an already linked code is a no-op.
		AttachProviderCode(ctx context.Context, email, code string) (Subscription, error)
		CancelByProviderCode(ctx context.Context, code string) (Subscription, error)
		// ExpireDue expires the active subscriptions whose period ended & returns the IDs of their schools.
		ExpireDue(ctx context.Context, now time.Time) ([]string, error)

		RecordEvent(ctx context.Context, ev Event) (bool, error)
		// InTx runs fn in a platform database transaction.
		InTx(ctx context.Context, fn func(ctx context.Context) error) error
	}

	service struct {
		db       core.DB
		repo     Repository
		validate *validator.Validate
	}
)

var _ Service = (*service)(nil)

// NewService returns the billing Service; db is the platform database (nil for in-memory repositories).
func NewService(db core.DB, repo Repository, validate *validator.Validate) Service {
	return &service{db: db, repo: repo, validate: validate}
}

// NewReference returns a new, unique & time-sortable payment reference.
func NewReference() string {
	return referencePrefix + ksuid.New().String()
}

func (svc *service) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return core.RunInTx(ctx, svc.db, fn)
}

// Plans

func (svc *service) CreatePlan(ctx context.Context, in PlanInput) (Plan, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Plan{}, err
	}
	now := NowFunc().UTC()
	p, err := svc.repo.CreatePlan(ctx, Plan{
		ID:          uuid.NewString(),
		Code:        in.Code,
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Currency:    in.Currency,
		Interval:    in.Interval,
		IsActive:    in.IsActive == nil || *in.IsActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if errors.Cause(err) == ErrPlanExists {
		return Plan{}, core.NewValidationError(err, core.FieldError{Field: "code", Error: ErrPlanExists.Error()})
	}
	return p, err
}

func (svc *service) UpdatePlan(ctx context.Context, p Plan, in PlanInput) (Plan, error) {
	in.Code = p.Code // codes are referenced by clients, they never change
	if err := in.Validate(svc.validate); err != nil {
		return Plan{}, err
	}
	p.Name = in.Name
	p.Description = in.Description
	p.Price = in.Price
	p.Currency = in.Currency
	p.Interval = in.Interval
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
	p.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdatePlan(ctx, p)
}

func (svc *service) UpsertPlan(ctx context.Context, in PlanInput) (Plan, bool, error) {
	p, err := svc.repo.GetPlanByCode(ctx, core.CleanString(in.Code, true /* lower */))
	switch errors.Cause(err) {
	case nil:
		p, err = svc.UpdatePlan(ctx, p, in)
		return p, false, err
	case ErrNotFound:
		p, err = svc.CreatePlan(ctx, in)
		return p, true, err
	default:
		return Plan{}, false, errors.Wrap(err, "finding plan by code")
	}
}

func (svc *service) ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error) {
	return svc.repo.QueryPlans(ctx, activeOnly)
}

func (svc *service) GetPlanByCode(ctx context.Context, code string) (Plan, error) {
	return svc.repo.GetPlanByCode(ctx, core.CleanString(code, true /* lower */))
}

// Subscriptions

func (svc *service) Subscribe(ctx context.Context, schoolID, planCode string) (Subscription, Plan, error) {
	plan, err := svc.GetPlanByCode(ctx, planCode)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Subscription{}, Plan{}, core.NewValidationError(err, core.FieldError{Field: "plan_code", Error: "plan not found"})
		}
		return Subscription{}, Plan{}, errors.Wrap(err, "finding plan by code")
	}
	if !plan.IsActive {
		return Subscription{}, Plan{}, core.NewValidationError(ErrPlanInactive, core.FieldError{Field: "plan_code", Error: ErrPlanInactive.Error()})
	}

	now := NowFunc().UTC()
	sub, err := svc.repo.CreateSubscription(ctx, Subscription{
		ID:        uuid.NewString(),
		SchoolID:  schoolID,
		PlanID:    plan.ID,
		Status:    StatusPending,
		Reference: NewReference(),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Subscription{}, Plan{}, errors.Wrap(err, "creating subscription")
	}
	return sub, plan, nil
}

func (svc *service) Subscriptions(ctx context.Context, schoolID string) ([]Subscription, error) {
	return svc.repo.QuerySubscriptions(ctx, schoolID)
}

func (svc *service) GetSubscription(ctx context.Context, reference string) (Subscription, error) {
	return svc.repo.GetSubscriptionByReference(ctx, reference)
}

func (svc *service) ActivateByReference(ctx context.Context, reference string, paidAt time.Time) (Subscription, error) {
	var sub Subscription
	err := svc.InTx(ctx, func(ctx context.Context) error {
		var err error
		sub, err = svc.repo.GetSubscriptionByReference(ctx, reference)
		if err != nil {
			return err
		}
		switch sub.Status {
		case StatusActive:
			return nil
		case StatusPending:
		default:
			return errors.Wrapf(ErrInvalidState, "activating a %s subscription", sub.Status)
		}

		plan, err := svc.repo.GetPlanByID(ctx, sub.PlanID)
		if err != nil {
			return errors.Wrap(err, "finding plan")
		}
		now := NowFunc().UTC()
		if paidAt.IsZero() {
			paidAt = now
		}
		if err := svc.repo.CancelActiveSubscriptions(ctx, sub.SchoolID, sub.ID, now); err != nil {
			return errors.Wrap(err, "cancelling previous subscriptions")
		}

		sub.Status = StatusActive
		sub.CurrentPeriodStart = paidAt.UTC()
		sub.CurrentPeriodEnd = plan.PeriodEnd(paidAt.UTC())
		sub.UpdatedAt = now
		sub, err = svc.repo.UpdateSubscription(ctx, sub)
		return err
	})
	return sub, err
}

func (svc *service) Cancel(ctx context.Context, reference string) (Subscription, error) {
	sub, err := svc.repo.GetSubscriptionByReference(ctx, reference)
	if err != nil {
		return Subscription{}, err
	}
	return svc.cancel(ctx, sub)
}

func (svc *service) CancelByProviderCode(ctx context.Context, code string) (Subscription, error) {
	sub, err := svc.repo.GetSubscriptionByProviderCode(ctx, code)
	if err != nil {
		return Subscription{}, err
	}
	return svc.cancel(ctx, sub)
}

func (svc *service) AttachCustomer(ctx context.Context, reference, email string) (Subscription, error) {
	sub, err := svc.repo.GetSubscriptionByReference(ctx, reference)
	if err != nil {
		return Subscription{}, err
	}
	email = core.CleanString(email, true /* lower */)
	if email == "" || sub.CustomerEmail == email {
		return sub, nil
	}
	sub.CustomerEmail = email
	sub.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateSubscription(ctx, sub)
}

func (svc *service) AttachProviderCode(ctx context.Context, email, code string) (Subscription, error) {
	sub, err := svc.repo.GetSubscriptionByProviderCode(ctx, code)
	if err == nil {
		return sub, nil
	} else if errors.Cause(err) != ErrNotFound {
		return Subscription{}, err
	}

	email = core.CleanString(email, true /* lower */)
	if email == "" {
		return Subscription{}, ErrNotFound
	}
	subs, err := svc.repo.QuerySubscriptionsByCustomer(ctx, email)
	if err != nil {
		return Subscription{}, errors.Wrap(err, "querying subscriptions by customer")
	}
	for _, sub := range subs {
		if sub.Status == StatusActive && sub.ProviderCode == "" {
			sub.ProviderCode = code
			sub.UpdatedAt = NowFunc().UTC()
			return svc.repo.UpdateSubscription(ctx, sub)
		}
	}
	return Subscription{}, ErrNotFound
}

func (svc *service) cancel(ctx context.Context, sub Subscription) (Subscription, error) {
	switch sub.Status {
	case StatusCancelled, StatusExpired:
		return sub, nil
	}
	sub.Status = StatusCancelled
	sub.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateSubscription(ctx, sub)
}

func (svc *service) ExpireDue(ctx context.Context, now time.Time) ([]string, error) {
	expired, err := svc.repo.ExpireSubscriptions(ctx, now.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "expiring subscriptions")
	}
	seen := make(map[string]struct{}, len(expired))
	schoolIDs := make([]string, 0, len(expired))
	for _, sub := range expired {
		if _, ok := seen[sub.SchoolID]; ok {
			continue
		}
		seen[sub.SchoolID] = struct{}{}
		schoolIDs = append(schoolIDs, sub.SchoolID)
	}
	return schoolIDs, nil
}

func (svc *service) RecordEvent(ctx context.Context, ev Event) (bool, error) {
	return svc.repo.RecordEvent(ctx, ev, NowFunc().UTC())
}
