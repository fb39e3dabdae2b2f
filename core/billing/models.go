package billing

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-cloud/core"
)

// Plan intervals
const (
	IntervalMonthly  = "monthly"
	IntervalAnnually = "annually"
)

// Subscription statuses
const (
	StatusPending   = "pending"   // awaiting payment
	StatusActive    = "active"    // paid for the current period
	StatusCancelled = "cancelled" // replaced or disabled
	StatusExpired   = "expired"   // current period ended without renewal
)

type Plan struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       int64     `json:"price"` // minor units (eg. kobo)
	Currency    string    `json:"currency"`
	Interval    string    `json:"interval"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

// PeriodEnd returns the end of the billing period starting at start.
func (p Plan) PeriodEnd(start time.Time) time.Time {
	if p.Interval == IntervalAnnually {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

type Subscription struct {
	ID                 string    `json:"id"`
	SchoolID           string    `json:"school_id"`
	PlanID             string    `json:"plan_id"`
	Status             string    `json:"status"`
	Reference          string    `json:"reference"`
	CustomerEmail      string    `json:"customer_email"` // payer, known once paid
	ProviderCode       string    `json:"provider_code"`  // recurring subscription at the payment provider, if any
	CurrentPeriodStart time.Time `json:"current_period_start"` // UTC; zero until paid
	CurrentPeriodEnd   time.Time `json:"current_period_end"`   // UTC; zero until paid
	CreatedAt          time.Time `json:"created_at"`           // UTC
	UpdatedAt          time.Time `json:"updated_at"`           // UTC
}

// Event is a payment provider notification.
type Event struct {
	Provider         string
	Name             string // eg. charge.success
	Reference        string // payment reference; ours for the first charge of a subscription
	SubscriptionCode string // provider's code of a recurring subscription
	Status           string
	PaidAt           time.Time
	Amount           int64
	Currency         string
	CustomerEmail    string
}

// Key identifies the object of the event, for deduplication.
func (ev Event) Key() string {
	if ev.Reference != "" {
		return ev.Reference
	}
	return ev.SubscriptionCode
}

// PlanInput contains the information needed to create or update a Plan.
type PlanInput struct {
	Code        string `json:"code" yaml:"code" validate:"required,alphanum_,max=50"`
	Name        string `json:"name" yaml:"name" validate:"notblank,max=100"`
	Description string `json:"description" yaml:"description"`
	Price       int64  `json:"price" yaml:"price" validate:"min=0"`
	Currency    string `json:"currency" yaml:"currency" validate:"required,len=3,alpha"`
	Interval    string `json:"interval" yaml:"interval" validate:"required,oneof=monthly annually"`
	IsActive    *bool  `json:"is_active" yaml:"is_active"`
}

func (pi *PlanInput) Validate(validate *validator.Validate) error {
	pi.Code = core.CleanString(pi.Code, true /* lower */)
	pi.Name = core.CleanString(pi.Name)
	pi.Description = core.CleanString(pi.Description)
	pi.Currency = strings.ToUpper(core.CleanString(pi.Currency))
	pi.Interval = core.CleanString(pi.Interval, true /* lower */)
	return validate.Struct(pi)
}

type SubscribeRequest struct {
	PlanCode string `json:"plan_code" validate:"required"`
}
