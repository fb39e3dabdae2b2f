package timetable

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-cloud/core"
)

type Timetable struct {
	ID        string    `json:"id"`
	ClassID   string    `json:"class_id"`
	Name      string    `json:"name"`
	Term      string    `json:"term"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
	Periods   []Period  `json:"periods,omitempty"`
}

type Period struct {
	ID          string    `json:"id"`
	TimetableID string    `json:"timetable_id"`
	Weekday     int       `json:"weekday"` // 1 = Monday ... 7 = Sunday
	Start       Clock     `json:"start_time"`
	End         Clock     `json:"end_time"`
	Subject     string    `json:"subject"`
	TeacherID   string    `json:"teacher_id"`
	Room        string    `json:"room"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

func (p Period) Span() Span {
	return Span{Start: p.Start, End: p.End}
}

// NewTimetable contains information needed to create a new Timetable.
type NewTimetable struct {
	ClassID string `json:"class_id" validate:"required,uuid"`
	Name    string `json:"name" validate:"notblank,max=100"`
	Term    string `json:"term" validate:"max=50"`
}

func (nt *NewTimetable) Validate(validate *validator.Validate) error {
	nt.Name = core.CleanString(nt.Name)
	nt.Term = core.CleanString(nt.Term)
	return validate.Struct(nt)
}

// UpdateTimetable defines what information may be provided to modify an existing Timetable.
type UpdateTimetable struct {
	Name     string  `json:"name" validate:"omitempty,max=100"`
	Term     *string `json:"term" validate:"omitempty,max=50"`
	IsActive *bool   `json:"is_active"`
}

func (ut *UpdateTimetable) Validate(validate *validator.Validate) error {
	ut.Name = core.CleanString(ut.Name)
	if ut.Term != nil {
		ut.Term = core.StringPtr(core.CleanString(*ut.Term))
	}
	return validate.Struct(ut)
}

// PeriodInput contains the information needed to add, update or check a Period.
type PeriodInput struct {
	Weekday   int    `json:"weekday" validate:"weekday"`
	StartTime string `json:"start_time" validate:"required,clock"`
	EndTime   string `json:"end_time" validate:"required,clock"`
	Subject   string `json:"subject" validate:"notblank,max=100"`
	TeacherID string `json:"teacher_id" validate:"required,uuid"`
	Room      string `json:"room" validate:"max=50"`
}

// Validate cleans & validates the input, then returns the Span it covers.
func (pi *PeriodInput) Validate(validate *validator.Validate) (Span, error) {
	pi.Subject = core.CleanString(pi.Subject)
	pi.Room = core.CleanString(pi.Room)
	pi.StartTime = core.CleanString(pi.StartTime)
	pi.EndTime = core.CleanString(pi.EndTime)

	if err := validate.Struct(pi); err != nil {
		return Span{}, err
	}

	start, err := ParseClock(pi.StartTime)
	if err != nil || start == endOfDay {
		return Span{}, core.NewValidationError(nil, core.FieldError{Field: "start_time", Error: ErrInvalidClock.Error()})
	}
	end, err := ParseClock(pi.EndTime)
	if err != nil {
		return Span{}, core.NewValidationError(nil, core.FieldError{Field: "end_time", Error: ErrInvalidClock.Error()})
	}
	span := Span{Start: start, End: end}
	if !span.Valid() {
		return Span{}, core.NewValidationError(nil, core.FieldError{Field: "end_time", Error: "end time must be after start time"})
	}
	return span, nil
}

func (pi PeriodInput) period(timetableID string, span Span) Period {
	return Period{
		TimetableID: timetableID,
		Weekday:     pi.Weekday,
		Start:       span.Start,
		End:         span.End,
		Subject:     pi.Subject,
		TeacherID:   pi.TeacherID,
		Room:        pi.Room,
	}
}
