package timetable

import (
	"context"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-cloud/core"
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrNotFound          = errors.New("not found")
	ErrTimetableExists   = errors.New("a timetable with this name already exists for this class and term")
	ErrTeacherNotFound   = errors.New("teacher not found")
	ErrClassNotFound     = errors.New("class not found")
	ErrInactiveTimetable = errors.New("periods cannot be scheduled on an inactive timetable")
)

type (
	Repository interface {
		CreateTimetable(ctx context.Context, tt Timetable) (Timetable, error)
		GetTimetableByID(ctx context.Context, id string) (Timetable, error)
		// QueryTimetables returns the timetables of a class, or all of them when classID is empty.
		QueryTimetables(ctx context.Context, classID string) ([]Timetable, error)
		UpdateTimetable(ctx context.Context, tt Timetable) (Timetable, error)
		// DeleteTimetable deletes a timetable & its periods.
		DeleteTimetable(ctx context.Context, id string) error

		// LockSchedule serializes period writes on a weekday until the end of the current transaction.
		LockSchedule(ctx context.Context, weekday int) error
		CreatePeriod(ctx context.Context, p Period) (Period, error)
		GetPeriodByID(ctx context.Context, id string) (Period, error)
		UpdatePeriod(ctx context.Context, p Period) (Period, error)
		DeletePeriod(ctx context.Context, id string) error
		QueryPeriodsByTimetable(ctx context.Context, timetableID string) ([]Period, error)
		// QueryPeriodsByTeacher returns the periods of a teacher in active timetables.
		QueryPeriodsByTeacher(ctx context.Context, teacherID string) ([]Period, error)
		// FindOverlappingPeriods preselects the periods of active timetables that may conflict with p:
		// same weekday, overlapping span, and same teacher, timetable or room.
		FindOverlappingPeriods(ctx context.Context, p Period) ([]Period, error)
	}

	// Roster answers the questions the timetable asks about the school roster.
	Roster interface {
		TeacherExists(ctx context.Context, id string) (bool, error)
		ClassExists(ctx context.Context, id string) (bool, error)
	}

	Service interface {
		CreateTimetable(ctx context.Context, nt NewTimetable) (Timetable, error)
		GetTimetable(ctx context.Context, id string) (Timetable, error)
		// ClassTimetable returns a timetable with its periods sorted by weekday & start time.
		ClassTimetable(ctx context.Context, id string) (Timetable, error)
		QueryTimetables(ctx context.Context, classID string) ([]Timetable, error)
		UpdateTimetable(ctx context.Context, tt Timetable, ut UpdateTimetable) (Timetable, error)
		DeleteTimetable(ctx context.Context, id string) error

		AddPeriod(ctx context.Context, timetableID string, in PeriodInput) (Period, error)
		UpdatePeriod(ctx context.Context, id string, in PeriodInput) (Period, error)
		DeletePeriod(ctx context.Context, id string) error
		// CheckPeriod runs the AddPeriod (or UpdatePeriod, when periodID is set) checks without writing anything.
		CheckPeriod(ctx context.Context, timetableID, periodID string, in PeriodInput) ([]Conflict, error)
		// TeacherSchedule returns the periods of a teacher across active timetables, sorted by weekday & start time.
		TeacherSchedule(ctx context.Context, teacherID string) ([]Period, error)
	}

	service struct {
		repo     Repository
		roster   Roster
		validate *validator.Validate
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, roster Roster, validate *validator.Validate) Service {
	return &service{repo: repo, roster: roster, validate: validate}
}

func (svc *service) CreateTimetable(ctx context.Context, nt NewTimetable) (Timetable, error) {
	if err := nt.Validate(svc.validate); err != nil {
		return Timetable{}, err
	}
	exists, err := svc.roster.ClassExists(ctx, nt.ClassID)
	if err != nil {
		return Timetable{}, errors.Wrap(err, "checking class")
	}
	if !exists {
		return Timetable{}, core.NewValidationError(ErrClassNotFound, core.FieldError{Field: "class_id", Error: ErrClassNotFound.Error()})
	}

	now := NowFunc().UTC()
	tt, err := svc.repo.CreateTimetable(ctx, Timetable{
		ID:        uuid.NewString(),
		ClassID:   nt.ClassID,
		Name:      nt.Name,
		Term:      nt.Term,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if errors.Cause(err) == ErrTimetableExists {
		return Timetable{}, core.NewValidationError(err, core.FieldError{Field: "name", Error: ErrTimetableExists.Error()})
	}
	return tt, err
}

func (svc *service) GetTimetable(ctx context.Context, id string) (Timetable, error) {
	return svc.repo.GetTimetableByID(ctx, id)
}

func (svc *service) ClassTimetable(ctx context.Context, id string) (Timetable, error) {
	tt, err := svc.repo.GetTimetableByID(ctx, id)
	if err != nil {
		return Timetable{}, err
	}
	periods, err := svc.repo.QueryPeriodsByTimetable(ctx, id)
	if err != nil {
		return Timetable{}, errors.Wrap(err, "querying periods")
	}
	sortPeriods(periods)
	tt.Periods = periods
	if tt.Periods == nil {
		tt.Periods = []Period{}
	}
	return tt, nil
}

func (svc *service) QueryTimetables(ctx context.Context, classID string) ([]Timetable, error) {
	return svc.repo.QueryTimetables(ctx, classID)
}

// UpdateTimetable renames a timetable or toggles it.
// Reactivating a timetable checks its periods against the other active timetables first.
func (svc *service) UpdateTimetable(ctx context.Context, tt Timetable, ut UpdateTimetable) (Timetable, error) {
	if err := ut.Validate(svc.validate); err != nil {
		return Timetable{}, err
	}
	if ut.Name != "" {
		tt.Name = ut.Name
	}
	if ut.Term != nil {
		tt.Term = *ut.Term
	}
	reactivating := ut.IsActive != nil && *ut.IsActive && !tt.IsActive
	if ut.IsActive != nil {
		tt.IsActive = *ut.IsActive
	}
	tt.UpdatedAt = NowFunc().UTC()

	var updated Timetable
	err := core.RunInTx(ctx, nil, func(ctx context.Context) error {
		if reactivating {
			if err := svc.checkTimetable(ctx, tt.ID); err != nil {
				return err
			}
		}
		var err error
		updated, err = svc.repo.UpdateTimetable(ctx, tt)
		return err
	})
	if errors.Cause(err) == ErrTimetableExists {
		return Timetable{}, core.NewValidationError(err, core.FieldError{Field: "name", Error: ErrTimetableExists.Error()})
	}
	return updated, err
}

// checkTimetable checks the periods of an inactive timetable against the active ones.
func (svc *service) checkTimetable(ctx context.Context, id string) error {
	periods, err := svc.repo.QueryPeriodsByTimetable(ctx, id)
	if err != nil {
		return errors.Wrap(err, "querying periods")
	}
	var conflicts []Conflict
	for _, p := range periods {
		existing, err := svc.repo.FindOverlappingPeriods(ctx, p)
		if err != nil {
			return errors.Wrap(err, "finding overlapping periods")
		}
		conflicts = append(conflicts, FindConflicts(p, existing)...)
	}
	if len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}
	return nil
}

func (svc *service) DeleteTimetable(ctx context.Context, id string) error {
	return svc.repo.DeleteTimetable(ctx, id)
}

// prepare validates in & returns the period it describes, with the conflicts it would cause.
// periodID is the ID of the period being updated, if any.
func (svc *service) prepare(ctx context.Context, timetableID, periodID string, in PeriodInput) (Period, []Conflict, error) {
	span, err := in.Validate(svc.validate)
	if err != nil {
		return Period{}, nil, err
	}

	tt, err := svc.repo.GetTimetableByID(ctx, timetableID)
	if err != nil {
		return Period{}, nil, err
	}
	if !tt.IsActive {
		return Period{}, nil, core.NewValidationError(ErrInactiveTimetable)
	}

	exists, err := svc.roster.TeacherExists(ctx, in.TeacherID)
	if err != nil {
		return Period{}, nil, errors.Wrap(err, "checking teacher")
	}
	if !exists {
		return Period{}, nil, core.NewValidationError(ErrTeacherNotFound, core.FieldError{Field: "teacher_id", Error: ErrTeacherNotFound.Error()})
	}

	p := in.period(timetableID, span)
	p.ID = periodID
	candidates, err := svc.repo.FindOverlappingPeriods(ctx, p)
	if err != nil {
		return Period{}, nil, errors.Wrap(err, "finding overlapping periods")
	}
	return p, FindConflicts(p, candidates), nil
}

func (svc *service) AddPeriod(ctx context.Context, timetableID string, in PeriodInput) (Period, error) {
	var created Period
	err := core.RunInTx(ctx, nil, func(ctx context.Context) error {
		if err := svc.repo.LockSchedule(ctx, in.Weekday); err != nil {
			return errors.Wrap(err, "locking schedule")
		}
		p, conflicts, err := svc.prepare(ctx, timetableID, "", in)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return &ConflictError{Conflicts: conflicts}
		}

		now := NowFunc().UTC()
		p.ID = uuid.NewString()
		p.CreatedAt = now
		p.UpdatedAt = now
		created, err = svc.repo.CreatePeriod(ctx, p)
		return err
	})
	return created, err
}

func (svc *service) UpdatePeriod(ctx context.Context, id string, in PeriodInput) (Period, error) {
	var updated Period
	err := core.RunInTx(ctx, nil, func(ctx context.Context) error {
		if err := svc.repo.LockSchedule(ctx, in.Weekday); err != nil {
			return errors.Wrap(err, "locking schedule")
		}
		orig, err := svc.repo.GetPeriodByID(ctx, id)
		if err != nil {
			return err
		}
		p, conflicts, err := svc.prepare(ctx, orig.TimetableID, orig.ID, in)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return &ConflictError{Conflicts: conflicts}
		}
		p.CreatedAt = orig.CreatedAt
		p.UpdatedAt = NowFunc().UTC()
		updated, err = svc.repo.UpdatePeriod(ctx, p)
		return err
	})
	return updated, err
}

func (svc *service) DeletePeriod(ctx context.Context, id string) error {
	return svc.repo.DeletePeriod(ctx, id)
}

func (svc *service) CheckPeriod(ctx context.Context, timetableID, periodID string, in PeriodInput) ([]Conflict, error) {
	if periodID != "" {
		orig, err := svc.repo.GetPeriodByID(ctx, periodID)
		if err != nil {
			return nil, err
		}
		timetableID = orig.TimetableID
	}

	_, conflicts, err := svc.prepare(ctx, timetableID, periodID, in)
	if err != nil {
		return nil, err
	}
	if conflicts == nil {
		conflicts = []Conflict{}
	}
	return conflicts, nil
}

func (svc *service) TeacherSchedule(ctx context.Context, teacherID string) ([]Period, error) {
	exists, err := svc.roster.TeacherExists(ctx, teacherID)
	if err != nil {
		return nil, errors.Wrap(err, "checking teacher")
	}
	if !exists {
		return nil, ErrTeacherNotFound
	}
	periods, err := svc.repo.QueryPeriodsByTeacher(ctx, teacherID)
	if err != nil {
		return nil, errors.Wrap(err, "querying periods")
	}
	sortPeriods(periods)
	if periods == nil {
		periods = []Period{}
	}
	return periods, nil
}

func sortPeriods(periods []Period) {
	sort.Slice(periods, func(i, j int) bool {
		a, b := periods[i], periods[j]
		if a.Weekday != b.Weekday {
			return a.Weekday < b.Weekday
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.ID < b.ID
	})
}
