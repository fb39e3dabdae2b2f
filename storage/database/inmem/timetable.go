package inmemdb

import (
	"context"
	"strings"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/timetable"
)

type timetableRepository struct {
	db *DB
}

var _ timetable.Repository = (*timetableRepository)(nil) // interface compliance check

func NewTimetableRepository(db *DB) timetable.Repository {
	return &timetableRepository{db: db}
}

func timetableTaken(s *schema, tt timetable.Timetable) bool {
	for _, other := range s.timetables {
		if other.ID != tt.ID && other.ClassID == tt.ClassID && other.Name == tt.Name && other.Term == tt.Term {
			return true
		}
	}
	return false
}

func (repo *timetableRepository) CreateTimetable(ctx context.Context, tt timetable.Timetable) (timetable.Timetable, error) {
	tt.Periods = nil
	err := repo.db.write(ctx, func(s *schema) error {
		if _, ok := s.classes[tt.ClassID]; !ok {
			return timetable.ErrClassNotFound
		}
		if timetableTaken(s, tt) {
			return timetable.ErrTimetableExists
		}
		s.timetables[tt.ID] = tt
		return nil
	})
	if err != nil {
		return timetable.Timetable{}, err
	}
	return tt, nil
}

func (repo *timetableRepository) GetTimetableByID(ctx context.Context, id string) (timetable.Timetable, error) {
	var (
		tt timetable.Timetable
		ok bool
	)
	repo.db.read(ctx, func(s *schema) { tt, ok = s.timetables[id] })
	if !ok {
		return timetable.Timetable{}, timetable.ErrNotFound
	}
	return tt, nil
}

func (repo *timetableRepository) QueryTimetables(ctx context.Context, classID string) ([]timetable.Timetable, error) {
	tts := make([]timetable.Timetable, 0)
	repo.db.read(ctx, func(s *schema) {
		for _, tt := range s.timetables {
			if classID == "" || tt.ClassID == classID {
				tts = append(tts, tt)
			}
		}
	})
	sortBy(tts, nil, func(a, b timetable.Timetable, field string) int {
		if field == "term" {
			return strings.Compare(a.Term, b.Term)
		}
		return strings.Compare(a.Name, b.Name)
	}, core.DBOrdering{Field: "term"}, core.DBOrdering{Field: "name", Ascending: true})
	return tts, nil
}

func (repo *timetableRepository) UpdateTimetable(ctx context.Context, tt timetable.Timetable) (timetable.Timetable, error) {
	var updated timetable.Timetable
	err := repo.db.write(ctx, func(s *schema) error {
		orig, ok := s.timetables[tt.ID]
		if !ok {
			return timetable.ErrNotFound
		}
		orig.Name = tt.Name
		orig.Term = tt.Term
		if timetableTaken(s, orig) {
			return timetable.ErrTimetableExists
		}
		orig.IsActive = tt.IsActive
		orig.UpdatedAt = tt.UpdatedAt
		s.timetables[tt.ID] = orig
		updated = orig
		return nil
	})
	return updated, err
}

func deleteTimetable(s *schema, id string) {
	delete(s.timetables, id)
	for pid, p := range s.periods {
		if p.TimetableID == id {
			delete(s.periods, pid)
		}
	}
}

func (repo *timetableRepository) DeleteTimetable(ctx context.Context, id string) error {
	return repo.db.write(ctx, func(s *schema) error {
		if _, ok := s.timetables[id]; !ok {
			return timetable.ErrNotFound
		}
		deleteTimetable(s, id)
		return nil
	})
}

// LockSchedule is a no-op: every write already holds the DB lock.
func (repo *timetableRepository) LockSchedule(context.Context, int) error {
	return nil
}

func (repo *timetableRepository) CreatePeriod(ctx context.Context, p timetable.Period) (timetable.Period, error) {
	err := repo.db.write(ctx, func(s *schema) error {
		if _, ok := s.timetables[p.TimetableID]; !ok {
			return timetable.ErrNotFound
		}
		if _, ok := s.teachers[p.TeacherID]; !ok {
			return timetable.ErrTeacherNotFound
		}
		s.periods[p.ID] = p
		return nil
	})
	if err != nil {
		return timetable.Period{}, err
	}
	return p, nil
}

func (repo *timetableRepository) GetPeriodByID(ctx context.Context, id string) (timetable.Period, error) {
	var (
		p  timetable.Period
		ok bool
	)
	repo.db.read(ctx, func(s *schema) { p, ok = s.periods[id] })
	if !ok {
		return timetable.Period{}, timetable.ErrNotFound
	}
	return p, nil
}

func (repo *timetableRepository) UpdatePeriod(ctx context.Context, p timetable.Period) (timetable.Period, error) {
	var updated timetable.Period
	err := repo.db.write(ctx, func(s *schema) error {
		orig, ok := s.periods[p.ID]
		if !ok {
			return timetable.ErrNotFound
		}
		orig.Weekday = p.Weekday
		orig.Start = p.Start
		orig.End = p.End
		orig.Subject = p.Subject
		orig.TeacherID = p.TeacherID
		orig.Room = p.Room
		orig.UpdatedAt = p.UpdatedAt
		s.periods[p.ID] = orig
		updated = orig
		return nil
	})
	return updated, err
}

func (repo *timetableRepository) DeletePeriod(ctx context.Context, id string) error {
	return repo.db.write(ctx, func(s *schema) error {
		if _, ok := s.periods[id]; !ok {
			return timetable.ErrNotFound
		}
		delete(s.periods, id)
		return nil
	})
}

// queryPeriods returns the periods matching keep, sorted by weekday, start time & ID.
func (repo *timetableRepository) queryPeriods(ctx context.Context, keep func(s *schema, p timetable.Period) bool) []timetable.Period {
	periods := make([]timetable.Period, 0)
	repo.db.read(ctx, func(s *schema) {
		for _, p := range s.periods {
			if keep(s, p) {
				periods = append(periods, p)
			}
		}
	})
	sortBy(periods, nil, func(a, b timetable.Period, field string) int {
		switch field {
		case "weekday":
			return compareInts(a.Weekday, b.Weekday)
		case "start":
			return compareInts(int(a.Start), int(b.Start))
		}
		return strings.Compare(a.ID, b.ID)
	},
		core.DBOrdering{Field: "weekday", Ascending: true},
		core.DBOrdering{Field: "start", Ascending: true},
		core.DBOrdering{Field: "id", Ascending: true},
	)
	return periods
}

func (repo *timetableRepository) QueryPeriodsByTimetable(ctx context.Context, timetableID string) ([]timetable.Period, error) {
	return repo.queryPeriods(ctx, func(_ *schema, p timetable.Period) bool {
		return p.TimetableID == timetableID
	}), nil
}

func isActive(s *schema, p timetable.Period) bool {
	tt, ok := s.timetables[p.TimetableID]
	return ok && tt.IsActive
}

func (repo *timetableRepository) QueryPeriodsByTeacher(ctx context.Context, teacherID string) ([]timetable.Period, error) {
	return repo.queryPeriods(ctx, func(s *schema, p timetable.Period) bool {
		return p.TeacherID == teacherID && isActive(s, p)
	}), nil
}

func (repo *timetableRepository) FindOverlappingPeriods(ctx context.Context, candidate timetable.Period) ([]timetable.Period, error) {
	room := strings.ToLower(strings.TrimSpace(candidate.Room))
	return repo.queryPeriods(ctx, func(s *schema, p timetable.Period) bool {
		if (candidate.ID != "" && p.ID == candidate.ID) || p.Weekday != candidate.Weekday || !isActive(s, p) {
			return false
		}
		if !(p.Start < candidate.End && p.End > candidate.Start) {
			return false
		}
		return p.TeacherID == candidate.TeacherID || p.TimetableID == candidate.TimetableID ||
			(room != "" && strings.ToLower(strings.TrimSpace(p.Room)) == room)
	}), nil
}
