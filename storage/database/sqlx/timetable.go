package sqlxrepos

import (
	"context"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-cloud/core/timetable"
)

// scheduleLockKey namespaces the advisory locks taken on period writes.
const scheduleLockKey = 0x6d736d // "msm"

var (
	timetableColumns = []string{"id", "class_id", "name", "term", "is_active", "created_at", "updated_at"}
	periodColumns    = []string{
		"p.id", "p.timetable_id", "p.weekday", "p.start_minute", "p.end_minute", "p.subject", "p.teacher_id", "p.room",
		"p.created_at", "p.updated_at",
	}
)

type timetableRow struct {
	ID        string    `db:"id"`
	ClassID   string    `db:"class_id"`
	Name      string    `db:"name"`
	Term      string    `db:"term"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r timetableRow) timetable() timetable.Timetable {
	return timetable.Timetable{
		ID:        r.ID,
		ClassID:   r.ClassID,
		Name:      r.Name,
		Term:      r.Term,
		IsActive:  r.IsActive,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type periodRow struct {
	ID          string    `db:"id"`
	TimetableID string    `db:"timetable_id"`
	Weekday     int       `db:"weekday"`
	StartMinute int       `db:"start_minute"`
	EndMinute   int       `db:"end_minute"`
	Subject     string    `db:"subject"`
	TeacherID   string    `db:"teacher_id"`
	Room        string    `db:"room"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r periodRow) period() timetable.Period {
	return timetable.Period{
		ID:          r.ID,
		TimetableID: r.TimetableID,
		Weekday:     r.Weekday,
		Start:       timetable.Clock(r.StartMinute),
		End:         timetable.Clock(r.EndMinute),
		Subject:     r.Subject,
		TeacherID:   r.TeacherID,
		Room:        r.Room,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func periods(rows []periodRow) []timetable.Period {
	ps := make([]timetable.Period, 0, len(rows))
	for _, r := range rows {
		ps = append(ps, r.period())
	}
	return ps
}

// timetableRepository runs on the school database carried by the context.
type timetableRepository struct {
	base
}

var _ timetable.Repository = (*timetableRepository)(nil) // interface compliance check

func NewTimetableRepository() *timetableRepository {
	return &timetableRepository{}
}

func (repo timetableRepository) CreateTimetable(ctx context.Context, tt timetable.Timetable) (timetable.Timetable, error) {
	_, err := repo.run(ctx, psql.Insert("timetable").Columns(timetableColumns...).Values(
		tt.ID, tt.ClassID, tt.Name, tt.Term, tt.IsActive, tt.CreatedAt.UTC(), tt.UpdatedAt.UTC(),
	))
	if uniqueViolation(err) != "" {
		return timetable.Timetable{}, timetable.ErrTimetableExists
	}
	if err != nil {
		return timetable.Timetable{}, errors.Wrap(err, "inserting timetable")
	}
	return tt, nil
}

func (repo timetableRepository) GetTimetableByID(ctx context.Context, id string) (timetable.Timetable, error) {
	if !isUUID(id) {
		return timetable.Timetable{}, timetable.ErrNotFound
	}
	var row timetableRow
	if err := repo.get(ctx, &row, psql.Select(timetableColumns...).From("timetable").Where(sq.Eq{"id": id})); err != nil {
		return timetable.Timetable{}, trapNoRowsErr(err, timetable.ErrNotFound, "finding timetable by ID")
	}
	return row.timetable(), nil
}

func (repo timetableRepository) QueryTimetables(ctx context.Context, classID string) ([]timetable.Timetable, error) {
	q := psql.Select(timetableColumns...).From("timetable").OrderBy("term DESC", "name ASC")
	if classID != "" {
		if !isUUID(classID) {
			return []timetable.Timetable{}, nil
		}
		q = q.Where(sq.Eq{"class_id": classID})
	}
	var rows []timetableRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying timetables")
	}
	tts := make([]timetable.Timetable, 0, len(rows))
	for _, r := range rows {
		tts = append(tts, r.timetable())
	}
	return tts, nil
}

func (repo timetableRepository) UpdateTimetable(ctx context.Context, tt timetable.Timetable) (timetable.Timetable, error) {
	n, err := repo.run(ctx, psql.Update("timetable").SetMap(map[string]interface{}{
		"name":       tt.Name,
		"term":       tt.Term,
		"is_active":  tt.IsActive,
		"updated_at": tt.UpdatedAt.UTC(),
	}).Where(sq.Eq{"id": tt.ID}))
	if uniqueViolation(err) != "" {
		return timetable.Timetable{}, timetable.ErrTimetableExists
	}
	if err := mustAffect(n, err, timetable.ErrNotFound, "updating timetable"); err != nil {
		return timetable.Timetable{}, err
	}
	return tt, nil
}

// DeleteTimetable relies on ON DELETE CASCADE for the periods.
func (repo timetableRepository) DeleteTimetable(ctx context.Context, id string) error {
	if !isUUID(id) {
		return timetable.ErrNotFound
	}
	n, err := repo.run(ctx, psql.Delete("timetable").Where(sq.Eq{"id": id}))
	return mustAffect(n, err, timetable.ErrNotFound, "deleting timetable")
}

// LockSchedule takes a transaction-level advisory lock: it must run inside a transaction.
func (repo timetableRepository) LockSchedule(ctx context.Context, weekday int) error {
	q := psql.Select().Column(sq.Expr("pg_advisory_xact_lock(?, ?)", scheduleLockKey, weekday))
	_, err := repo.run(ctx, q)
	return errors.Wrap(err, "locking schedule")
}

func (repo timetableRepository) CreatePeriod(ctx context.Context, p timetable.Period) (timetable.Period, error) {
	_, err := repo.run(ctx, psql.Insert("period").Columns(unqualified(periodColumns)...).Values(
		p.ID, p.TimetableID, p.Weekday, int(p.Start), int(p.End), p.Subject, p.TeacherID, p.Room,
		p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	))
	if err != nil {
		return timetable.Period{}, errors.Wrap(err, "inserting period")
	}
	return p, nil
}

func (repo timetableRepository) selectPeriods() sq.SelectBuilder {
	return psql.Select(periodColumns...).From("period p")
}

func (repo timetableRepository) GetPeriodByID(ctx context.Context, id string) (timetable.Period, error) {
	if !isUUID(id) {
		return timetable.Period{}, timetable.ErrNotFound
	}
	var row periodRow
	if err := repo.get(ctx, &row, repo.selectPeriods().Where(sq.Eq{"p.id": id})); err != nil {
		return timetable.Period{}, trapNoRowsErr(err, timetable.ErrNotFound, "finding period by ID")
	}
	return row.period(), nil
}

func (repo timetableRepository) UpdatePeriod(ctx context.Context, p timetable.Period) (timetable.Period, error) {
	n, err := repo.run(ctx, psql.Update("period").SetMap(map[string]interface{}{
		"weekday":      p.Weekday,
		"start_minute": int(p.Start),
		"end_minute":   int(p.End),
		"subject":      p.Subject,
		"teacher_id":   p.TeacherID,
		"room":         p.Room,
		"updated_at":   p.UpdatedAt.UTC(),
	}).Where(sq.Eq{"id": p.ID}))
	if err := mustAffect(n, err, timetable.ErrNotFound, "updating period"); err != nil {
		return timetable.Period{}, err
	}
	return p, nil
}

func (repo timetableRepository) DeletePeriod(ctx context.Context, id string) error {
	if !isUUID(id) {
		return timetable.ErrNotFound
	}
	n, err := repo.run(ctx, psql.Delete("period").Where(sq.Eq{"id": id}))
	return mustAffect(n, err, timetable.ErrNotFound, "deleting period")
}

func (repo timetableRepository) queryPeriods(ctx context.Context, q sq.SelectBuilder, msg string) ([]timetable.Period, error) {
	var rows []periodRow
	if err := repo.selectAll(ctx, &rows, q.OrderBy("p.weekday ASC", "p.start_minute ASC", "p.id ASC")); err != nil {
		return nil, errors.Wrap(err, msg)
	}
	return periods(rows), nil
}

func (repo timetableRepository) QueryPeriodsByTimetable(ctx context.Context, timetableID string) ([]timetable.Period, error) {
	if !isUUID(timetableID) {
		return []timetable.Period{}, nil
	}
	return repo.queryPeriods(ctx, repo.selectPeriods().Where(sq.Eq{"p.timetable_id": timetableID}), "querying timetable periods")
}

func (repo timetableRepository) activePeriods() sq.SelectBuilder {
	return repo.selectPeriods().
		Join("timetable t ON t.id = p.timetable_id").
		Where(sq.Eq{"t.is_active": true})
}

func (repo timetableRepository) QueryPeriodsByTeacher(ctx context.Context, teacherID string) ([]timetable.Period, error) {
	if !isUUID(teacherID) {
		return []timetable.Period{}, nil
	}
	return repo.queryPeriods(ctx, repo.activePeriods().Where(sq.Eq{"p.teacher_id": teacherID}), "querying teacher periods")
}

// FindOverlappingPeriods preselects with the half-open overlap predicate; FindConflicts has the final say.
func (repo timetableRepository) FindOverlappingPeriods(ctx context.Context, p timetable.Period) ([]timetable.Period, error) {
	related := sq.Or{
		sq.Eq{"p.teacher_id": p.TeacherID},
		sq.Eq{"p.timetable_id": p.TimetableID},
	}
	if room := strings.ToLower(strings.TrimSpace(p.Room)); room != "" {
		related = append(related, sq.Expr("lower(trim(p.room)) = ?", room))
	}
	q := repo.activePeriods().
		Where(sq.Eq{"p.weekday": p.Weekday}).
		Where(sq.Lt{"p.start_minute": int(p.End)}).
		Where(sq.Gt{"p.end_minute": int(p.Start)}).
		Where(related)
	if p.ID != "" {
		q = q.Where(sq.NotEq{"p.id": p.ID})
	}
	return repo.queryPeriods(ctx, q, "finding overlapping periods")
}

func unqualified(columns []string) []string {
	out := make([]string, 0, len(columns))
	for _, col := range columns {
		out = append(out, strings.TrimPrefix(col, "p."))
	}
	return out
}
