package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/school"
)

const dateLayout = "2006-01-02"

var (
	teacherColumns = []string{"id", "first_name", "last_name", "email", "phone", "is_active", "created_at", "updated_at"}
	classColumns   = []string{"id", "name", "level", "stream", "class_teacher_id", "created_at", "updated_at"}
	studentColumns = []string{
		"id", "admission_no", "first_name", "last_name", "gender", "date_of_birth", "class_id", "is_active",
		"created_at", "updated_at",
	}
)

type teacherRow struct {
	ID        string      `db:"id"`
	FirstName string      `db:"first_name"`
	LastName  string      `db:"last_name"`
	Email     null.String `db:"email"`
	Phone     string      `db:"phone"`
	IsActive  bool        `db:"is_active"`
	CreatedAt time.Time   `db:"created_at"`
	UpdatedAt time.Time   `db:"updated_at"`
}

func (r teacherRow) teacher() school.Teacher {
	return school.Teacher{
		ID:        r.ID,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Email:     r.Email.String,
		Phone:     r.Phone,
		IsActive:  r.IsActive,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type classRow struct {
	ID             string      `db:"id"`
	Name           string      `db:"name"`
	Level          int         `db:"level"`
	Stream         string      `db:"stream"`
	ClassTeacherID null.String `db:"class_teacher_id"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
}

func (r classRow) class() school.Class {
	return school.Class{
		ID:             r.ID,
		Name:           r.Name,
		Level:          r.Level,
		Stream:         r.Stream,
		ClassTeacherID: r.ClassTeacherID.String,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

type studentRow struct {
	ID          string      `db:"id"`
	AdmissionNo string      `db:"admission_no"`
	FirstName   string      `db:"first_name"`
	LastName    string      `db:"last_name"`
	Gender      string      `db:"gender"`
	DateOfBirth null.Time   `db:"date_of_birth"`
	ClassID     null.String `db:"class_id"`
	IsActive    bool        `db:"is_active"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

func (r studentRow) student() school.Student {
	s := school.Student{
		ID:          r.ID,
		AdmissionNo: r.AdmissionNo,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Gender:      r.Gender,
		ClassID:     r.ClassID.String,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if r.DateOfBirth.Valid {
		s.DateOfBirth = r.DateOfBirth.Time.Format(dateLayout)
	}
	return s
}

func nullString(s string) null.String {
	return null.NewString(s, s != "")
}

func dateOfBirth(s school.Student) null.Time {
	dob := s.ParseDateOfBirth()
	return null.NewTime(dob, !dob.IsZero())
}

// rosterRepository runs on the school database carried by the context.
type rosterRepository struct {
	base
}

var _ school.Repository = (*rosterRepository)(nil) // interface compliance check

func NewRosterRepository() *rosterRepository {
	return &rosterRepository{}
}

func (repo rosterRepository) writeErr(err error, msg string) error {
	switch uniqueViolation(err) {
	case "teacher_email_key":
		return school.ErrTeacherEmailExists
	case "class_name_stream_key":
		return school.ErrClassExists
	case "student_admission_no_key":
		return school.ErrAdmissionNoExists
	}
	return errors.Wrap(err, msg)
}

func (repo rosterRepository) update(ctx context.Context, table, id string, values map[string]interface{}, msg string) error {
	n, err := repo.run(ctx, psql.Update(table).SetMap(values).Where(sq.Eq{"id": id}))
	if err != nil {
		return repo.writeErr(err, msg)
	}
	if n == 0 {
		return school.ErrNotFound
	}
	return nil
}

func (repo rosterRepository) delete(ctx context.Context, table, id, msg string) error {
	if !isUUID(id) {
		return school.ErrNotFound
	}
	n, err := repo.run(ctx, psql.Delete(table).Where(sq.Eq{"id": id}))
	return mustAffect(n, err, school.ErrNotFound, msg)
}

// Teachers

func (repo rosterRepository) CreateTeacher(ctx context.Context, t school.Teacher) (school.Teacher, error) {
	_, err := repo.run(ctx, psql.Insert("teacher").Columns(teacherColumns...).Values(
		t.ID, t.FirstName, t.LastName, nullString(t.Email), t.Phone, t.IsActive, t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	))
	if err != nil {
		return school.Teacher{}, repo.writeErr(err, "inserting teacher")
	}
	return t, nil
}

func (repo rosterRepository) GetTeacherByID(ctx context.Context, id string) (school.Teacher, error) {
	if !isUUID(id) {
		return school.Teacher{}, school.ErrNotFound
	}
	var row teacherRow
	if err := repo.get(ctx, &row, psql.Select(teacherColumns...).From("teacher").Where(sq.Eq{"id": id})); err != nil {
		return school.Teacher{}, trapNoRowsErr(err, school.ErrNotFound, "finding teacher by ID")
	}
	return row.teacher(), nil
}

func (repo rosterRepository) QueryTeachers(ctx context.Context, filter *school.QueryFilter, orderings ...core.DBOrdering) ([]school.Teacher, error) {
	q := psql.Select(teacherColumns...).From("teacher")
	if filter != nil {
		if filter.Search != "" {
			q = q.Where(ilike(filter.Search, "first_name", "last_name", "email"))
		}
		if filter.IsActive != nil {
			q = q.Where(sq.Eq{"is_active": *filter.IsActive})
		}
	}
	q = orderBy(q, orderings, "last_name ASC, first_name ASC")

	var rows []teacherRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying teachers")
	}
	teachers := make([]school.Teacher, 0, len(rows))
	for _, r := range rows {
		teachers = append(teachers, r.teacher())
	}
	return teachers, nil
}

func (repo rosterRepository) UpdateTeacher(ctx context.Context, t school.Teacher) (school.Teacher, error) {
	err := repo.update(ctx, "teacher", t.ID, map[string]interface{}{
		"first_name": t.FirstName,
		"last_name":  t.LastName,
		"email":      nullString(t.Email),
		"phone":      t.Phone,
		"is_active":  t.IsActive,
		"updated_at": t.UpdatedAt.UTC(),
	}, "updating teacher")
	if err != nil {
		return school.Teacher{}, err
	}
	return t, nil
}

func (repo rosterRepository) DeleteTeacher(ctx context.Context, id string) error {
	return repo.delete(ctx, "teacher", id, "deleting teacher")
}

func (repo rosterRepository) TeacherHasPeriods(ctx context.Context, id string) (bool, error) {
	if !isUUID(id) {
		return false, nil
	}
	var found bool
	q := psql.Select().Column(sq.Expr("EXISTS (SELECT 1 FROM period WHERE teacher_id = ?)", id))
	if err := repo.get(ctx, &found, q); err != nil {
		return false, errors.Wrap(err, "checking teacher periods")
	}
	return found, nil
}

// Classes

func (repo rosterRepository) CreateClass(ctx context.Context, c school.Class) (school.Class, error) {
	_, err := repo.run(ctx, psql.Insert("class").Columns(classColumns...).Values(
		c.ID, c.Name, c.Level, c.Stream, nullString(c.ClassTeacherID), c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	))
	if err != nil {
		return school.Class{}, repo.writeErr(err, "inserting class")
	}
	return c, nil
}

func (repo rosterRepository) GetClassByID(ctx context.Context, id string) (school.Class, error) {
	if !isUUID(id) {
		return school.Class{}, school.ErrNotFound
	}
	var row classRow
	if err := repo.get(ctx, &row, psql.Select(classColumns...).From("class").Where(sq.Eq{"id": id})); err != nil {
		return school.Class{}, trapNoRowsErr(err, school.ErrNotFound, "finding class by ID")
	}
	return row.class(), nil
}

func (repo rosterRepository) QueryClasses(ctx context.Context, filter *school.QueryFilter, orderings ...core.DBOrdering) ([]school.Class, error) {
	q := psql.Select(classColumns...).From("class")
	if filter != nil {
		if filter.Search != "" {
			q = q.Where(ilike(filter.Search, "name", "stream"))
		}
		if filter.Level != nil {
			q = q.Where(sq.Eq{"level": *filter.Level})
		}
	}
	q = orderBy(q, orderings, "level ASC, name ASC, stream ASC")

	var rows []classRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	classes := make([]school.Class, 0, len(rows))
	for _, r := range rows {
		classes = append(classes, r.class())
	}
	return classes, nil
}

func (repo rosterRepository) UpdateClass(ctx context.Context, c school.Class) (school.Class, error) {
	err := repo.update(ctx, "class", c.ID, map[string]interface{}{
		"name":             c.Name,
		"level":            c.Level,
		"stream":           c.Stream,
		"class_teacher_id": nullString(c.ClassTeacherID),
		"updated_at":       c.UpdatedAt.UTC(),
	}, "updating class")
	if err != nil {
		return school.Class{}, err
	}
	return c, nil
}

func (repo rosterRepository) DeleteClass(ctx context.Context, id string) error {
	return repo.delete(ctx, "class", id, "deleting class")
}

// Students

func (repo rosterRepository) CreateStudent(ctx context.Context, s school.Student) (school.Student, error) {
	_, err := repo.run(ctx, psql.Insert("student").Columns(studentColumns...).Values(
		s.ID, s.AdmissionNo, s.FirstName, s.LastName, s.Gender, dateOfBirth(s), nullString(s.ClassID), s.IsActive,
		s.CreatedAt.UTC(), s.UpdatedAt.UTC(),
	))
	if err != nil {
		return school.Student{}, repo.writeErr(err, "inserting student")
	}
	return s, nil
}

func (repo rosterRepository) GetStudentByID(ctx context.Context, id string) (school.Student, error) {
	if !isUUID(id) {
		return school.Student{}, school.ErrNotFound
	}
	var row studentRow
	if err := repo.get(ctx, &row, psql.Select(studentColumns...).From("student").Where(sq.Eq{"id": id})); err != nil {
		return school.Student{}, trapNoRowsErr(err, school.ErrNotFound, "finding student by ID")
	}
	return row.student(), nil
}

func (repo rosterRepository) QueryStudents(ctx context.Context, filter *school.QueryFilter, orderings ...core.DBOrdering) ([]school.Student, error) {
	q := psql.Select(studentColumns...).From("student")
	if filter != nil {
		if filter.Search != "" {
			q = q.Where(ilike(filter.Search, "first_name", "last_name", "admission_no"))
		}
		if filter.IsActive != nil {
			q = q.Where(sq.Eq{"is_active": *filter.IsActive})
		}
		if filter.ClassID != "" {
			if !isUUID(filter.ClassID) {
				return []school.Student{}, nil
			}
			q = q.Where(sq.Eq{"class_id": filter.ClassID})
		}
	}
	q = orderBy(q, orderings, "admission_no ASC")

	var rows []studentRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	students := make([]school.Student, 0, len(rows))
	for _, r := range rows {
		students = append(students, r.student())
	}
	return students, nil
}

func (repo rosterRepository) UpdateStudent(ctx context.Context, s school.Student) (school.Student, error) {
	err := repo.update(ctx, "student", s.ID, map[string]interface{}{
		"admission_no":  s.AdmissionNo,
		"first_name":    s.FirstName,
		"last_name":     s.LastName,
		"gender":        s.Gender,
		"date_of_birth": dateOfBirth(s),
		"class_id":      nullString(s.ClassID),
		"is_active":     s.IsActive,
		"updated_at":    s.UpdatedAt.UTC(),
	}, "updating student")
	if err != nil {
		return school.Student{}, err
	}
	return s, nil
}

func (repo rosterRepository) DeleteStudent(ctx context.Context, id string) error {
	return repo.delete(ctx, "student", id, "deleting student")
}
