package inmemdb

import (
	"context"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/school"
)

type rosterRepository struct {
	db *DB
}

var _ school.Repository = (*rosterRepository)(nil) // interface compliance check

func NewRosterRepository(db *DB) school.Repository {
	return &rosterRepository{db: db}
}

// Teachers

func teacherEmailTaken(s *schema, t school.Teacher) bool {
	if t.Email == "" {
		return false
	}
	for _, other := range s.teachers {
		if other.ID != t.ID && other.Email == t.Email {
			return true
		}
	}
	return false
}

func (repo *rosterRepository) CreateTeacher(ctx context.Context, t school.Teacher) (school.Teacher, error) {
	err := repo.db.write(ctx, func(s *schema) error {
		if teacherEmailTaken(s, t) {
			return school.ErrTeacherEmailExists
		}
		s.teachers[t.ID] = t
		return nil
	})
	if err != nil {
		return school.Teacher{}, err
	}
	return t, nil
}

func (repo *rosterRepository) GetTeacherByID(ctx context.Context, id string) (school.Teacher, error) {
	var (
		t  school.Teacher
		ok bool
	)
	repo.db.read(ctx, func(s *schema) { t, ok = s.teachers[id] })
	if !ok {
		return school.Teacher{}, school.ErrNotFound
	}
	return t, nil
}

func (repo *rosterRepository) QueryTeachers(ctx context.Context, filter *school.QueryFilter, orderings ...core.DBOrdering) ([]school.Teacher, error) {
	teachers := make([]school.Teacher, 0)
	repo.db.read(ctx, func(s *schema) {
		for _, t := range s.teachers {
			if filter != nil {
				if filter.Search != "" &&
					!contains(t.FirstName, filter.Search) && !contains(t.LastName, filter.Search) && !contains(t.Email, filter.Search) {
					continue
				}
				if filter.IsActive != nil && t.IsActive != *filter.IsActive {
					continue
				}
			}
			teachers = append(teachers, t)
		}
	})
	sortBy(teachers, core.FilterOrderings(orderings, school.TeacherOrderings...), func(a, b school.Teacher, field string) int {
		switch field {
		case "first_name":
			return compareStrings(a.FirstName, b.FirstName)
		case "last_name":
			return compareStrings(a.LastName, b.LastName)
		case "email":
			return compareStrings(a.Email, b.Email)
		case "created_at":
			return a.CreatedAt.Compare(b.CreatedAt)
		}
		return 0
	}, core.DBOrdering{Field: "last_name", Ascending: true}, core.DBOrdering{Field: "first_name", Ascending: true})
	return teachers, nil
}

func (repo *rosterRepository) UpdateTeacher(ctx context.Context, t school.Teacher) (school.Teacher, error) {
	err := repo.db.write(ctx, func(s *schema) error {
		orig, ok := s.teachers[t.ID]
		if !ok {
			return school.ErrNotFound
		}
		if teacherEmailTaken(s, t) {
			return school.ErrTeacherEmailExists
		}
		t.CreatedAt = orig.CreatedAt
		s.teachers[t.ID] = t
		return nil
	})
	if err != nil {
		return school.Teacher{}, err
	}
	return t, nil
}

func (repo *rosterRepository) DeleteTeacher(ctx context.Context, id string) error {
	return repo.db.write(ctx, func(s *schema) error {
		if _, ok := s.teachers[id]; !ok {
			return school.ErrNotFound
		}
		delete(s.teachers, id)
		for cid, c := range s.classes {
			if c.ClassTeacherID == id {
				c.ClassTeacherID = ""
				s.classes[cid] = c
			}
		}
		return nil
	})
}

func (repo *rosterRepository) TeacherHasPeriods(ctx context.Context, id string) (bool, error) {
	var found bool
	repo.db.read(ctx, func(s *schema) {
		for _, p := range s.periods {
			if p.TeacherID == id {
				found = true
				return
			}
		}
	})
	return found, nil
}

// Classes

func classTaken(s *schema, c school.Class) bool {
	for _, other := range s.classes {
		if other.ID != c.ID && other.Name == c.Name && other.Stream == c.Stream {
			return true
		}
	}
	return false
}

func (repo *rosterRepository) CreateClass(ctx context.Context, c school.Class) (school.Class, error) {
	err := repo.db.write(ctx, func(s *schema) error {
		if classTaken(s, c) {
			return school.ErrClassExists
		}
		s.classes[c.ID] = c
		return nil
	})
	if err != nil {
		return school.Class{}, err
	}
	return c, nil
}

func (repo *rosterRepository) GetClassByID(ctx context.Context, id string) (school.Class, error) {
	var (
		c  school.Class
		ok bool
	)
	repo.db.read(ctx, func(s *schema) { c, ok = s.classes[id] })
	if !ok {
		return school.Class{}, school.ErrNotFound
	}
	return c, nil
}

func (repo *rosterRepository) QueryClasses(ctx context.Context, filter *school.QueryFilter, orderings ...core.DBOrdering) ([]school.Class, error) {
	classes := make([]school.Class, 0)
	repo.db.read(ctx, func(s *schema) {
		for _, c := range s.classes {
			if filter != nil {
				if filter.Search != "" && !contains(c.Name, filter.Search) && !contains(c.Stream, filter.Search) {
					continue
				}
				if filter.Level != nil && c.Level != *filter.Level {
					continue
				}
			}
			classes = append(classes, c)
		}
	})
	sortBy(classes, core.FilterOrderings(orderings, school.ClassOrderings...), func(a, b school.Class, field string) int {
		switch field {
		case "name":
			return compareStrings(a.Name, b.Name)
		case "level":
			return compareInts(a.Level, b.Level)
		case "stream":
			return compareStrings(a.Stream, b.Stream)
		case "created_at":
			return a.CreatedAt.Compare(b.CreatedAt)
		}
		return 0
	},
		core.DBOrdering{Field: "level", Ascending: true},
		core.DBOrdering{Field: "name", Ascending: true},
		core.DBOrdering{Field: "stream", Ascending: true},
	)
	return classes, nil
}

func (repo *rosterRepository) UpdateClass(ctx context.Context, c school.Class) (school.Class, error) {
	err := repo.db.write(ctx, func(s *schema) error {
		orig, ok := s.classes[c.ID]
		if !ok {
			return school.ErrNotFound
		}
		if classTaken(s, c) {
			return school.ErrClassExists
		}
		c.CreatedAt = orig.CreatedAt
		s.classes[c.ID] = c
		return nil
	})
	if err != nil {
		return school.Class{}, err
	}
	return c, nil
}

// DeleteClass detaches the students of the class and deletes its timetables.
func (repo *rosterRepository) DeleteClass(ctx context.Context, id string) error {
	return repo.db.write(ctx, func(s *schema) error {
		if _, ok := s.classes[id]; !ok {
			return school.ErrNotFound
		}
		delete(s.classes, id)
		for sid, st := range s.students {
			if st.ClassID == id {
				st.ClassID = ""
				s.students[sid] = st
			}
		}
		for tid, tt := range s.timetables {
			if tt.ClassID == id {
				deleteTimetable(s, tid)
			}
		}
		return nil
	})
}

// Students

func admissionNoTaken(s *schema, st school.Student) bool {
	for _, other := range s.students {
		if other.ID != st.ID && other.AdmissionNo == st.AdmissionNo {
			return true
		}
	}
	return false
}

func (repo *rosterRepository) CreateStudent(ctx context.Context, st school.Student) (school.Student, error) {
	err := repo.db.write(ctx, func(s *schema) error {
		if admissionNoTaken(s, st) {
			return school.ErrAdmissionNoExists
		}
		s.students[st.ID] = st
		return nil
	})
	if err != nil {
		return school.Student{}, err
	}
	return st, nil
}

func (repo *rosterRepository) GetStudentByID(ctx context.Context, id string) (school.Student, error) {
	var (
		st school.Student
		ok bool
	)
	repo.db.read(ctx, func(s *schema) { st, ok = s.students[id] })
	if !ok {
		return school.Student{}, school.ErrNotFound
	}
	return st, nil
}

func (repo *rosterRepository) QueryStudents(ctx context.Context, filter *school.QueryFilter, orderings ...core.DBOrdering) ([]school.Student, error) {
	students := make([]school.Student, 0)
	repo.db.read(ctx, func(s *schema) {
		for _, st := range s.students {
			if filter != nil {
				if filter.Search != "" && !contains(st.FirstName, filter.Search) &&
					!contains(st.LastName, filter.Search) && !contains(st.AdmissionNo, filter.Search) {
					continue
				}
				if filter.IsActive != nil && st.IsActive != *filter.IsActive {
					continue
				}
				if filter.ClassID != "" && st.ClassID != filter.ClassID {
					continue
				}
			}
			students = append(students, st)
		}
	})
	sortBy(students, core.FilterOrderings(orderings, school.StudentOrderings...), func(a, b school.Student, field string) int {
		switch field {
		case "admission_no":
			return compareStrings(a.AdmissionNo, b.AdmissionNo)
		case "first_name":
			return compareStrings(a.FirstName, b.FirstName)
		case "last_name":
			return compareStrings(a.LastName, b.LastName)
		case "created_at":
			return a.CreatedAt.Compare(b.CreatedAt)
		}
		return 0
	}, core.DBOrdering{Field: "admission_no", Ascending: true})
	return students, nil
}

func (repo *rosterRepository) UpdateStudent(ctx context.Context, st school.Student) (school.Student, error) {
	err := repo.db.write(ctx, func(s *schema) error {
		orig, ok := s.students[st.ID]
		if !ok {
			return school.ErrNotFound
		}
		if admissionNoTaken(s, st) {
			return school.ErrAdmissionNoExists
		}
		st.CreatedAt = orig.CreatedAt
		s.students[st.ID] = st
		return nil
	})
	if err != nil {
		return school.Student{}, err
	}
	return st, nil
}

func (repo *rosterRepository) DeleteStudent(ctx context.Context, id string) error {
	return repo.db.write(ctx, func(s *schema) error {
		if _, ok := s.students[id]; !ok {
			return school.ErrNotFound
		}
		delete(s.students, id)
		return nil
	})
}
