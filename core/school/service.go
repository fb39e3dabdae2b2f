package school

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-cloud/core"
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrNotFound           = errors.New("not found")
	ErrTeacherEmailExists = errors.New("a teacher with this email already exists")
	ErrAdmissionNoExists  = errors.New("a student with this admission number already exists")
	ErrClassExists        = errors.New("a class with this name and stream already exists")
	ErrTeacherInUse       = errors.New("teacher still has timetabled periods")
	errUnknownTeacher     = errors.New("teacher not found")
	errUnknownClass       = errors.New("class not found")
)

type (
	Repository interface {
		CreateTeacher(ctx context.Context, t Teacher) (Teacher, error)
		GetTeacherByID(ctx context.Context, id string) (Teacher, error)
		QueryTeachers(ctx context.Context, filter *QueryFilter, orderings ...core.DBOrdering) ([]Teacher, error)
		UpdateTeacher(ctx context.Context, t Teacher) (Teacher, error)
		DeleteTeacher(ctx context.Context, id string) error
		TeacherHasPeriods(ctx context.Context, id string) (bool, error)

		CreateClass(ctx context.Context, c Class) (Class, error)
		GetClassByID(ctx context.Context, id string) (Class, error)
		QueryClasses(ctx context.Context, filter *QueryFilter, orderings ...core.DBOrdering) ([]Class, error)
		UpdateClass(ctx context.Context, c Class) (Class, error)
		DeleteClass(ctx context.Context, id string) error

		CreateStudent(ctx context.Context, s Student) (Student, error)
		GetStudentByID(ctx context.Context, id string) (Student, error)
		QueryStudents(ctx context.Context, filter *QueryFilter, orderings ...core.DBOrdering) ([]Student, error)
		UpdateStudent(ctx context.Context, s Student) (Student, error)
		DeleteStudent(ctx context.Context, id string) error
	}

	// Service manages the roster of the school the request context points to.
	Service interface {
		CreateTeacher(ctx context.Context, in TeacherInput) (Teacher, error)
		GetTeacher(ctx context.Context, id string) (Teacher, error)
		QueryTeachers(ctx context.Context, filter *QueryFilter, orderings ...core.DBOrdering) ([]Teacher, error)
		UpdateTeacher(ctx context.Context, t Teacher, in TeacherInput) (Teacher, error)
		DeleteTeacher(ctx context.Context, id string) error
		TeacherExists(ctx context.Context, id string) (bool, error)

		CreateClass(ctx context.Context, in ClassInput) (Class, error)
		GetClass(ctx context.Context, id string) (Class, error)
		QueryClasses(ctx context.Context, filter *QueryFilter, orderings ...core.DBOrdering) ([]Class, error)
		UpdateClass(ctx context.Context, c Class, in ClassInput) (Class, error)
		DeleteClass(ctx context.Context, id string) error
		ClassExists(ctx context.Context, id string) (bool, error)

		CreateStudent(ctx context.Context, in StudentInput) (Student, error)
		GetStudent(ctx context.Context, id string) (Student, error)
		QueryStudents(ctx context.Context, filter *QueryFilter, orderings ...core.DBOrdering) ([]Student, error)
		UpdateStudent(ctx context.Context, s Student, in StudentInput) (Student, error)
		DeleteStudent(ctx context.Context, id string) error
	}

	service struct {
		repo     Repository
		validate *validator.Validate
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, validate *validator.Validate) Service {
	return &service{repo: repo, validate: validate}
}

// uniqueErr turns the uniqueness errors of the repository into validation errors.
func uniqueErr(err error) error {
	var field string
	switch errors.Cause(err) {
	case ErrTeacherEmailExists:
		field = "email"
	case ErrAdmissionNoExists:
		field = "admission_no"
	case ErrClassExists:
		field = "name"
	default:
		return err
	}
	return core.NewValidationError(err, core.FieldError{Field: field, Error: errors.Cause(err).Error()})
}

// Teachers

func (svc *service) CreateTeacher(ctx context.Context, in TeacherInput) (Teacher, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Teacher{}, err
	}
	now := NowFunc().UTC()
	t := Teacher{
		ID:        uuid.NewString(),
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Phone:     in.Phone,
		IsActive:  in.IsActive == nil || *in.IsActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t, err := svc.repo.CreateTeacher(ctx, t)
	return t, uniqueErr(err)
}

func (svc *service) GetTeacher(ctx context.Context, id string) (Teacher, error) {
	return svc.repo.GetTeacherByID(ctx, id)
}

func (svc *service) QueryTeachers(ctx context.Context, filter *QueryFilter, orderings ...core.DBOrdering) ([]Teacher, error) {
	return svc.repo.QueryTeachers(ctx, filter, core.FilterOrderings(orderings, TeacherOrderings...)...)
}

func (svc *service) UpdateTeacher(ctx context.Context, t Teacher, in TeacherInput) (Teacher, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Teacher{}, err
	}
	t.FirstName = in.FirstName
	t.LastName = in.LastName
	t.Email = in.Email
	t.Phone = in.Phone
	if in.IsActive != nil {
		t.IsActive = *in.IsActive
	}
	t.UpdatedAt = NowFunc().UTC()
	t, err := svc.repo.UpdateTeacher(ctx, t)
	return t, uniqueErr(err)
}

func (svc *service) DeleteTeacher(ctx context.Context, id string) error {
	return core.RunInTx(ctx, nil, func(ctx context.Context) error {
		inUse, err := svc.repo.TeacherHasPeriods(ctx, id)
		if err != nil {
			return errors.Wrap(err, "checking teacher periods")
		}
		if inUse {
			return ErrTeacherInUse
		}
		return svc.repo.DeleteTeacher(ctx, id)
	})
}

func (svc *service) TeacherExists(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	_, err := svc.repo.GetTeacherByID(ctx, id)
	switch errors.Cause(err) {
	case nil:
		return true, nil
	case ErrNotFound:
		return false, nil
	default:
		return false, err
	}
}

// Classes

func (svc *service) checkClassTeacher(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	exists, err := svc.TeacherExists(ctx, id)
	if err != nil {
		return errors.Wrap(err, "checking class teacher")
	}
	if !exists {
		return core.NewValidationError(errUnknownTeacher, core.FieldError{Field: "class_teacher_id", Error: errUnknownTeacher.Error()})
	}
	return nil
}

func (svc *service) CreateClass(ctx context.Context, in ClassInput) (Class, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Class{}, err
	}
	if err := svc.checkClassTeacher(ctx, in.ClassTeacherID); err != nil {
		return Class{}, err
	}
	now := NowFunc().UTC()
	c := Class{
		ID:             uuid.NewString(),
		Name:           in.Name,
		Level:          in.Level,
		Stream:         in.Stream,
		ClassTeacherID: in.ClassTeacherID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	c, err := svc.repo.CreateClass(ctx, c)
	return c, uniqueErr(err)
}

func (svc *service) GetClass(ctx context.Context, id string) (Class, error) {
	return svc.repo.GetClassByID(ctx, id)
}

func (svc *service) QueryClasses(ctx context.Context, filter *QueryFilter, orderings ...core.DBOrdering) ([]Class, error) {
	return svc.repo.QueryClasses(ctx, filter, core.FilterOrderings(orderings, ClassOrderings...)...)
}

func (svc *service) UpdateClass(ctx context.Context, c Class, in ClassInput) (Class, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Class{}, err
	}
	if err := svc.checkClassTeacher(ctx, in.ClassTeacherID); err != nil {
		return Class{}, err
	}
	c.Name = in.Name
	c.Level = in.Level
	c.Stream = in.Stream
	c.ClassTeacherID = in.ClassTeacherID
	c.UpdatedAt = NowFunc().UTC()
	c, err := svc.repo.UpdateClass(ctx, c)
	return c, uniqueErr(err)
}

func (svc *service) DeleteClass(ctx context.Context, id string) error {
	return svc.repo.DeleteClass(ctx, id)
}

func (svc *service) ClassExists(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	_, err := svc.repo.GetClassByID(ctx, id)
	switch errors.Cause(err) {
	case nil:
		return true, nil
	case ErrNotFound:
		return false, nil
	default:
		return false, err
	}
}

// Students

func (svc *service) checkStudentClass(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	exists, err := svc.ClassExists(ctx, id)
	if err != nil {
		return errors.Wrap(err, "checking class")
	}
	if !exists {
		return core.NewValidationError(errUnknownClass, core.FieldError{Field: "class_id", Error: errUnknownClass.Error()})
	}
	return nil
}

func (svc *service) CreateStudent(ctx context.Context, in StudentInput) (Student, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Student{}, err
	}
	if err := svc.checkStudentClass(ctx, in.ClassID); err != nil {
		return Student{}, err
	}
	now := NowFunc().UTC()
	s := Student{
		ID:          uuid.NewString(),
		AdmissionNo: in.AdmissionNo,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		Gender:      in.Gender,
		DateOfBirth: in.DateOfBirth,
		ClassID:     in.ClassID,
		IsActive:    in.IsActive == nil || *in.IsActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s, err := svc.repo.CreateStudent(ctx, s)
	return s, uniqueErr(err)
}

func (svc *service) GetStudent(ctx context.Context, id string) (Student, error) {
	return svc.repo.GetStudentByID(ctx, id)
}

func (svc *service) QueryStudents(ctx context.Context, filter *QueryFilter, orderings ...core.DBOrdering) ([]Student, error) {
	return svc.repo.QueryStudents(ctx, filter, core.FilterOrderings(orderings, StudentOrderings...)...)
}

func (svc *service) UpdateStudent(ctx context.Context, s Student, in StudentInput) (Student, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Student{}, err
	}
	if err := svc.checkStudentClass(ctx, in.ClassID); err != nil {
		return Student{}, err
	}
	s.AdmissionNo = in.AdmissionNo
	s.FirstName = in.FirstName
	s.LastName = in.LastName
	s.Gender = in.Gender
	s.DateOfBirth = in.DateOfBirth
	s.ClassID = in.ClassID
	if in.IsActive != nil {
		s.IsActive = *in.IsActive
	}
	s.UpdatedAt = NowFunc().UTC()
	s, err := svc.repo.UpdateStudent(ctx, s)
	return s, uniqueErr(err)
}

func (svc *service) DeleteStudent(ctx context.Context, id string) error {
	return svc.repo.DeleteStudent(ctx, id)
}
