package school

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-cloud/core"
)

const dateLayout = "2006-01-02"

type Teacher struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

type Class struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Level          int       `json:"level"`
	Stream         string    `json:"stream"`
	ClassTeacherID string    `json:"class_teacher_id"`
	CreatedAt      time.Time `json:"created_at"` // UTC
	UpdatedAt      time.Time `json:"updated_at"` // UTC
}

type Student struct {
	ID          string    `json:"id"`
	AdmissionNo string    `json:"admission_no"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Gender      string    `json:"gender"`
	DateOfBirth string    `json:"date_of_birth"` // YYYY-MM-DD
	ClassID     string    `json:"class_id"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

// ParseDateOfBirth returns the student's date of birth, zero when unknown.
func (s Student) ParseDateOfBirth() time.Time {
	t, _ := time.Parse(dateLayout, s.DateOfBirth)
	return t
}

type TeacherInput struct {
	FirstName string `json:"first_name" validate:"notblank,max=100"`
	LastName  string `json:"last_name" validate:"notblank,max=100"`
	Email     string `json:"email" validate:"omitempty,email"`
	Phone     string `json:"phone" validate:"max=30"`
	IsActive  *bool  `json:"is_active"`
}

func (ti *TeacherInput) Validate(validate *validator.Validate) error {
	ti.FirstName = core.CleanString(ti.FirstName)
	ti.LastName = core.CleanString(ti.LastName)
	ti.Email = core.CleanString(ti.Email, true /* lower */)
	ti.Phone = core.CleanString(ti.Phone)
	return validate.Struct(ti)
}

type ClassInput struct {
	Name           string `json:"name" validate:"notblank,max=50"`
	Level          int    `json:"level" validate:"min=0,max=20"`
	Stream         string `json:"stream" validate:"max=50"`
	ClassTeacherID string `json:"class_teacher_id" validate:"omitempty,uuid"`
}

func (ci *ClassInput) Validate(validate *validator.Validate) error {
	ci.Name = core.CleanString(ci.Name)
	ci.Stream = core.CleanString(ci.Stream)
	return validate.Struct(ci)
}

type StudentInput struct {
	AdmissionNo string `json:"admission_no" validate:"notblank,max=30"`
	FirstName   string `json:"first_name" validate:"notblank,max=100"`
	LastName    string `json:"last_name" validate:"notblank,max=100"`
	Gender      string `json:"gender" validate:"omitempty,oneof=female male other"`
	DateOfBirth string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	ClassID     string `json:"class_id" validate:"omitempty,uuid"`
	IsActive    *bool  `json:"is_active"`
}

func (si *StudentInput) Validate(validate *validator.Validate) error {
	si.AdmissionNo = core.CleanString(si.AdmissionNo)
	si.FirstName = core.CleanString(si.FirstName)
	si.LastName = core.CleanString(si.LastName)
	si.Gender = core.CleanString(si.Gender, true /* lower */)
	si.DateOfBirth = core.CleanString(si.DateOfBirth)
	return validate.Struct(si)
}

// QueryFilter is shared by the roster queries; fields that do not apply to an entity are ignored.
// Search does a case-insensitive match on names (and on Student.AdmissionNo & Teacher.Email).
type QueryFilter struct {
	Search   string `query:"search"`
	IsActive *bool  `query:"is_active"`
	ClassID  string `query:"class_id"`
	Level    *int   `query:"level"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.ClassID = core.CleanString(qf.ClassID)
}

// Allowed orderings
var (
	TeacherOrderings = []string{"first_name", "last_name", "email", "created_at"}
	ClassOrderings   = []string{"name", "level", "stream", "created_at"}
	StudentOrderings = []string{"admission_no", "first_name", "last_name", "created_at"}
)
