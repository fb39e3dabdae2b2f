package school_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/school"
	"github.com/trezcool/masomo-cloud/core/timetable"
	inmemdb "github.com/trezcool/masomo-cloud/storage/database/inmem"
	testutil "github.com/trezcool/masomo-cloud/tests"
)

func setup(t *testing.T) (context.Context, school.Service, timetable.Service) {
	t.Helper()
	db := inmemdb.Open()
	validate := testutil.NewValidator()
	svc := school.NewService(inmemdb.NewRosterRepository(db), validate)
	ttSvc := timetable.NewService(inmemdb.NewTimetableRepository(db), svc, validate)
	return core.ContextWithSchool(context.Background(), "alpha"), svc, ttSvc
}

func validationField(t *testing.T, err error) string {
	t.Helper()
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr), "want ValidationError; got %v", err)
	require.NotEmpty(t, verr.Fields)
	return verr.Fields[0].Field
}

func TestService_Teachers(t *testing.T) {
	ctx, svc, ttSvc := setup(t)

	jane, err := svc.CreateTeacher(ctx, school.TeacherInput{FirstName: " Jane ", LastName: "Doe", Email: "Jane@School.TEST"})
	require.NoError(t, err)
	assert.Equal(t, "Jane", jane.FirstName)
	assert.Equal(t, "jane@school.test", jane.Email)
	assert.True(t, jane.IsActive)

	_, err = svc.CreateTeacher(ctx, school.TeacherInput{FirstName: "Other", LastName: "Jane", Email: "jane@school.test"})
	assert.Equal(t, "email", validationField(t, err))

	john, err := svc.CreateTeacher(ctx, school.TeacherInput{FirstName: "John", LastName: "Adams", IsActive: core.BoolPtr(false)})
	require.NoError(t, err)
	assert.False(t, john.IsActive)

	t.Run("query", func(t *testing.T) {
		tests := []struct {
			name      string
			filter    *school.QueryFilter
			orderings []core.DBOrdering
			want      []string
		}{
			{name: "default ordering", want: []string{john.ID, jane.ID}},
			{
				name:      "ordered by first name desc",
				orderings: []core.DBOrdering{{Field: "first_name"}},
				want:      []string{john.ID, jane.ID},
			},
			{
				name:      "unknown orderings are ignored",
				orderings: []core.DBOrdering{{Field: "password"}},
				want:      []string{john.ID, jane.ID},
			},
			{name: "search", filter: &school.QueryFilter{Search: "SCHOOL.test"}, want: []string{jane.ID}},
			{name: "active", filter: &school.QueryFilter{IsActive: core.BoolPtr(true)}, want: []string{jane.ID}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				teachers, err := svc.QueryTeachers(ctx, tt.filter, tt.orderings...)
				require.NoError(t, err)
				ids := make([]string, 0, len(teachers))
				for _, tch := range teachers {
					ids = append(ids, tch.ID)
				}
				assert.Equal(t, tt.want, ids)
			})
		}
	})

	t.Run("update", func(t *testing.T) {
		updated, err := svc.UpdateTeacher(ctx, john, school.TeacherInput{FirstName: "John", LastName: "Quincy", IsActive: core.BoolPtr(true)})
		require.NoError(t, err)
		assert.Equal(t, "Quincy", updated.LastName)
		assert.True(t, updated.IsActive)

		_, err = svc.UpdateTeacher(ctx, john, school.TeacherInput{FirstName: "John", LastName: "Quincy", Email: jane.Email})
		assert.Equal(t, "email", validationField(t, err))
	})

	t.Run("teachers with periods cannot be deleted", func(t *testing.T) {
		cls, err := svc.CreateClass(ctx, school.ClassInput{Name: "Form 1"})
		require.NoError(t, err)
		tt, err := ttSvc.CreateTimetable(ctx, timetable.NewTimetable{ClassID: cls.ID, Name: "Main"})
		require.NoError(t, err)
		_, err = ttSvc.AddPeriod(ctx, tt.ID, timetable.PeriodInput{
			Weekday: 1, StartTime: "08:00", EndTime: "09:00", Subject: "Maths", TeacherID: jane.ID,
		})
		require.NoError(t, err)

		assert.Equal(t, school.ErrTeacherInUse, errors.Cause(svc.DeleteTeacher(ctx, jane.ID)))

		require.NoError(t, ttSvc.DeleteTimetable(ctx, tt.ID))
		require.NoError(t, svc.DeleteTeacher(ctx, jane.ID))
		_, err = svc.GetTeacher(ctx, jane.ID)
		assert.Equal(t, school.ErrNotFound, errors.Cause(err))
	})
}

func TestService_Classes(t *testing.T) {
	ctx, svc, _ := setup(t)
	tch, err := svc.CreateTeacher(ctx, school.TeacherInput{FirstName: "Jane", LastName: "Doe"})
	require.NoError(t, err)

	form2, err := svc.CreateClass(ctx, school.ClassInput{Name: "Form 2", Level: 2, Stream: "East", ClassTeacherID: tch.ID})
	require.NoError(t, err)
	form1, err := svc.CreateClass(ctx, school.ClassInput{Name: "Form 1", Level: 1})
	require.NoError(t, err)

	tests := []struct {
		name      string
		in        school.ClassInput
		wantField string
	}{
		{name: "duplicate", in: school.ClassInput{Name: "Form 2", Level: 2, Stream: "East"}, wantField: "name"},
		{name: "unknown class teacher", in: school.ClassInput{Name: "Form 3", ClassTeacherID: form1.ID}, wantField: "class_teacher_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateClass(ctx, tt.in)
			assert.Equal(t, tt.wantField, validationField(t, err))
		})
	}

	// same name, other stream
	_, err = svc.CreateClass(ctx, school.ClassInput{Name: "Form 2", Level: 2, Stream: "West"})
	require.NoError(t, err)

	classes, err := svc.QueryClasses(ctx, &school.QueryFilter{Level: core.IntPtr(2)})
	require.NoError(t, err)
	require.Len(t, classes, 2)
	assert.Equal(t, form2.ID, classes[0].ID)

	exists, err := svc.ClassExists(ctx, form1.ID)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = svc.ClassExists(ctx, "not-a-uuid")
	require.NoError(t, err)
	assert.False(t, exists)

	t.Run("deleting a class detaches its students", func(t *testing.T) {
		st, err := svc.CreateStudent(ctx, school.StudentInput{AdmissionNo: "A001", FirstName: "Kid", LastName: "Doe", ClassID: form1.ID})
		require.NoError(t, err)
		require.NoError(t, svc.DeleteClass(ctx, form1.ID))
		st, err = svc.GetStudent(ctx, st.ID)
		require.NoError(t, err)
		assert.Empty(t, st.ClassID)
	})
}

func TestService_Students(t *testing.T) {
	ctx, svc, _ := setup(t)
	cls, err := svc.CreateClass(ctx, school.ClassInput{Name: "Form 1"})
	require.NoError(t, err)

	st, err := svc.CreateStudent(ctx, school.StudentInput{
		AdmissionNo: "A002", FirstName: "Amani", LastName: "Juma", Gender: "Female", DateOfBirth: "2012-03-04", ClassID: cls.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "female", st.Gender)
	assert.Equal(t, time.Date(2012, 3, 4, 0, 0, 0, 0, time.UTC), st.ParseDateOfBirth())

	_, err = svc.CreateStudent(ctx, school.StudentInput{AdmissionNo: "A001", FirstName: "Baraka", LastName: "Otieno"})
	require.NoError(t, err)

	tests := []struct {
		name      string
		in        school.StudentInput
		wantField string
	}{
		{name: "duplicate admission number", in: school.StudentInput{AdmissionNo: "A002", FirstName: "X", LastName: "Y"}, wantField: "admission_no"},
		{name: "unknown class", in: school.StudentInput{AdmissionNo: "A003", FirstName: "X", LastName: "Y", ClassID: st.ID}, wantField: "class_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateStudent(ctx, tt.in)
			assert.Equal(t, tt.wantField, validationField(t, err))
		})
	}

	students, err := svc.QueryStudents(ctx, nil)
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "A001", students[0].AdmissionNo)

	students, err = svc.QueryStudents(ctx, &school.QueryFilter{ClassID: cls.ID})
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, st.ID, students[0].ID)

	updated, err := svc.UpdateStudent(ctx, st, school.StudentInput{AdmissionNo: "A002", FirstName: "Amani", LastName: "Wanjiru"})
	require.NoError(t, err)
	assert.Equal(t, "Wanjiru", updated.LastName)
	assert.Empty(t, updated.ClassID)
	assert.True(t, updated.IsActive)

	require.NoError(t, svc.DeleteStudent(ctx, st.ID))
	assert.Equal(t, school.ErrNotFound, errors.Cause(svc.DeleteStudent(ctx, st.ID)))
}
