package timetable_test

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/school"
	"github.com/trezcool/masomo-cloud/core/timetable"
	inmemdb "github.com/trezcool/masomo-cloud/storage/database/inmem"
	testutil "github.com/trezcool/masomo-cloud/tests"
)

type fixture struct {
	ctx    context.Context
	roster school.Service
	svc    timetable.Service
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := inmemdb.Open()
	validate := testutil.NewValidator()
	roster := school.NewService(inmemdb.NewRosterRepository(db), validate)
	return fixture{
		ctx:    core.ContextWithSchool(context.Background(), "alpha"),
		roster: roster,
		svc:    timetable.NewService(inmemdb.NewTimetableRepository(db), roster, validate),
	}
}

func (f fixture) teacher(t *testing.T, name string) school.Teacher {
	t.Helper()
	tch, err := f.roster.CreateTeacher(f.ctx, school.TeacherInput{FirstName: name, LastName: "Teacher"})
	require.NoError(t, err)
	return tch
}

func (f fixture) timetable(t *testing.T, className string) timetable.Timetable {
	t.Helper()
	cls, err := f.roster.CreateClass(f.ctx, school.ClassInput{Name: className})
	require.NoError(t, err)
	tt, err := f.svc.CreateTimetable(f.ctx, timetable.NewTimetable{ClassID: cls.ID, Name: "Main", Term: "2024-T1"})
	require.NoError(t, err)
	return tt
}

func conflictError(t *testing.T, err error) *timetable.ConflictError {
	t.Helper()
	var cerr *timetable.ConflictError
	require.True(t, errors.As(err, &cerr), "want ConflictError; got %v", err)
	return cerr
}

// errFields returns the names of the invalid fields reported by err.
func errFields(t *testing.T, err error) []string {
	t.Helper()
	var fields []string
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return fields
	}
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr), "want validation error; got %v", err)
	for _, fe := range verr.Fields {
		fields = append(fields, fe.Field)
	}
	return fields
}

func TestService_AddPeriod(t *testing.T) {
	f := setup(t)
	alice, bob := f.teacher(t, "Alice"), f.teacher(t, "Bob")
	form1, form2 := f.timetable(t, "Form 1"), f.timetable(t, "Form 2")

	maths, err := f.svc.AddPeriod(f.ctx, form1.ID, timetable.PeriodInput{
		Weekday: 1, StartTime: "08:00", EndTime: "08:40", Subject: "Maths", TeacherID: alice.ID, Room: "Lab 1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, maths.ID)
	assert.Equal(t, timetable.Clock(480), maths.Start)

	tests := []struct {
		name      string
		ttID      string
		in        timetable.PeriodInput
		wantRules []string
	}{
		{
			name:      "same teacher elsewhere",
			ttID:      form2.ID,
			in:        timetable.PeriodInput{Weekday: 1, StartTime: "08:20", EndTime: "09:00", Subject: "Maths", TeacherID: alice.ID},
			wantRules: []string{timetable.RuleTeacher},
		},
		{
			name:      "same class",
			ttID:      form1.ID,
			in:        timetable.PeriodInput{Weekday: 1, StartTime: "08:39", EndTime: "09:00", Subject: "English", TeacherID: bob.ID},
			wantRules: []string{timetable.RuleClass},
		},
		{
			name:      "same room",
			ttID:      form2.ID,
			in:        timetable.PeriodInput{Weekday: 1, StartTime: "07:30", EndTime: "08:10", Subject: "Physics", TeacherID: bob.ID, Room: " LAB 1 "},
			wantRules: []string{timetable.RuleRoom},
		},
		{
			name:      "everything",
			ttID:      form1.ID,
			in:        timetable.PeriodInput{Weekday: 1, StartTime: "08:00", EndTime: "08:40", Subject: "Maths", TeacherID: alice.ID, Room: "lab 1"},
			wantRules: []string{timetable.RuleClass, timetable.RuleRoom, timetable.RuleTeacher},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddPeriod(f.ctx, tt.ttID, tt.in)
			cerr := conflictError(t, err)
			rules := make([]string, 0, len(cerr.Conflicts))
			for _, c := range cerr.Conflicts {
				assert.Equal(t, maths.ID, c.Period.ID)
				rules = append(rules, c.Rule)
			}
			assert.Equal(t, tt.wantRules, rules)
		})
	}

	t.Run("touching periods do not conflict", func(t *testing.T) {
		_, err := f.svc.AddPeriod(f.ctx, form1.ID, timetable.PeriodInput{
			Weekday: 1, StartTime: "08:40", EndTime: "09:20", Subject: "Maths", TeacherID: alice.ID, Room: "Lab 1",
		})
		assert.NoError(t, err)
	})

	t.Run("other day", func(t *testing.T) {
		_, err := f.svc.AddPeriod(f.ctx, form1.ID, timetable.PeriodInput{
			Weekday: 2, StartTime: "08:00", EndTime: "08:40", Subject: "Maths", TeacherID: alice.ID, Room: "Lab 1",
		})
		assert.NoError(t, err)
	})
}

func TestService_AddPeriod_Invalid(t *testing.T) {
	f := setup(t)
	alice := f.teacher(t, "Alice")
	form1 := f.timetable(t, "Form 1")

	tests := []struct {
		name      string
		ttID      string
		in        timetable.PeriodInput
		wantField string
		wantErr   error
	}{
		{
			name:      "end before start",
			ttID:      form1.ID,
			in:        timetable.PeriodInput{Weekday: 1, StartTime: "09:00", EndTime: "08:00", Subject: "Maths", TeacherID: alice.ID},
			wantField: "end_time",
		},
		{
			name:      "empty span",
			ttID:      form1.ID,
			in:        timetable.PeriodInput{Weekday: 1, StartTime: "09:00", EndTime: "09:00", Subject: "Maths", TeacherID: alice.ID},
			wantField: "end_time",
		},
		{
			name:      "bad clock",
			ttID:      form1.ID,
			in:        timetable.PeriodInput{Weekday: 1, StartTime: "9:00", EndTime: "10:00", Subject: "Maths", TeacherID: alice.ID},
			wantField: "start_time",
		},
		{
			name:      "starting at midnight",
			ttID:      form1.ID,
			in:        timetable.PeriodInput{Weekday: 1, StartTime: "24:00", EndTime: "24:00", Subject: "Maths", TeacherID: alice.ID},
			wantField: "start_time",
		},
		{
			name:      "bad weekday",
			ttID:      form1.ID,
			in:        timetable.PeriodInput{Weekday: 8, StartTime: "09:00", EndTime: "10:00", Subject: "Maths", TeacherID: alice.ID},
			wantField: "weekday",
		},
		{
			name:      "unknown teacher",
			ttID:      form1.ID,
			in:        timetable.PeriodInput{Weekday: 1, StartTime: "09:00", EndTime: "10:00", Subject: "Maths", TeacherID: form1.ID},
			wantField: "teacher_id",
		},
		{
			name:    "unknown timetable",
			ttID:    alice.ID,
			in:      timetable.PeriodInput{Weekday: 1, StartTime: "09:00", EndTime: "10:00", Subject: "Maths", TeacherID: alice.ID},
			wantErr: timetable.ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddPeriod(f.ctx, tt.ttID, tt.in)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
				return
			}
			assert.Contains(t, errFields(t, err), tt.wantField)
		})
	}
}

func TestService_UpdatePeriod(t *testing.T) {
	f := setup(t)
	alice, bob := f.teacher(t, "Alice"), f.teacher(t, "Bob")
	form1 := f.timetable(t, "Form 1")

	in := timetable.PeriodInput{Weekday: 3, StartTime: "10:00", EndTime: "11:00", Subject: "Maths", TeacherID: alice.ID}
	p, err := f.svc.AddPeriod(f.ctx, form1.ID, in)
	require.NoError(t, err)
	_, err = f.svc.AddPeriod(f.ctx, form1.ID, timetable.PeriodInput{
		Weekday: 3, StartTime: "11:00", EndTime: "12:00", Subject: "English", TeacherID: bob.ID,
	})
	require.NoError(t, err)

	// moving within its own slot does not conflict with itself
	in.StartTime = "10:15"
	updated, err := f.svc.UpdatePeriod(f.ctx, p.ID, in)
	require.NoError(t, err)
	assert.Equal(t, p.ID, updated.ID)
	assert.Equal(t, "10:15", updated.Start.String())
	assert.Equal(t, p.CreatedAt, updated.CreatedAt)

	in.EndTime = "11:30"
	_, err = f.svc.UpdatePeriod(f.ctx, p.ID, in)
	cerr := conflictError(t, err)
	require.Len(t, cerr.Conflicts, 1)
	assert.Equal(t, timetable.RuleClass, cerr.Conflicts[0].Rule)

	_, err = f.svc.UpdatePeriod(f.ctx, form1.ID, in)
	assert.Equal(t, timetable.ErrNotFound, errors.Cause(err))
}

func TestService_CheckPeriod(t *testing.T) {
	f := setup(t)
	alice := f.teacher(t, "Alice")
	form1, form2 := f.timetable(t, "Form 1"), f.timetable(t, "Form 2")

	in := timetable.PeriodInput{Weekday: 5, StartTime: "13:00", EndTime: "14:00", Subject: "Art", TeacherID: alice.ID}
	p, err := f.svc.AddPeriod(f.ctx, form1.ID, in)
	require.NoError(t, err)

	conflicts, err := f.svc.CheckPeriod(f.ctx, form2.ID, "", in)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, timetable.RuleTeacher, conflicts[0].Rule)

	conflicts, err = f.svc.CheckPeriod(f.ctx, "", p.ID, in)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
	assert.NotNil(t, conflicts)

	// checking writes nothing
	ctt, err := f.svc.ClassTimetable(f.ctx, form2.ID)
	require.NoError(t, err)
	assert.Empty(t, ctt.Periods)
}

func TestService_UpdateTimetable(t *testing.T) {
	f := setup(t)
	alice := f.teacher(t, "Alice")
	form1, form2 := f.timetable(t, "Form 1"), f.timetable(t, "Form 2")

	in := timetable.PeriodInput{Weekday: 1, StartTime: "08:00", EndTime: "09:00", Subject: "Maths", TeacherID: alice.ID}
	_, err := f.svc.AddPeriod(f.ctx, form1.ID, in)
	require.NoError(t, err)

	form1, err = f.svc.UpdateTimetable(f.ctx, form1, timetable.UpdateTimetable{IsActive: core.BoolPtr(false)})
	require.NoError(t, err)
	assert.False(t, form1.IsActive)

	t.Run("inactive timetables do not take periods", func(t *testing.T) {
		_, err := f.svc.AddPeriod(f.ctx, form1.ID, in)
		var verr *core.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, timetable.ErrInactiveTimetable, verr.Err)
	})

	t.Run("inactive timetables do not conflict", func(t *testing.T) {
		_, err := f.svc.AddPeriod(f.ctx, form2.ID, in)
		require.NoError(t, err)
	})

	t.Run("reactivation checks conflicts", func(t *testing.T) {
		_, err := f.svc.UpdateTimetable(f.ctx, form1, timetable.UpdateTimetable{IsActive: core.BoolPtr(true)})
		cerr := conflictError(t, err)
		require.Len(t, cerr.Conflicts, 1)
		assert.Equal(t, timetable.RuleTeacher, cerr.Conflicts[0].Rule)
	})

	t.Run("rename", func(t *testing.T) {
		renamed, err := f.svc.UpdateTimetable(f.ctx, form2, timetable.UpdateTimetable{Name: "  Updated  "})
		require.NoError(t, err)
		assert.Equal(t, "Updated", renamed.Name)
		assert.True(t, renamed.IsActive)
	})
}

func TestService_Schedules(t *testing.T) {
	f := setup(t)
	alice := f.teacher(t, "Alice")
	form1, form2 := f.timetable(t, "Form 1"), f.timetable(t, "Form 2")

	add := func(ttID string, weekday int, start, end string) timetable.Period {
		p, err := f.svc.AddPeriod(f.ctx, ttID, timetable.PeriodInput{
			Weekday: weekday, StartTime: start, EndTime: end, Subject: "Maths", TeacherID: alice.ID,
		})
		require.NoError(t, err)
		return p
	}
	p3 := add(form2.ID, 2, "08:00", "09:00")
	p1 := add(form1.ID, 1, "10:00", "11:00")
	p2 := add(form2.ID, 1, "11:00", "12:00")
	p0 := add(form1.ID, 1, "07:00", "08:00")

	schedule, err := f.svc.TeacherSchedule(f.ctx, alice.ID)
	require.NoError(t, err)
	ids := make([]string, 0, len(schedule))
	for _, p := range schedule {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{p0.ID, p1.ID, p2.ID, p3.ID}, ids)

	ctt, err := f.svc.ClassTimetable(f.ctx, form1.ID)
	require.NoError(t, err)
	require.Len(t, ctt.Periods, 2)
	assert.Equal(t, p0.ID, ctt.Periods[0].ID)

	_, err = f.svc.TeacherSchedule(f.ctx, form1.ID)
	assert.Equal(t, timetable.ErrTeacherNotFound, errors.Cause(err))

	require.NoError(t, f.svc.DeleteTimetable(f.ctx, form2.ID))
	schedule, err = f.svc.TeacherSchedule(f.ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, schedule, 2)
}

func TestService_TenantIsolation(t *testing.T) {
	f := setup(t)
	alice := f.teacher(t, "Alice")
	form1 := f.timetable(t, "Form 1")
	in := timetable.PeriodInput{Weekday: 1, StartTime: "08:00", EndTime: "09:00", Subject: "Maths", TeacherID: alice.ID}
	_, err := f.svc.AddPeriod(f.ctx, form1.ID, in)
	require.NoError(t, err)

	beta := core.ContextWithSchool(context.Background(), "beta")
	_, err = f.svc.GetTimetable(beta, form1.ID)
	assert.Equal(t, timetable.ErrNotFound, errors.Cause(err))
	tts, err := f.svc.QueryTimetables(beta, "")
	require.NoError(t, err)
	assert.Empty(t, tts)
}
