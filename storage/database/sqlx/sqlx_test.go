package sqlxrepos_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rubenv/pgtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/billing"
	"github.com/trezcool/masomo-cloud/core/school"
	"github.com/trezcool/masomo-cloud/core/tenant"
	"github.com/trezcool/masomo-cloud/core/timetable"
	"github.com/trezcool/masomo-cloud/core/user"
	"github.com/trezcool/masomo-cloud/storage/database"
	sqlxrepos "github.com/trezcool/masomo-cloud/storage/database/sqlx"
)

// startDB starts a throwaway PostgreSQL server & migrates it; the test is skipped when PostgreSQL is not installed.
func startDB(t *testing.T, migrate func(ctx context.Context, db *sqlx.DB, command string, args ...string) error) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL test in short mode")
	}
	pg, err := pgtest.Start()
	if err != nil {
		t.Skipf("PostgreSQL unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pg.Stop() })

	db := sqlx.NewDb(pg.DB, "postgres")
	require.NoError(t, migrate(context.Background(), db, "up"))
	return db
}

func TestUserRepository(t *testing.T) {
	db := startDB(t, database.MigrateSchool)
	repo := sqlxrepos.NewUserRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	usr := user.User{
		ID: uuid.NewString(), Name: "Jane Doe", Username: "janedoe", Email: "jane@example.com",
		IsActive: true, Roles: []string{user.RoleTeacher}, PasswordHash: []byte("hash"), CreatedAt: now, UpdatedAt: now,
	}
	_, err := repo.CreateUser(ctx, usr)
	require.NoError(t, err)

	dup := usr
	dup.ID = uuid.NewString()
	dup.Email = "other@example.com"
	_, err = repo.CreateUser(ctx, dup)
	assert.Equal(t, user.ErrUsernameExists, err)

	assert.Equal(t, user.ErrEmailExists, repo.CheckUsernameUniqueness(ctx, "someone", "jane@example.com"))
	assert.Equal(t, user.ErrUsernameExists, repo.CheckUsernameUniqueness(ctx, "janedoe", ""))
	assert.NoError(t, repo.CheckUsernameUniqueness(ctx, "janedoe", "jane@example.com", usr))

	got, err := repo.GetUserByUsernameOrEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, usr.ID, got.ID)
	assert.Equal(t, []string{user.RoleTeacher}, got.Roles)
	assert.True(t, got.LastLogin.IsZero())

	require.NoError(t, repo.SetUserLastLogin(ctx, usr.ID, now))
	got, err = repo.GetUserByID(ctx, usr.ID)
	require.NoError(t, err)
	assert.True(t, now.Equal(got.LastLogin))

	users, err := repo.QueryUsers(ctx, &user.QueryFilter{Search: "JANE", Roles: []string{"teacher"}})
	require.NoError(t, err)
	assert.Len(t, users, 1)

	require.NoError(t, repo.DeleteUsersByID(ctx, usr.ID, "not-a-uuid"))
	_, err = repo.GetUserByID(ctx, usr.ID)
	assert.Equal(t, user.ErrNotFound, err)
}

func TestBillingRepository(t *testing.T) {
	db := startDB(t, database.Migrate)
	schools := sqlxrepos.NewSchoolRepository(db)
	repo := sqlxrepos.NewBillingRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	s, err := schools.CreateSchool(ctx, tenant.School{
		ID: uuid.NewString(), Name: "Alpha", Slug: "alpha", DBName: "masomo_school_alpha",
		OwnerEmail: "owner@alpha.test", Status: tenant.StatusPending, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	_, err = schools.CreateSchool(ctx, tenant.School{
		ID: uuid.NewString(), Name: "Alpha 2", Slug: "alpha", DBName: "masomo_school_alpha2",
		OwnerEmail: "owner@alpha.test", Status: tenant.StatusPending, CreatedAt: now, UpdatedAt: now,
	})
	assert.Equal(t, tenant.ErrSlugExists, err)

	plan, err := repo.CreatePlan(ctx, billing.Plan{
		ID: uuid.NewString(), Code: "basic", Name: "Basic", Price: 500000, Currency: "NGN",
		Interval: billing.IntervalMonthly, IsActive: true, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	_, err = repo.CreatePlan(ctx, plan)
	assert.Equal(t, billing.ErrPlanExists, err)

	sub, err := repo.CreateSubscription(ctx, billing.Subscription{
		ID: uuid.NewString(), SchoolID: s.ID, PlanID: plan.ID, Status: billing.StatusActive, Reference: billing.NewReference(),
		CurrentPeriodStart: now.AddDate(0, -1, -1), CurrentPeriodEnd: now.Add(-24 * time.Hour), CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	t.Run("record event once", func(t *testing.T) {
		ev := billing.Event{Provider: "paystack", Name: "charge.success", Reference: sub.Reference}
		recorded, err := repo.RecordEvent(ctx, ev, now)
		require.NoError(t, err)
		assert.True(t, recorded)
		recorded, err = repo.RecordEvent(ctx, ev, now)
		require.NoError(t, err)
		assert.False(t, recorded)
	})

	t.Run("provider code", func(t *testing.T) {
		_, err := repo.GetSubscriptionByProviderCode(ctx, "SUB_alpha")
		assert.Equal(t, billing.ErrNotFound, err)

		linked := sub
		linked.CustomerEmail = "owner@alpha.test"
		linked.ProviderCode = "SUB_alpha"
		_, err = repo.UpdateSubscription(ctx, linked)
		require.NoError(t, err)

		got, err := repo.GetSubscriptionByProviderCode(ctx, "SUB_alpha")
		require.NoError(t, err)
		assert.Equal(t, sub.ID, got.ID)
		byCustomer, err := repo.QuerySubscriptionsByCustomer(ctx, "owner@alpha.test")
		require.NoError(t, err)
		require.Len(t, byCustomer, 1)
		assert.Equal(t, "SUB_alpha", byCustomer[0].ProviderCode)
	})

	t.Run("expire due subscriptions", func(t *testing.T) {
		expired, err := repo.ExpireSubscriptions(ctx, now)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, sub.ID, expired[0].ID)
		assert.Equal(t, billing.StatusExpired, expired[0].Status)

		got, err := repo.GetSubscriptionByReference(ctx, sub.Reference)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusExpired, got.Status)
	})
}

func TestTimetableRepository_FindOverlappingPeriods(t *testing.T) {
	db := startDB(t, database.MigrateSchool)
	roster := sqlxrepos.NewRosterRepository()
	repo := sqlxrepos.NewTimetableRepository()
	ctx := core.ContextWithExecutor(context.Background(), db)
	now := time.Now().UTC()

	newTeacher := func(email string) school.Teacher {
		tch, err := roster.CreateTeacher(ctx, school.Teacher{
			ID: uuid.NewString(), FirstName: "T", LastName: email, Email: email, IsActive: true, CreatedAt: now, UpdatedAt: now,
		})
		require.NoError(t, err)
		return tch
	}
	newTimetable := func(name string, active bool) timetable.Timetable {
		cls, err := roster.CreateClass(ctx, school.Class{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now})
		require.NoError(t, err)
		tt, err := repo.CreateTimetable(ctx, timetable.Timetable{
			ID: uuid.NewString(), ClassID: cls.ID, Name: "Main", Term: "2024-T1", IsActive: active, CreatedAt: now, UpdatedAt: now,
		})
		require.NoError(t, err)
		return tt
	}
	newPeriod := func(ttID, teacherID, room string, weekday int, start, end string) timetable.Period {
		sc, err := timetable.ParseClock(start)
		require.NoError(t, err)
		ec, err := timetable.ParseClock(end)
		require.NoError(t, err)
		p, err := repo.CreatePeriod(ctx, timetable.Period{
			ID: uuid.NewString(), TimetableID: ttID, Weekday: weekday, Start: sc, End: ec, Subject: "Maths",
			TeacherID: teacherID, Room: room, CreatedAt: now, UpdatedAt: now,
		})
		require.NoError(t, err)
		return p
	}

	alice, bob, carol := newTeacher("alice@school.test"), newTeacher("bob@school.test"), newTeacher("carol@school.test")
	form1, form2, inactive := newTimetable("Form 1", true), newTimetable("Form 2", true), newTimetable("Form 3", false)

	sameClass := newPeriod(form1.ID, bob.ID, "", 1, "08:00", "08:40")
	sameTeacher := newPeriod(form2.ID, alice.ID, "", 1, "08:30", "09:30")
	sameRoom := newPeriod(form2.ID, carol.ID, "Lab 1", 1, "08:50", "10:00")
	newPeriod(form2.ID, alice.ID, "", 1, "09:00", "10:00")   // touching
	newPeriod(inactive.ID, alice.ID, "", 1, "08:30", "09:00") // inactive timetable
	newPeriod(form2.ID, alice.ID, "", 2, "08:30", "09:00")   // other day
	newPeriod(form2.ID, bob.ID, "", 1, "08:30", "09:00")     // unrelated

	candidate := timetable.Period{
		TimetableID: form1.ID, Weekday: 1, Start: sameTeacher.Start, End: sameRoom.Start + 10, TeacherID: alice.ID, Room: " lab 1",
	}
	found, err := repo.FindOverlappingPeriods(ctx, candidate)
	require.NoError(t, err)
	ids := make([]string, 0, len(found))
	for _, p := range found {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{sameClass.ID, sameTeacher.ID, sameRoom.ID}, ids)
	assert.Len(t, timetable.FindConflicts(candidate, found), 3)

	candidate.ID = sameClass.ID
	found, err = repo.FindOverlappingPeriods(ctx, candidate)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	inUse, err := roster.TeacherHasPeriods(ctx, carol.ID)
	require.NoError(t, err)
	assert.True(t, inUse)

	require.NoError(t, repo.DeleteTimetable(ctx, form2.ID))
	inUse, err = roster.TeacherHasPeriods(ctx, carol.ID)
	require.NoError(t, err)
	assert.False(t, inUse)
}
