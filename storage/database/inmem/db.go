// Package inmemdb implements the repositories in memory. It backs the tests & the DEV "inmem" mode.
package inmemdb

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/billing"
	"github.com/trezcool/masomo-cloud/core/school"
	"github.com/trezcool/masomo-cloud/core/tenant"
	"github.com/trezcool/masomo-cloud/core/timetable"
	"github.com/trezcool/masomo-cloud/core/user"
)

type (
	// DB holds one schema per school, plus the platform schema (keyed "").
	// The schema a repository call works on is picked from the context (see core.SchoolFromContext).
	DB struct {
		mu      sync.RWMutex
		schemas map[string]*schema
	}

	schema struct {
		users map[string]user.User

		// platform
		schools       map[string]tenant.School
		plans         map[string]billing.Plan
		subscriptions map[string]billing.Subscription
		events        map[string]struct{}

		// school
		teachers   map[string]school.Teacher
		classes    map[string]school.Class
		students   map[string]school.Student
		timetables map[string]timetable.Timetable
		periods    map[string]timetable.Period
	}
)

func Open() *DB {
	return &DB{schemas: make(map[string]*schema)}
}

func newSchema() *schema {
	return &schema{
		users:         make(map[string]user.User),
		schools:       make(map[string]tenant.School),
		plans:         make(map[string]billing.Plan),
		subscriptions: make(map[string]billing.Subscription),
		events:        make(map[string]struct{}),
		teachers:      make(map[string]school.Teacher),
		classes:       make(map[string]school.Class),
		students:      make(map[string]school.Student),
		timetables:    make(map[string]timetable.Timetable),
		periods:       make(map[string]timetable.Period),
	}
}

// emptySchema is read when the context schema does not exist yet; it is never written.
var emptySchema = newSchema()

// schema returns the schema of the school ctx is scoped to, creating it; db.mu must be held for writing.
func (db *DB) schema(ctx context.Context) *schema {
	key := core.SchoolFromContext(ctx)
	s, ok := db.schemas[key]
	if !ok {
		s = newSchema()
		db.schemas[key] = s
	}
	return s
}

// read runs fn on the context schema under the read lock.
func (db *DB) read(ctx context.Context, fn func(s *schema)) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	s, ok := db.schemas[core.SchoolFromContext(ctx)]
	if !ok {
		s = emptySchema
	}
	fn(s)
}

// write runs fn on the context schema under the write lock.
func (db *DB) write(ctx context.Context, fn func(s *schema) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn(db.schema(ctx))
}

// DropSchool forgets every record of the school identified by slug.
func (db *DB) DropSchool(slug string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.schemas, slug)
}

func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// less compares a & b on one field; it returns 0 when they are equal.
type less[T any] func(a, b T, field string) int

// sortBy sorts items on orderings, falling back to fallback.
func sortBy[T any](items []T, orderings []core.DBOrdering, cmp less[T], fallback ...core.DBOrdering) {
	if len(orderings) == 0 {
		orderings = fallback
	}
	sort.SliceStable(items, func(i, j int) bool {
		for _, ord := range orderings {
			c := cmp(items[i], items[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
}

func compareStrings(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func copyStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
