package inmemdb

import (
	"context"
	"time"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/tenant"
)

type schoolRepository struct {
	db *DB
}

var _ tenant.Repository = (*schoolRepository)(nil) // interface compliance check

func NewSchoolRepository(db *DB) tenant.Repository {
	return &schoolRepository{db: db}
}

func (repo *schoolRepository) CreateSchool(ctx context.Context, s tenant.School) (tenant.School, error) {
	err := repo.db.write(ctx, func(sch *schema) error {
		for _, other := range sch.schools {
			if other.Slug == s.Slug || other.DBName == s.DBName {
				return tenant.ErrSlugExists
			}
		}
		sch.schools[s.ID] = s
		return nil
	})
	if err != nil {
		return tenant.School{}, err
	}
	return s, nil
}

func (repo *schoolRepository) getSchool(ctx context.Context, match func(s tenant.School) bool) (tenant.School, error) {
	var (
		found tenant.School
		ok    bool
	)
	repo.db.read(ctx, func(sch *schema) {
		for _, s := range sch.schools {
			if match(s) {
				found, ok = s, true
				return
			}
		}
	})
	if !ok {
		return tenant.School{}, tenant.ErrNotFound
	}
	return found, nil
}

func (repo *schoolRepository) GetSchoolByID(ctx context.Context, id string) (tenant.School, error) {
	return repo.getSchool(ctx, func(s tenant.School) bool { return s.ID == id })
}

func (repo *schoolRepository) GetSchoolBySlug(ctx context.Context, slug string) (tenant.School, error) {
	return repo.getSchool(ctx, func(s tenant.School) bool { return s.Slug == slug })
}

func (repo *schoolRepository) QuerySchools(ctx context.Context, filter *tenant.QueryFilter) ([]tenant.School, error) {
	schools := make([]tenant.School, 0)
	repo.db.read(ctx, func(sch *schema) {
		for _, s := range sch.schools {
			if filter != nil {
				if filter.Search != "" &&
					!contains(s.Name, filter.Search) && !contains(s.Slug, filter.Search) && !contains(s.OwnerEmail, filter.Search) {
					continue
				}
				if filter.Status != "" && s.Status != filter.Status {
					continue
				}
			}
			schools = append(schools, s)
		}
	})
	sortBy(schools, nil, func(a, b tenant.School, _ string) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	}, core.DBOrdering{Field: "created_at"})
	return schools, nil
}

func (repo *schoolRepository) UpdateSchoolStatus(ctx context.Context, id, status string, at time.Time) error {
	return repo.db.write(ctx, func(sch *schema) error {
		s, ok := sch.schools[id]
		if !ok {
			return tenant.ErrNotFound
		}
		s.Status = status
		s.UpdatedAt = at.UTC()
		sch.schools[id] = s
		return nil
	})
}
