package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/tenant"
)

var schoolColumns = []string{
	"id", "name", "slug", "db_name", "owner_name", "owner_email", "status", "created_at", "updated_at",
}

type schoolRow struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	Slug       string    `db:"slug"`
	DBName     string    `db:"db_name"`
	OwnerName  string    `db:"owner_name"`
	OwnerEmail string    `db:"owner_email"`
	Status     string    `db:"status"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r schoolRow) school() tenant.School {
	return tenant.School{
		ID:         r.ID,
		Name:       r.Name,
		Slug:       r.Slug,
		DBName:     r.DBName,
		OwnerName:  r.OwnerName,
		OwnerEmail: r.OwnerEmail,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

// schoolRepository lives on the platform database.
type schoolRepository struct {
	base
}

var _ tenant.Repository = (*schoolRepository)(nil) // interface compliance check

func NewSchoolRepository(exec core.DBExecutor) *schoolRepository {
	return &schoolRepository{base{exec: exec}}
}

func (repo schoolRepository) CreateSchool(ctx context.Context, s tenant.School) (tenant.School, error) {
	_, err := repo.run(ctx, psql.Insert("school").Columns(schoolColumns...).Values(
		s.ID, s.Name, s.Slug, s.DBName, s.OwnerName, s.OwnerEmail, s.Status, s.CreatedAt.UTC(), s.UpdatedAt.UTC(),
	))
	switch uniqueViolation(err) {
	case "school_slug_key", "school_db_name_key":
		return tenant.School{}, tenant.ErrSlugExists
	}
	if err != nil {
		return tenant.School{}, errors.Wrap(err, "inserting school")
	}
	return s, nil
}

func (repo schoolRepository) getSchool(ctx context.Context, where sq.Sqlizer, msg string) (tenant.School, error) {
	var row schoolRow
	if err := repo.get(ctx, &row, psql.Select(schoolColumns...).From("school").Where(where)); err != nil {
		return tenant.School{}, trapNoRowsErr(err, tenant.ErrNotFound, msg)
	}
	return row.school(), nil
}

func (repo schoolRepository) GetSchoolByID(ctx context.Context, id string) (tenant.School, error) {
	if !isUUID(id) {
		return tenant.School{}, tenant.ErrNotFound
	}
	return repo.getSchool(ctx, sq.Eq{"id": id}, "finding school by ID")
}

func (repo schoolRepository) GetSchoolBySlug(ctx context.Context, slug string) (tenant.School, error) {
	return repo.getSchool(ctx, sq.Eq{"slug": slug}, "finding school by slug")
}

func (repo schoolRepository) QuerySchools(ctx context.Context, filter *tenant.QueryFilter) ([]tenant.School, error) {
	q := psql.Select(schoolColumns...).From("school").OrderBy("created_at DESC")
	if filter != nil {
		if filter.Search != "" {
			q = q.Where(ilike(filter.Search, "name", "slug", "owner_email"))
		}
		if filter.Status != "" {
			q = q.Where(sq.Eq{"status": filter.Status})
		}
	}

	var rows []schoolRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying schools")
	}
	schools := make([]tenant.School, 0, len(rows))
	for _, r := range rows {
		schools = append(schools, r.school())
	}
	return schools, nil
}

func (repo schoolRepository) UpdateSchoolStatus(ctx context.Context, id, status string, at time.Time) error {
	n, err := repo.run(ctx, psql.Update("school").
		Set("status", status).
		Set("updated_at", at.UTC()).
		Where(sq.Eq{"id": id}))
	return mustAffect(n, err, tenant.ErrNotFound, "updating school status")
}
