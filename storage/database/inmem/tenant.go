package inmemdb

import (
	"context"
	"sync"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/tenant"
)

// Router stands in for the school connection router: school data lives in DB, so there are no connections to hand out.
type Router struct {
	mu      sync.Mutex
	evicted []string
}

var _ tenant.Router = (*Router)(nil) // interface compliance check

func NewRouter() *Router {
	return &Router{}
}

// School returns a nil DB: repositories fall back to DB, scoped by the school carried by ctx.
func (r *Router) School(context.Context, string) (core.DB, error) {
	return nil, nil
}

func (r *Router) Evict(dbName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted = append(r.evicted, dbName)
	return nil
}

// Evicted returns the names of the databases evicted so far.
func (r *Router) Evicted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyStrings(r.evicted)
}

// Provisioner records the school databases it is asked to create, migrate & drop.
type Provisioner struct {
	db *DB

	mu                        sync.Mutex
	created, migrated, dropped []string

	// Err, when set, fails every call.
	Err error
}

var _ tenant.Provisioner = (*Provisioner)(nil) // interface compliance check

func NewProvisioner(db *DB) *Provisioner {
	return &Provisioner{db: db}
}

func (p *Provisioner) record(names *[]string, dbName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	*names = append(*names, dbName)
	return nil
}

func (p *Provisioner) CreateSchoolDatabase(_ context.Context, dbName string) error {
	return p.record(&p.created, dbName)
}

func (p *Provisioner) MigrateSchoolDatabase(_ context.Context, dbName string) error {
	return p.record(&p.migrated, dbName)
}

// DropSchoolDatabase forgets the records of the school whose database is dbName.
func (p *Provisioner) DropSchoolDatabase(ctx context.Context, dbName string) error {
	if err := p.record(&p.dropped, dbName); err != nil {
		return err
	}
	var slug string
	p.db.read(core.ContextWithSchool(ctx, ""), func(s *schema) {
		for _, sch := range s.schools {
			if sch.DBName == dbName {
				slug = sch.Slug
			}
		}
	})
	if slug != "" {
		p.db.DropSchool(slug)
	}
	return nil
}

func (p *Provisioner) Created() []string  { return p.names(&p.created) }
func (p *Provisioner) Migrated() []string { return p.names(&p.migrated) }
func (p *Provisioner) Dropped() []string  { return p.names(&p.dropped) }

func (p *Provisioner) names(names *[]string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyStrings(*names)
}
