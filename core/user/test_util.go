package user

import (
	"github.com/trezcool/masomo-cloud/core"
)

// NewServiceMock returns a Service that delivers its emails synchronously.
func NewServiceMock(conf *core.Config, repo Repository, mailSvc core.EmailService) Service {
	svc := NewService(conf, repo, mailSvc).(*service)
	svc.dispatch = func(f func()) { f() }
	return svc
}
