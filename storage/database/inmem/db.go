// Package inmemdb provides map-backed repositories for tests and local
// development. Scoping semantics mirror the SQL gateway: every tenant-owned
// lookup filters on the tenant, and the platform scope only matches rows
// with no tenant.
package inmemdb

import (
	"sync"

	"github.com/trezcool/shule/core/audit"
	"github.com/trezcool/shule/core/fee"
	"github.com/trezcool/shule/core/session"
	"github.com/trezcool/shule/core/student"
	"github.com/trezcool/shule/core/tenant"
	"github.com/trezcool/shule/core/user"
)

type DB struct {
	mutex sync.RWMutex

	tenants    map[string]*tenant.Tenant
	users      map[string]*user.User
	challenges map[string]*user.Challenge
	sessions   map[string]*session.Session
	students   map[string]*student.Student
	fees       map[string]*fee.Fee
	records    []audit.Record
}

func NewDB() *DB {
	return &DB{
		tenants:    make(map[string]*tenant.Tenant),
		users:      make(map[string]*user.User),
		challenges: make(map[string]*user.Challenge),
		sessions:   make(map[string]*session.Session),
		students:   make(map[string]*student.Student),
		fees:       make(map[string]*fee.Fee),
	}
}
