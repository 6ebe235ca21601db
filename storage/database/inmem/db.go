package inmemdb

import (
	"sync"

	"github.com/trezcool/wastewise/core/certification"
	"github.com/trezcool/wastewise/core/user"
)

type (
	// DB is an in-memory storage engine; every table guards itself with its own lock.
	DB struct {
		user      *userTable
		certType  *certTypeTable
		progress  *progressTable
		certified *userCertificationTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	certTypeTable struct {
		sync.RWMutex
		table map[int]*certification.Type
	}

	progressTable struct {
		sync.RWMutex
		table map[string]*certification.Progress
	}

	userCertificationTable struct {
		sync.RWMutex
		table map[string]*certification.UserCertification
	}
)

func Open() *DB {
	return &DB{
		user:      &userTable{table: make(map[string]*user.User)},
		certType:  &certTypeTable{table: make(map[int]*certification.Type)},
		progress:  &progressTable{table: make(map[string]*certification.Progress)},
		certified: &userCertificationTable{table: make(map[string]*certification.UserCertification)},
	}
}
