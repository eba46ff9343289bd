package opspilot

import (
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes the directory repositories
type RepositoryManager interface {
	DirectoryStore
	repository.Validator
}

type mngr struct {
	teams   TeamStore
	members MemberStore
}

var _ RepositoryManager = (*mngr)(nil)

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		teams:   NewTeamsRepository(db),
		members: NewMembersRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.teams == nil {
		return errors.New("repository teams should be initialized")
	}

	if m.members == nil {
		return errors.New("repository members should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) Members() MemberStore {
	return m.members
}

func (m mngr) Teams() TeamStore {
	return m.teams
}
