package opspilot

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type members struct {
	repo repository.Repository[*Member]
	db   *bun.DB
}

var _ MemberStore = (*members)(nil)

// NewMembersRepository returns the bun backed MemberStore
func NewMembersRepository(db *bun.DB) MemberStore {
	repo := repository.NewRepository[*Member](db, repository.ModelHandlers[*Member]{
		NewRecord: func() *Member { return &Member{} },
		GetID: func(m *Member) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.ID
		},
		SetID: func(m *Member, id uuid.UUID) {
			if m != nil {
				m.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &members{repo: repo, db: db}
}

func (m *members) FindByEmail(ctx context.Context, email string) (*Member, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}

	member := &Member{}
	err := m.db.NewSelect().
		Model(member).
		Where("LOWER(?TableAlias.email) = ?", email).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return member, nil
}

func (m *members) FindByID(ctx context.Context, id uuid.UUID) (*Member, error) {
	if id == uuid.Nil {
		return nil, nil
	}

	member, err := m.repo.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return member, nil
}

// Insert requires the member ID, it is the identity ID of the person
func (m *members) Insert(ctx context.Context, member *Member) (*Member, error) {
	if member == nil || member.ID == uuid.Nil {
		return nil, errors.New("member id is required")
	}

	record := *member
	record.Email = NormalizeEmail(record.Email)
	record.Team = nil

	if _, err := m.db.NewInsert().Model(&record).Returning("*").Exec(ctx); err != nil {
		return nil, err
	}
	return &record, nil
}
