package opspilot

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type teams struct {
	repo repository.Repository[*Team]
	db   *bun.DB
}

var _ TeamStore = (*teams)(nil)

// NewTeamsRepository returns the bun backed TeamStore
func NewTeamsRepository(db *bun.DB) TeamStore {
	repo := repository.NewRepository[*Team](db, repository.ModelHandlers[*Team]{
		NewRecord: func() *Team { return &Team{} },
		GetID: func(t *Team) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *Team, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
		GetIdentifier: func() string {
			return "manager_email"
		},
	})

	return &teams{repo: repo, db: db}
}

func (t *teams) FindByID(ctx context.Context, id uuid.UUID) (*Team, error) {
	if id == uuid.Nil {
		return nil, nil
	}

	team, err := t.repo.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return team, nil
}

func (t *teams) FindByManagerEmail(ctx context.Context, email string) (*Team, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}

	team := &Team{}
	err := t.db.NewSelect().
		Model(team).
		Where("LOWER(?TableAlias.manager_email) = ?", email).
		OrderExpr("?TableAlias.created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return team, nil
}

func (t *teams) Insert(ctx context.Context, team *Team) (*Team, error) {
	if team == nil {
		return nil, errors.New("team is required")
	}

	record := *team
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.ManagerEmail = NormalizeEmail(record.ManagerEmail)

	if _, err := t.db.NewInsert().Model(&record).Returning("*").Exec(ctx); err != nil {
		return nil, err
	}
	return &record, nil
}
