package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SupersedeActionTokensSQL invalidates every valid token for the same
// (user, purpose) pair. Issuing a fresh token must leave exactly one
// valid token behind.
var SupersedeActionTokensSQL = `UPDATE "action_tokens" AS "act"
SET
	"valid" = FALSE,
	"reason" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"act"."user_id" = ?
AND "act"."purpose" = ?
AND "act"."valid" = TRUE
RETURNING *;`

// ConsumeActionTokenSQL is the atomic check-and-invalidate primitive.
// The valid guard means two racing consumers observe exactly one
// affected row between them.
var ConsumeActionTokenSQL = `UPDATE "action_tokens" AS "act"
SET
	"valid" = FALSE,
	"reason" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"act"."id" = ?
AND "act"."valid" = TRUE
RETURNING *;`

// ExpireActionTokensSQL flips tokens already past expiry. Housekeeping
// only; usability checks never depend on it.
var ExpireActionTokensSQL = `UPDATE "action_tokens" AS "act"
SET
	"valid" = FALSE,
	"reason" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"act"."valid" = TRUE
AND "act"."expires_at" <= ?
RETURNING *;`

type ActionTokens interface {
	repository.Repository[*ActionToken]

	GetBySecret(ctx context.Context, secret string, criteria ...repository.SelectCriteria) (*ActionToken, error)
	GetBySecretTx(ctx context.Context, tx bun.IDB, secret string, criteria ...repository.SelectCriteria) (*ActionToken, error)

	// InvalidatePriorTx flips every valid token for the (user, purpose)
	// pair, returning how many were superseded.
	InvalidatePriorTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, purpose TokenPurpose, reason string) (int, error)

	// ConsumeTx performs the conditional invalidation. A false return
	// with no error means another caller got there first (or the token
	// was already invalid).
	ConsumeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, reason string) (bool, error)

	// ExpireStaleTx invalidates valid tokens whose expiry is at or
	// before the cutoff.
	ExpireStaleTx(ctx context.Context, tx bun.IDB, cutoff time.Time) (int, error)
}

type actionTokens struct {
	repository.Repository[*ActionToken]
	db *bun.DB
}

var (
	_ ActionTokens                        = (*actionTokens)(nil)
	_ repository.Repository[*ActionToken] = (*actionTokens)(nil)
)

func NewActionTokensRepository(db *bun.DB) ActionTokens {
	repo := repository.NewRepository[*ActionToken](db, repository.ModelHandlers[*ActionToken]{
		NewRecord: func() *ActionToken { return &ActionToken{} },
		GetID: func(t *ActionToken) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *ActionToken, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
		GetIdentifier: func() string {
			return "secret"
		},
	})

	return &actionTokens{
		Repository: repo,
		db:         db,
	}
}

func (a *actionTokens) GetBySecret(ctx context.Context, secret string, criteria ...repository.SelectCriteria) (*ActionToken, error) {
	return a.GetBySecretTx(ctx, a.db, secret, criteria...)
}

func (a *actionTokens) GetBySecretTx(ctx context.Context, tx bun.IDB, secret string, criteria ...repository.SelectCriteria) (*ActionToken, error) {
	record := &ActionToken{}
	q := tx.NewSelect().Model(record)

	for _, c := range criteria {
		q.Apply(c)
	}

	err := q.
		Where("?TableAlias.secret = ?", secret).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}

	return record, nil
}

func (a *actionTokens) Create(ctx context.Context, record *ActionToken, criteria ...repository.InsertCriteria) (*ActionToken, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *actionTokens) CreateTx(ctx context.Context, tx bun.IDB, record *ActionToken, criteria ...repository.InsertCriteria) (*ActionToken, error) {
	if record != nil && record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *actionTokens) InvalidatePriorTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, purpose TokenPurpose, reason string) (int, error) {
	res, err := a.Repository.RawTx(ctx, tx, SupersedeActionTokensSQL, reason, userID.String(), string(purpose))
	if err != nil {
		return 0, err
	}
	return len(res), nil
}

func (a *actionTokens) ConsumeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, reason string) (bool, error) {
	res, err := a.Repository.RawTx(ctx, tx, ConsumeActionTokenSQL, reason, id.String())
	if err != nil {
		return false, err
	}
	return len(res) > 0, nil
}

func (a *actionTokens) ExpireStaleTx(ctx context.Context, tx bun.IDB, cutoff time.Time) (int, error) {
	res, err := a.Repository.RawTx(ctx, tx, ExpireActionTokensSQL, ReasonExpired, cutoff)
	if err != nil {
		return 0, err
	}
	return len(res), nil
}
