package callRepository

import (
	"VoiceBridge/internal/entity"
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

type SQLExecutor interface {
	sqlx.ExtContext
	Rebind(query string) string
}

func New(db *sqlx.DB, log *logrus.Logger) Repository {
	return &repository{
		DB:  db,
		log: log,
	}
}

type repository struct {
	DB  *sqlx.DB
	log *logrus.Logger
}

type Repository interface {
	NewClient(tx bool) (Client, error)
}

func (r *repository) NewClient(tx bool) (Client, error) {
	var sqlExecutor SQLExecutor
	var commitFunc, rollbackFunc func() error

	sqlExecutor = r.DB

	if tx {
		txx, err := r.DB.Beginx()
		if err != nil {
			return Client{}, err
		}

		sqlExecutor = txx
		commitFunc = txx.Commit
		rollbackFunc = txx.Rollback
	} else {
		commitFunc = func() error { return nil }
		rollbackFunc = func() error { return nil }
	}

	return Client{
		Calls:         &callRepository{q: sqlExecutor, log: r.log},
		Transcripts:   &transcriptRepository{q: sqlExecutor, log: r.log},
		Organizations: &organizationRepository{q: sqlExecutor, log: r.log},
		Commit:        commitFunc,
		Rollback:      rollbackFunc,
	}, nil
}

type Client struct {
	Calls interface {
		CreateCall(ctx context.Context, call entity.Call) error
		FinishCall(ctx context.Context, callID string, status entity.CallStatus, errMessage string, endedAt time.Time) error
		GetCallByID(ctx context.Context, callID string) (entity.Call, error)
		ListCalls(ctx context.Context, organizationID string, limit, offset int) ([]entity.Call, int, error)
	}

	Transcripts interface {
		AppendTranscript(ctx context.Context, entry entity.TranscriptEntry) error
		GetTranscriptByCallID(ctx context.Context, callID string) ([]entity.TranscriptEntry, error)
	}

	Organizations interface {
		GetOrganizationByID(ctx context.Context, id string) (entity.Organization, error)
	}

	Commit   func() error
	Rollback func() error
}

type callRepository struct {
	q   SQLExecutor
	log *logrus.Logger
}

type transcriptRepository struct {
	q   SQLExecutor
	log *logrus.Logger
}

type organizationRepository struct {
	q   SQLExecutor
	log *logrus.Logger
}
