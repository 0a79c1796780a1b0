package callRepository

import (
	"VoiceBridge/internal/api/call"
	"VoiceBridge/internal/entity"
	contextPkg "VoiceBridge/pkg/context"
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

type OrganizationDB struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Instructions sql.NullString `db:"instructions"`
	Timezone     sql.NullString `db:"timezone"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r *organizationRepository) GetOrganizationByID(ctx context.Context, id string) (entity.Organization, error) {
	requestID := contextPkg.GetRequestID(ctx)
	var row OrganizationDB

	query, args, err := sqlx.Named(queryGetOrganizationByID, map[string]interface{}{"id": id})
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetOrganizationByID named query preparation err")
		return entity.Organization{}, err
	}
	query = r.q.Rebind(query)

	if err := r.q.QueryRowxContext(ctx, query, args...).StructScan(&row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.Organization{}, call.ErrOrganizationNotFound
		}
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetOrganizationByID execution err")
		return entity.Organization{}, err
	}

	timezone := row.Timezone.String
	if timezone == "" {
		timezone = "UTC"
	}

	return entity.Organization{
		ID:           row.ID,
		Name:         row.Name,
		Instructions: row.Instructions.String,
		Timezone:     timezone,
		CreatedAt:    row.CreatedAt,
	}, nil
}
