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
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

type CallDB struct {
	ID               sql.NullString `db:"id"`
	OrganizationID   sql.NullString `db:"organization_id"`
	SessionID        sql.NullString `db:"session_id"`
	Status           sql.NullString `db:"status"`
	Escalated        sql.NullBool   `db:"escalated"`
	EscalationReason sql.NullString `db:"escalation_reason"`
	Urgency          sql.NullString `db:"urgency"`
	IntakeData       sql.NullString `db:"intake_data"`
	ErrorMessage     sql.NullString `db:"error_message"`
	StartedAt        time.Time      `db:"started_at"`
	EndedAt          sql.NullTime   `db:"ended_at"`
}

func (r *callRepository) CreateCall(ctx context.Context, c entity.Call) error {
	requestID := contextPkg.GetRequestID(ctx)

	argsKV := map[string]interface{}{
		"id":              c.ID,
		"organization_id": c.OrganizationID,
		"session_id":      c.SessionID,
		"status":          string(c.Status),
		"started_at":      c.StartedAt,
	}

	query, args, err := sqlx.Named(queryCreateCall, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to build SQL query for CreateCall")
		return err
	}
	query = r.q.Rebind(query)

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"call_id":    c.ID,
			"error":      err.Error(),
		}).Error("Database error when creating call")
		return err
	}

	return nil
}

func (r *callRepository) FinishCall(ctx context.Context, callID string, status entity.CallStatus, errMessage string, endedAt time.Time) error {
	requestID := contextPkg.GetRequestID(ctx)

	argsKV := map[string]interface{}{
		"id":            callID,
		"status":        string(status),
		"error_message": errMessage,
		"ended_at":      endedAt,
	}

	query, args, err := sqlx.Named(queryFinishCall, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to build SQL query for FinishCall")
		return err
	}
	query = r.q.Rebind(query)

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"call_id":    callID,
			"error":      err.Error(),
		}).Error("Database error when finishing call")
		return err
	}

	return nil
}

func (r *callRepository) GetCallByID(ctx context.Context, callID string) (entity.Call, error) {
	requestID := contextPkg.GetRequestID(ctx)
	var row CallDB

	query, args, err := sqlx.Named(queryGetCallByID, map[string]interface{}{"id": callID})
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetCallByID named query preparation err")
		return entity.Call{}, err
	}
	query = r.q.Rebind(query)

	if err := r.q.QueryRowxContext(ctx, query, args...).StructScan(&row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.log.WithFields(logrus.Fields{
				"request_id": requestID,
				"call_id":    callID,
			}).Warn("GetCallByID no rows found")
			return entity.Call{}, call.ErrCallNotFound
		}
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetCallByID execution err")
		return entity.Call{}, err
	}

	return r.makeCall(row), nil
}

func (r *callRepository) ListCalls(ctx context.Context, organizationID string, limit, offset int) ([]entity.Call, int, error) {
	requestID := contextPkg.GetRequestID(ctx)
	var rows []CallDB

	argsKV := map[string]interface{}{
		"organization_id": organizationID,
		"limit":           limit,
		"offset":          offset,
	}

	query, args, err := sqlx.Named(queryListCalls, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("ListCalls named query preparation err")
		return nil, 0, err
	}
	query = r.q.Rebind(query)

	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("ListCalls execution err")
		return nil, 0, err
	}

	countQuery, countArgs, err := sqlx.Named(queryCountCalls, argsKV)
	if err != nil {
		return nil, 0, err
	}
	countQuery = r.q.Rebind(countQuery)

	var total int
	if err := sqlx.GetContext(ctx, r.q, &total, countQuery, countArgs...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("CountCalls execution err")
		return nil, 0, err
	}

	calls := make([]entity.Call, 0, len(rows))
	for _, row := range rows {
		calls = append(calls, r.makeCall(row))
	}

	return calls, total, nil
}

func (r *callRepository) makeCall(row CallDB) entity.Call {
	c := entity.Call{
		ID:               row.ID.String,
		OrganizationID:   row.OrganizationID.String,
		SessionID:        row.SessionID.String,
		Status:           entity.CallStatus(row.Status.String),
		Escalated:        row.Escalated.Bool,
		EscalationReason: row.EscalationReason.String,
		Urgency:          row.Urgency.String,
		ErrorMessage:     row.ErrorMessage.String,
		StartedAt:        row.StartedAt,
	}

	if row.EndedAt.Valid {
		endedAt := row.EndedAt.Time
		c.EndedAt = &endedAt
	}

	if row.IntakeData.Valid && row.IntakeData.String != "" {
		if err := jsoniter.UnmarshalFromString(row.IntakeData.String, &c.IntakeData); err != nil {
			r.log.WithFields(logrus.Fields{
				"call_id": c.ID,
				"error":   err.Error(),
			}).Warn("Stored intake data is not valid JSON")
		}
	}

	return c
}
