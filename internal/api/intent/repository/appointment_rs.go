package intentRepository

import (
	"VoiceBridge/internal/entity"
	contextPkg "VoiceBridge/pkg/context"
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

func (r *appointmentRepository) CreateAppointment(ctx context.Context, appointment entity.Appointment) error {
	requestID := contextPkg.GetRequestID(ctx)

	argsKV := map[string]interface{}{
		"id":              appointment.ID,
		"call_id":         nullString(appointment.CallID),
		"organization_id": nullString(appointment.OrganizationID),
		"title":           appointment.Title,
		"description":     appointment.Description,
		"start_time":      appointment.StartTime,
		"end_time":        appointment.EndTime,
		"timezone":        appointment.Timezone,
		"attendee_email":  appointment.AttendeeEmail,
		"attendee_name":   appointment.AttendeeName,
		"idempotency_key": appointment.IdempotencyKey,
		"calendar_link":   appointment.CalendarLink,
		"created_at":      appointment.CreatedAt,
	}

	query, args, err := sqlx.Named(queryCreateAppointment, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to build SQL query for CreateAppointment")
		return err
	}
	query = r.q.Rebind(query)

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id":      requestID,
			"idempotency_key": appointment.IdempotencyKey,
			"error":           err.Error(),
		}).Error("Database error when creating appointment")
		return err
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
