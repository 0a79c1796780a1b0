package intentRepository

import (
	"VoiceBridge/internal/entity"
	contextPkg "VoiceBridge/pkg/context"
	"context"

	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

func (r *callNoteRepository) MarkEscalated(ctx context.Context, callID string, args entity.EscalationArguments) error {
	requestID := contextPkg.GetRequestID(ctx)

	argsKV := map[string]interface{}{
		"id":      callID,
		"reason":  args.Reason,
		"urgency": args.Urgency,
	}

	return r.exec(ctx, requestID, "MarkEscalated", queryMarkEscalated, argsKV)
}

func (r *callNoteRepository) SaveIntake(ctx context.Context, callID string, args entity.IntakeArguments) error {
	requestID := contextPkg.GetRequestID(ctx)

	intakeJSON, err := jsoniter.Marshal(args.StructuredData)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to marshal intake data")
		return err
	}

	argsKV := map[string]interface{}{
		"id":          callID,
		"intake_data": string(intakeJSON),
		"urgency":     args.UrgencyLevel,
	}

	return r.exec(ctx, requestID, "SaveIntake", querySaveIntake, argsKV)
}

func (r *callNoteRepository) exec(ctx context.Context, requestID, op, namedQuery string, argsKV map[string]interface{}) error {
	query, args, err := sqlx.Named(namedQuery, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Errorf("Failed to build SQL query for %s", op)
		return err
	}
	query = r.q.Rebind(query)

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"call_id":    argsKV["id"],
			"error":      err.Error(),
		}).Errorf("Database error in %s", op)
		return err
	}
	return nil
}
