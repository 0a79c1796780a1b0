package callRepository

import (
	"VoiceBridge/internal/entity"
	contextPkg "VoiceBridge/pkg/context"
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

type TranscriptDB struct {
	ID        string    `db:"id"`
	CallID    string    `db:"call_id"`
	Speaker   string    `db:"speaker"`
	Text      string    `db:"text"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *transcriptRepository) AppendTranscript(ctx context.Context, entry entity.TranscriptEntry) error {
	requestID := contextPkg.GetRequestID(ctx)

	argsKV := map[string]interface{}{
		"id":         entry.ID,
		"call_id":    entry.CallID,
		"speaker":    string(entry.Speaker),
		"text":       entry.Text,
		"created_at": entry.CreatedAt,
	}

	query, args, err := sqlx.Named(queryAppendTranscript, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to build SQL query for AppendTranscript")
		return err
	}
	query = r.q.Rebind(query)

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"call_id":    entry.CallID,
			"error":      err.Error(),
		}).Error("Database error when appending transcript")
		return err
	}

	return nil
}

func (r *transcriptRepository) GetTranscriptByCallID(ctx context.Context, callID string) ([]entity.TranscriptEntry, error) {
	requestID := contextPkg.GetRequestID(ctx)
	var rows []TranscriptDB

	query, args, err := sqlx.Named(queryGetTranscriptByCallID, map[string]interface{}{"call_id": callID})
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetTranscriptByCallID named query preparation err")
		return nil, err
	}
	query = r.q.Rebind(query)

	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetTranscriptByCallID execution err")
		return nil, err
	}

	entries := make([]entity.TranscriptEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, entity.TranscriptEntry{
			ID:        row.ID,
			CallID:    row.CallID,
			Speaker:   entity.Speaker(row.Speaker),
			Text:      row.Text,
			CreatedAt: row.CreatedAt,
		})
	}

	return entries, nil
}
