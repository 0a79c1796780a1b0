package intentService

import (
	"VoiceBridge/internal/entity"
	"VoiceBridge/pkg/metrics"
	"VoiceBridge/pkg/zapier"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// IdempotencyKey derives the stable key for a validated appointment. Only
// the fields that identify the booking take part, so a changed description
// still counts as the same appointment.
func IdempotencyKey(kind entity.ToolKind, args *entity.AppointmentArguments) string {
	parts := []string{
		kind.String(),
		strings.ToLower(strings.Join(strings.Fields(args.Title), " ")),
		args.StartTime.UTC().Format(time.RFC3339),
		args.EndTime.UTC().Format(time.RFC3339),
		strings.ToLower(strings.TrimSpace(args.AttendeeEmail)),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func (s *intentService) Execute(ctx context.Context, inv entity.ToolInvocation) entity.Outcome {
	if inv.Validated == nil {
		if rejection := s.Validate(&inv); rejection != nil {
			return *rejection
		}
	}

	var out entity.Outcome
	switch args := inv.Validated.(type) {
	case *entity.AppointmentArguments:
		out = s.executeAppointment(ctx, inv, args)
	case *entity.EscalationArguments:
		out = s.executeEscalation(ctx, inv, args)
	case *entity.IntakeArguments:
		out = s.executeIntake(ctx, inv, args)
	case *entity.EndCallArguments:
		out = entity.Outcome{
			Status:  entity.OutcomeSuccess,
			Kind:    entity.ToolEndCall.String(),
			Message: "Ending the call. Say a brief goodbye.",
		}
	default:
		s.log.WithFields(logrus.Fields{
			"tool":    inv.Name,
			"call_id": inv.CallID,
		}).Errorf("Unsupported validated arguments %T", inv.Validated)
		out = entity.Outcome{
			Status:    entity.OutcomeDispatchFailed,
			Kind:      inv.Kind.String(),
			Message:   "This action is not available right now.",
			Retryable: false,
		}
	}

	s.stats.executed(inv.Kind, out)
	metrics.ToolInvocationsTotal.WithLabelValues(inv.Kind.String(), string(out.Status)).Inc()
	return out
}

func (s *intentService) executeAppointment(ctx context.Context, inv entity.ToolInvocation, args *entity.AppointmentArguments) entity.Outcome {
	key := IdempotencyKey(inv.Kind, args)
	entry := s.log.WithFields(logrus.Fields{
		"call_id":         inv.CallID,
		"correlation_id":  inv.CorrelationID,
		"idempotency_key": key,
	})

	// A failure recorded after this point belongs to a dispatch this request
	// queued behind, so it is shared rather than retried.
	arrived := time.Now().UTC()

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	release, err := s.locks.acquire(lockCtx, key)
	cancel()
	if err != nil {
		entry.WithError(err).Warn("Timed out waiting for in-flight appointment execution")
		return entity.Outcome{
			Status:         entity.OutcomeDispatchFailed,
			Kind:           inv.Kind.String(),
			Message:        "This appointment is still being processed. Please try again in a moment.",
			Retryable:      true,
			IdempotencyKey: key,
		}
	}
	defer release()

	// Bookkeeping below must land even if the caller goes away mid-dispatch.
	detached := context.WithoutCancel(ctx)

	rec, found, err := s.records.Get(detached, key)
	if err != nil {
		entry.WithError(err).Error("Failed to read idempotency record")
		return entity.Outcome{
			Status:         entity.OutcomeDispatchFailed,
			Kind:           inv.Kind.String(),
			Message:        "I couldn't confirm whether this appointment already exists. Please try again shortly.",
			Retryable:      true,
			IdempotencyKey: key,
		}
	}

	createdAt := time.Now().UTC()
	if found {
		switch rec.Status {
		case entity.RecordDone:
			metrics.DuplicateSuppressedTotal.Inc()
			entry.Info("Appointment already created, returning recorded outcome")
			out := rec.Outcome
			out.IsDuplicate = true
			out.Message = "This appointment was already created."
			return out
		case entity.RecordPending:
			// A pending record seen under the lock means an earlier dispatch
			// never finished. It may or may not have reached the endpoint.
			metrics.DuplicateSuppressedTotal.Inc()
			entry.Warn("Found unfinished appointment execution, not dispatching again")
			return entity.Outcome{
				Status:         entity.OutcomeDispatchFailed,
				Kind:           inv.Kind.String(),
				Message:        "This appointment request is already being processed.",
				Retryable:      false,
				IsDuplicate:    true,
				IdempotencyKey: key,
			}
		case entity.RecordFailed:
			if !rec.UpdatedAt.Before(arrived) {
				metrics.DuplicateSuppressedTotal.Inc()
				entry.WithField("previous_error", rec.Error).Info("Sharing outcome of the failed dispatch this request waited on")
				out := rec.Outcome
				out.IsDuplicate = true
				return out
			}
			entry.WithField("previous_error", rec.Error).Info("Retrying previously failed appointment")
			createdAt = rec.CreatedAt
		}
	}

	now := time.Now().UTC()
	appointmentID, err := s.utils.NewULIDFromTimestamp(now)
	if err != nil {
		appointmentID = s.utils.NewUUID()
	}

	pending := entity.IdempotencyRecord{
		Key:       key,
		Kind:      inv.Kind.String(),
		Status:    entity.RecordPending,
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
	if err := s.records.Put(detached, pending); err != nil {
		entry.WithError(err).Error("Failed to write pending idempotency record")
		return entity.Outcome{
			Status:         entity.OutcomeDispatchFailed,
			Kind:           inv.Kind.String(),
			Message:        "I wasn't able to book the appointment right now. Please try again in a moment.",
			Retryable:      true,
			IdempotencyKey: key,
		}
	}

	payload := zapier.AppointmentPayload{
		AppointmentID: appointmentID,
		Title:         args.Title,
		Description:   args.Description,
		StartTime:     args.StartTime.Format(time.RFC3339),
		EndTime:       args.EndTime.Format(time.RFC3339),
		Timezone:      args.Timezone,
		AttendeeEmail: args.AttendeeEmail,
		AttendeeName:  args.AttendeeName,
		CreatedAt:     now.Format(time.RFC3339),
	}

	dispatchCtx, cancelDispatch := context.WithTimeout(detached, s.dispatchTimeout)
	started := time.Now()
	resp, err := s.webhook.SendAppointment(dispatchCtx, payload)
	cancelDispatch()
	metrics.DispatchDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		metrics.DispatchTotal.WithLabelValues("failed").Inc()
		entry.WithError(err).Error("Appointment dispatch failed")

		out := entity.Outcome{
			Status:         entity.OutcomeDispatchFailed,
			Kind:           inv.Kind.String(),
			Message:        "I wasn't able to book the appointment right now. Please try again in a moment.",
			Retryable:      true,
			IdempotencyKey: key,
		}
		failed := pending
		failed.Status = entity.RecordFailed
		failed.Outcome = out
		failed.Error = err.Error()
		failed.UpdatedAt = time.Now().UTC()
		if putErr := s.records.Put(detached, failed); putErr != nil {
			entry.WithError(putErr).Error("Failed to mark idempotency record failed")
		}
		return out
	}
	metrics.DispatchTotal.WithLabelValues("done").Inc()

	calendarLink := ""
	if resp != nil {
		calendarLink = stringField(resp.Body, "calendar_link", "htmlLink", "event_link")
	}

	out := entity.Outcome{
		Status:         entity.OutcomeSuccess,
		Kind:           inv.Kind.String(),
		Message:        fmt.Sprintf("Appointment created and confirmation email sent to %s", args.AttendeeEmail),
		IdempotencyKey: key,
		AppointmentID:  appointmentID,
		CalendarLink:   calendarLink,
		Data: map[string]interface{}{
			"start_time": payload.StartTime,
			"end_time":   payload.EndTime,
		},
	}

	done := pending
	done.Status = entity.RecordDone
	done.Outcome = out
	done.UpdatedAt = time.Now().UTC()
	if err := s.records.Put(detached, done); err != nil {
		entry.WithError(err).Error("Failed to mark idempotency record done")
	}

	entry.WithField("appointment_id", appointmentID).Info("Appointment created")

	go s.saveAppointment(detached, entity.Appointment{
		ID:             appointmentID,
		CallID:         inv.CallID,
		Title:          args.Title,
		Description:    args.Description,
		StartTime:      args.StartTime,
		EndTime:        args.EndTime,
		Timezone:       args.Timezone,
		AttendeeEmail:  args.AttendeeEmail,
		AttendeeName:   args.AttendeeName,
		IdempotencyKey: key,
		CalendarLink:   calendarLink,
		CreatedAt:      now,
	})

	return out
}

func (s *intentService) executeEscalation(ctx context.Context, inv entity.ToolInvocation, args *entity.EscalationArguments) entity.Outcome {
	s.withCallNotes(ctx, inv.CallID, "mark_escalated", func(ctx context.Context, notes callNotes) error {
		return notes.MarkEscalated(ctx, inv.CallID, *args)
	})

	s.log.WithFields(logrus.Fields{
		"call_id": inv.CallID,
		"urgency": args.Urgency,
	}).Info("Call flagged for escalation")

	return entity.Outcome{
		Status:  entity.OutcomeSuccess,
		Kind:    entity.ToolEscalateCall.String(),
		Message: "The call has been flagged for a human to follow up.",
		Data: map[string]interface{}{
			"urgency": args.Urgency,
		},
	}
}

func (s *intentService) executeIntake(ctx context.Context, inv entity.ToolInvocation, args *entity.IntakeArguments) entity.Outcome {
	s.withCallNotes(ctx, inv.CallID, "save_intake", func(ctx context.Context, notes callNotes) error {
		return notes.SaveIntake(ctx, inv.CallID, *args)
	})

	return entity.Outcome{
		Status:  entity.OutcomeSuccess,
		Kind:    entity.ToolCompleteIntake.String(),
		Message: "Intake information recorded.",
	}
}

type callNotes interface {
	MarkEscalated(ctx context.Context, callID string, args entity.EscalationArguments) error
	SaveIntake(ctx context.Context, callID string, args entity.IntakeArguments) error
}

// withCallNotes runs a best-effort update against the call row. Failures
// are logged and counted, never surfaced to the speech model.
func (s *intentService) withCallNotes(ctx context.Context, callID, op string, fn func(context.Context, callNotes) error) {
	if s.repo == nil || callID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.bookkeeping)
	defer cancel()

	client, err := s.repo.NewClient(false)
	if err != nil {
		metrics.PersistenceErrorsTotal.WithLabelValues(op).Inc()
		s.log.WithError(err).WithField("call_id", callID).Error("Failed to open repository client")
		return
	}

	if err := fn(ctx, client.CallNotes); err != nil {
		metrics.PersistenceErrorsTotal.WithLabelValues(op).Inc()
		s.log.WithError(err).WithField("call_id", callID).Errorf("Failed to %s", strings.ReplaceAll(op, "_", " "))
	}
}

func (s *intentService) saveAppointment(ctx context.Context, appointment entity.Appointment) {
	if s.repo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.bookkeeping)
	defer cancel()

	client, err := s.repo.NewClient(false)
	if err != nil {
		metrics.PersistenceErrorsTotal.WithLabelValues("create_appointment").Inc()
		s.log.WithError(err).Error("Failed to open repository client")
		return
	}

	if err := client.Appointments.CreateAppointment(ctx, appointment); err != nil {
		metrics.PersistenceErrorsTotal.WithLabelValues("create_appointment").Inc()
		s.log.WithError(err).WithField("appointment_id", appointment.ID).Error("Failed to save appointment")
	}
}

func stringField(body map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := body[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
