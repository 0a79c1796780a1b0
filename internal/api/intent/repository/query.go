package intentRepository

const (
	queryCreateAppointment = `
		INSERT INTO appointments (
			id, call_id, organization_id, title, description,
			start_time, end_time, timezone, attendee_email, attendee_name,
			idempotency_key, calendar_link, created_at
		) VALUES (
			:id, :call_id, :organization_id, :title, :description,
			:start_time, :end_time, :timezone, :attendee_email, :attendee_name,
			:idempotency_key, :calendar_link, :created_at
		)
		ON CONFLICT (idempotency_key) DO NOTHING
	`

	queryMarkEscalated = `
		UPDATE calls
		SET
			escalated = TRUE,
			escalation_reason = :reason,
			urgency = :urgency
		WHERE id = :id
	`

	querySaveIntake = `
		UPDATE calls
		SET
			intake_data = CAST(:intake_data AS JSONB),
			urgency = COALESCE(NULLIF(:urgency, ''), urgency)
		WHERE id = :id
	`
)
