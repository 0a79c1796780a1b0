package callRepository

const (
	queryCreateCall = `
		INSERT INTO calls (
			id,
			organization_id,
			session_id,
			status,
			escalated,
			started_at
		) VALUES (
			:id,
			:organization_id,
			:session_id,
			:status,
			FALSE,
			:started_at
		)
	`

	// Only an active call can be finished, so a late teardown never
	// overwrites an earlier terminal status.
	queryFinishCall = `
		UPDATE calls
		SET
			status = :status,
			error_message = NULLIF(:error_message, ''),
			ended_at = :ended_at
		WHERE id = :id AND status = 'active'
	`

	queryGetCallByID = `
		SELECT
			id,
			organization_id,
			session_id,
			status,
			escalated,
			escalation_reason,
			urgency,
			intake_data,
			error_message,
			started_at,
			ended_at
		FROM calls
		WHERE id = :id
	`

	queryListCalls = `
		SELECT
			id,
			organization_id,
			session_id,
			status,
			escalated,
			escalation_reason,
			urgency,
			intake_data,
			error_message,
			started_at,
			ended_at
		FROM calls
		WHERE (:organization_id = '' OR organization_id = :organization_id)
		ORDER BY started_at DESC
		LIMIT :limit OFFSET :offset
	`

	queryCountCalls = `
		SELECT COUNT(id)
		FROM calls
		WHERE (:organization_id = '' OR organization_id = :organization_id)
	`

	queryAppendTranscript = `
		INSERT INTO call_transcripts (
			id,
			call_id,
			speaker,
			text,
			created_at
		) VALUES (
			:id,
			:call_id,
			:speaker,
			:text,
			:created_at
		)
	`

	queryGetTranscriptByCallID = `
		SELECT
			id,
			call_id,
			speaker,
			text,
			created_at
		FROM call_transcripts
		WHERE call_id = :call_id
		ORDER BY created_at ASC, id ASC
	`

	queryGetOrganizationByID = `
		SELECT
			id,
			name,
			instructions,
			timezone,
			created_at
		FROM organizations
		WHERE id = :id
	`
)
