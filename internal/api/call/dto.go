package call

import (
	"VoiceBridge/internal/entity"
	"time"
)

type StartCallRequest struct {
	OrganizationID string `json:"organization_id" validate:"required,max=64"`
}

type StartCallResponse struct {
	CallID       string    `json:"call_id"`
	SessionID    string    `json:"session_id"`
	Status       string    `json:"status"`
	WebsocketURL string    `json:"websocket_url"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type CallResponse struct {
	ID               string                 `json:"id"`
	OrganizationID   string                 `json:"organization_id"`
	SessionID        string                 `json:"session_id,omitempty"`
	Status           entity.CallStatus      `json:"status"`
	SessionState     string                 `json:"session_state,omitempty"`
	Escalated        bool                   `json:"escalated"`
	EscalationReason string                 `json:"escalation_reason,omitempty"`
	Urgency          string                 `json:"urgency,omitempty"`
	IntakeData       map[string]interface{} `json:"intake_data,omitempty"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	StartedAt        string                 `json:"started_at"`
	EndedAt          string                 `json:"ended_at,omitempty"`
}

type ListCallsQuery struct {
	OrganizationID string `query:"organization_id" validate:"omitempty,max=64"`
	Limit          int    `query:"limit" validate:"omitempty,min=1,max=100"`
	Offset         int    `query:"offset" validate:"omitempty,min=0"`
}

type ListCallsResponse struct {
	Calls []CallResponse `json:"calls"`
	Total int            `json:"total"`
}

type TranscriptItem struct {
	Speaker   entity.Speaker `json:"speaker"`
	Text      string         `json:"text"`
	Timestamp string         `json:"timestamp"`
}

type TranscriptResponse struct {
	CallID      string           `json:"call_id"`
	Transcripts []TranscriptItem `json:"transcripts"`
	ArchiveURL  string           `json:"archive_url,omitempty"`
}

// SaveTranscriptRequest is used by frontends that own the realtime session
// themselves and report transcript lines as they arrive.
type SaveTranscriptRequest struct {
	Speaker string `json:"speaker" validate:"required,oneof=user agent system"`
	Text    string `json:"text" validate:"required,max=10000"`
}

type SaveTranscriptResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// DeviceMessage is a text frame sent to the browser device socket.
type DeviceMessage struct {
	Type    string `json:"type"`
	Active  *bool  `json:"active,omitempty"`
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text,omitempty"`
	State   string `json:"state,omitempty"`
	Error   string `json:"error,omitempty"`
}
