package entity

import (
	"time"
)

type CallStatus string

const (
	CallStatusActive    CallStatus = "active"
	CallStatusCompleted CallStatus = "completed"
	CallStatusFailed    CallStatus = "failed"
)

type Call struct {
	ID               string                 `json:"id"`
	OrganizationID   string                 `json:"organization_id"`
	SessionID        string                 `json:"session_id"`
	Status           CallStatus             `json:"status"`
	Escalated        bool                   `json:"escalated"`
	EscalationReason string                 `json:"escalation_reason,omitempty"`
	Urgency          string                 `json:"urgency,omitempty"`
	IntakeData       map[string]interface{} `json:"intake_data,omitempty"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	StartedAt        time.Time              `json:"started_at"`
	EndedAt          *time.Time             `json:"ended_at,omitempty"`
}

type Organization struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Instructions string    `json:"instructions"`
	Timezone     string    `json:"timezone"`
	CreatedAt    time.Time `json:"created_at"`
}

type Appointment struct {
	ID             string    `json:"id"`
	CallID         string    `json:"call_id"`
	OrganizationID string    `json:"organization_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Timezone       string    `json:"timezone"`
	AttendeeEmail  string    `json:"attendee_email"`
	AttendeeName   string    `json:"attendee_name"`
	IdempotencyKey string    `json:"idempotency_key"`
	CalendarLink   string    `json:"calendar_link,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
