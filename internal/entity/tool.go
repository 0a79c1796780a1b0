package entity

import (
	"time"
)

type ToolKind uint8

const (
	ToolUnknown           ToolKind = 0
	ToolCreateAppointment ToolKind = 1
	ToolEscalateCall      ToolKind = 2
	ToolCompleteIntake    ToolKind = 3
	ToolEndCall           ToolKind = 4
)

var ToolKindMap = map[ToolKind]string{
	ToolCreateAppointment: "create_appointment",
	ToolEscalateCall:      "escalate_call",
	ToolCompleteIntake:    "complete_intake",
	ToolEndCall:           "end_call",
}

func (k ToolKind) String() string {
	if name, ok := ToolKindMap[k]; ok {
		return name
	}
	return "unknown"
}

func (k ToolKind) Value() uint8 {
	return uint8(k)
}

func ParseToolKind(name string) ToolKind {
	for kind, n := range ToolKindMap {
		if n == name {
			return kind
		}
	}
	return ToolUnknown
}

// ToolInvocation is a function call issued by the speech model.
// CorrelationID is the value that must be echoed back with the result.
type ToolInvocation struct {
	Kind          ToolKind
	Name          string
	CorrelationID string
	ItemID        string
	CallID        string
	RawArguments  map[string]interface{}
	Validated     interface{}
}

type AppointmentArguments struct {
	Title         string    `json:"title"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	AttendeeEmail string    `json:"attendee_email"`
	AttendeeName  string    `json:"attendee_name,omitempty"`
	Description   string    `json:"description,omitempty"`
	Timezone      string    `json:"timezone"`
}

type EscalationArguments struct {
	Reason  string `json:"reason,omitempty"`
	Urgency string `json:"urgency"`
	Summary string `json:"summary,omitempty"`
}

type IntakeArguments struct {
	StructuredData map[string]interface{} `json:"structured_data,omitempty"`
	UrgencyLevel   string                 `json:"urgency_level,omitempty"`
}

type EndCallArguments struct {
	Reason string `json:"reason,omitempty"`
}

type OutcomeStatus string

const (
	OutcomeSuccess            OutcomeStatus = "success"
	OutcomeValidationRejected OutcomeStatus = "validation_rejected"
	OutcomeDispatchFailed     OutcomeStatus = "dispatch_failed"
)

type Outcome struct {
	Status         OutcomeStatus          `json:"status"`
	Kind           string                 `json:"kind"`
	Message        string                 `json:"message,omitempty"`
	Clarification  string                 `json:"clarification,omitempty"`
	MissingFields  []string               `json:"missing_fields,omitempty"`
	InvalidFields  []string               `json:"invalid_fields,omitempty"`
	Retryable      bool                   `json:"retryable"`
	IsDuplicate    bool                   `json:"is_duplicate"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	AppointmentID  string                 `json:"appointment_id,omitempty"`
	CalendarLink   string                 `json:"calendar_link,omitempty"`
	Data           map[string]interface{} `json:"data,omitempty"`
}

func (o Outcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}

// ToolResult is the payload reported back to the speech model.
func (o Outcome) ToolResult() map[string]interface{} {
	result := map[string]interface{}{
		"success": o.Succeeded(),
	}
	if o.Message != "" {
		result["message"] = o.Message
	}

	switch o.Status {
	case OutcomeSuccess:
		if o.IsDuplicate {
			result["is_duplicate"] = true
		}
		if o.AppointmentID != "" {
			result["appointment_id"] = o.AppointmentID
		}
		if o.CalendarLink != "" {
			result["calendar_link"] = o.CalendarLink
		}
		for k, v := range o.Data {
			if _, exists := result[k]; !exists {
				result[k] = v
			}
		}
	case OutcomeValidationRejected:
		result["error"] = string(o.Status)
		result["should_retry"] = o.Retryable
		result["clarification"] = o.Clarification
		if len(o.MissingFields) > 0 {
			result["missing_fields"] = o.MissingFields
		}
		if len(o.InvalidFields) > 0 {
			result["invalid_fields"] = o.InvalidFields
		}
	case OutcomeDispatchFailed:
		result["error"] = string(o.Status)
		result["should_retry"] = o.Retryable
	}

	return result
}

type RecordStatus string

const (
	RecordPending RecordStatus = "pending"
	RecordDone    RecordStatus = "done"
	RecordFailed  RecordStatus = "failed"
)

type IdempotencyRecord struct {
	Key       string       `json:"key"`
	Kind      string       `json:"kind"`
	Status    RecordStatus `json:"status"`
	Outcome   Outcome      `json:"outcome"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
