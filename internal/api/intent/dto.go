package intent

import (
	"VoiceBridge/internal/entity"
	"time"
)

type ExecuteIntentRequest struct {
	ToolName       string                 `json:"tool_name" validate:"required,max=64"`
	ToolArgs       map[string]interface{} `json:"tool_args"`
	CallID         string                 `json:"call_id" validate:"omitempty,max=64"`
	OrganizationID string                 `json:"organization_id" validate:"omitempty,max=64"`
	CorrelationID  string                 `json:"correlation_id" validate:"omitempty,max=128"`
}

type ExecuteIntentResponse struct {
	Outcome    entity.Outcome         `json:"outcome"`
	ToolResult map[string]interface{} `json:"tool_result"`
}

type RejectionSummary struct {
	ToolName      string    `json:"tool_name"`
	CallID        string    `json:"call_id,omitempty"`
	MissingFields []string  `json:"missing_fields,omitempty"`
	InvalidFields []string  `json:"invalid_fields,omitempty"`
	RejectedAt    time.Time `json:"rejected_at"`
}

type PipelineStats struct {
	ValidationFailures int64              `json:"validation_failures"`
	Executions         map[string]int64   `json:"executions"`
	Duplicates         int64              `json:"duplicates"`
	InFlight           int                `json:"in_flight"`
	RecentRejections   []RejectionSummary `json:"recent_rejections"`
}
