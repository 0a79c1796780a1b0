package intent

import (
	"VoiceBridge/internal/entity"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

type ToolDefinition struct {
	Type        string                 `json:"type"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func enumProp(description string, values ...string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "enum": values, "description": description}
}

func objectSchema(required []string, props map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// ToolDefinitions is the tool set declared to the speech model.
var ToolDefinitions = []ToolDefinition{
	{
		Type: "function",
		Name: entity.ToolCreateAppointment.String(),
		Description: "Book an appointment for the caller. The appointment is added to the calendar and a " +
			"confirmation email is sent to the attendee. Call this once the caller has agreed on a time. " +
			"title, start_time, end_time and attendee_email are required; times are ISO 8601 with an offset.",
		Parameters: objectSchema(
			[]string{"title", "start_time", "end_time", "attendee_email"},
			map[string]interface{}{
				"title":          stringProp("Short appointment title, for example 'Initial consultation'"),
				"description":    stringProp("Optional notes about the appointment"),
				"start_time":     stringProp("Start time in ISO 8601 with offset, for example 2024-12-20T14:00:00Z"),
				"end_time":       stringProp("End time in ISO 8601 with offset, for example 2024-12-20T15:00:00Z"),
				"attendee_email": stringProp("Attendee email address; the invitation is sent here"),
				"attendee_name":  stringProp("Attendee name, used to personalize the invitation"),
				"timezone":       stringProp("IANA timezone used for display, for example America/New_York. Defaults to UTC"),
			},
		),
	},
	{
		Type: "function",
		Name: entity.ToolEscalateCall.String(),
		Description: "Hand the caller over to a human. Use for emergencies, explicit requests for a person, " +
			"or when you cannot help.",
		Parameters: objectSchema(
			[]string{"reason", "urgency", "summary"},
			map[string]interface{}{
				"reason":  stringProp("Why the call is escalated"),
				"urgency": enumProp("How urgent the escalation is", urgencyLevels...),
				"summary": stringProp("One or two sentences summarizing the caller's situation"),
			},
		),
	},
	{
		Type:        "function",
		Name:        entity.ToolCompleteIntake.String(),
		Description: "Record the intake once every required detail has been collected from the caller.",
		Parameters: objectSchema(
			[]string{"structured_data", "urgency_level"},
			map[string]interface{}{
				"structured_data": map[string]interface{}{
					"type":        "object",
					"description": "Collected intake fields as a JSON object",
				},
				"urgency_level": enumProp("Urgency inferred from the intake", "low", "medium", "high"),
			},
		),
	},
	{
		Type:        "function",
		Name:        entity.ToolEndCall.String(),
		Description: "End the call when the conversation is finished and nothing else is needed.",
		Parameters: objectSchema(
			[]string{"reason"},
			map[string]interface{}{
				"reason": stringProp("Why the call is ending"),
			},
		),
	},
}

var urgencyLevels = []string{"low", "medium", "high", "emergency"}

var (
	toolSchemaOnce sync.Once
	toolSchema     []byte
	toolSchemaErr  error
)

// ToolSchema returns ToolDefinitions encoded as the JSON array sent in the
// session configuration.
func ToolSchema() ([]byte, error) {
	toolSchemaOnce.Do(func() {
		toolSchema, toolSchemaErr = jsoniter.Marshal(ToolDefinitions)
	})
	return toolSchema, toolSchemaErr
}
