package intentService

import (
	"VoiceBridge/internal/entity"
	"VoiceBridge/pkg/metrics"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

const defaultUrgency = "medium"

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

	urgencyLevels = map[string]bool{
		"low":       true,
		"medium":    true,
		"high":      true,
		"emergency": true,
	}

	// Accepted spellings per argument, first match wins.
	appointmentKeys = map[string][]string{
		"title":         {"title"},
		"startTime":     {"start_time", "startTime", "start"},
		"endTime":       {"end_time", "endTime", "end"},
		"attendeeEmail": {"attendee_email", "attendeeEmail", "email"},
		"attendeeName":  {"attendee_name", "attendeeName", "name"},
		"description":   {"description"},
		"timezone":      {"timezone", "time_zone"},
	}

	// Names the speech model knows the parameters by.
	schemaNames = map[string]string{
		"title":         "title",
		"startTime":     "start_time",
		"endTime":       "end_time",
		"attendeeEmail": "attendee_email",
		"attendeeName":  "attendee_name",
		"description":   "description",
		"timezone":      "timezone",
	}

	timestampLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}
)

type appointmentInput struct {
	Title         string `field:"title" validate:"required,max=200"`
	StartTime     string `field:"startTime" validate:"required,iso8601"`
	EndTime       string `field:"endTime" validate:"required,iso8601"`
	AttendeeEmail string `field:"attendeeEmail" validate:"required,max=254,conservative_email"`
	AttendeeName  string `field:"attendeeName" validate:"omitempty,max=200"`
	Description   string `field:"description" validate:"omitempty,max=2000"`
	Timezone      string `field:"timezone" validate:"omitempty,timezone"`
}

func newArgsValidator(log *logrus.Logger) *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("field"); name != "" {
			return name
		}
		return fld.Name
	})

	if err := v.RegisterValidation("iso8601", func(fl validator.FieldLevel) bool {
		_, err := parseTimestamp(fl.Field().String(), time.UTC)
		return err == nil
	}); err != nil {
		log.WithError(err).Error("Failed to register iso8601 validation")
	}

	if err := v.RegisterValidation("conservative_email", func(fl validator.FieldLevel) bool {
		return isConservativeEmail(fl.Field().String())
	}); err != nil {
		log.WithError(err).Error("Failed to register conservative_email validation")
	}

	return v
}

func isConservativeEmail(email string) bool {
	if len(email) > 254 {
		return false
	}
	if strings.HasPrefix(email, ".") || strings.HasPrefix(email, "@") || strings.Contains(email, "..") {
		return false
	}
	return emailPattern.MatchString(email)
}

// parseTimestamp accepts RFC 3339 or a naive ISO-8601 local time, which is
// read in loc.
func parseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if strings.HasSuffix(value, "z") {
		value = strings.TrimSuffix(value, "z") + "Z"
	}

	for i, layout := range timestampLayouts {
		var (
			t   time.Time
			err error
		)
		if i == 0 {
			t, err = time.Parse(layout, value)
		} else {
			t, err = time.ParseInLocation(layout, value, loc)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 timestamp %q", value)
}

func (s *intentService) Validate(inv *entity.ToolInvocation) *entity.Outcome {
	var rejection *entity.Outcome

	switch inv.Kind {
	case entity.ToolCreateAppointment:
		var args *entity.AppointmentArguments
		args, rejection = s.validateAppointment(inv.RawArguments)
		if rejection == nil {
			inv.Validated = args
		}
	case entity.ToolEscalateCall:
		inv.Validated = validateEscalation(inv.RawArguments)
	case entity.ToolCompleteIntake:
		inv.Validated = validateIntake(inv.RawArguments)
	case entity.ToolEndCall:
		reason, _, _ := lookupString(inv.RawArguments, "reason")
		inv.Validated = &entity.EndCallArguments{Reason: reason}
	default:
		rejection = &entity.Outcome{
			Status:        entity.OutcomeValidationRejected,
			Kind:          inv.Name,
			Message:       fmt.Sprintf("Unknown tool: %s", inv.Name),
			Clarification: fmt.Sprintf("The tool %q is not available. Continue the conversation without it.", inv.Name),
			Retryable:     false,
		}
	}

	if rejection != nil {
		s.stats.rejected(inv, *rejection)
		metrics.ToolInvocationsTotal.WithLabelValues(inv.Kind.String(), string(rejection.Status)).Inc()
		s.log.WithFields(logrus.Fields{
			"tool":           inv.Name,
			"call_id":        inv.CallID,
			"correlation_id": inv.CorrelationID,
			"missing_fields": rejection.MissingFields,
			"invalid_fields": rejection.InvalidFields,
		}).Warn("Tool invocation rejected by validation")
	}

	return rejection
}

func (s *intentService) validateAppointment(raw map[string]interface{}) (*entity.AppointmentArguments, *entity.Outcome) {
	var (
		in         appointmentInput
		missing    []string
		invalid    []string
		wrongTyped = map[string]bool{}
	)

	read := func(field string) string {
		value, present, ok := lookupString(raw, appointmentKeys[field]...)
		if present && !ok {
			wrongTyped[field] = true
		}
		return value
	}

	in.Title = strings.Join(strings.Fields(read("title")), " ")
	in.StartTime = read("startTime")
	in.EndTime = read("endTime")
	in.AttendeeEmail = strings.ToLower(read("attendeeEmail"))
	in.AttendeeName = read("attendeeName")
	in.Description = read("description")
	in.Timezone = read("timezone")

	if err := s.argsValidator.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			s.log.WithError(err).Error("Unexpected error validating appointment arguments")
			return nil, rejectAppointment(nil, []string{"arguments"})
		}
		for _, fe := range verrs {
			if fe.Tag() == "required" && !wrongTyped[fe.Field()] {
				missing = append(missing, fe.Field())
				continue
			}
			invalid = appendUnique(invalid, fe.Field())
		}
	}
	for _, field := range []string{"title", "startTime", "endTime", "attendeeEmail", "attendeeName", "description", "timezone"} {
		if wrongTyped[field] {
			invalid = appendUnique(invalid, field)
		}
	}

	if len(missing) > 0 || len(invalid) > 0 {
		return nil, rejectAppointment(missing, invalid)
	}

	loc := time.UTC
	timezone := in.Timezone
	if timezone == "" {
		timezone = "UTC"
	} else if l, err := time.LoadLocation(timezone); err == nil {
		loc = l
	}

	start, _ := parseTimestamp(in.StartTime, loc)
	end, _ := parseTimestamp(in.EndTime, loc)
	if !end.After(start) {
		return nil, rejectAppointment(nil, []string{"endTime"})
	}

	return &entity.AppointmentArguments{
		Title:         in.Title,
		StartTime:     start,
		EndTime:       end,
		AttendeeEmail: in.AttendeeEmail,
		AttendeeName:  in.AttendeeName,
		Description:   in.Description,
		Timezone:      timezone,
	}, nil
}

func rejectAppointment(missing, invalid []string) *entity.Outcome {
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "Missing required fields: "+strings.Join(toSchemaNames(missing), ", ")+".")
	}
	if len(invalid) > 0 {
		parts = append(parts, "Invalid fields: "+strings.Join(toSchemaNames(invalid), ", ")+".")
	}

	return &entity.Outcome{
		Status:        entity.OutcomeValidationRejected,
		Kind:          entity.ToolCreateAppointment.String(),
		Message:       "Cannot create appointment.",
		Clarification: "VALIDATION_FAILED: Cannot create appointment. " + strings.Join(parts, " ") + " Please ask the user to provide the missing or correct information.",
		MissingFields: missing,
		InvalidFields: invalid,
		Retryable:     true,
	}
}

func validateEscalation(raw map[string]interface{}) *entity.EscalationArguments {
	reason, _, _ := lookupString(raw, "reason")
	summary, _, _ := lookupString(raw, "summary")
	urgency, _, _ := lookupString(raw, "urgency", "urgency_level")

	urgency = strings.ToLower(urgency)
	if !urgencyLevels[urgency] {
		urgency = defaultUrgency
	}

	return &entity.EscalationArguments{
		Reason:  reason,
		Urgency: urgency,
		Summary: summary,
	}
}

func validateIntake(raw map[string]interface{}) *entity.IntakeArguments {
	urgency, _, _ := lookupString(raw, "urgency_level", "urgencyLevel", "urgency")
	urgency = strings.ToLower(urgency)
	if urgency != "" && !urgencyLevels[urgency] {
		urgency = ""
	}

	args := &entity.IntakeArguments{UrgencyLevel: urgency}

	value, ok := lookup(raw, "structured_data", "structuredData", "data")
	if !ok {
		return args
	}

	switch data := value.(type) {
	case map[string]interface{}:
		args.StructuredData = data
	case string:
		var decoded map[string]interface{}
		if err := jsoniter.UnmarshalFromString(data, &decoded); err == nil {
			args.StructuredData = decoded
		} else if strings.TrimSpace(data) != "" {
			args.StructuredData = map[string]interface{}{"notes": data}
		}
	case nil:
	default:
		args.StructuredData = map[string]interface{}{"value": data}
	}

	return args
}

func lookup(raw map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, key := range keys {
		if value, ok := raw[key]; ok {
			return value, true
		}
	}
	return nil, false
}

// lookupString reports the trimmed value, whether any key was present with a
// non-null value, and whether that value was a string.
func lookupString(raw map[string]interface{}, keys ...string) (string, bool, bool) {
	value, ok := lookup(raw, keys...)
	if !ok || value == nil {
		return "", false, true
	}
	str, isString := value.(string)
	if !isString {
		return "", true, false
	}
	return strings.TrimSpace(str), true, true
}

func toSchemaNames(fields []string) []string {
	names := make([]string, 0, len(fields))
	for _, field := range fields {
		if name, ok := schemaNames[field]; ok {
			names = append(names, name)
			continue
		}
		names = append(names, field)
	}
	return names
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
