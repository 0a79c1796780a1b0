package realtime

import (
	"VoiceBridge/internal/entity"
	"VoiceBridge/pkg/audio"
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

type EventClass uint8

const (
	ClassIgnored         EventClass = 0
	ClassLifecycle       EventClass = 1
	ClassUserTranscript  EventClass = 2
	ClassAgentTranscript EventClass = 3
	ClassAgentAudio      EventClass = 4
	ClassToolInvocation  EventClass = 5
	ClassTransportError  EventClass = 6
)

var EventClassMap = map[EventClass]string{
	ClassIgnored:         "ignored",
	ClassLifecycle:       "lifecycle",
	ClassUserTranscript:  "user_transcript",
	ClassAgentTranscript: "agent_transcript",
	ClassAgentAudio:      "agent_audio",
	ClassToolInvocation:  "tool_invocation",
	ClassTransportError:  "transport_error",
}

func (c EventClass) String() string {
	return EventClassMap[c]
}

// Event is the normalized form of one inbound server message.
type Event struct {
	Class      EventClass
	Type       string
	Text       string
	Samples    []float32
	Invocation *entity.ToolInvocation
	Err        *TransportError
}

type TransportError struct {
	Code    string
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("realtime transport: %v", e.Err)
	}
	if e.Code != "" {
		return fmt.Sprintf("realtime transport error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("realtime transport error: %s", e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type ProtocolParseError struct {
	Type string
	Err  error
}

func (e *ProtocolParseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("malformed realtime message: %v", e.Err)
	}
	return fmt.Sprintf("malformed realtime message %q: %v", e.Type, e.Err)
}

func (e *ProtocolParseError) Unwrap() error {
	return e.Err
}

var (
	errMissingCorrelation = errors.New("function call has neither call_id nor item id")
)

type matcher func(c *Classifier, ev *serverEvent) (Event, bool, error)

// matchers run in priority order; the first that claims a message wins.
var matchers = []matcher{
	matchLifecycle,
	matchUserTranscript,
	matchAgentTranscript,
	matchAgentAudio,
	matchToolInvocation,
	matchTransportError,
}

// Classifier normalizes inbound messages for one session. It remembers
// which call ids it has already extracted because the same function call
// is announced by more than one message shape.
type Classifier struct {
	log *logrus.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewClassifier(log *logrus.Logger) *Classifier {
	return &Classifier{
		log:  log,
		seen: make(map[string]struct{}),
	}
}

// Classify returns a *ProtocolParseError for messages that cannot be read.
// Unknown tags come back as ClassIgnored with a nil error.
func (c *Classifier) Classify(raw []byte) (Event, error) {
	var ev serverEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, &ProtocolParseError{Err: err}
	}
	if ev.Type == "" {
		return Event{}, &ProtocolParseError{Err: errors.New("missing type")}
	}

	for _, match := range matchers {
		out, ok, err := match(c, &ev)
		if err != nil {
			return Event{}, &ProtocolParseError{Type: ev.Type, Err: err}
		}
		if ok {
			out.Type = ev.Type
			return out, nil
		}
	}

	c.log.WithFields(logrus.Fields{
		"type":     ev.Type,
		"event_id": ev.EventID,
	}).Debug("Ignoring unrecognized realtime event")

	return Event{Class: ClassIgnored, Type: ev.Type}, nil
}

func matchLifecycle(_ *Classifier, ev *serverEvent) (Event, bool, error) {
	switch ev.Type {
	case EventSessionCreated, EventSessionUpdated:
		return Event{Class: ClassLifecycle}, true, nil
	}
	return Event{}, false, nil
}

func matchUserTranscript(_ *Classifier, ev *serverEvent) (Event, bool, error) {
	if ev.Type != EventInputTranscriptionCompleted {
		return Event{}, false, nil
	}
	return Event{Class: ClassUserTranscript, Text: ev.Transcript}, true, nil
}

func matchAgentTranscript(_ *Classifier, ev *serverEvent) (Event, bool, error) {
	switch ev.Type {
	case EventOutputAudioTranscriptDone, EventAudioTranscriptDoneLegacy:
		return Event{Class: ClassAgentTranscript, Text: ev.Transcript}, true, nil
	}
	return Event{}, false, nil
}

func matchAgentAudio(_ *Classifier, ev *serverEvent) (Event, bool, error) {
	switch ev.Type {
	case EventOutputAudioDelta, EventAudioDeltaLegacy:
	default:
		return Event{}, false, nil
	}

	samples, err := audio.DecodeSamples(ev.Delta)
	if err != nil {
		return Event{}, false, err
	}
	return Event{Class: ClassAgentAudio, Samples: samples}, true, nil
}

func matchToolInvocation(c *Classifier, ev *serverEvent) (Event, bool, error) {
	var name, callID, itemID string
	var args []byte

	switch {
	case ev.Item != nil && ev.Item.Type == ItemTypeFunctionCall:
		if ev.Item.Status == "in_progress" || ev.Item.Status == "incomplete" {
			return Event{Class: ClassIgnored}, true, nil
		}
		name, callID, itemID, args = ev.Item.Name, ev.Item.CallID, ev.Item.ID, ev.Item.Arguments
	case ev.Type == EventFunctionCallArgumentsDone:
		name, callID, itemID, args = ev.Name, ev.CallID, ev.ItemID, ev.Arguments
	default:
		return Event{}, false, nil
	}

	// Without a name the kind is unknown; the item.done shape for the same
	// call carries it.
	if name == "" {
		return Event{Class: ClassIgnored}, true, nil
	}

	correlationID := callID
	switch {
	case callID == "" && itemID == "":
		return Event{}, false, errMissingCorrelation
	case callID == "":
		c.log.WithFields(logrus.Fields{
			"type":    ev.Type,
			"item_id": itemID,
			"name":    name,
		}).Warn("Function call without call_id, falling back to item id")
		correlationID = itemID
	case itemID != "" && itemID != callID:
		c.log.WithFields(logrus.Fields{
			"type":    ev.Type,
			"call_id": callID,
			"item_id": itemID,
		}).Debug("Using call_id as correlation id")
	}

	if !c.markSeen(correlationID) {
		return Event{Class: ClassIgnored}, true, nil
	}

	inv := &entity.ToolInvocation{
		Kind:          entity.ParseToolKind(name),
		Name:          name,
		CorrelationID: correlationID,
		ItemID:        itemID,
		RawArguments:  c.parseArguments(correlationID, args),
	}
	return Event{Class: ClassToolInvocation, Invocation: inv}, true, nil
}

func matchTransportError(_ *Classifier, ev *serverEvent) (Event, bool, error) {
	if ev.Type != EventError {
		return Event{}, false, nil
	}

	terr := &TransportError{Message: "unknown error"}
	if ev.Error != nil {
		terr.Code = ev.Error.Code
		if ev.Error.Message != "" {
			terr.Message = ev.Error.Message
		}
	}
	return Event{Class: ClassTransportError, Err: terr}, true, nil
}

func (c *Classifier) markSeen(correlationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[correlationID]; ok {
		return false
	}
	c.seen[correlationID] = struct{}{}
	return true
}

// parseArguments accepts either a JSON object or a string containing one.
// Anything else yields an empty map so validation rejects the call.
func (c *Classifier) parseArguments(correlationID string, raw []byte) map[string]interface{} {
	args := map[string]interface{}{}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return args
	}

	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			c.warnArguments(correlationID, err)
			return args
		}
		raw = []byte(encoded)
		if len(bytes.TrimSpace(raw)) == 0 {
			return args
		}
	}

	if err := json.Unmarshal(raw, &args); err != nil {
		c.warnArguments(correlationID, err)
		return map[string]interface{}{}
	}
	return args
}

func (c *Classifier) warnArguments(correlationID string, err error) {
	c.log.WithFields(logrus.Fields{
		"call_id": correlationID,
		"error":   err.Error(),
	}).Warn("Failed to parse function call arguments")
}
