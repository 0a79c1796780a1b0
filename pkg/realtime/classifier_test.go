package realtime

import (
	"VoiceBridge/internal/entity"
	"VoiceBridge/pkg/audio"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier() *Classifier {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewClassifier(logger)
}

func TestClassifyLifecycle(t *testing.T) {
	c := newTestClassifier()

	for _, tag := range []string{EventSessionCreated, EventSessionUpdated} {
		ev, err := c.Classify([]byte(`{"type":"` + tag + `","session":{"id":"sess_1"}}`))
		require.NoError(t, err)
		assert.Equal(t, ClassLifecycle, ev.Class)
		assert.Equal(t, tag, ev.Type)
	}
}

func TestClassifyTranscripts(t *testing.T) {
	c := newTestClassifier()

	ev, err := c.Classify([]byte(`{"type":"conversation.item.input_audio_transcription.completed","item_id":"item_1","transcript":"I need an appointment"}`))
	require.NoError(t, err)
	assert.Equal(t, ClassUserTranscript, ev.Class)
	assert.Equal(t, "I need an appointment", ev.Text)

	for _, tag := range []string{EventOutputAudioTranscriptDone, EventAudioTranscriptDoneLegacy} {
		ev, err = c.Classify([]byte(`{"type":"` + tag + `","transcript":"Sure, what day works?"}`))
		require.NoError(t, err)
		assert.Equal(t, ClassAgentTranscript, ev.Class)
		assert.Equal(t, "Sure, what day works?", ev.Text)
	}
}

func TestClassifyAudioDelta(t *testing.T) {
	c := newTestClassifier()
	delta := audio.EncodeSamples([]float32{0.5, -0.5})

	for _, tag := range []string{EventOutputAudioDelta, EventAudioDeltaLegacy} {
		ev, err := c.Classify([]byte(`{"type":"` + tag + `","delta":"` + delta + `"}`))
		require.NoError(t, err)
		assert.Equal(t, ClassAgentAudio, ev.Class)
		require.Len(t, ev.Samples, 2)
		assert.InDelta(t, -0.5, ev.Samples[1], 1e-9)
	}
}

func TestClassifyOddAudioIsParseError(t *testing.T) {
	c := newTestClassifier()
	delta := audio.EncodeBase64([]byte{0x01, 0x02, 0x03})

	_, err := c.Classify([]byte(`{"type":"response.output_audio.delta","delta":"` + delta + `"}`))
	var perr *ProtocolParseError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, audio.ErrOddLength)
}

func TestClassifyToolInvocationPrefersCallID(t *testing.T) {
	c := newTestClassifier()

	msg := `{"type":"response.output_item.done","item":{"id":"item_abc","type":"function_call","status":"completed","name":"create_appointment","call_id":"call_123","arguments":"{\"title\":\"Consult\",\"attendee_email\":\"a@b.co\"}"}}`
	ev, err := c.Classify([]byte(msg))
	require.NoError(t, err)
	require.Equal(t, ClassToolInvocation, ev.Class)

	inv := ev.Invocation
	assert.Equal(t, entity.ToolCreateAppointment, inv.Kind)
	assert.Equal(t, "call_123", inv.CorrelationID)
	assert.Equal(t, "item_abc", inv.ItemID)
	assert.Equal(t, "Consult", inv.RawArguments["title"])
	assert.Equal(t, "a@b.co", inv.RawArguments["attendee_email"])
}

func TestClassifyToolInvocationDeduplicatesShapes(t *testing.T) {
	c := newTestClassifier()

	flat := `{"type":"response.function_call_arguments.done","item_id":"item_1","call_id":"call_9","name":"end_call","arguments":"{}"}`
	ev, err := c.Classify([]byte(flat))
	require.NoError(t, err)
	require.Equal(t, ClassToolInvocation, ev.Class)
	assert.Equal(t, entity.ToolEndCall, ev.Invocation.Kind)

	item := `{"type":"response.output_item.done","item":{"id":"item_1","type":"function_call","name":"end_call","call_id":"call_9","arguments":"{}"}}`
	ev, err = c.Classify([]byte(item))
	require.NoError(t, err)
	assert.Equal(t, ClassIgnored, ev.Class)
}

func TestClassifyToolInvocationObjectArguments(t *testing.T) {
	c := newTestClassifier()

	msg := `{"type":"conversation.item.done","item":{"id":"item_2","type":"function_call","name":"escalate_call","call_id":"call_2","arguments":{"reason":"emergency","urgency":"high"}}}`
	ev, err := c.Classify([]byte(msg))
	require.NoError(t, err)
	require.Equal(t, ClassToolInvocation, ev.Class)
	assert.Equal(t, "emergency", ev.Invocation.RawArguments["reason"])
}

func TestClassifyToolInvocationBadArgumentsYieldEmptyMap(t *testing.T) {
	c := newTestClassifier()

	msg := `{"type":"response.output_item.done","item":{"id":"item_3","type":"function_call","name":"create_appointment","call_id":"call_3","arguments":"{not json"}}`
	ev, err := c.Classify([]byte(msg))
	require.NoError(t, err)
	require.Equal(t, ClassToolInvocation, ev.Class)
	assert.Empty(t, ev.Invocation.RawArguments)
}

func TestClassifyToolInvocationInProgressIsIgnored(t *testing.T) {
	c := newTestClassifier()

	created := `{"type":"conversation.item.created","item":{"id":"item_4","type":"function_call","status":"in_progress","name":"create_appointment","call_id":"call_4","arguments":""}}`
	ev, err := c.Classify([]byte(created))
	require.NoError(t, err)
	assert.Equal(t, ClassIgnored, ev.Class)

	done := `{"type":"response.output_item.done","item":{"id":"item_4","type":"function_call","status":"completed","name":"create_appointment","call_id":"call_4","arguments":"{}"}}`
	ev, err = c.Classify([]byte(done))
	require.NoError(t, err)
	assert.Equal(t, ClassToolInvocation, ev.Class)
}

func TestClassifyToolInvocationFallsBackToItemID(t *testing.T) {
	c := newTestClassifier()

	msg := `{"type":"response.output_item.done","item":{"id":"item_5","type":"function_call","name":"complete_intake","arguments":"{}"}}`
	ev, err := c.Classify([]byte(msg))
	require.NoError(t, err)
	require.Equal(t, ClassToolInvocation, ev.Class)
	assert.Equal(t, "item_5", ev.Invocation.CorrelationID)

	_, err = c.Classify([]byte(`{"type":"response.output_item.done","item":{"type":"function_call","name":"end_call"}}`))
	var perr *ProtocolParseError
	assert.ErrorAs(t, err, &perr)
}

func TestClassifyError(t *testing.T) {
	c := newTestClassifier()

	ev, err := c.Classify([]byte(`{"type":"error","error":{"type":"invalid_request_error","code":"session_expired","message":"Session expired"}}`))
	require.NoError(t, err)
	require.Equal(t, ClassTransportError, ev.Class)
	assert.Equal(t, "session_expired", ev.Err.Code)
	assert.Equal(t, "Session expired", ev.Err.Message)
	assert.Contains(t, ev.Err.Error(), "session_expired")
}

func TestClassifyUnknownAndMalformed(t *testing.T) {
	c := newTestClassifier()

	ev, err := c.Classify([]byte(`{"type":"rate_limits.updated","rate_limits":[]}`))
	require.NoError(t, err)
	assert.Equal(t, ClassIgnored, ev.Class)

	_, err = c.Classify([]byte(`{"type":`))
	var perr *ProtocolParseError
	assert.ErrorAs(t, err, &perr)

	_, err = c.Classify([]byte(`{"delta":"abc"}`))
	assert.ErrorAs(t, err, &perr)
}

func TestOutboundEvents(t *testing.T) {
	update := NewSessionUpdate("Be helpful", []byte(`[{"type":"function","name":"end_call"}]`), "alloy")
	raw, err := json.Marshal(update)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"session.update"`)
	assert.Contains(t, string(raw), `"instructions":"Be helpful"`)
	assert.Contains(t, string(raw), `"tools":[{"type":"function","name":"end_call"}]`)

	result, err := NewToolResult("call_1", map[string]interface{}{"success": true})
	require.NoError(t, err)
	assert.Equal(t, ItemTypeFunctionCallOutput, result.Item.Type)
	assert.Equal(t, "call_1", result.Item.CallID)
	assert.JSONEq(t, `{"success":true}`, result.Item.Output)

	assert.Equal(t, EventResponseCreate, NewResponseCreate().Type)
}
