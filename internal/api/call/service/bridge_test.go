package callService

import (
	"VoiceBridge/internal/api/intent"
	"VoiceBridge/internal/entity"
	"VoiceBridge/pkg/audio"
	"VoiceBridge/pkg/realtime"
	websocketPkg "VoiceBridge/pkg/websocket"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu      sync.Mutex
	sent    []map[string]interface{}
	inbound chan []byte
	closed  chan struct{}
	closes  atomic.Int32
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Send(event interface{}) error {
	select {
	case <-c.closed:
		return websocketPkg.ErrStreamClosed
	default:
	}

	raw, err := jsoniter.Marshal(event)
	if err != nil {
		return err
	}
	var decoded map[string]interface{}
	if err := jsoniter.Unmarshal(raw, &decoded); err != nil {
		return err
	}

	c.mu.Lock()
	c.sent = append(c.sent, decoded)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Read() ([]byte, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-c.closed:
		return nil, websocketPkg.ErrStreamClosed
	}
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, 0, len(c.sent))
	for _, ev := range c.sent {
		types = append(types, ev["type"].(string))
	}
	return types
}

func (c *fakeConn) sentOfType(eventType string) []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]interface{}
	for _, ev := range c.sent {
		if ev["type"] == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type fakeDialer struct {
	conn       *fakeConn
	err        error
	credential string
	// dialing, when set, makes Dial hold until ctx is cancelled.
	dialing chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, credential string) (websocketPkg.IRealtimeConn, error) {
	d.credential = credential
	if d.dialing != nil {
		close(d.dialing)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

type fakeDevice struct {
	captured   chan []float32
	captureErr chan error
	mu         sync.Mutex
	played     [][]float32
	speaking   []bool
	lines      []entity.TranscriptEntry
	closes     atomic.Int32
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		captured:   make(chan []float32, 4),
		captureErr: make(chan error, 1),
	}
}

func (d *fakeDevice) ReadSamples(ctx context.Context) ([]float32, error) {
	select {
	case s := <-d.captured:
		return s, nil
	case err := <-d.captureErr:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDevice) Play(_ context.Context, samples []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.played = append(d.played, samples)
	return nil
}

func (d *fakeDevice) Close() error {
	d.closes.Add(1)
	return nil
}

func (d *fakeDevice) NotifySpeaking(active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speaking = append(d.speaking, active)
}

func (d *fakeDevice) NotifyTranscript(entry entity.TranscriptEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = append(d.lines, entry)
}

type stubIntents struct {
	handled atomic.Int32
}

func (s *stubIntents) Validate(inv *entity.ToolInvocation) *entity.Outcome { return nil }

func (s *stubIntents) Execute(ctx context.Context, inv entity.ToolInvocation) entity.Outcome {
	return entity.Outcome{Status: entity.OutcomeSuccess, Kind: inv.Kind.String(), Message: "ok"}
}

func (s *stubIntents) Handle(ctx context.Context, inv *entity.ToolInvocation) entity.Outcome {
	s.handled.Add(1)
	return s.Execute(ctx, *inv)
}

func (s *stubIntents) Stats() intent.PipelineStats { return intent.PipelineStats{} }

type bridgeFixture struct {
	bridge   *Bridge
	conn     *fakeConn
	dialer   *fakeDialer
	device   *fakeDevice
	intents  *stubIntents
	finished atomic.Int32
	final    chan entity.ConnectionState
	result   chan error
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &bridgeFixture{
		conn:    newFakeConn(),
		device:  newFakeDevice(),
		intents: &stubIntents{},
		final:   make(chan entity.ConnectionState, 1),
		result:  make(chan error, 1),
	}
	f.dialer = &fakeDialer{conn: f.conn}

	f.bridge = NewBridge(logger, f.dialer, f.intents,
		entity.CallSession{CallID: "call-1", SessionID: "sess-1"},
		entity.RealtimeSession{
			EphemeralCredential: "ek_test",
			ExpiresAt:           time.Now().Add(time.Hour),
			Instructions:        "Be helpful.",
			ToolSchema:          []byte(`[{"type":"function","name":"end_call"}]`),
		},
		"alloy",
		WithEndCallGrace(0),
		WithHooks(BridgeHooks{
			OnFinished: func(state entity.ConnectionState, err error) {
				f.finished.Add(1)
				f.final <- state
			},
		}),
	)
	return f
}

func (f *bridgeFixture) run() {
	f.runWithContext(context.Background())
}

func (f *bridgeFixture) runWithContext(ctx context.Context) {
	go func() { f.result <- f.bridge.Run(ctx, f.device) }()
}

func (f *bridgeFixture) waitStreaming(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.bridge.State() == entity.StateStreaming
	}, time.Second, 5*time.Millisecond)
}

func (f *bridgeFixture) waitResult(t *testing.T) error {
	t.Helper()
	select {
	case err := <-f.result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
		return nil
	}
}

func TestBridgeSendsSessionUpdateFirst(t *testing.T) {
	f := newBridgeFixture(t)
	f.run()
	f.waitStreaming(t)

	f.device.captured <- []float32{0.1, -0.1}
	require.Eventually(t, func() bool {
		return len(f.conn.sentOfType(realtime.EventInputAudioBufferAppend)) == 1
	}, time.Second, 5*time.Millisecond)

	types := f.conn.sentTypes()
	require.NotEmpty(t, types)
	assert.Equal(t, realtime.EventSessionUpdate, types[0])
	assert.Len(t, f.conn.sentOfType(realtime.EventSessionUpdate), 1)
	assert.Equal(t, "ek_test", f.dialer.credential)

	session := f.conn.sentOfType(realtime.EventSessionUpdate)[0]["session"].(map[string]interface{})
	assert.Equal(t, "Be helpful.", session["instructions"])

	f.bridge.EndCall()
	assert.NoError(t, f.waitResult(t))
}

func TestBridgeToolResultThenResponseCreate(t *testing.T) {
	f := newBridgeFixture(t)
	f.run()
	f.waitStreaming(t)

	f.conn.inbound <- []byte(`{"type":"response.output_item.done","item":{"id":"item_1","type":"function_call","status":"completed","name":"escalate_call","call_id":"call_7","arguments":"{\"reason\":\"upset\"}"}}`)

	require.Eventually(t, func() bool {
		return len(f.conn.sentOfType(realtime.EventResponseCreate)) == 1
	}, time.Second, 5*time.Millisecond)

	types := f.conn.sentTypes()
	require.GreaterOrEqual(t, len(types), 3)
	assert.Equal(t, realtime.EventConversationItemCreate, types[len(types)-2])
	assert.Equal(t, realtime.EventResponseCreate, types[len(types)-1])

	item := f.conn.sentOfType(realtime.EventConversationItemCreate)[0]["item"].(map[string]interface{})
	assert.Equal(t, "function_call_output", item["type"])
	assert.Equal(t, "call_7", item["call_id"])
	assert.EqualValues(t, 1, f.intents.handled.Load())

	f.bridge.EndCall()
	assert.NoError(t, f.waitResult(t))
}

func TestBridgeEndCallToolClosesSession(t *testing.T) {
	f := newBridgeFixture(t)
	f.run()
	f.waitStreaming(t)

	f.conn.inbound <- []byte(`{"type":"response.function_call_arguments.done","item_id":"item_9","call_id":"call_9","name":"end_call","arguments":"{}"}`)

	assert.NoError(t, f.waitResult(t))
	assert.Equal(t, entity.StateClosed, f.bridge.State())
	assert.Equal(t, entity.StateClosed, <-f.final)
	assert.Len(t, f.conn.sentOfType(realtime.EventResponseCreate), 1)
}

func TestBridgeEndCallReleasesOnce(t *testing.T) {
	f := newBridgeFixture(t)
	f.run()
	f.waitStreaming(t)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.bridge.EndCall()
		}()
	}
	wg.Wait()

	assert.NoError(t, f.waitResult(t))
	assert.Equal(t, entity.StateClosed, f.bridge.State())
	assert.EqualValues(t, 1, f.conn.closes.Load())
	assert.EqualValues(t, 1, f.device.closes.Load())
	assert.EqualValues(t, 1, f.finished.Load())
	assert.ErrorIs(t, f.bridge.SendAudio([]float32{0}), ErrNotStreaming)
}

func TestBridgeErrorEventFails(t *testing.T) {
	f := newBridgeFixture(t)
	f.run()
	f.waitStreaming(t)

	f.conn.inbound <- []byte(`{"type":"error","error":{"type":"server_error","code":"session_expired","message":"Session expired"}}`)

	err := f.waitResult(t)
	var transportErr *realtime.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "session_expired", transportErr.Code)
	assert.Equal(t, entity.StateFailed, f.bridge.State())
	assert.Equal(t, entity.StateFailed, <-f.final)
	assert.EqualValues(t, 1, f.device.closes.Load())
}

func TestBridgeSkipsMalformedMessages(t *testing.T) {
	f := newBridgeFixture(t)
	f.run()
	f.waitStreaming(t)

	f.conn.inbound <- []byte(`{"type":`)
	f.conn.inbound <- []byte(`{"type":"conversation.item.input_audio_transcription.completed","item_id":"i1","transcript":"hello"}`)
	f.conn.inbound <- []byte(`{"type":"response.output_audio_transcript.done","transcript":"hi, how can I help?"}`)

	require.Eventually(t, func() bool {
		return len(f.bridge.Snapshot().Transcript) == 2
	}, time.Second, 5*time.Millisecond)

	transcript := f.bridge.Snapshot().Transcript
	assert.Equal(t, entity.SpeakerUser, transcript[0].Speaker)
	assert.Equal(t, entity.SpeakerAgent, transcript[1].Speaker)
	assert.Equal(t, entity.StateStreaming, f.bridge.State())

	f.device.mu.Lock()
	assert.Len(t, f.device.lines, 2)
	f.device.mu.Unlock()

	f.bridge.EndCall()
	assert.NoError(t, f.waitResult(t))
}

func TestBridgePlaysAgentAudio(t *testing.T) {
	f := newBridgeFixture(t)
	f.run()
	f.waitStreaming(t)

	delta := audio.EncodeSamples([]float32{0.5, -0.5})
	f.conn.inbound <- []byte(`{"type":"response.output_audio.delta","delta":"` + delta + `"}`)

	require.Eventually(t, func() bool {
		f.device.mu.Lock()
		defer f.device.mu.Unlock()
		return len(f.device.played) == 1 && len(f.device.speaking) == 2
	}, time.Second, 5*time.Millisecond)

	f.device.mu.Lock()
	assert.Equal(t, []bool{true, false}, f.device.speaking)
	assert.InDelta(t, 0.5, f.device.played[0][0], 2.0/32768)
	f.device.mu.Unlock()

	f.bridge.EndCall()
	assert.NoError(t, f.waitResult(t))
}

func TestBridgeDialFailure(t *testing.T) {
	f := newBridgeFixture(t)
	f.dialer.err = errors.New("connection refused")
	f.run()

	err := f.waitResult(t)
	var transportErr *realtime.TransportError
	assert.ErrorAs(t, err, &transportErr)
	assert.Equal(t, entity.StateFailed, f.bridge.State())
	assert.EqualValues(t, 1, f.device.closes.Load())
}

func TestBridgeDeviceDisconnectEndsCall(t *testing.T) {
	f := newBridgeFixture(t)
	f.run()
	f.waitStreaming(t)

	f.device.captureErr <- io.EOF

	assert.NoError(t, f.waitResult(t))
	assert.Equal(t, entity.StateClosed, f.bridge.State())
}

func TestBridgeDeviceFailure(t *testing.T) {
	f := newBridgeFixture(t)
	f.run()
	f.waitStreaming(t)

	f.device.captureErr <- errors.New("microphone unplugged")

	err := f.waitResult(t)
	var deviceErr *audio.DeviceError
	require.ErrorAs(t, err, &deviceErr)
	assert.Equal(t, "capture", deviceErr.Op)
	assert.Equal(t, entity.StateFailed, f.bridge.State())
}

func TestBridgeEndedBeforeAttach(t *testing.T) {
	f := newBridgeFixture(t)
	f.bridge.EndCall()

	f.run()
	assert.NoError(t, f.waitResult(t))
	assert.Equal(t, entity.StateClosed, f.bridge.State())
	assert.EqualValues(t, 1, f.device.closes.Load())
	assert.Empty(t, f.conn.sentTypes())

	assert.ErrorIs(t, f.bridge.Run(context.Background(), f.device), ErrAlreadyRunning)
}

func TestBridgeCancelDuringDialEndsSession(t *testing.T) {
	f := newBridgeFixture(t)
	f.dialer.dialing = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	f.runWithContext(ctx)

	select {
	case <-f.dialer.dialing:
	case <-time.After(time.Second):
		t.Fatal("dial never started")
	}
	cancel()

	assert.NoError(t, f.waitResult(t))
	assert.Equal(t, entity.StateClosed, f.bridge.State())
	assert.Equal(t, entity.StateClosed, <-f.final)
	assert.EqualValues(t, 1, f.device.closes.Load())
	assert.EqualValues(t, 0, f.conn.closes.Load())
}

func TestBridgeCancelWhileStreamingEndsSession(t *testing.T) {
	f := newBridgeFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	f.runWithContext(ctx)
	f.waitStreaming(t)

	cancel()

	assert.NoError(t, f.waitResult(t))
	assert.Equal(t, entity.StateClosed, f.bridge.State())
	assert.Equal(t, entity.StateClosed, <-f.final)
	assert.EqualValues(t, 1, f.finished.Load())
	assert.EqualValues(t, 1, f.conn.closes.Load())
	assert.EqualValues(t, 1, f.device.closes.Load())
}
