package callService

import (
	intentService "VoiceBridge/internal/api/intent/service"
	"VoiceBridge/internal/entity"
	"VoiceBridge/pkg/audio"
	"VoiceBridge/pkg/metrics"
	"VoiceBridge/pkg/realtime"
	websocketPkg "VoiceBridge/pkg/websocket"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrNotStreaming   = errors.New("session is not streaming")
	ErrAlreadyRunning = errors.New("bridge already running")
)

// Observer receives UI-facing updates. A device that implements it gets
// speaking and transcript notifications.
type Observer interface {
	NotifySpeaking(active bool)
	NotifyTranscript(entry entity.TranscriptEntry)
}

// BridgeHooks lets the owner persist what the bridge produces. Hooks run on
// bridge goroutines and must not block for long.
type BridgeHooks struct {
	OnTranscript func(entry entity.TranscriptEntry)
	OnFinished   func(state entity.ConnectionState, err error)
}

type BridgeOption func(*Bridge)

func WithHooks(hooks BridgeHooks) BridgeOption {
	return func(b *Bridge) {
		b.hooks = hooks
	}
}

// WithEndCallGrace delays teardown after an end_call result so the agent's
// goodbye can play out.
func WithEndCallGrace(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		b.endCallGrace = d
	}
}

func WithToolTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		b.toolTimeout = d
	}
}

// Bridge connects one call's audio device to one realtime model session.
type Bridge struct {
	log        *logrus.Logger
	dialer     websocketPkg.IDialer
	intents    intentService.IIntentService
	classifier *realtime.Classifier
	realtime   entity.RealtimeSession
	voice      string
	hooks      BridgeHooks

	endCallGrace time.Duration
	toolTimeout  time.Duration

	mu       sync.Mutex
	session  entity.CallSession
	conn     websocketPkg.IRealtimeConn
	device   audio.Device
	playback *audio.Scheduler
	cancel   context.CancelFunc
	err      error

	sendMu    sync.Mutex
	attached  atomic.Bool
	dispatch  sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

func NewBridge(
	log *logrus.Logger,
	dialer websocketPkg.IDialer,
	intents intentService.IIntentService,
	session entity.CallSession,
	rt entity.RealtimeSession,
	voice string,
	opts ...BridgeOption,
) *Bridge {
	session.State = entity.StateIdle
	b := &Bridge{
		log:          log,
		dialer:       dialer,
		intents:      intents,
		classifier:   realtime.NewClassifier(log),
		realtime:     rt,
		voice:        voice,
		session:      session,
		endCallGrace: 1500 * time.Millisecond,
		toolTimeout:  60 * time.Second,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run drives the session until it ends and returns the terminal error, if
// any. It may be called once.
func (b *Bridge) Run(ctx context.Context, device audio.Device) error {
	if !b.attached.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	if b.session.State != entity.StateIdle {
		b.mu.Unlock()
		_ = device.Close()
		return b.Err()
	}
	b.device = device
	b.cancel = cancel
	b.session.State = entity.StateConnecting
	b.mu.Unlock()

	// The transport read does not observe ctx, so cancellation by the caller
	// has to tear the session down explicitly.
	go func() {
		select {
		case <-ctx.Done():
			b.EndCall()
		case <-b.done:
		}
	}()

	conn, err := b.dialer.Dial(ctx, b.realtime.EphemeralCredential)
	if err != nil {
		if ctx.Err() != nil {
			b.EndCall()
			<-b.done
			return b.Err()
		}
		b.fail(&realtime.TransportError{Message: "dial failed", Err: err})
		return b.Err()
	}

	b.mu.Lock()
	if b.session.State != entity.StateConnecting {
		// Ended while dialing.
		b.mu.Unlock()
		_ = conn.Close()
		<-b.done
		return b.Err()
	}
	b.conn = conn
	b.mu.Unlock()

	// session.update must be the first message on the stream.
	if err := conn.Send(realtime.NewSessionUpdate(b.realtime.Instructions, b.realtime.ToolSchema, b.voice)); err != nil {
		b.fail(&realtime.TransportError{Message: "session.update failed", Err: err})
		return b.Err()
	}

	observer, _ := device.(Observer)
	playback := audio.NewScheduler(device,
		audio.WithActiveListener(func(active bool) {
			if observer != nil {
				observer.NotifySpeaking(active)
			}
		}),
		// The listener can fire while teardown is closing the scheduler, so
		// the failure path runs on its own goroutine.
		audio.WithErrorListener(func(err error) {
			go b.fail(err)
		}),
	)

	b.mu.Lock()
	b.playback = playback
	b.mu.Unlock()

	if !b.setState(entity.StateStreaming) {
		playback.Close()
		<-b.done
		return b.Err()
	}
	metrics.SessionsActive.Inc()

	b.log.WithFields(logrus.Fields{
		"call_id":    b.session.CallID,
		"session_id": b.session.SessionID,
	}).Info("Realtime session streaming")

	go b.captureLoop(ctx, device)
	b.inboundLoop(ctx, conn, playback, observer)

	<-b.done
	return b.Err()
}

func (b *Bridge) captureLoop(ctx context.Context, device audio.Capture) {
	for {
		samples, err := device.ReadSamples(ctx)
		if err != nil {
			if ctx.Err() != nil {
				b.EndCall()
				return
			}
			if errors.Is(err, io.EOF) {
				b.log.WithField("call_id", b.session.CallID).Info("Audio device disconnected")
				b.EndCall()
				return
			}
			b.fail(&audio.DeviceError{Op: "capture", Err: err})
			return
		}
		if len(samples) == 0 {
			continue
		}
		if err := b.SendAudio(samples); err != nil && !errors.Is(err, ErrNotStreaming) {
			b.fail(&realtime.TransportError{Message: "audio append failed", Err: err})
			return
		}
	}
}

func (b *Bridge) inboundLoop(ctx context.Context, conn websocketPkg.IRealtimeConn, playback *audio.Scheduler, observer Observer) {
	entry := b.log.WithField("call_id", b.session.CallID)

	for {
		raw, err := conn.Read()
		if err != nil {
			if errors.Is(err, websocketPkg.ErrStreamClosed) || ctx.Err() != nil {
				b.EndCall()
				return
			}
			b.fail(&realtime.TransportError{Message: "read failed", Err: err})
			return
		}

		ev, err := b.classifier.Classify(raw)
		if err != nil {
			metrics.ProtocolParseErrorsTotal.Inc()
			entry.WithError(err).Warn("Skipping malformed realtime message")
			continue
		}
		metrics.InboundEventsTotal.WithLabelValues(ev.Class.String()).Inc()

		switch ev.Class {
		case realtime.ClassLifecycle:
			entry.WithField("type", ev.Type).Debug("Realtime lifecycle event")
		case realtime.ClassUserTranscript:
			b.appendTranscript(entity.SpeakerUser, ev.Text, observer)
		case realtime.ClassAgentTranscript:
			b.appendTranscript(entity.SpeakerAgent, ev.Text, observer)
		case realtime.ClassAgentAudio:
			playback.Enqueue(ev.Samples)
		case realtime.ClassToolInvocation:
			inv := *ev.Invocation
			inv.CallID = b.session.CallID
			b.dispatchTool(ctx, inv)
		case realtime.ClassTransportError:
			b.fail(ev.Err)
			return
		}
	}
}

// appendTranscript is only called from the inbound loop.
func (b *Bridge) appendTranscript(speaker entity.Speaker, text string, observer Observer) {
	if text == "" {
		return
	}

	entry := entity.TranscriptEntry{
		ID:        fmt.Sprintf("%s-%d", b.session.CallID, len(b.session.Transcript)+1),
		CallID:    b.session.CallID,
		Speaker:   speaker,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}

	b.mu.Lock()
	b.session.Transcript = append(b.session.Transcript, entry)
	b.mu.Unlock()

	if observer != nil {
		observer.NotifyTranscript(entry)
	}
	if b.hooks.OnTranscript != nil {
		b.hooks.OnTranscript(entry)
	}
}

// dispatchTool runs the invocation off the inbound path. The pipeline gets a
// context that outlives the call, so a booking in flight is not abandoned
// when the caller hangs up.
func (b *Bridge) dispatchTool(ctx context.Context, inv entity.ToolInvocation) {
	b.dispatch.Add(1)
	go func() {
		defer b.dispatch.Done()

		toolCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.toolTimeout)
		defer cancel()

		entry := b.log.WithFields(logrus.Fields{
			"call_id":        b.session.CallID,
			"tool":           inv.Name,
			"correlation_id": inv.CorrelationID,
		})
		entry.Info("Executing tool invocation")

		outcome := b.intents.Handle(toolCtx, &inv)

		if err := b.SendToolResult(inv.CorrelationID, outcome); err != nil {
			entry.WithError(err).Warn("Tool result not delivered")
			return
		}

		if inv.Kind == entity.ToolEndCall && outcome.Succeeded() {
			if b.endCallGrace > 0 {
				select {
				case <-time.After(b.endCallGrace):
				case <-b.done:
					return
				}
			}
			b.EndCall()
		}
	}()
}

// SendAudio appends captured samples to the model's input buffer.
func (b *Bridge) SendAudio(samples []float32) error {
	conn, ok := b.streamingConn()
	if !ok {
		return ErrNotStreaming
	}
	err := b.send(conn, realtime.NewAudioAppend(audio.EncodeSamples(samples)))
	if errors.Is(err, websocketPkg.ErrStreamClosed) {
		return ErrNotStreaming
	}
	return err
}

// SendToolResult reports an outcome and asks the model to respond to it.
func (b *Bridge) SendToolResult(correlationID string, outcome entity.Outcome) error {
	conn, ok := b.streamingConn()
	if !ok {
		return ErrNotStreaming
	}

	item, err := realtime.NewToolResult(correlationID, outcome.ToolResult())
	if err != nil {
		return err
	}

	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	if err := conn.Send(item); err != nil {
		return err
	}
	return conn.Send(realtime.NewResponseCreate())
}

func (b *Bridge) send(conn websocketPkg.IRealtimeConn, event interface{}) error {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	return conn.Send(event)
}

func (b *Bridge) streamingConn() (websocketPkg.IRealtimeConn, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session.State != entity.StateStreaming || b.conn == nil {
		return nil, false
	}
	return b.conn, true
}

// EndCall closes the session normally. Safe to call from any goroutine and
// any number of times.
func (b *Bridge) EndCall() {
	b.shutdown(entity.StateClosed, nil)
}

func (b *Bridge) fail(err error) {
	b.log.WithFields(logrus.Fields{
		"call_id": b.session.CallID,
		"error":   err.Error(),
	}).Error("Realtime session failed")
	b.shutdown(entity.StateFailed, err)
}

func (b *Bridge) shutdown(final entity.ConnectionState, cause error) {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		wasStreaming := b.session.State == entity.StateStreaming
		if final == entity.StateClosed {
			b.session.State = entity.StateClosing
		}
		b.err = cause
		conn, playback, device, cancel := b.conn, b.playback, b.device, b.cancel
		b.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			if err := conn.Close(); err != nil {
				b.log.WithError(err).Debug("Error closing realtime transport")
			}
		}
		if playback != nil {
			playback.Close()
		}
		if device != nil {
			if err := device.Close(); err != nil {
				b.log.WithError(err).Debug("Error closing audio device")
			}
		}

		b.mu.Lock()
		b.session.State = final
		b.mu.Unlock()

		if wasStreaming {
			metrics.SessionsActive.Dec()
		}
		metrics.SessionTerminalTotal.WithLabelValues(final.String()).Inc()

		b.log.WithFields(logrus.Fields{
			"call_id": b.session.CallID,
			"state":   final.String(),
		}).Info("Realtime session ended")

		if b.hooks.OnFinished != nil {
			b.hooks.OnFinished(final, cause)
		}
		close(b.done)
	})
}

// setState moves forward from a non-terminal state. It reports false once
// teardown has begun.
func (b *Bridge) setState(state entity.ConnectionState) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session.State.IsTerminal() || b.session.State == entity.StateClosing {
		return false
	}
	b.session.State = state
	return true
}

func (b *Bridge) State() entity.ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session.State
}

func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Snapshot returns a copy of the session, transcript included.
func (b *Bridge) Snapshot() entity.CallSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.session
	s.Transcript = append([]entity.TranscriptEntry(nil), b.session.Transcript...)
	return s
}

// Attached reports whether a device has been handed to Run.
func (b *Bridge) Attached() bool {
	return b.attached.Load()
}

func (b *Bridge) ExpiresAt() time.Time {
	return b.realtime.ExpiresAt
}

func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// WaitDispatch blocks until in-flight tool executions have returned.
func (b *Bridge) WaitDispatch() {
	b.dispatch.Wait()
}
