package callHandler

import (
	"VoiceBridge/internal/api/call"
	"VoiceBridge/internal/entity"
	"VoiceBridge/pkg/audio"
	"VoiceBridge/pkg/realtime"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

const (
	deviceReadTimeout  = 60 * time.Second
	deviceWriteTimeout = 10 * time.Second
)

// socketDevice is a browser audio endpoint. Binary frames carry PCM16 at
// 24kHz in both directions; text frames carry DeviceMessage JSON.
type socketDevice struct {
	conn *websocket.Conn
	log  *logrus.Entry

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newSocketDevice(conn *websocket.Conn, log *logrus.Entry) *socketDevice {
	return &socketDevice{
		conn:   conn,
		log:    log,
		closed: make(chan struct{}),
	}
}

func (d *socketDevice) ReadSamples(ctx context.Context) ([]float32, error) {
	for {
		if err := d.conn.SetReadDeadline(time.Now().Add(deviceReadTimeout)); err != nil {
			return nil, err
		}

		messageType, message, err := d.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				return nil, err
			}
			return nil, io.EOF
		}

		switch messageType {
		case websocket.BinaryMessage:
			return audio.Decode(message)
		case websocket.TextMessage:
			var msg call.DeviceMessage
			if err := jsoniter.Unmarshal(message, &msg); err != nil {
				d.log.WithError(err).Warn("Ignoring malformed device message")
				continue
			}
			if msg.Type == "hangup" {
				return nil, io.EOF
			}
		}
	}
}

// Play writes the chunk and then waits out its duration, so the scheduler
// sees playback finish roughly when the listener hears it.
func (d *socketDevice) Play(ctx context.Context, samples []float32) error {
	if err := d.write(websocket.BinaryMessage, audio.Encode(samples)); err != nil {
		return err
	}

	duration := time.Duration(len(samples)) * time.Second / realtime.DefaultSampleRate
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.closed:
		return errors.New("device closed")
	}
}

func (d *socketDevice) NotifySpeaking(active bool) {
	d.writeMessage(call.DeviceMessage{Type: "speaking", Active: &active})
}

func (d *socketDevice) NotifyTranscript(entry entity.TranscriptEntry) {
	d.writeMessage(call.DeviceMessage{
		Type:    "transcript",
		Speaker: string(entry.Speaker),
		Text:    entry.Text,
	})
}

// Close stops playback and unblocks a pending read. The socket itself is
// closed when the handler returns.
func (d *socketDevice) Close() error {
	d.closeOnce.Do(func() {
		close(d.closed)
		_ = d.conn.SetReadDeadline(time.Now())
	})
	return nil
}

func (d *socketDevice) writeMessage(msg call.DeviceMessage) {
	payload, err := jsoniter.Marshal(msg)
	if err != nil {
		return
	}
	if err := d.write(websocket.TextMessage, payload); err != nil {
		d.log.WithError(err).Debug("Failed to notify device")
	}
}

func (d *socketDevice) write(messageType int, payload []byte) error {
	select {
	case <-d.closed:
		return errors.New("device closed")
	default:
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if err := d.conn.SetWriteDeadline(time.Now().Add(deviceWriteTimeout)); err != nil {
		return err
	}
	return d.conn.WriteMessage(messageType, payload)
}

func (h *CallHandler) handleDeviceWebSocket(c *websocket.Conn) {
	callID := c.Params("call_id")
	entry := h.log.WithField("call_id", callID)

	entry.Info("Audio device connected")
	defer entry.Info("Audio device disconnected")

	c.SetPingHandler(func(data string) error {
		if err := c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second)); err != nil {
			entry.Errorf("Error sending pong: %v", err)
		}
		return nil
	})

	device := newSocketDevice(c, entry)

	err := h.callService.AttachDevice(context.Background(), callID, device)

	msg := call.DeviceMessage{Type: "ended", State: entity.StateClosed.String()}
	if err != nil {
		entry.WithError(err).Warn("Call ended with error")
		msg.State = entity.StateFailed.String()
		msg.Error = err.Error()
	}

	_ = device.Close()

	// No other writer is left once the bridge has returned.
	if payload, mErr := jsoniter.Marshal(msg); mErr == nil {
		_ = c.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.WriteMessage(websocket.TextMessage, payload)
	}
	_ = c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"),
		time.Now().Add(time.Second))
}
