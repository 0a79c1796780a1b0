package zapier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var ErrNotConfigured = errors.New("zapier webhook url is not configured")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("zapier webhook returned status %d", e.StatusCode)
}

type IWebhook interface {
	SendAppointment(ctx context.Context, payload AppointmentPayload) (*WebhookResponse, error)
}

// AppointmentPayload field names match the fields mapped in the zap.
type AppointmentPayload struct {
	AppointmentID string `json:"appointment_id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Timezone      string `json:"timezone"`
	AttendeeEmail string `json:"attendee_email"`
	AttendeeName  string `json:"attendee_name"`
	CreatedAt     string `json:"created_at"`
}

type WebhookResponse struct {
	StatusCode int
	Body       map[string]interface{}
}

type webhookClient struct {
	log    *logrus.Logger
	url    string
	apiKey string
	client *http.Client
}

func New(log *logrus.Logger) IWebhook {
	return NewWithClient(
		log,
		os.Getenv("ZAPIER_WEBHOOK_URL"),
		os.Getenv("ZAPIER_API_KEY"),
		&http.Client{Timeout: 30 * time.Second},
	)
}

func NewWithClient(log *logrus.Logger, url, apiKey string, client *http.Client) IWebhook {
	return &webhookClient{
		log:    log,
		url:    url,
		apiKey: apiKey,
		client: client,
	}
}

// SendAppointment posts one appointment. It does not retry.
func (w *webhookClient) SendAppointment(ctx context.Context, payload AppointmentPayload) (*WebhookResponse, error) {
	if w.url == "" {
		return nil, ErrNotConfigured
	}

	body, err := jsoniter.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("error encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.apiKey != "" {
		req.Header.Set("X-API-Key", w.apiKey)
	}

	w.log.WithFields(logrus.Fields{
		"appointment_id": payload.AppointmentID,
		"start_time":     payload.StartTime,
	}).Info("Sending appointment to Zapier")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error calling zapier webhook: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("error reading webhook response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		w.log.WithFields(logrus.Fields{
			"appointment_id": payload.AppointmentID,
			"status":         resp.StatusCode,
		}).Warn("Zapier webhook rejected appointment")
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	result := &WebhookResponse{StatusCode: resp.StatusCode}
	if err := jsoniter.Unmarshal(raw, &result.Body); err != nil || result.Body == nil {
		result.Body = map[string]interface{}{
			"status": "accepted",
			"raw":    string(raw),
		}
	}

	return result, nil
}
