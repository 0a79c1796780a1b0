package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-realtime"
	defaultVoice   = "alloy"
	secretLifetime = time.Hour
)

var ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not set")

type IProvisioner interface {
	CreateClientSecret(ctx context.Context) (*ClientSecret, error)
}

// ClientSecret is a short-lived credential for one realtime connection.
type ClientSecret struct {
	Value     string
	ExpiresAt time.Time
	Model     string
	Voice     string
}

type clientSecretRequest struct {
	Session clientSecretSession `json:"session"`
}

type clientSecretSession struct {
	Type  string            `json:"type"`
	Model string            `json:"model"`
	Audio clientSecretAudio `json:"audio"`
}

type clientSecretAudio struct {
	Output clientSecretOutput `json:"output"`
}

type clientSecretOutput struct {
	Voice string `json:"voice"`
}

type clientSecretResponse struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

type provisioner struct {
	log     *logrus.Logger
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	voice   string
}

func NewProvisioner(log *logrus.Logger) IProvisioner {
	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := os.Getenv("OPENAI_REALTIME_MODEL")
	if model == "" {
		model = defaultModel
	}
	voice := os.Getenv("OPENAI_REALTIME_VOICE")
	if voice == "" {
		voice = defaultVoice
	}

	return NewProvisionerWithClient(log, &http.Client{Timeout: 30 * time.Second}, baseURL, os.Getenv("OPENAI_API_KEY"), model, voice)
}

func NewProvisionerWithClient(log *logrus.Logger, client *http.Client, baseURL, apiKey, model, voice string) IProvisioner {
	return &provisioner{
		log:     log,
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   model,
		voice:   voice,
	}
}

// CreateClientSecret mints an ephemeral key. Instructions and tools are not
// part of this request; they go out in session.update once connected.
func (p *provisioner) CreateClientSecret(ctx context.Context) (*ClientSecret, error) {
	if p.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	body, err := jsoniter.Marshal(clientSecretRequest{
		Session: clientSecretSession{
			Type:  "realtime",
			Model: p.model,
			Audio: clientSecretAudio{Output: clientSecretOutput{Voice: p.voice}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error encoding client secret request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/realtime/client_secrets", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating client secret request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error requesting client secret: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("error reading client secret response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		p.log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(raw),
		}).Error("Failed to generate ephemeral key")
		return nil, fmt.Errorf("client secret request failed with status %d", resp.StatusCode)
	}

	var result clientSecretResponse
	if err := jsoniter.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("error decoding client secret response: %w", err)
	}
	if result.Value == "" {
		return nil, errors.New("no ephemeral key returned")
	}

	expiresAt := time.Now().Add(secretLifetime).UTC()
	if result.ExpiresAt > 0 {
		expiresAt = time.Unix(result.ExpiresAt, 0).UTC()
	}

	p.log.WithFields(logrus.Fields{
		"model":      p.model,
		"expires_at": expiresAt.Format(time.RFC3339),
	}).Info("Ephemeral key generated")

	return &ClientSecret{
		Value:     result.Value,
		ExpiresAt: expiresAt,
		Model:     p.model,
		Voice:     p.voice,
	}, nil
}
