package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestCreateClientSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/realtime/client_secrets", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]map[string]interface{}
		require.NoError(t, jsoniter.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "realtime", body["session"]["type"])
		assert.Equal(t, "gpt-realtime", body["session"]["model"])

		_, _ = w.Write([]byte(`{"value":"ek_123","expires_at":1893456000}`))
	}))
	defer srv.Close()

	p := NewProvisionerWithClient(quietLogger(), srv.Client(), srv.URL+"/v1/", " sk-test\n", "gpt-realtime", "alloy")
	secret, err := p.CreateClientSecret(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ek_123", secret.Value)
	assert.Equal(t, time.Unix(1893456000, 0).UTC(), secret.ExpiresAt)
}

func TestCreateClientSecretDefaultsExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":"ek_456"}`))
	}))
	defer srv.Close()

	p := NewProvisionerWithClient(quietLogger(), srv.Client(), srv.URL, "sk", "m", "alloy")
	secret, err := p.CreateClientSecret(context.Background())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), secret.ExpiresAt, time.Minute)
}

func TestCreateClientSecretFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewProvisionerWithClient(quietLogger(), srv.Client(), srv.URL, "sk", "m", "alloy")
	_, err := p.CreateClientSecret(context.Background())
	assert.ErrorContains(t, err, "401")

	p = NewProvisionerWithClient(quietLogger(), srv.Client(), srv.URL, "", "m", "alloy")
	_, err = p.CreateClientSecret(context.Background())
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
