package s3

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTranscriptKey(t *testing.T) {
	at := time.Date(2024, 12, 31, 23, 30, 0, 0, time.FixedZone("UTC-5", -5*3600))
	assert.Equal(t, "transcripts/2025/01/01/call-1.json", TranscriptKey("call-1", at))
}

func TestNewWithoutBucketIsDisabled(t *testing.T) {
	t.Setenv("TRANSCRIPT_BUCKET", "")
	client, err := New()
	assert.NoError(t, err)
	assert.Nil(t, client)
}
