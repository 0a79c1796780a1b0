package s3

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	jsoniter "github.com/json-iterator/go"
)

// ItfS3 archives finished call transcripts.
type ItfS3 interface {
	UploadTranscript(ctx context.Context, callID string, startedAt time.Time, document interface{}) (string, error)
	PresignTranscript(callID string, startedAt time.Time) (string, error)
}

type s3Client struct {
	client     *s3.S3
	uploader   *s3manager.Uploader
	bucketName string
}

// New returns nil when TRANSCRIPT_BUCKET is unset so callers can treat the
// archive as optional.
func New() (ItfS3, error) {
	bucket := os.Getenv("TRANSCRIPT_BUCKET")
	if bucket == "" {
		return nil, nil
	}

	sess, err := newSession()
	if err != nil {
		return nil, err
	}

	return &s3Client{
		client:     s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		bucketName: bucket,
	}, nil
}

func (s *s3Client) UploadTranscript(ctx context.Context, callID string, startedAt time.Time, document interface{}) (string, error) {
	body, err := jsoniter.Marshal(document)
	if err != nil {
		return "", fmt.Errorf("failed to encode transcript: %w", err)
	}

	uploadOutput, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(TranscriptKey(callID, startedAt)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload transcript: %w", err)
	}

	return uploadOutput.Location, nil
}

func (s *s3Client) PresignTranscript(callID string, startedAt time.Time) (string, error) {
	key := TranscriptKey(callID, startedAt)

	if _, err := s.client.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	}); err != nil {
		return "", fmt.Errorf("transcript does not exist: %w", err)
	}

	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})

	return req.Presign(15 * time.Minute)
}

// TranscriptKey partitions archives by UTC day.
func TranscriptKey(callID string, at time.Time) string {
	return fmt.Sprintf("transcripts/%s/%s.json", at.UTC().Format("2006/01/02"), callID)
}

func newSession() (*session.Session, error) {
	cfg := &aws.Config{
		Region: aws.String(os.Getenv("AWS_REGION")),
	}
	if id := os.Getenv("AWS_ACCESS_KEY_ID"); id != "" {
		cfg.Credentials = credentials.NewStaticCredentials(id, os.Getenv("AWS_SECRET_ACCESS_KEY"), "")
	}
	if endpoint := os.Getenv("AWS_S3_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, err
	}

	return sess, nil
}
