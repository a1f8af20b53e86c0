package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/withobsrvr/postgres-to-es/logging"
)

// S3API is the subset of the S3 client used for checkpoint objects.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Storage keeps the state as one JSON object in a bucket. Useful when the
// sync job runs in a container without a persistent volume.
type S3Storage struct {
	api    S3API
	bucket string
	key    string
	logger *logging.ComponentLogger
}

// NewS3Storage creates an object-backed storage
func NewS3Storage(api S3API, bucket, key string, logger *logging.ComponentLogger) *S3Storage {
	return &S3Storage{
		api:    api,
		bucket: bucket,
		key:    key,
		logger: logger,
	}
}

// Retrieve downloads the state object. A missing or corrupt object reads as empty.
func (s *S3Storage) Retrieve(ctx context.Context) (map[string]any, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isNotFound(err) {
			return map[string]any{}, nil
		}
		return nil, &StorageError{Op: "get object", Err: err}
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &StorageError{Op: "read object", Err: err}
	}

	state := map[string]any{}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn().
			Str("bucket", s.bucket).
			Str("key", s.key).
			Err(err).
			Msg("Checkpoint object is corrupt, starting from empty state")
		return map[string]any{}, nil
	}
	return state, nil
}

// Save uploads the state object.
func (s *S3Storage) Save(ctx context.Context, state map[string]any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return &StorageError{Op: "marshal", Err: err}
	}

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return &StorageError{Op: "put object", Err: err}
	}
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
