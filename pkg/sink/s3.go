package sink

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used by S3Sink.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink archives each result payload as one S3 object.
//
// Example usage:
//
//	cfg, _ := config.LoadDefaultConfig(context.Background())
//	snk := sink.NewS3Sink(s3.NewFromConfig(cfg), "results-bucket", "measurements/m-1/")
type S3Sink struct {
	client S3API
	bucket string
	prefix string
	seq    atomic.Int64
}

// NewS3Sink creates an S3Sink writing objects under the given key
// prefix.
func NewS3Sink(client S3API, bucket, prefix string) *S3Sink {
	return &S3Sink{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

// Push implements Sink. Object keys are sequence-numbered so arrival
// order survives in the bucket listing.
func (s *S3Sink) Push(ctx context.Context, payload []byte) error {
	n := s.seq.Add(1)
	key := fmt.Sprintf("%schunk-%06d", s.prefix, n)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"received-time": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("sink: s3 put %s: %w", key, err)
	}
	return nil
}
