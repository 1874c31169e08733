package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sony/gobreaker/v2"

	"chessscape/internal/types"
)

// S3GetClient abstracts the S3 GetObject operation for testability.
// *s3.Client satisfies it.
type S3GetClient interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// BreakerSettings configures the circuit breaker in front of a bucket.
type BreakerSettings struct {
	Name string
	// Failures is the number of consecutive failed fetches that opens the
	// breaker.
	Failures uint32
	// Cooldown is how long the breaker stays open before a probe request.
	Cooldown time.Duration
}

// DefaultBreakerSettings returns the settings used when none are configured.
func DefaultBreakerSettings(name string) BreakerSettings {
	return BreakerSettings{Name: name, Failures: 5, Cooldown: 30 * time.Second}
}

// S3Store reads objects from a single bucket. Fetches run through a circuit
// breaker so a failing endpoint stops a run quickly instead of timing out on
// every chunk. Failed requests are never retried.
type S3Store struct {
	client  S3GetClient
	bucket  string
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
}

// NewS3Store creates an S3Store for bucket.
func NewS3Store(client S3GetClient, bucket string, settings BreakerSettings, logger *slog.Logger) *S3Store {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.Failures == 0 {
		settings.Failures = 5
	}
	failures := settings.Failures

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Timeout:     settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrObjectNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("object store breaker changed state",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &S3Store{
		client:  client,
		bucket:  bucket,
		breaker: cb,
		logger:  logger,
	}
}

// Bucket returns the bucket the store reads from.
func (s *S3Store) Bucket() string { return s.bucket }

// GetObject fetches key from the bucket. The body is read completely inside
// the breaker so that truncated transfers count as failures.
func (s *S3Store) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := s.breaker.Execute(func() ([]byte, error) {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isNotFound(err) {
				return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, ErrObjectNotFound)
			}
			return nil, err
		}
		defer out.Body.Close()
		return io.ReadAll(out.Body)
	})
	if err == nil {
		return io.NopCloser(bytes.NewReader(data)), nil
	}

	switch {
	case errors.Is(err, ErrObjectNotFound):
		return nil, err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, types.NewAppError(
			types.ErrCodeSourceUnavailable,
			fmt.Sprintf("circuit breaker is open; not fetching s3://%s/%s", s.bucket, key),
			err,
		)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		s.log(ctx).Warn("Object fetch failed", "bucket", s.bucket, "key", key, "error", err)
		return nil, types.NewAppError(
			types.ErrCodeSourceUnavailable,
			fmt.Sprintf("failed to fetch s3://%s/%s", s.bucket, key),
			err,
		)
	}
}

// log prefers the logger of the run that issued the request.
func (s *S3Store) log(ctx context.Context) *slog.Logger {
	if l := types.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// isNotFound reports whether err is S3's answer for a missing key.
func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404
}

// NewAnonymousS3Client builds an S3 client for a public, S3-compatible
// endpoint. Requests are unsigned and use path-style addressing, which
// non-AWS object stores require. The SDK retryer is disabled: a failed
// request surfaces at once and counts against the store's breaker.
func NewAnonymousS3Client(ctx context.Context, endpoint, region string) (*s3.Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeSourceUnavailable,
			"failed to load AWS configuration",
			err,
		)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
		o.Retryer = aws.NopRetryer{}
	}), nil
}
