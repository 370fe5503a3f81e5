package objstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"froster-go/internal/froster"
)

// maxAttempts bounds the adapter's retry loop; backoff grows linearly
// with the attempt number.
const (
	maxAttempts = 5
	backoffStep = 2 * time.Second
)

// retryable reports whether an error is worth retrying: throttling,
// internal errors, timeouts. Auth and not-found errors are fatal.
func retryable(err error) bool {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "SlowDown", "Throttling", "ThrottlingException",
			"RequestLimitExceeded", "RequestTimeout",
			"InternalError", "ServiceUnavailable":
			return true
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch",
			"ExpiredToken", "NoSuchBucket", "NoSuchKey", "NotFound",
			"InvalidBucketName", "InvalidLocationConstraint":
			return false
		}
	}
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode() >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// classify maps a fatal remote error onto the engine error kinds.
func classify(err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return fmt.Errorf("%w: %v", froster.ErrAccessDenied, err)
		}
	}
	return err
}

// withRetry runs fn up to maxAttempts times with linear backoff.
// Fatal errors abort immediately; exhausting the budget converts the
// last transient error into ErrRemoteFailed.
func withRetry(ctx context.Context, logger froster.Logger, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return classify(err)
		}
		logger.Warn("transient remote error, retrying", "op", op, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", froster.ErrUserAbort, ctx.Err())
		case <-time.After(time.Duration(attempt) * backoffStep):
		}
	}
	return fmt.Errorf("%w: %s: %v", froster.ErrRemoteFailed, op, err)
}
