package s3storage

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/minio/minio-go/v7"
)

// Error is returned by every Storage call. It keeps the S3 error code so
// callers can tell permanent failures from transient ones without importing
// minio types.
type Error struct {
	Op         string
	Bucket     string
	Key        string
	Code       string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s/%s: %s: %v", e.Op, e.Bucket, e.Key, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports a missing bucket, key or multipart upload.
func (e *Error) NotFound() bool {
	switch e.Code {
	case "NoSuchKey", "NoSuchUpload", "NoSuchBucket":
		return true
	}
	return e.StatusCode == http.StatusNotFound
}

// Temporary reports whether retrying the same call may succeed.
func (e *Error) Temporary() bool {
	if e.NotFound() {
		return false
	}
	switch e.Code {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch",
		"InvalidPart", "InvalidPartOrder", "EntityTooSmall", "EntityTooLarge",
		"InvalidBucketName", "InvalidArgument":
		return false
	}
	if e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusRequestTimeout && e.StatusCode != http.StatusTooManyRequests {
		return false
	}
	return true
}

func wrap(op, bucket, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	return &Error{
		Op:         op,
		Bucket:     bucket,
		Key:        key,
		Code:       resp.Code,
		StatusCode: resp.StatusCode,
		Err:        err,
	}
}

func unwrapMinio(err error) error {
	var se *Error
	if errors.As(err, &se) {
		return se.Err
	}
	return err
}
