// Package errtype defines the stable error taxonomy of the agent.
// Call sites wrap these with go-errors-context to attach structured
// parameters; downstream formatting keys off Code.
package errtype

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingApplicationUID is returned when an operation requires an
	// application uid and the session has none.
	ErrMissingApplicationUID = errors.New("missing application uid")
	// ErrLoadAppConfig is returned when the remote application
	// configuration cannot be fetched.
	ErrLoadAppConfig = errors.New("failed to load application configuration")
	// ErrGetHashList is returned when the edge hash list cannot be read.
	ErrGetHashList = errors.New("failed to get application hash list")
	// ErrJWTInvalid is returned when the write token is expired and a
	// refreshed credential did not help.
	ErrJWTInvalid = errors.New("jwt invalid")
	// ErrSnapshotNoResults is returned when a snapshot upload succeeds at
	// the HTTP level but the edge returns no version URL.
	ErrSnapshotNoResults = errors.New("snapshot upload returned no results")
	// ErrPrimaryDeployFailed is returned when the primary CDN target of a
	// multi-CDN deployment fails. Secondaries are never attempted.
	ErrPrimaryDeployFailed = errors.New("primary cdn deployment failed")
	// ErrNoConfigs is returned when a multi-CDN deployment is requested
	// with an empty configuration set.
	ErrNoConfigs = errors.New("no application configurations provided")
	// ErrUnsupportedPlatform is returned for a platform outside the
	// closed strategy set.
	ErrUnsupportedPlatform = errors.New("unsupported target platform")
)

// UploadError tags a failed upload with the kind of entity that was
// being uploaded: "bucket", "file" or "snapshot".
type UploadError struct {
	Kind string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("failed to upload %s: %v", e.Kind, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// PayloadSizeError reports an entity that exceeds the transport's hard
// payload ceiling. No network call is made for the offending entity.
type PayloadSizeError struct {
	Entity string
	Size   int
	Limit  int
}

func (e *PayloadSizeError) Error() string {
	return fmt.Sprintf("max payload size exceeded: %s is %d bytes, limit %d", e.Entity, e.Size, e.Limit)
}

// Code maps an error to its stable wire/reporting code. Unknown errors
// map to "unknown".
func Code(err error) string {
	var payloadErr *PayloadSizeError
	var uploadErr *UploadError
	switch {
	case errors.Is(err, ErrMissingApplicationUID):
		return "missing-application-uid"
	case errors.Is(err, ErrLoadAppConfig):
		return "load-app-config"
	case errors.Is(err, ErrGetHashList):
		return "get-hash-list"
	case errors.Is(err, ErrJWTInvalid):
		return "jwt-invalid"
	case errors.Is(err, ErrSnapshotNoResults):
		return "snapshot-upload-no-results"
	case errors.Is(err, ErrPrimaryDeployFailed):
		return "primary-cdn-deployment-failed"
	case errors.Is(err, ErrNoConfigs):
		return "no-configs-provided"
	case errors.Is(err, ErrUnsupportedPlatform):
		return "unsupported-platform"
	case errors.As(err, &payloadErr):
		return "max-payload-size-exceeded"
	case errors.As(err, &uploadErr):
		return "failed-upload"
	default:
		return "unknown"
	}
}
