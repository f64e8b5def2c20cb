package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes surfaced to callers. Handlers map these to HTTP statuses;
// anything not matching one of them is an internal error.
var (
	// ErrBadRequest covers malformed uploads, missing manifest fields,
	// and other caller mistakes detectable before any side effect.
	ErrBadRequest = errors.New("bad request")

	// ErrUnscopedName is returned for package names not of the form
	// @scope/name. It is a bad request.
	ErrUnscopedName = fmt.Errorf("%w: unscoped name", ErrBadRequest)

	// ErrForbidden covers ownership conflicts and failed claim verification.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthorized is returned for a bad callback secret.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrVersionExists is returned when publishing a (name, version) pair
	// that already exists. Versions are write-once.
	ErrVersionExists = errors.New("version already exists")

	// ErrPackageExists is returned when inserting a package whose name
	// was taken by a concurrent publish. Publish recovers by re-reading
	// the row it lost to.
	ErrPackageExists = errors.New("package already exists")

	// ErrPackageNotFound / ErrVersionNotFound / ErrArtifactNotFound /
	// ErrScanNotFound identify missing entities.
	ErrPackageNotFound  = errors.New("package not found")
	ErrVersionNotFound  = errors.New("version not found")
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrScanNotFound     = errors.New("scan not found")

	// ErrAlreadyClaimed is returned when claiming a package whose
	// ClaimedBy is already set. Claims are monotonic.
	ErrAlreadyClaimed = fmt.Errorf("%w: package is already claimed", ErrBadRequest)
)

// ValidationError carries the manifest validator's structured error list.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "manifest validation failed: " + strings.Join(e.Errors, "; ")
}

// ClaimDeniedError is returned when repository-based ownership
// verification fails. Reason is the verifier's explanation; Remediation
// tells the caller how to prove ownership.
type ClaimDeniedError struct {
	Reason      string
	Remediation string
}

func (e *ClaimDeniedError) Error() string {
	return "claim verification failed: " + e.Reason
}

// Unwrap makes ClaimDeniedError match ErrForbidden.
func (e *ClaimDeniedError) Unwrap() error {
	return ErrForbidden
}

// NotFound reports whether err is any of the not-found errors.
func NotFound(err error) bool {
	return errors.Is(err, ErrPackageNotFound) ||
		errors.Is(err, ErrVersionNotFound) ||
		errors.Is(err, ErrArtifactNotFound) ||
		errors.Is(err, ErrScanNotFound)
}
