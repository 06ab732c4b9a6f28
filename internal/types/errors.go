// Package types provides shared types, interfaces, and errors for the application.
package types

import "errors"

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Browser pool errors
	ErrBrowserPoolClosed  = errors.New("browser pool is closed")
	ErrBrowserPoolTimeout = errors.New("timeout waiting for browser from pool")
	ErrBrowserUnhealthy   = errors.New("browser is unhealthy")

	// Guard errors
	ErrAdBlocked      = errors.New("request blocked by ad policy")
	ErrGuardActive    = errors.New("guard session already active")
	ErrGuardNotActive = errors.New("no guard session active")
	ErrWatchAlreadyOn = errors.New("continuous watch already running")
	ErrSweepInFlight  = errors.New("sweep already in flight")

	// Player errors
	ErrPlayerClosed    = errors.New("player is not open")
	ErrUnknownProvider = errors.New("unknown streaming provider")
	ErrPlayerBusy      = errors.New("player transition already in progress")

	// Metadata errors
	ErrMetadataFetch    = errors.New("metadata fetch failed")
	ErrMetadataDecode   = errors.New("metadata response could not be decoded")
	ErrMetadataNotFound = errors.New("metadata item not found")

	// Request errors
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidCommand = errors.New("unknown command")
	ErrMovieIDMissing = errors.New("movieId is required")
)

// GuardError provides detailed information about guard subsystem failures.
// It implements the error interface and supports error unwrapping.
type GuardError struct {
	Op      string // The guard operation that failed: "install", "sweep", "purge", "teardown"
	Target  string // The URL or selector involved, if any
	Message string // Human-readable error message
	Err     error  // Underlying error (for unwrapping)
}

// Error implements the error interface.
func (e *GuardError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *GuardError) Unwrap() error {
	return e.Err
}

// NewBlockedRequestError creates the policy-rejection error surfaced to a
// caller whose outbound request matched the block list. This is a policy
// decision, not a failure.
func NewBlockedRequestError(url string) *GuardError {
	return &GuardError{
		Op:      "intercept",
		Target:  url,
		Message: "request to " + url + " blocked by domain policy",
		Err:     ErrAdBlocked,
	}
}

// NewGuardInstallError creates an error for guard installation failures.
func NewGuardInstallError(what string, err error) *GuardError {
	return &GuardError{
		Op:      "install",
		Message: "failed to install " + what,
		Err:     err,
	}
}

// MetadataError provides detailed information about upstream API failures.
type MetadataError struct {
	Endpoint string // The API endpoint path that failed
	Status   int    // HTTP status code, 0 if the request never completed
	Message  string // Human-readable error message
	Err      error  // Underlying error
}

// Error implements the error interface.
func (e *MetadataError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *MetadataError) Unwrap() error {
	return e.Err
}

// NewMetadataFetchError creates an error for failed upstream calls.
func NewMetadataFetchError(endpoint string, status int, err error) *MetadataError {
	return &MetadataError{
		Endpoint: endpoint,
		Status:   status,
		Message:  "metadata request to " + endpoint + " failed",
		Err:      errors.Join(ErrMetadataFetch, err),
	}
}

// NewMetadataDecodeError creates an error for malformed upstream responses.
func NewMetadataDecodeError(endpoint string, err error) *MetadataError {
	return &MetadataError{
		Endpoint: endpoint,
		Message:  "metadata response from " + endpoint + " is malformed",
		Err:      errors.Join(ErrMetadataDecode, err),
	}
}
