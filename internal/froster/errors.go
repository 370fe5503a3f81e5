package froster

import "errors"

// Error kinds carried by engine results. Engines wrap these with
// fmt.Errorf("...: %w", Err...) so callers can classify failures with
// errors.Is and map them to exit codes.
var (
	// ErrConfigMissing indicates a missing or invalid profile, bucket,
	// or credentials configuration.
	ErrConfigMissing = errors.New("configuration missing or invalid")

	// ErrAccessDenied indicates a remote permission failure.
	ErrAccessDenied = errors.New("access denied")

	// ErrRemoteFailed indicates a remote operation that kept failing
	// after the adapter exhausted its retries.
	ErrRemoteFailed = errors.New("remote operation failed")

	// ErrConflict indicates a state conflict: folder already archived,
	// overlapping mount points, or ancestor/descendant folders in the
	// same invocation. Nothing was mutated.
	ErrConflict = errors.New("conflict")

	// ErrLocalFS indicates an unreadable or undeletable local file or a
	// missing folder.
	ErrLocalFS = errors.New("local filesystem error")

	// ErrVerification indicates a checksum mismatch between local and
	// remote. Engines never proceed to destructive steps after this.
	ErrVerification = errors.New("checksum verification failed")

	// ErrUserAbort indicates an interrupt at a suspension point.
	// Partial artifacts are preserved on purpose.
	ErrUserAbort = errors.New("aborted by user")

	// ErrNotArchived indicates the queried folder has no catalog entry,
	// neither exact nor through a recursive ancestor.
	ErrNotArchived = errors.New("folder is not archived")
)
