package configentry

import "errors"

// Domain errors for the configentry package.
var (
	// ErrNotReady is returned by a setup handler whose device is not yet
	// reachable. The entry moves to setup_retry.
	ErrNotReady = errors.New("configentry: not ready")

	// ErrMigration is returned by a setup handler that cannot migrate the
	// stored entry version. The entry moves to migration_error.
	ErrMigration = errors.New("configentry: migration failed")

	// ErrEntryExists is returned when adding an entry whose id is taken.
	ErrEntryExists = errors.New("configentry: entry already exists")

	// ErrAlreadyConfigured is returned when a domain already has an entry
	// with the same unique id.
	ErrAlreadyConfigured = errors.New("configentry: already configured")

	// ErrEntryDisabled is returned when setting up a disabled entry.
	ErrEntryDisabled = errors.New("configentry: entry is disabled")

	// ErrInvalidEntry is returned when an entry fails validation.
	ErrInvalidEntry = errors.New("configentry: invalid entry")
)
