package localstore

import "errors"

var (
	// ErrOwnershipConflict is returned by Start when another live client
	// holds exclusive access to the shared storage location. The caller must
	// not proceed; retrying after a backoff is the caller's decision.
	ErrOwnershipConflict = errors.New("another client holds exclusive access to the persistence layer")

	// ErrAlreadyStarted is returned when Start is called on a session that is
	// already starting or active.
	ErrAlreadyStarted = errors.New("persistence already started")

	// ErrNotStarted is returned when the store surface is used before Start
	// has succeeded.
	ErrNotStarted = errors.New("persistence not started")

	// ErrShutdown is returned for any operation after Shutdown.
	ErrShutdown = errors.New("persistence has been shut down")
)
