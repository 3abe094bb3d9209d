// Package dnxerr defines the error kinds shared across the DNX server and
// worker: bounded-container failures, transport failures, and malformed
// message failures all reduce to one of these sentinels so callers can
// branch on kind with errors.Is instead of string matching.
package dnxerr

import "errors"

var (
	// ErrInvalid marks a bad argument to an API call.
	ErrInvalid = errors.New("invalid argument")
	// ErrCapacity marks a bounded container (job list, registry) that is full.
	ErrCapacity = errors.New("capacity exceeded")
	// ErrBadURL marks a transport URL that failed to parse.
	ErrBadURL = errors.New("malformed channel url")
	// ErrAlready marks a refused state transition.
	ErrAlready = errors.New("already in requested state")
	// ErrExist marks a duplicate registration.
	ErrExist = errors.New("already exists")
	// ErrUnsupported marks an operation not supported by the current transport.
	ErrUnsupported = errors.New("unsupported operation")
	// ErrOpen marks a transport open failure.
	ErrOpen = errors.New("channel open failed")
	// ErrSize marks a message that exceeds the maximum wire size.
	ErrSize = errors.New("message too large")
	// ErrSend marks a hard transport send failure (not a timeout).
	ErrSend = errors.New("send failed")
	// ErrReceive marks a hard transport receive failure (not a timeout).
	ErrReceive = errors.New("receive failed")
	// ErrAddress marks a name resolution failure.
	ErrAddress = errors.New("address resolution failed")
	// ErrNotFound marks a lookup miss that is a normal, expected outcome
	// (a stale XID, an empty registry) rather than a bug.
	ErrNotFound = errors.New("not found")
	// ErrSyntax marks a malformed wire message.
	ErrSyntax = errors.New("malformed message")
	// ErrTimeout marks a transport operation that exceeded its deadline.
	// Timeouts are normal at the server's four threads and the client
	// worker loop; callers must not treat ErrTimeout as terminal.
	ErrTimeout = errors.New("timeout")
	// ErrBusy marks a resource that could not be acquired without blocking.
	ErrBusy = errors.New("busy")
)
