package session

import "errors"

// Error categories. Callers match with errors.Is; everything the package
// returns wraps exactly one of these.
var (
	// ErrConnection marks handshake failures, sends on a closed channel,
	// and any operation attempted after teardown. Fatal to the session.
	ErrConnection = errors.New("connection error")

	// ErrProtocol marks an error-tagged reply from the browser. The engine
	// abandons the socket shortly after sending one, so the session is
	// torn down before this is returned.
	ErrProtocol = errors.New("protocol error")

	// ErrPrecondition marks an operation invoked without its required
	// prior state (e.g. click with no located element). Never retried.
	ErrPrecondition = errors.New("operation precondition not met")

	// ErrTimeout marks an exchange that ran out its command deadline.
	ErrTimeout = errors.New("command timed out")

	// ErrEmptyQueue marks a print-data dequeue with no payload present.
	ErrEmptyQueue = errors.New("print queue is empty")
)
