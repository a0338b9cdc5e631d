package apiclient

// Outcome classifies a remote call. Every call site must branch on all three
// before touching local state:
//
//	TransportFailure — network error, 5xx or unparseable response; the
//	operation is safe to retry on the next cycle, no state mutation.
//	RemoteError — the API returned a well-formed error payload; terminal for
//	the unit of work, requires an explicit reset to retry.
//	Success — payload is valid.
type Outcome int

const (
	TransportFailure Outcome = iota
	RemoteError
	Success
)

// Result carries the outcome of a remote call plus the remote error message
// when Outcome is RemoteError.
type Result struct {
	Outcome Outcome
	Message string
}

// OK is the Result for a successful call.
var OK = Result{Outcome: Success}

// Transport builds a TransportFailure result. The message is for logs only
// and is never persisted to sync state.
func Transport(msg string) Result {
	return Result{Outcome: TransportFailure, Message: msg}
}

// Remote builds a RemoteError result with the message surfaced by the API.
func Remote(msg string) Result {
	return Result{Outcome: RemoteError, Message: msg}
}
