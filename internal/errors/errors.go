package errors

// Kind classifies every failure raised inside the notification client.
type Kind int

const (
	// KindTransport covers connect failures, timeouts and dropped wires.
	KindTransport Kind = iota
	// KindMalformedEvent covers server payloads missing required fields.
	KindMalformedEvent
	// KindCollaborator covers REST collaborator call failures.
	KindCollaborator
	// KindRetryExhausted covers a spent reconnection budget.
	KindRetryExhausted
)

// Standard for error values passed around the notification client.
type ClientError struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error is required by the error interface.
func (e ClientError) Error() string {
	return e.Message
}

// Unwrap exposes the underlying cause to errors.Is / errors.As callers.
func (e ClientError) Unwrap() error {
	return e.Cause
}

// Replicates the New method of default errors package.
func New(err string) error {
	return ClientError{
		Message: err,
	}
}

// TransportError creates a new error representing a recoverable connection failure.
// These count against the reconnection budget and never crash the manager.
func TransportError(msg string, cause error) ClientError {
	if msg == "" {
		msg = "The live connection to the server failed."
	}
	return ClientError{
		Kind:    KindTransport,
		Message: msg,
		Cause:   cause,
	}
}

// MalformedEvent creates a new error representing a server event payload
// that failed validation. Logged and dropped, never shown to the user.
func MalformedEvent(msg string, cause error) ClientError {
	if msg == "" {
		msg = "A server event payload was missing required fields."
	}
	return ClientError{
		Kind:    KindMalformedEvent,
		Message: msg,
		Cause:   cause,
	}
}

// CollaboratorError creates a new error representing a failed REST collaborator
// call. The triggering operation is treated as "no change".
func CollaboratorError(msg string, cause error) ClientError {
	if msg == "" {
		msg = "A server request failed while syncing notifications."
	}
	return ClientError{
		Kind:    KindCollaborator,
		Message: msg,
		Cause:   cause,
	}
}

// RetryExhausted creates a new error raised when the bounded reconnection
// budget is spent. Only a manual reconnect clears this condition.
func RetryExhausted(msg string) ClientError {
	if msg == "" {
		msg = "Couldn't reach the server after repeated attempts."
	}
	return ClientError{
		Kind:    KindRetryExhausted,
		Message: msg,
	}
}
