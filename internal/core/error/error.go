package errx

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the failure surfaces of the chatbot. Every recoverable
// or fatal condition maps to exactly one Kind so callers can pick a
// deterministic recovery action instead of matching on error strings.
type Kind string

const (
	// KindToolNotFound: a model-requested tool name is absent from the registry.
	KindToolNotFound Kind = "tool_not_found"
	// KindToolInvocation: a registered tool failed during execution.
	KindToolInvocation Kind = "tool_invocation"
	// KindRetrievalUnavailable: the retrieval adapter failed or returned nothing usable.
	KindRetrievalUnavailable Kind = "retrieval_unavailable"
	// KindRouteGateUnavailable: topic classification could not run.
	KindRouteGateUnavailable Kind = "route_gate_unavailable"
	// KindTurnTimeout: the turn exceeded its overall budget.
	KindTurnTimeout Kind = "turn_timeout"
	// KindConfiguration: missing credentials/config at startup. Fatal.
	KindConfiguration Kind = "configuration"
	// KindStorage: conversation or vector storage failed.
	KindStorage Kind = "storage"
	// KindInternal: anything else.
	KindInternal Kind = "internal"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing key.
	RedisNotFoundMessage = "redis key not found"
)

// AppError wraps an underlying error with a taxonomy kind, an HTTP-ish
// status and a message safe to surface.
type AppError struct {
	Err     error
	Kind    Kind
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether the target matches the underlying error or another
// AppError of the same kind.
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok {
		return e.Kind == t.Kind
	}
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return errors.As(e.Err, target)
}

// New creates a new AppError with the provided information.
func New(err error, kind Kind, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Kind:    kind,
		Status:  status,
		Message: message,
	}
}

// ToolNotFound reports a tool name missing from the registry.
func ToolNotFound(name string) *AppError {
	return New(nil, KindToolNotFound, http.StatusNotFound, fmt.Sprintf("tool %s does not exist", name))
}

// ToolInvocation wraps a tool execution failure.
func ToolInvocation(name string, err error) *AppError {
	return New(err, KindToolInvocation, http.StatusInternalServerError, fmt.Sprintf("tool %s failed", name))
}

// RetrievalUnavailable wraps a retrieval adapter failure.
func RetrievalUnavailable(err error) *AppError {
	return New(err, KindRetrievalUnavailable, http.StatusBadGateway, "retrieval unavailable")
}

// RouteGateUnavailable wraps a topic classification failure.
func RouteGateUnavailable(err error) *AppError {
	return New(err, KindRouteGateUnavailable, http.StatusBadGateway, "route gate unavailable")
}

// TurnTimeout wraps a turn budget overrun.
func TurnTimeout(err error) *AppError {
	return New(err, KindTurnTimeout, http.StatusGatewayTimeout, "turn timed out")
}

// Configuration reports a fatal startup configuration problem.
func Configuration(err error, detail string) *AppError {
	return New(err, KindConfiguration, http.StatusInternalServerError, "configuration error: "+detail)
}

// KindOf extracts the Kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}
