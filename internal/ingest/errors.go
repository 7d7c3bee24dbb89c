package ingest

import "fmt"

// Category is the machine-readable failure class returned to callers and
// recorded in the audit log.
type Category string

const (
	CategoryBadRequest          Category = "BadRequest"
	CategoryUnknownIdentity     Category = "UnknownIdentity"
	CategoryInactiveIdentity    Category = "InactiveIdentity"
	CategoryUpstreamRejected    Category = "UpstreamRejected"
	CategoryUpstreamUnreachable Category = "UpstreamUnreachable"
	CategoryUpstreamMalformed   Category = "UpstreamMalformedResponse"
	// CategoryInternal covers gateway-side persistence failures.
	CategoryInternal Category = "Internal"
)

// Error is a failed ingestion. Reference is the audit record id, empty for
// BadRequest and when the audit record could not be written.
type Error struct {
	Category  Category
	Message   string
	Reference string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func badRequest(msg string) *Error {
	return &Error{Category: CategoryBadRequest, Message: msg}
}
