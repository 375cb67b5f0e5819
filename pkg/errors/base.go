package errors

import (
	"net/http"
)

// ============================================================================
// Common errors (Service: 00)
// ============================================================================

var (
	// OK represents a successful operation.
	OK = Register(&Errno{
		Code:    0,
		HTTP:    http.StatusOK,
		Message: "Success",
	})

	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = Register(&Errno{
		Code:    MakeCode(ServiceCommon, CategoryRequest, 0),
		HTTP:    http.StatusBadRequest,
		Message: "Bad request",
	})

	// ErrNotFound indicates the resource is not found.
	ErrNotFound = Register(&Errno{
		Code:    MakeCode(ServiceCommon, CategoryResource, 0),
		HTTP:    http.StatusNotFound,
		Message: "Resource not found",
	})

	// ErrInternal indicates an internal server error.
	ErrInternal = Register(&Errno{
		Code:    MakeCode(ServiceCommon, CategoryInternal, 0),
		HTTP:    http.StatusInternalServerError,
		Message: "Internal server error",
	})

	// ErrDatabase indicates a database error.
	ErrDatabase = Register(&Errno{
		Code:    MakeCode(ServiceCommon, CategoryDatabase, 0),
		HTTP:    http.StatusInternalServerError,
		Message: "Database error",
	})

	// ErrTimeout indicates an operation timeout.
	ErrTimeout = Register(&Errno{
		Code:    MakeCode(ServiceCommon, CategoryTimeout, 0),
		HTTP:    http.StatusGatewayTimeout,
		Message: "Operation timeout",
	})
)

// ============================================================================
// Reply pipeline errors (Service: 30)
// ============================================================================

var (
	// ErrValidation indicates missing or malformed input. It is always
	// reported to the caller and never retried.
	ErrValidation = Register(&Errno{
		Code:    MakeCode(ServiceReply, CategoryRequest, 0),
		HTTP:    http.StatusBadRequest,
		Message: "Validation failed",
	})

	// ErrInvalidTargetLanguage indicates an unsupported translation target.
	ErrInvalidTargetLanguage = Register(&Errno{
		Code:    MakeCode(ServiceReply, CategoryRequest, 1),
		HTTP:    http.StatusBadRequest,
		Message: "Unsupported target language",
	})

	// ErrIndexEmpty indicates the vector index holds no vectors for the
	// requested embedding model version.
	ErrIndexEmpty = Register(&Errno{
		Code:    MakeCode(ServiceReply, CategoryResource, 0),
		HTTP:    http.StatusNotFound,
		Message: "Vector index is empty for the requested model version",
	})

	// ErrUpstreamAnalysis indicates an external classification, translation
	// or embedding call failed after bounded retries.
	ErrUpstreamAnalysis = Register(&Errno{
		Code:    MakeCode(ServiceReply, CategoryUpstream, 0),
		HTTP:    http.StatusBadGateway,
		Message: "Upstream analysis call failed",
	})

	// ErrPipelineTimeout indicates the overall request deadline was exceeded
	// before the reply was finalized. Fatal for the request; no partial
	// reply is returned.
	ErrPipelineTimeout = Register(&Errno{
		Code:    MakeCode(ServiceReply, CategoryTimeout, 0),
		HTTP:    http.StatusGatewayTimeout,
		Message: "Reply pipeline deadline exceeded",
	})

	// ErrPartialResult flags a reply produced with degraded sub-signals.
	ErrPartialResult = Register(&Errno{
		Code:    MakeCode(ServiceReply, CategoryUpstream, 1),
		HTTP:    http.StatusPartialContent,
		Message: "Reply produced with partial signals",
	})

	// ErrRegenJobNotFound indicates an unknown regeneration job handle.
	ErrRegenJobNotFound = Register(&Errno{
		Code:    MakeCode(ServiceReply, CategoryResource, 1),
		HTTP:    http.StatusNotFound,
		Message: "Regeneration job not found",
	})
)
