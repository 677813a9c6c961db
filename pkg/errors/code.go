package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 20000-20999: Runner infrastructure errors
// 21000-21999: Report sink errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Runner Infrastructure Errors (20000-20999) ==========

	// Submission intake (20000-20099)
	InvalidSubmission   ErrorCode = 20000
	UnsupportedLanguage ErrorCode = 20001
	InputTooLarge       ErrorCode = 20002
	RunnerBusy          ErrorCode = 20003

	// Limits (20100-20199)
	LimitCeilingExceeded ErrorCode = 20100
	LimitUnresolved      ErrorCode = 20101

	// Workspace (20200-20299)
	WorkspaceIOFailure ErrorCode = 20200
	CleanupFailure     ErrorCode = 20201

	// Sandbox (20300-20399)
	SpawnFailure   ErrorCode = 20300
	SandboxFailure ErrorCode = 20301

	// ========== Report Sink Errors (21000-21999) ==========
	PublishFailed ErrorCode = 21000
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Submission intake
	InvalidSubmission:   "Invalid submission",
	UnsupportedLanguage: "Programming language not supported",
	InputTooLarge:       "Input is too large",
	RunnerBusy:          "Runner is busy with another submission",

	// Limits
	LimitCeilingExceeded: "Requested limit exceeds the configured ceiling",
	LimitUnresolved:      "Execution limits are not fully resolved",

	// Workspace
	WorkspaceIOFailure: "Workspace I/O failed",
	CleanupFailure:     "Workspace cleanup failed",

	// Sandbox
	SpawnFailure:   "Failed to spawn sandboxed process",
	SandboxFailure: "Sandbox failure",

	// Report
	PublishFailed: "Failed to publish verdict",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound:
		return 404
	case c == TooManyRequests, c == RunnerBusy:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == InvalidSubmission:
		return 400
	default:
		return 500
	}
}
