package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a module-prefixed string that identifies a failure category.
// The prefix before the underscore names the owning module (COMMON, WFL, AGG,
// SES, DCK, EXT) and is used for metrics labels and log routing.
type ErrorCode string

// String returns the raw code.
func (c ErrorCode) String() string { return string(c) }

// ─────────────────────────────────────────────────────────────────────────────
// Common codes
// ─────────────────────────────────────────────────────────────────────────────

const (
	ErrCodeOK              ErrorCode = "COMMON_000"
	ErrCodeUnknown         ErrorCode = "COMMON_001"
	ErrCodeInternal        ErrorCode = "COMMON_002"
	ErrCodeInvalidParam    ErrorCode = "COMMON_003"
	ErrCodeNotFound        ErrorCode = "COMMON_004"
	ErrCodeConflict        ErrorCode = "COMMON_005"
	ErrCodeTimeout         ErrorCode = "COMMON_006"
	ErrCodeValidation      ErrorCode = "COMMON_007"
	ErrCodeSerialization   ErrorCode = "COMMON_008"
	ErrCodeDatabaseError   ErrorCode = "COMMON_009"
	ErrCodeCacheError      ErrorCode = "COMMON_010"
	ErrCodeStorageError    ErrorCode = "COMMON_011"
	ErrCodeMessagingError  ErrorCode = "COMMON_012"
	ErrCodeInvalidConfig   ErrorCode = "COMMON_013"
	ErrCodeRateLimit       ErrorCode = "COMMON_014"
	ErrCodeServiceShutdown ErrorCode = "COMMON_015"
)

// ─────────────────────────────────────────────────────────────────────────────
// Workflow state machine (WFL)
// ─────────────────────────────────────────────────────────────────────────────

const (
	ErrCodeGuardViolation ErrorCode = "WFL_001"
	ErrCodeInvalidStage   ErrorCode = "WFL_002"
	ErrCodeNoActiveRun    ErrorCode = "WFL_003"
)

// ─────────────────────────────────────────────────────────────────────────────
// Aggregation (AGG)
// ─────────────────────────────────────────────────────────────────────────────

const (
	ErrCodeFetchError       ErrorCode = "AGG_001"
	ErrCodeGenerationError  ErrorCode = "AGG_002"
	ErrCodeInvalidCandidate ErrorCode = "AGG_003"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sessions (SES)
// ─────────────────────────────────────────────────────────────────────────────

const (
	ErrCodeSessionNotFound ErrorCode = "SES_001"
	ErrCodeSessionInvalid  ErrorCode = "SES_002"
	ErrCodeSessionClosed   ErrorCode = "SES_003"
)

// ─────────────────────────────────────────────────────────────────────────────
// Docking pipeline (DCK)
// ─────────────────────────────────────────────────────────────────────────────

const (
	ErrCodeSelectionIncomplete  ErrorCode = "DCK_001"
	ErrCodeAlreadyInProgress    ErrorCode = "DCK_002"
	ErrCodeNoStructureAvailable ErrorCode = "DCK_003"
	ErrCodeDockingFailed        ErrorCode = "DCK_004"
	ErrCodeVisualizationFailed  ErrorCode = "DCK_005"
)

// ─────────────────────────────────────────────────────────────────────────────
// External services (EXT)
// ─────────────────────────────────────────────────────────────────────────────

const (
	ErrCodeExternalService    ErrorCode = "EXT_001"
	ErrCodeExternalBadPayload ErrorCode = "EXT_002"
)

// Short aliases used across the codebase.
const (
	CodeOK                   = ErrCodeOK
	CodeUnknown              = ErrCodeUnknown
	CodeInternal             = ErrCodeInternal
	CodeInvalidParam         = ErrCodeInvalidParam
	CodeNotFound             = ErrCodeNotFound
	CodeConflict             = ErrCodeConflict
	CodeTimeout              = ErrCodeTimeout
	CodeValidation           = ErrCodeValidation
	CodeSerialization        = ErrCodeSerialization
	CodeDatabaseError        = ErrCodeDatabaseError
	CodeCacheError           = ErrCodeCacheError
	CodeStorageError         = ErrCodeStorageError
	CodeMessagingError       = ErrCodeMessagingError
	CodeInvalidConfig        = ErrCodeInvalidConfig
	CodeRateLimit            = ErrCodeRateLimit
	CodeGuardViolation       = ErrCodeGuardViolation
	CodeInvalidStage         = ErrCodeInvalidStage
	CodeFetchError           = ErrCodeFetchError
	CodeGenerationError      = ErrCodeGenerationError
	CodeInvalidCandidate     = ErrCodeInvalidCandidate
	CodeSessionNotFound      = ErrCodeSessionNotFound
	CodeSessionInvalid       = ErrCodeSessionInvalid
	CodeSessionClosed        = ErrCodeSessionClosed
	CodeSelectionIncomplete  = ErrCodeSelectionIncomplete
	CodeAlreadyInProgress    = ErrCodeAlreadyInProgress
	CodeNoStructureAvailable = ErrCodeNoStructureAvailable
	CodeDockingFailed        = ErrCodeDockingFailed
	CodeVisualizationFailed  = ErrCodeVisualizationFailed
	CodeExternalService      = ErrCodeExternalService
)

// ErrorCodeHTTPStatus maps each code to the HTTP status used by the REST layer.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeOK:              http.StatusOK,
	ErrCodeUnknown:         http.StatusInternalServerError,
	ErrCodeInternal:        http.StatusInternalServerError,
	ErrCodeInvalidParam:    http.StatusBadRequest,
	ErrCodeNotFound:        http.StatusNotFound,
	ErrCodeConflict:        http.StatusConflict,
	ErrCodeTimeout:         http.StatusGatewayTimeout,
	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeSerialization:   http.StatusInternalServerError,
	ErrCodeDatabaseError:   http.StatusInternalServerError,
	ErrCodeCacheError:      http.StatusInternalServerError,
	ErrCodeStorageError:    http.StatusInternalServerError,
	ErrCodeMessagingError:  http.StatusInternalServerError,
	ErrCodeInvalidConfig:   http.StatusInternalServerError,
	ErrCodeRateLimit:       http.StatusTooManyRequests,
	ErrCodeServiceShutdown: http.StatusServiceUnavailable,

	ErrCodeGuardViolation: http.StatusConflict,
	ErrCodeInvalidStage:   http.StatusBadRequest,
	ErrCodeNoActiveRun:    http.StatusConflict,

	ErrCodeFetchError:       http.StatusBadGateway,
	ErrCodeGenerationError:  http.StatusBadGateway,
	ErrCodeInvalidCandidate: http.StatusBadRequest,

	ErrCodeSessionNotFound: http.StatusNotFound,
	ErrCodeSessionInvalid:  http.StatusBadRequest,
	ErrCodeSessionClosed:   http.StatusConflict,

	ErrCodeSelectionIncomplete:  http.StatusPreconditionFailed,
	ErrCodeAlreadyInProgress:    http.StatusConflict,
	ErrCodeNoStructureAvailable: http.StatusUnprocessableEntity,
	ErrCodeDockingFailed:        http.StatusBadGateway,
	ErrCodeVisualizationFailed:  http.StatusBadGateway,

	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeExternalBadPayload: http.StatusBadGateway,
}

// ErrorCodeMessage holds the default message for each code.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeOK:              "ok",
	ErrCodeUnknown:         "unknown error",
	ErrCodeInternal:        "internal error",
	ErrCodeInvalidParam:    "invalid parameter",
	ErrCodeNotFound:        "resource not found",
	ErrCodeConflict:        "conflict",
	ErrCodeTimeout:         "operation timed out",
	ErrCodeValidation:      "validation failed",
	ErrCodeSerialization:   "serialization failed",
	ErrCodeDatabaseError:   "database error",
	ErrCodeCacheError:      "cache error",
	ErrCodeStorageError:    "object storage error",
	ErrCodeMessagingError:  "messaging error",
	ErrCodeInvalidConfig:   "invalid configuration",
	ErrCodeRateLimit:       "rate limit exceeded",
	ErrCodeServiceShutdown: "service is shutting down",

	ErrCodeGuardViolation: "workflow transition not allowed",
	ErrCodeInvalidStage:   "unknown workflow stage",
	ErrCodeNoActiveRun:    "no active workflow run",

	ErrCodeFetchError:       "candidate fetch failed",
	ErrCodeGenerationError:  "candidate generation failed",
	ErrCodeInvalidCandidate: "candidate has no identity",

	ErrCodeSessionNotFound: "session not found",
	ErrCodeSessionInvalid:  "session is invalid",
	ErrCodeSessionClosed:   "session is closed",

	ErrCodeSelectionIncomplete:  "exactly one protein and one candidate must be selected",
	ErrCodeAlreadyInProgress:    "a docking run is already in progress",
	ErrCodeNoStructureAvailable: "no structure available for protein",
	ErrCodeDockingFailed:        "docking failed",
	ErrCodeVisualizationFailed:  "visualization failed",

	ErrCodeExternalService:    "external service error",
	ErrCodeExternalBadPayload: "external service returned an unexpected payload",
}

// HTTPStatusForCode returns the HTTP status for code, or 500 when unmapped.
func HTTPStatusForCode(code ErrorCode) int {
	if s, ok := ErrorCodeHTTPStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the registered default message, or the
// message for ErrCodeUnknown when the code is unregistered.
func DefaultMessageForCode(code ErrorCode) string {
	if m, ok := ErrorCodeMessage[code]; ok {
		return m
	}
	return ErrorCodeMessage[ErrCodeUnknown]
}

// IsClientError reports whether code maps to a 4xx status.
func IsClientError(code ErrorCode) bool {
	s := HTTPStatusForCode(code)
	return s >= 400 && s < 500
}

// IsServerError reports whether code maps to a 5xx status.
func IsServerError(code ErrorCode) bool {
	return HTTPStatusForCode(code) >= 500
}

// ModuleForCode returns the module prefix of code, or "UNKNOWN".
func ModuleForCode(code ErrorCode) string {
	s := string(code)
	if i := strings.IndexByte(s, '_'); i > 0 {
		return s[:i]
	}
	return "UNKNOWN"
}
