package errors

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode_String(t *testing.T) {
	assert.Equal(t, "COMMON_002", ErrCodeInternal.String())
	assert.Equal(t, "DCK_002", ErrCodeAlreadyInProgress.String())
}

func TestHTTPStatusForCode(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected int
	}{
		{ErrCodeInternal, 500},
		{ErrCodeInvalidParam, 400},
		{ErrCodeNotFound, 404},
		{ErrCodeSessionNotFound, 404},
		{ErrCodeSessionClosed, 409},
		{ErrCodeGuardViolation, 409},
		{ErrCodeAlreadyInProgress, 409},
		{ErrCodeSelectionIncomplete, 412},
		{ErrCodeNoStructureAvailable, 422},
		{ErrCodeDockingFailed, 502},
		{ErrorCode("UNKNOWN"), 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, HTTPStatusForCode(tt.code), tt.code)
	}
}

func TestDefaultMessageForCode(t *testing.T) {
	assert.Equal(t, "internal error", DefaultMessageForCode(ErrCodeInternal))
	assert.Equal(t, "session not found", DefaultMessageForCode(ErrCodeSessionNotFound))
	assert.Equal(t, "unknown error", DefaultMessageForCode(ErrorCode("NOPE_999")))
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(ErrCodeGuardViolation))
	assert.True(t, IsClientError(ErrCodeSelectionIncomplete))
	assert.False(t, IsClientError(ErrCodeInternal))
}

func TestIsServerError(t *testing.T) {
	assert.True(t, IsServerError(ErrCodeInternal))
	assert.True(t, IsServerError(ErrCodeVisualizationFailed))
	assert.False(t, IsServerError(ErrCodeInvalidParam))
}

func TestModuleForCode(t *testing.T) {
	assert.Equal(t, "COMMON", ModuleForCode(ErrCodeInternal))
	assert.Equal(t, "WFL", ModuleForCode(ErrCodeGuardViolation))
	assert.Equal(t, "AGG", ModuleForCode(ErrCodeFetchError))
	assert.Equal(t, "SES", ModuleForCode(ErrCodeSessionNotFound))
	assert.Equal(t, "DCK", ModuleForCode(ErrCodeDockingFailed))
	assert.Equal(t, "EXT", ModuleForCode(ErrCodeExternalService))
	assert.Equal(t, "UNKNOWN", ModuleForCode(ErrorCode("")))
}

func TestErrorCodeMappings_Completeness(t *testing.T) {
	re := regexp.MustCompile(`^[A-Z]+_\d{3}$`)
	for code := range ErrorCodeHTTPStatus {
		assert.Regexp(t, re, string(code))
		_, ok := ErrorCodeMessage[code]
		assert.True(t, ok, "missing message for %s", code)
	}
	for code := range ErrorCodeMessage {
		_, ok := ErrorCodeHTTPStatus[code]
		assert.True(t, ok, "missing status for %s", code)
	}
}
