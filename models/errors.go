package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeConnection   = "CONNECTION_FAILED"
	ErrCodeNoTargetPage = "NO_TARGET_PAGE"
	ErrCodeNavigation   = "NAVIGATION_FAILED"
	ErrCodeAcquisition  = "ELEMENT_ACQUISITION_FAILED"
	ErrCodeNoImages     = "NO_IMAGES"
	ErrCodeTimeout      = "SCAN_TIMEOUT"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInternal     = "INTERNAL_ERROR"

	// Extraction-capability error codes. These never fail a scan; they are
	// reported next to the analysis text.
	ErrCodeExtraction     = "EXTRACTION_FAILED"
	ErrCodeLLMAuthFailure = "LLM_AUTH_FAILURE"
	ErrCodeLLMRateLimited = "LLM_RATE_LIMITED"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScanError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScanError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// NewScanError creates a new ScanError.
func NewScanError(code, message string, err error) *ScanError {
	return &ScanError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScanError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// HasCode reports whether the first *ScanError in err's chain carries code.
func HasCode(err error, code string) bool {
	var se *ScanError
	return errors.As(err, &se) && se.Code == code
}
