package dispatch

import "fmt"

// Code identifies a class of command failure for callers
type Code string

const (
	CodeInvalidURL       Code = "INVALID_URL"
	CodeInvalidParams    Code = "INVALID_PARAMS"
	CodeEngineNotReady   Code = "ENGINE_NOT_READY"
	CodeAnalyzeError     Code = "ANALYZE_ERROR"
	CodeDownloadError    Code = "DOWNLOAD_ERROR"
	CodeUpdateError      Code = "UPDATE_ERROR"
	CodeExtractionFailed Code = "EXTRACTION_FAILED"
	CodeBusy             Code = "BUSY"
	CodeNotImplemented   Code = "NOT_IMPLEMENTED"
)

// Error is the typed failure reply of a command
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// wrapError keeps err's text verbatim as the message
func wrapError(code Code, err error) *Error {
	return &Error{Code: code, Message: err.Error(), err: err}
}
