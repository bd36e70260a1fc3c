package deepgram

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

type ErrorStatus string

const (
	ErrorStatusAPIKeyFetchFailed  ErrorStatus = "api_key_fetch_failed"
	ErrorStatusQueueLimitExceeded ErrorStatus = "queue_limit_exceeded"
	ErrorStatusAPIError           ErrorStatus = "api_error"
	ErrorStatusAuthError          ErrorStatus = "auth_error"
	ErrorStatusBadRequest         ErrorStatus = "bad_request"
	ErrorStatusQuotaExceeded      ErrorStatus = "quota_exceeded"
	ErrorStatusNetworkError       ErrorStatus = "network_error"
	ErrorStatusWebSocketError     ErrorStatus = "websocket_error"
	ErrorStatusConnectionClosed   ErrorStatus = "connection_closed"
	ErrorStatusInvalidState       ErrorStatus = "invalid_state"
)

// Error is returned by every operation of the package and passed to OnError.
// Code carries the HTTP status of a failed handshake or request, or the
// WebSocket close code when the server ended the stream.
type Error struct {
	Status  ErrorStatus
	Message string
	Code    *int
	Cause   error
}

func (e *Error) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("deepgram: %s (code=%d): %s", e.Status, *e.Code, e.Message)
	}
	return fmt.Sprintf("deepgram: %s: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(status ErrorStatus, message string) *Error {
	return &Error{
		Status:  status,
		Message: message,
	}
}

func NewErrorWithCode(status ErrorStatus, message string, code int) *Error {
	return &Error{
		Status:  status,
		Message: message,
		Code:    &code,
	}
}

func NewErrorWithCause(status ErrorStatus, message string, cause error) *Error {
	return &Error{
		Status:  status,
		Message: message,
		Cause:   cause,
	}
}

func IsErrorStatus(err error, status ErrorStatus) bool {
	var dgErr *Error
	if errors.As(err, &dgErr) {
		return dgErr.Status == status
	}
	return false
}

var (
	ErrClientNotConnected  = NewError(ErrorStatusInvalidState, "client is not connected")
	ErrClientAlreadyActive = NewError(ErrorStatusInvalidState, "client is already active")
	ErrClientClosed        = NewError(ErrorStatusInvalidState, "client is closed")
)

// MapAPIError maps an HTTP status returned by the API to a typed ErrorStatus.
func MapAPIError(message string, code int) *Error {
	var status ErrorStatus
	switch code {
	case 401, 403:
		status = ErrorStatusAuthError
	case 400:
		status = ErrorStatusBadRequest
	case 402, 429:
		status = ErrorStatusQuotaExceeded
	case 408, 500, 502, 503, 504:
		status = ErrorStatusNetworkError
	default:
		status = ErrorStatusAPIError
	}
	return NewErrorWithCode(status, message, code)
}

// MapCloseError maps a close frame sent by the server to a typed ErrorStatus.
// 1008 is sent for audio the server cannot decode, 1011 when it stops
// receiving audio for too long.
func MapCloseError(ce *websocket.CloseError) *Error {
	var status ErrorStatus
	switch ce.Code {
	case websocket.ClosePolicyViolation:
		status = ErrorStatusBadRequest
	case websocket.CloseInternalServerErr, websocket.CloseTryAgainLater:
		status = ErrorStatusNetworkError
	default:
		status = ErrorStatusConnectionClosed
	}
	err := NewErrorWithCode(status, ce.Text, ce.Code)
	err.Cause = ce
	return err
}
