package errcode

import "fmt"

// Error represents a business error
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("errcode: %d, msg: %s", e.Code, e.Msg)
}

// New creates a new error with code and message
func New(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap wraps an error with additional context
func (e *Error) Wrap(err error) *Error {
	if err == nil {
		return e
	}
	return &Error{
		Code: e.Code,
		Msg:  fmt.Sprintf("%s: %v", e.Msg, err),
	}
}

// Common error codes
var (
	// Success
	ErrSuccess = New(0, "success")

	// Common errors (1xxx)
	ErrInvalidParam = New(1001, "invalid parameter")
	ErrInternal     = New(1002, "internal error")
	ErrNotFound     = New(1005, "not found")

	// Auth errors (2xxx)
	ErrTokenInvalid = New(2001, "token invalid")
	ErrTokenExpired = New(2002, "token expired")
	ErrTokenMissing = New(2003, "token missing")

	// Backend errors (3xxx)
	ErrBackendRequest  = New(3001, "backend request failed")
	ErrBackendDecode   = New(3002, "backend response decode failed")
	ErrConvNotFound    = New(3003, "conversation not found")
	ErrHydrationFailed = New(3004, "conversation hydration failed")
	ErrSendFailed      = New(3005, "message send failed")

	// Engine errors (4xxx)
	ErrWindowNotOpen      = New(4001, "window not open")
	ErrUnknownProvisional = New(4002, "unknown provisional message id")
	ErrDuplicateMessage   = New(4003, "duplicate message")

	// Transport errors (5xxx)
	ErrConnClosed         = New(5002, "connection closed")
	ErrInvalidProtocol    = New(5003, "invalid protocol")
	ErrWriteChannelFull   = New(5004, "write channel full")
	ErrNotConnected       = New(5005, "transport not connected")
	ErrReconnectExhausted = New(5006, "reconnect attempts exhausted")
)
