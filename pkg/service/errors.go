package service

import "fmt"

// ErrorCode classifies a ServiceError the way a caller on the other end
// of an HTTP response or WebSocket frame needs to react to it, without
// parsing a free-form message string.
type ErrorCode string

const (
	ErrNotFound         ErrorCode = "not_found"
	ErrPermissionDenied ErrorCode = "permission_denied"
	ErrInvalid          ErrorCode = "invalid"
	ErrConflict         ErrorCode = "conflict"
	ErrInternal         ErrorCode = "internal"
)

// ServiceError is the error shape every Dispatch failure is mapped to
// before crossing a transport boundary.
type ServiceError struct {
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NotFound(format string, args ...any) *ServiceError {
	return &ServiceError{Code: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

func PermissionDenied(format string, args ...any) *ServiceError {
	return &ServiceError{Code: ErrPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

func Invalid(format string, args ...any) *ServiceError {
	return &ServiceError{Code: ErrInvalid, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *ServiceError {
	return &ServiceError{Code: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

func Internal(err error) *ServiceError {
	return &ServiceError{Code: ErrInternal, Message: err.Error()}
}
