package errors

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrBadRequest           = errors.New("bad request")
	ErrInternalServer       = errors.New("internal server error")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrOrphanedRecord       = errors.New("orphaned record: no conversation reference")
	ErrMalformedPayload     = errors.New("malformed payload")
	ErrNotRetryable         = errors.New("message is not in failed state")
	ErrRetryLimitReached    = errors.New("retry limit reached")
	ErrTransport            = errors.New("transport error")
	ErrTimeout              = errors.New("request timed out")
	ErrNotConnected         = errors.New("push channel not connected")
	ErrInvalidToken         = errors.New("invalid token")
)

type APIError struct {
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Unwrap - любой не-2xx ответ бэкенда считается транспортной ошибкой
func (e *APIError) Unwrap() error {
	return ErrTransport
}

func NewAPIError(message string, code int) *APIError {
	return &APIError{
		Message: message,
		Code:    code,
	}
}

func HTTPStatusFromError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrMalformedPayload):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotRetryable), errors.Is(err, ErrRetryLimitReached):
		return http.StatusConflict
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrTransport), errors.Is(err, ErrNotConnected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
