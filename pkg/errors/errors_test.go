package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusFromError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrConversationNotFound, http.StatusNotFound},
		{fmt.Errorf("open: %w", ErrMessageNotFound), http.StatusNotFound},
		{ErrInvalidToken, http.StatusUnauthorized},
		{ErrMalformedPayload, http.StatusBadRequest},
		{ErrRetryLimitReached, http.StatusConflict},
		{fmt.Errorf("%w: deadline", ErrTimeout), http.StatusGatewayTimeout},
		{NewAPIError("backend returned status 500", 500), http.StatusBadGateway},
		{ErrNotConnected, http.StatusBadGateway},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatusFromError(tt.err), tt.err.Error())
	}
}

func TestAPIErrorUnwrapsToTransport(t *testing.T) {
	err := fmt.Errorf("send: %w", NewAPIError("bad gateway", http.StatusBadGateway))

	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Code)
	assert.ErrorIs(t, err, ErrTransport)
}
