package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(fmt.Errorf("%w: already joined", ErrConflict)))
	assert.False(t, Retryable(fmt.Errorf("wrapped: %w", fmt.Errorf("%w: bad tx", ErrValidation))))
	assert.True(t, Retryable(errors.New("connection reset by peer")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		nil:                                http.StatusOK,
		fmt.Errorf("%w: x", ErrValidation): http.StatusBadRequest,
		fmt.Errorf("%w: x", ErrForbidden):  http.StatusForbidden,
		fmt.Errorf("%w: x", ErrConflict):   http.StatusConflict,
		fmt.Errorf("%w: x", ErrNotFound):   http.StatusNotFound,
		errors.New("timeout"):              http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), "error %v", err)
	}
}
