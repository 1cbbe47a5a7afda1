package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/victornm/livequiz/internal/errors"
)

func TestConvert(t *testing.T) {
	tests := map[string]struct {
		err      error
		wantCode errors.Code
		wantHTTP int
		wantName string
	}{
		"plain error should become internal": {
			err:      stderrors.New("boom"),
			wantCode: errors.CodeInternal,
			wantHTTP: http.StatusInternalServerError,
			wantName: "internal",
		},
		"wrapped not found should keep its code": {
			err:      fmt.Errorf("engine: %w", errors.NotFound("session not found: %s", "s1")),
			wantCode: errors.CodeNotFound,
			wantHTTP: http.StatusNotFound,
			wantName: "not_found",
		},
		"invalid state should map to conflict": {
			err:      errors.InvalidState("session is not waiting"),
			wantCode: errors.CodeInvalidState,
			wantHTTP: http.StatusConflict,
			wantName: "invalid_state",
		},
		"unavailable should map to 503": {
			err:      errors.Unavailable(stderrors.New("dial tcp")),
			wantCode: errors.CodeUnavailable,
			wantHTTP: http.StatusServiceUnavailable,
			wantName: "unavailable",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			e := errors.Convert(tt.err)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.wantHTTP, e.HTTPStatusCode())
			assert.Equal(t, tt.wantName, e.Name())
		})
	}
}

func TestError_GRPCStatus(t *testing.T) {
	e := errors.InvalidState("session %s is completed", "s1")

	st := e.GRPCStatus()
	require.Equal(t, codes.FailedPrecondition, st.Code())
	require.Equal(t, "session s1 is completed", st.Message())
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("wrap: %w", errors.New(errors.CodeAlreadyExists))

	assert.True(t, errors.Is(err, errors.CodeAlreadyExists))
	assert.False(t, errors.Is(err, errors.CodeNotFound))
	assert.False(t, errors.Is(stderrors.New("x"), errors.CodeInternal))
}
