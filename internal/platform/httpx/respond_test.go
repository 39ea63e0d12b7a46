package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondErrorStatus(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("date: %w", ErrValidation): http.StatusBadRequest,
		fmt.Errorf("lock: %w", ErrConflict):   http.StatusConflict,
		fmt.Errorf("db: %w", ErrUnavailable):  http.StatusServiceUnavailable,
		fmt.Errorf("report: %w", ErrNotFound): http.StatusNotFound,
		fmt.Errorf("boom"):                    http.StatusInternalServerError,
	}
	for err, status := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, err)
		require.Equal(t, status, rr.Code, err.Error())

		var body ProblemDetail
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		require.Equal(t, status, body.Status)
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("password=secret"))
	require.NotContains(t, rr.Body.String(), "secret")
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}
