package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/rowan/pkg/context"
)

func newEcho(handler echo.HandlerFunc) *echo.Echo {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	e := echo.New()
	e.HTTPErrorHandler = Error(logger)
	e.Use(Context())
	e.Use(Logger(logger))
	e.GET("/jobs/:id", handler)
	return e
}

func TestError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "http error",
			err:         httperror.NewHTTPError(http.StatusNotFound, "job 7 not found"),
			wantStatus:  http.StatusNotFound,
			wantMessage: "job 7 not found",
		},
		{
			name:        "echo error",
			err:         echo.NewHTTPError(http.StatusMethodNotAllowed, "method not allowed"),
			wantStatus:  http.StatusMethodNotAllowed,
			wantMessage: "method not allowed",
		},
		{
			name:        "unclassified error",
			err:         errors.New("boom"),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEcho(func(echo.Context) error { return tt.err })

			req := httptest.NewRequest(http.MethodGet, "/jobs/7", nil)
			req.Header.Set(echo.HeaderXRequestID, "req-1")
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantMessage, body.Message)
			assert.Equal(t, "req-1", body.RequestID)
			assert.NotNil(t, body.Meta)
		})
	}
}

func TestError_CommittedResponse(t *testing.T) {
	e := newEcho(func(c echo.Context) error {
		_ = c.String(http.StatusOK, "partial")
		return errors.New("late failure")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial", rec.Body.String())
}

func TestContext(t *testing.T) {
	var requestID, method, route string
	e := newEcho(func(c echo.Context) error {
		ctx := c.Request().Context()
		requestID = context.GetRequestID(ctx)
		method = context.GetMethod(ctx)
		route = context.GetRoute(ctx)
		return c.NoContent(http.StatusNoContent)
	})

	t.Run("generates a request id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/3", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.NotEmpty(t, requestID)
		assert.Equal(t, requestID, rec.Header().Get(echo.HeaderXRequestID))
		assert.Equal(t, http.MethodGet, method)
		assert.Equal(t, "/jobs/:id", route)
	})

	t.Run("keeps the caller's request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/jobs/3", nil)
		req.Header.Set(echo.HeaderXRequestID, "abc")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, "abc", requestID)
		assert.Equal(t, "abc", rec.Header().Get(echo.HeaderXRequestID))
	})
}
