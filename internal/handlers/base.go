// Package handlers implements the HTTP API of the service
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/rowan/pkg/dedup"
	"github.com/Ramsey-B/rowan/pkg/loader"
	"github.com/Ramsey-B/rowan/pkg/pipeline"
	"github.com/Ramsey-B/rowan/pkg/store"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseID parses a positive integer id from a path parameter
func ParseID(c echo.Context, param string) (int64, error) {
	idStr := c.Param(param)
	if idStr == "" {
		return 0, httperror.NewHTTPError(http.StatusBadRequest, "missing "+param)
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be a positive integer", param)
	}

	return id, nil
}

// QueryInt parses an optional integer query parameter
func QueryInt(c echo.Context, name string) (*int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be an integer", name)
	}
	return &v, nil
}

// BindRequest binds and validates a request body
func BindRequest[T any](c echo.Context) (T, error) {
	var v T

	if err := c.Bind(&v); err != nil {
		return v, httperror.WrapError(http.StatusBadRequest, err)
	}

	if err := Validate(v); err != nil {
		return v, httperror.WrapError(http.StatusBadRequest, err)
	}

	return v, nil
}

// Validate checks a struct against its validate tags
func Validate(value any) error {
	if err := validate.Struct(value); err != nil {
		return ValidationErrorToString(err)
	}
	return nil
}

// ValidationErrorToString flattens validator errors into one readable message
func ValidationErrorToString(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s=%s'", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s'", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// MapError converts domain errors into HTTP errors
func MapError(err error) error {
	if err == nil || httperror.IsHTTPError(err) {
		return err
	}

	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, pipeline.ErrJobNotFound),
		errors.Is(err, loader.ErrDirNotFound),
		errors.Is(err, loader.ErrNoFiles):
		return httperror.WrapError(http.StatusNotFound, err)
	case errors.Is(err, pipeline.ErrJobTerminal),
		errors.Is(err, dedup.ErrCandidateNotPending),
		errors.Is(err, store.ErrVersionConflict):
		return httperror.WrapError(http.StatusConflict, err)
	case errors.Is(err, pipeline.ErrInvalidRequest):
		return httperror.WrapError(http.StatusBadRequest, err)
	case store.IsUnavailable(err),
		errors.Is(err, pipeline.ErrStopped),
		errors.Is(err, pipeline.ErrQueueFull):
		return httperror.WrapError(http.StatusServiceUnavailable, err)
	default:
		return httperror.WrapError(http.StatusInternalServerError, err)
	}
}

// SuccessResponse returns a 200 OK with data
func SuccessResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

// AcceptedResponse returns a 202 Accepted with data
func AcceptedResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusAccepted, data)
}

// BadRequest returns a 400 Bad Request error
func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}
