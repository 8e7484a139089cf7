package server

import (
	"context"
	"net/http"
	"strings"

	"orchestra/internal/errors"
	"orchestra/internal/logger"

	"github.com/labstack/echo/v4"
)

// requireJSON rejects request bodies that are not JSON
func requireJSON(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		switch req.Method {
		case http.MethodPost, http.MethodPatch, http.MethodPut:
			if req.ContentLength > 0 && !strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
				return echo.NewHTTPError(http.StatusUnsupportedMediaType, errors.HTTPErrorResponse{
					Error: errors.ErrorInfo{
						Code:    errors.ErrInvalidInput,
						Message: "Request body must be JSON",
					},
				})
			}
		}
		return next(c)
	}
}

// ErrorHandler writes every error as an HTTPErrorResponse. Coded errors keep
// their status; echo errors with plain messages are wrapped.
func ErrorHandler(err error, c echo.Context) {
	he, ok := err.(*echo.HTTPError)
	if !ok {
		he = errors.ToHTTPError(err)
	}

	body, ok := he.Message.(errors.HTTPErrorResponse)
	if !ok {
		body = errors.HTTPErrorResponse{
			Error: errors.ErrorInfo{
				Code:    codeForStatus(he.Code),
				Message: messageOf(he),
			},
		}
	}

	if he.Code >= http.StatusInternalServerError {
		logger.GetLogger(c).WithError(err).Error("Request error")
	}

	if c.Response().Committed {
		return
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(he.Code)
		return
	}
	_ = c.JSON(he.Code, body)
}

func messageOf(he *echo.HTTPError) string {
	if msg, ok := he.Message.(string); ok {
		return msg
	}
	return http.StatusText(he.Code)
}

func codeForStatus(status int) errors.ErrorCode {
	switch status {
	case http.StatusNotFound:
		return errors.ErrNotFound
	case http.StatusBadRequest, http.StatusMethodNotAllowed, http.StatusUnsupportedMediaType:
		return errors.ErrInvalidInput
	case http.StatusRequestTimeout:
		return errors.ErrTimeout
	default:
		return errors.ErrInternal
	}
}

// GetRequestID retrieves the request id stored by the request logger
func GetRequestID(c echo.Context) string {
	if id, ok := c.Get("request_id").(string); ok {
		return id
	}
	return ""
}

// requestContext returns the request context
func requestContext(c echo.Context) context.Context {
	return c.Request().Context()
}
