package errors

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HTTPErrorResponse represents the structure of error responses sent to clients
type HTTPErrorResponse struct {
	Error   ErrorInfo              `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// ErrorInfo contains the core error information
type ErrorInfo struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// ToHTTPError converts an error to an Echo HTTP error carrying an HTTPErrorResponse
func ToHTTPError(err error) *echo.HTTPError {
	if oe, ok := As(err); ok {
		details := oe.Details
		if oe.Cause != nil {
			if details != "" {
				details += ": "
			}
			details += oe.Cause.Error()
		}
		return echo.NewHTTPError(oe.GetHTTPStatus(), HTTPErrorResponse{
			Error: ErrorInfo{
				Code:    oe.Code,
				Message: oe.Message,
				Details: details,
			},
			Context: oe.Context,
		})
	}

	return echo.NewHTTPError(http.StatusInternalServerError, HTTPErrorResponse{
		Error: ErrorInfo{
			Code:    ErrInternal,
			Message: "Internal server error",
			Details: err.Error(),
		},
	})
}

// BadRequest creates a 400 Bad Request error
func BadRequest(message, details string) error {
	return echo.NewHTTPError(http.StatusBadRequest, HTTPErrorResponse{
		Error: ErrorInfo{
			Code:    ErrInvalidInput,
			Message: message,
			Details: details,
		},
	})
}
