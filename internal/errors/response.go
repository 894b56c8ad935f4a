package errors

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrorResponse represents the standard error response structure
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Display       string         `json:"message"`
	InternalError string         `json:"internal_error,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// NewErrorResponse builds the wire representation of an error: the hint chain
// becomes the display message, safe details become structured details.
func NewErrorResponse(err error) ErrorResponse {
	detail := ErrorDetail{
		Display:       displayMessage(err),
		InternalError: err.Error(),
		Details:       reportableDetails(err),
	}
	return ErrorResponse{Success: false, Error: detail}
}

func displayMessage(err error) string {
	hints := errors.GetAllHints(err)
	if len(hints) > 0 {
		return strings.Join(hints, "; ")
	}
	var internal *InternalError
	if errors.As(err, &internal) {
		return internal.DisplayError()
	}
	return "something went wrong"
}

func reportableDetails(err error) map[string]any {
	for _, d := range errors.GetSafeDetails(err).SafeDetails {
		if strings.HasPrefix(d, "__json__:") {
			var out map[string]any
			if jsonErr := json.Unmarshal([]byte(strings.TrimPrefix(d, "__json__:")), &out); jsonErr == nil {
				return out
			}
		}
	}
	return nil
}
