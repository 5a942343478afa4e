package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/dgnl-backend/internal/platform/apierr"
	"github.com/yungbote/dgnl-backend/internal/services"
)

// ErrorBody is the error shape every endpoint returns.
type ErrorBody struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// RespondError maps service and transport errors onto a status code. Causes
// of 5xx responses are recorded on the gin context for the request log and
// never sent to the client.
func RespondError(c *gin.Context, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

func classify(err error) (int, ErrorBody) {
	if err == nil {
		return http.StatusInternalServerError, ErrorBody{Error: "unknown error"}
	}
	if ae, ok := apierr.From(err); ok {
		status := ae.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		if status >= http.StatusInternalServerError {
			return status, ErrorBody{Error: http.StatusText(status)}
		}
		return status, ErrorBody{Error: ae.Error(), Details: ae.Details}
	}

	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		details := make(map[string]any, len(ve.Fields))
		for k, v := range ve.Fields {
			details[k] = v
		}
		return http.StatusBadRequest, ErrorBody{Error: "validation failed", Details: details}
	case errors.Is(err, services.ErrInvalidArgument):
		return http.StatusBadRequest, ErrorBody{Error: err.Error()}
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, ErrorBody{Error: err.Error()}
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict, ErrorBody{Error: err.Error()}
	}
	return http.StatusInternalServerError, ErrorBody{Error: "internal server error"}
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
