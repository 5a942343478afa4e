package handlers

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/dgnl-backend/internal/http/response"
	"github.com/yungbote/dgnl-backend/internal/platform/apierr"
)

// bindJSON decodes the body into dst and writes a 400 on failure.
// Struct validation is left to the service layer.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("request body is empty")
		}
		response.RespondError(c, apierr.BadRequest("invalid_json", err))
		return false
	}
	return true
}
