package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	httpMW "github.com/yungbote/dgnl-backend/internal/http/middleware"
	"github.com/yungbote/dgnl-backend/internal/http/response"
	"github.com/yungbote/dgnl-backend/internal/platform/dbctx"
	"github.com/yungbote/dgnl-backend/internal/services"
)

type IRTHandler struct {
	irt services.IRTService
}

func NewIRTHandler(irt services.IRTService) *IRTHandler {
	return &IRTHandler{irt: irt}
}

// POST /api/tests/:id/calculate-irt
func (h *IRTHandler) Calculate(c *gin.Context) {
	testID := strings.TrimSpace(c.Param("id"))
	job, err := h.irt.Trigger(dbctx.Context{Ctx: c.Request.Context()}, testID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	httpMW.AddLogFields(c, "job_id", job.ID)
	c.JSON(http.StatusAccepted, gin.H{
		"message": "IRT calculation queued",
		"testId":  testID,
		"jobId":   job.ID,
	})
}
