package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/dgnl-backend/internal/http/response"
	"github.com/yungbote/dgnl-backend/internal/observability"
	"github.com/yungbote/dgnl-backend/internal/services"
)

type AdminHandler struct {
	jobs services.JobService
}

func NewAdminHandler(jobs services.JobService) *AdminHandler {
	return &AdminHandler{jobs: jobs}
}

// GET /api/admin/queues
func (h *AdminHandler) Queues(c *gin.Context) {
	stats, err := h.jobs.Stats(c.Request.Context())
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"queues":      stats,
		"dataQuality": observability.DataQualityCounts(),
	})
}
