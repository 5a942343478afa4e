package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	httpMW "github.com/yungbote/dgnl-backend/internal/http/middleware"
	"github.com/yungbote/dgnl-backend/internal/http/response"
	"github.com/yungbote/dgnl-backend/internal/platform/dbctx"
	"github.com/yungbote/dgnl-backend/internal/services"
)

type TrialHandler struct {
	trials services.TrialService
}

func NewTrialHandler(trials services.TrialService) *TrialHandler {
	return &TrialHandler{trials: trials}
}

// POST /api/trials
func (h *TrialHandler) Start(c *gin.Context) {
	var in services.StartTrialInput
	if !bindJSON(c, &in) {
		return
	}
	httpMW.AddLogFields(c, "test_id", in.TestID, "student_id", in.StudentID)
	trial, created, err := h.trials.Start(dbctx.Context{Ctx: c.Request.Context()}, in)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	httpMW.AddLogFields(c, "trial_id", trial.ID, "created", created)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"trial": trial, "created": created})
}

// GET /api/trials/:id
func (h *TrialHandler) Get(c *gin.Context) {
	res, err := h.trials.GetResult(dbctx.Context{Ctx: c.Request.Context()}, c.Param("id"))
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// POST /api/trials/:id/rescore
func (h *TrialHandler) Rescore(c *gin.Context) {
	trialID := c.Param("id")
	job, err := h.trials.Rescore(dbctx.Context{Ctx: c.Request.Context()}, trialID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	httpMW.AddLogFields(c, "job_id", job.ID)
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Rescore queued",
		"trialId": trialID,
		"jobId":   job.ID,
	})
}
