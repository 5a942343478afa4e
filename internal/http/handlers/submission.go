package handlers

import (
	"github.com/gin-gonic/gin"

	httpMW "github.com/yungbote/dgnl-backend/internal/http/middleware"
	"github.com/yungbote/dgnl-backend/internal/http/response"
	"github.com/yungbote/dgnl-backend/internal/platform/dbctx"
	"github.com/yungbote/dgnl-backend/internal/services"
)

type SubmissionHandler struct {
	submissions services.SubmissionService
}

func NewSubmissionHandler(submissions services.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{submissions: submissions}
}

// POST /api/submissions
func (h *SubmissionHandler) Submit(c *gin.Context) {
	var in services.SubmitInput
	if !bindJSON(c, &in) {
		return
	}
	httpMW.AddLogFields(c, "trial_id", in.TrialID, "responses", len(in.Responses))
	out, err := h.submissions.Submit(dbctx.Context{Ctx: c.Request.Context()}, in)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, out)
}
