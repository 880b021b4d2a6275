package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/activitylog-backend/internal/data/repos/backlog"
	"github.com/yungbote/activitylog-backend/internal/http/response"
	"github.com/yungbote/activitylog-backend/internal/platform/dbctx"
)

// StatsReader is the part of the backlog repo the ops server reads.
type StatsReader interface {
	Stats(dbc dbctx.Context, queue string, policy backlog.ClaimPolicy) (backlog.Stats, error)
}

type BacklogHandler struct {
	repo   StatsReader
	policy backlog.ClaimPolicy
}

func NewBacklogHandler(repo StatsReader, policy backlog.ClaimPolicy) *BacklogHandler {
	return &BacklogHandler{repo: repo, policy: policy}
}

// GET /api/backlog/:queue
func (h *BacklogHandler) Stats(c *gin.Context) {
	queue := strings.TrimSpace(c.Param("queue"))
	stats, err := h.repo.Stats(dbctx.Context{Ctx: c.Request.Context()}, queue, h.policy)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "stats_failed", err)
		return
	}
	response.RespondOK(c, stats)
}
