package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/activitylog-backend/internal/data/repos/activitylog"
	"github.com/yungbote/activitylog-backend/internal/http/response"
	"github.com/yungbote/activitylog-backend/internal/platform/dbctx"
)

const (
	defaultListLimit = 1000
	maxListLimit     = 10000
)

type ActivityHandler struct {
	reader activitylog.Reader
}

func NewActivityHandler(reader activitylog.Reader) *ActivityHandler {
	return &ActivityHandler{reader: reader}
}

type activityView struct {
	ID        string                         `json:"id"`
	Level     string                         `json:"nivå"`
	Message   string                         `json:"melding"`
	Timestamp string                         `json:"tidsstempel"`
	Contexts  []map[string]map[string]string `json:"kontekster"`
}

// GET /api/persons/:ident/activities
func (h *ActivityHandler) ListByPerson(c *gin.Context) {
	ident := strings.TrimSpace(c.Param("ident"))
	if ident == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_ident", errors.New("ident required"))
		return
	}
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.RespondError(c, http.StatusBadRequest, "invalid_limit", errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxListLimit)
	}

	rows, err := h.reader.ListByPerson(dbctx.Context{Ctx: c.Request.Context()}, ident, limit)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	out := make([]activityView, 0, len(rows))
	for _, r := range rows {
		v := activityView{
			ID:        r.ID.String(),
			Level:     string(r.Level),
			Message:   r.Message,
			Timestamp: r.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
			Contexts:  make([]map[string]map[string]string, 0, len(r.Contexts)),
		}
		for _, ctx := range r.Contexts {
			details := make(map[string]string, len(ctx.Details))
			for _, d := range ctx.Details {
				details[d.Name] = d.Value
			}
			v.Contexts = append(v.Contexts, map[string]map[string]string{ctx.Type: details})
		}
		out = append(out, v)
	}
	response.RespondOK(c, gin.H{"aktiviteter": out})
}

// GET /api/counts
func (h *ActivityHandler) Counts(c *gin.Context) {
	counts, err := h.reader.CountRows(dbctx.Context{Ctx: c.Request.Context()})
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "count_failed", err)
		return
	}
	response.RespondOK(c, counts)
}
