package negotiationhttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"negotiator/internal/agent"
	"negotiator/internal/analysis/visual"
	cfgloader "negotiator/internal/config/loader"
	"negotiator/internal/forecast"
	"negotiator/internal/logger"
	"negotiator/internal/store/decisionlog"
	"negotiator/internal/strategy"
	"negotiator/internal/types"
	"negotiator/internal/ufun"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
)

// DecisionRequest 是 propose/respond/frontier 的请求体。
type DecisionRequest struct {
	agent.DecisionInput
	Profile  string       `json:"profile,omitempty"`
	Incoming *types.Offer `json:"incoming,omitempty"`
}

type handlers struct {
	deciders Deciders
	journal  Journal
	table    *forecast.Table
}

func (h *handlers) register(group *gin.RouterGroup) {
	group.POST("/negotiation/propose", h.handlePropose)
	group.POST("/negotiation/respond", h.handleRespond)
	group.POST("/negotiation/frontier", h.handleFrontier)
	group.GET("/table/stats", h.handleTableStats)
	group.GET("/decisions", h.handleDecisions)
}

// statusFor maps decision errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, ufun.ErrConfiguration),
		errors.Is(err, strategy.ErrTimeOutOfRange),
		errors.Is(err, cfgloader.ErrUnknownProfile):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("[api] %s failed ip=%s err=%v", op, c.ClientIP(), err)
	} else {
		logger.Warnf("[api] %s rejected ip=%s err=%v", op, c.ClientIP(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *handlers) bind(c *gin.Context, needIncoming bool) (DecisionRequest, error) {
	var req DecisionRequest
	raw, err := c.GetRawData()
	if err != nil {
		return req, badRequest("read body: %v", err)
	}
	if err := validateDecisionBody(raw, needIncoming); err != nil {
		return req, err
	}
	if err := binding.JSON.BindBody(raw, &req); err != nil {
		return req, badRequest("%v", err)
	}
	if strings.TrimSpace(req.Partner) == "" {
		req.Partner = "host"
	}
	return req, nil
}

func (h *handlers) record(e decisionlog.Entry) {
	if h.journal == nil {
		return
	}
	e.CreatedAt = time.Now().UnixMilli()
	h.journal.InsertAsync(e)
}

func (h *handlers) handlePropose(c *gin.Context) {
	req, err := h.bind(c, false)
	if err != nil {
		h.fail(c, "propose", err)
		return
	}
	dec, profile, err := h.deciders.Decider(req.Profile)
	if err != nil {
		h.fail(c, "propose", err)
		return
	}
	traceID := uuid.NewString()
	entry := decisionlog.Entry{
		TraceID: traceID,
		Partner: req.Partner,
		Role:    req.Economics.Role,
		Kind:    decisionlog.KindPropose,
		Variant: string(dec.Params().Variant),
		Profile: profile,
		Step:    req.Step,
		T:       req.T,
	}
	out, err := dec.Propose(req.DecisionInput, traceID)
	if err != nil {
		entry.Error = err.Error()
		h.record(entry)
		h.fail(c, "propose", err)
		return
	}
	entry.Offer = out.Offer
	entry.Utility = out.Utility
	entry.Target = out.Target
	if out.Plan != nil {
		entry.Fallback = out.Plan.Fallback
		entry.Frontier = len(out.Plan.Frontier)
	}
	h.record(entry)
	c.JSON(http.StatusOK, gin.H{
		"offer":    out.Offer,
		"trace_id": traceID,
		"utility":  out.Utility,
		"target":   out.Target,
		"variant":  out.Variant,
		"profile":  profile,
	})
}

func (h *handlers) handleRespond(c *gin.Context) {
	req, err := h.bind(c, true)
	if err != nil {
		h.fail(c, "respond", err)
		return
	}
	dec, profile, err := h.deciders.Decider(req.Profile)
	if err != nil {
		h.fail(c, "respond", err)
		return
	}
	traceID := uuid.NewString()
	entry := decisionlog.Entry{
		TraceID: traceID,
		Partner: req.Partner,
		Role:    req.Economics.Role,
		Kind:    decisionlog.KindRespond,
		Variant: string(dec.Params().Variant),
		Profile: profile,
		Step:    req.Step,
		T:       req.T,
		Offer:   *req.Incoming,
	}
	out, err := dec.Respond(req.DecisionInput, *req.Incoming, traceID)
	if err != nil {
		entry.Error = err.Error()
		h.record(entry)
		h.fail(c, "respond", err)
		return
	}
	entry.Response = out.Response
	entry.Utility = out.Utility
	entry.Target = out.Target
	h.record(entry)
	c.JSON(http.StatusOK, gin.H{
		"response":   out.Response,
		"trace_id":   traceID,
		"utility":    out.Utility,
		"aspiration": out.Target,
		"profile":    profile,
	})
}

func (h *handlers) handleFrontier(c *gin.Context) {
	req, err := h.bind(c, false)
	if err != nil {
		h.fail(c, "frontier", err)
		return
	}
	dec, _, err := h.deciders.Decider(req.Profile)
	if err != nil {
		h.fail(c, "frontier", err)
		return
	}
	out, err := dec.Propose(req.DecisionInput, uuid.NewString())
	if err != nil {
		h.fail(c, "frontier", err)
		return
	}
	html, err := visual.RenderFrontier(visual.FrontierInput{
		Partner:    req.Partner,
		Plan:       *out.Plan,
		Aspiration: dec.Concession().Aspiration,
	})
	if err != nil {
		h.fail(c, "frontier", err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (h *handlers) handleTableStats(c *gin.Context) {
	if h.table == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "forecast table not loaded"})
		return
	}
	top, _ := strconv.Atoi(c.DefaultQuery("top", "20"))
	if top <= 0 {
		top = 20
	}
	c.JSON(http.StatusOK, gin.H{
		"kind":   h.table.Kind(),
		"rows":   h.table.Rows(),
		"misses": h.table.Misses(),
		"keys":   h.table.Len(),
		"top":    h.table.Top(top),
	})
}

func (h *handlers) handleDecisions(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision journal disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	q := decisionlog.Query{
		Partner: strings.TrimSpace(c.Query("partner")),
		TraceID: strings.TrimSpace(c.Query("trace_id")),
		Kind:    decisionlog.Kind(strings.ToLower(strings.TrimSpace(c.Query("kind")))),
		Limit:   limit,
		Offset:  offset,
	}
	reqCtx := c.Request.Context()
	listCtx, cancelList := context.WithTimeout(reqCtx, 2*time.Second)
	entries, err := h.journal.List(listCtx, q)
	cancelList()
	if err != nil {
		logger.Errorf("[api] decisions list failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total := -1
	countCtx, cancelCount := context.WithTimeout(reqCtx, 800*time.Millisecond)
	if n, err := h.journal.Count(countCtx, q); err == nil {
		total = n
	} else {
		logger.Warnf("[api] decisions count failed ip=%s err=%v", c.ClientIP(), err)
	}
	cancelCount()
	c.JSON(http.StatusOK, gin.H{
		"decisions":   entries,
		"total_count": total,
	})
}
