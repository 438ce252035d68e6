package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"phonescreen-console/internal/audit"
	"phonescreen-console/internal/calls"
	"phonescreen-console/internal/callstore"
	"phonescreen-console/internal/reconcile"
	"phonescreen-console/internal/reporting"
	"phonescreen-console/internal/summary"
	"phonescreen-console/internal/telephony"
	"phonescreen-console/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Gateway    telephony.VoiceGateway
	Summarizer reconcile.Summarizer
	Store      callstore.Store
	Driver     *reconcile.Driver
	Stats      *reporting.StatsView
	Audit      *audit.Service

	// Checks run on /healthz. A failing check turns the response into 503.
	Checks map[string]func(ctx context.Context) error

	clock func() time.Time
}

func (h Handlers) now() time.Time {
	if h.clock != nil {
		return h.clock()
	}
	return time.Now()
}

// --- Provider boundary ---

type createCallRequest struct {
	PhoneNumber   string `json:"phoneNumber"`
	RecipientName string `json:"recipientName"`
	AssistantID   string `json:"assistantId,omitempty"`
}

type createCallResponse struct {
	ID            string           `json:"id"`
	Status        calls.CallStatus `json:"status"`
	PhoneNumber   string           `json:"phoneNumber"`
	RecipientName string           `json:"recipientName"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// CreateCall places a call with the voice provider and echoes the handle.
// Nothing is stored; the console API does that.
func (h Handlers) CreateCall(c *gin.Context) {
	if h.Gateway == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "gateway not configured"})
		return
	}
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.PhoneNumber) == "" || strings.TrimSpace(req.RecipientName) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Phone number and recipient name are required"})
		return
	}

	handle, err := h.Gateway.CreateCall(c.Request.Context(), telephony.CreateCallRequest{
		PhoneNumber:   req.PhoneNumber,
		RecipientName: req.RecipientName,
		AssistantID:   req.AssistantID,
	})
	if err != nil {
		logger.FromGin(c).Error("create call failed", "err", err)
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": providerMessage("Failed to create call", err)})
		return
	}

	now := h.now().UTC()
	status := handle.Status
	if status == "" {
		status = calls.CallStatusInitiated
	}
	c.JSON(http.StatusCreated, createCallResponse{
		ID:            handle.ProviderCallID,
		Status:        status,
		PhoneNumber:   req.PhoneNumber,
		RecipientName: req.RecipientName,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

// ListCalls passes the provider's recent calls through unchanged.
func (h Handlers) ListCalls(c *gin.Context) {
	if h.Gateway == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "gateway not configured"})
		return
	}
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	payload, err := h.Gateway.ListCalls(c.Request.Context(), limit)
	if err != nil {
		logger.FromGin(c).Error("list calls failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": providerMessage("Failed to fetch calls", err)})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}

type summarizeRequest struct {
	Transcript summary.Transcript `json:"transcript"`
}

// Summarize generates a summary for an ad-hoc transcript.
func (h Handlers) Summarize(c *gin.Context) {
	if h.Summarizer == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summarizer not configured"})
		return
	}
	var req summarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Transcript.IsEmpty() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Transcript is required"})
		return
	}
	text, err := h.Summarizer.Summarize(c.Request.Context(), req.Transcript)
	if err != nil {
		logger.FromGin(c).Error("summarize failed", "err", err)
		if errors.Is(err, calls.ErrValidation) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": publicMessage(err)})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate summary"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": text})
}

// --- Console ---

type callView struct {
	Call    calls.Call          `json:"call"`
	Session *reconcile.Snapshot `json:"session,omitempty"`
}

func (h Handlers) view(call calls.Call) callView {
	out := callView{Call: call}
	if snap, ok := h.Driver.Snapshot(call.ID); ok {
		out.Session = &snap
	}
	return out
}

func (h Handlers) ListStoredCalls(c *gin.Context) {
	all, err := h.Store.GetAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if all == nil {
		all = []calls.Call{}
	}
	c.JSON(http.StatusOK, all)
}

func (h Handlers) StartCall(c *gin.Context) {
	var req reconcile.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	call, err := h.Driver.StartCall(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, calls.ErrValidation) {
			writeError(c, err)
			return
		}
		logger.FromGin(c).Error("start call failed", "err", err)
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": providerMessage("Failed to create call", err)})
		return
	}
	c.JSON(http.StatusCreated, h.view(call))
}

// ClearCalls wipes the store and closes every open view.
func (h Handlers) ClearCalls(c *gin.Context) {
	if err := h.Store.Clear(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	h.Driver.CloseAll()
	c.Status(http.StatusNoContent)
}

func (h Handlers) OpenCall(c *gin.Context) {
	call, snap, err := h.Driver.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, callView{Call: call, Session: &snap})
}

func (h Handlers) EndCall(c *gin.Context) {
	call, err := h.Driver.EndCall(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(call))
}

func (h Handlers) RefreshCall(c *gin.Context) {
	call, err := h.Driver.CheckForUpdates(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(call))
}

func (h Handlers) RegenerateSummary(c *gin.Context) {
	call, err := h.Driver.RegenerateSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(call))
}

func (h Handlers) CloseSession(c *gin.Context) {
	if !h.Driver.Close(c.Param("id")) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not open"})
		return
	}
	c.Status(http.StatusNoContent)
}

// CallEvents returns the audit trail. Provider ids resolve to the local id first.
func (h Handlers) CallEvents(c *gin.Context) {
	call, err := h.Store.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	events := []audit.Event{}
	if h.Audit != nil {
		list, err := h.Audit.ListByCall(c.Request.Context(), call.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		if list != nil {
			events = list
		}
	}
	c.JSON(http.StatusOK, gin.H{"callId": call.ID, "events": events})
}

func (h Handlers) GetStats(c *gin.Context) {
	if h.Stats == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stats not configured"})
		return
	}
	out, err := h.Stats.Current(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Health runs every registered check with a short deadline.
func (h Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Errors ---

func statusFor(err error) int {
	switch {
	case errors.Is(err, calls.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, calls.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, reconcile.ErrSummaryInFlight):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": publicMessage(err)})
}

var sentinels = []error{
	calls.ErrValidation,
	calls.ErrConfiguration,
	calls.ErrProvider,
	calls.ErrGeneration,
	calls.ErrNotFound,
}

// publicMessage drops the taxonomy prefix so clients see the human message.
func publicMessage(err error) string {
	var pe *telephony.ProviderError
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	msg := err.Error()
	for _, s := range sentinels {
		msg = strings.TrimPrefix(msg, s.Error()+": ")
	}
	return msg
}

// providerMessage keeps configuration errors verbatim and prefixes the rest.
func providerMessage(prefix string, err error) string {
	if errors.Is(err, calls.ErrConfiguration) || errors.Is(err, calls.ErrValidation) {
		return publicMessage(err)
	}
	return prefix + ": " + publicMessage(err)
}
