// Package handlers adapts the Conversation Agent's methods to gin (spec
// §6). Grounded on the teacher's internal/http/handlers request-binding +
// response.RespondOK/RespondError shape.
package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nwbconvert/orchestrator/internal/agents/conversation"
	"github.com/nwbconvert/orchestrator/internal/data"
	"github.com/nwbconvert/orchestrator/internal/domain"
	"github.com/nwbconvert/orchestrator/internal/http/response"
	"github.com/nwbconvert/orchestrator/internal/platform/apierr"
	apperrors "github.com/nwbconvert/orchestrator/internal/platform/apperrors"
	"github.com/nwbconvert/orchestrator/internal/platform/logger"
	"github.com/nwbconvert/orchestrator/internal/platform/storage"
)

// ConversationHandler exposes the Conversation Agent's operations over
// HTTP (spec §6).
type ConversationHandler struct {
	log     *logger.Logger
	agent   *conversation.Agent
	state   *domain.WorkflowState
	store   storage.Store
	session data.SessionRepo
}

func NewConversationHandler(log *logger.Logger, agent *conversation.Agent, state *domain.WorkflowState, store storage.Store, session data.SessionRepo) *ConversationHandler {
	return &ConversationHandler{log: log.With("component", "handler.conversation"), agent: agent, state: state, store: store, session: session}
}

// Upload handles POST /api/upload: stages the file and resets session
// state (spec §4.4, §6).
func (h *ConversationHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.RespondErr(c, apierr.New(http.StatusBadRequest, "missing_file", err))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		response.RespondErr(c, apierr.New(http.StatusBadRequest, "unreadable_file", err))
		return
	}
	defer f.Close()

	localPath, size, checksum, err := h.store.SaveUpload(c.Request.Context(), fileHeader.Filename, f)
	if err != nil {
		response.RespondErr(c, apierr.New(http.StatusInternalServerError, "upload_failed", err))
		return
	}

	result, err := h.agent.OnUpload(c.Request.Context(), localPath, checksum, size)
	if err != nil {
		response.RespondErr(c, apierr.New(http.StatusInternalServerError, "upload_failed", err))
		return
	}
	h.persistAsync(c)
	response.RespondOK(c, result)
}

// StartConversion handles POST /api/start-conversion (spec §4.4, §6).
func (h *ConversationHandler) StartConversion(c *gin.Context) {
	result, err := h.agent.OnStartConversion(c.Request.Context())
	if err != nil {
		response.RespondErr(c, apierr.New(http.StatusBadRequest, "start_conversion_failed", err))
		return
	}
	h.persistAsync(c)
	response.RespondOK(c, result)
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

// Chat handles POST /api/chat (spec §4.4-§4.7, §6).
func (h *ConversationHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondErr(c, apierr.New(http.StatusBadRequest, "invalid_request", err))
		return
	}
	result, err := h.agent.OnChat(c.Request.Context(), req.Message)
	if err != nil {
		response.RespondErr(c, apierr.New(http.StatusInternalServerError, "chat_failed", err))
		return
	}
	h.persistAsync(c)
	response.RespondOK(c, result)
}

// ChatSmart handles POST /api/chat/smart (spec §6, §12 supplement 4).
func (h *ConversationHandler) ChatSmart(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondErr(c, apierr.New(http.StatusBadRequest, "invalid_request", err))
		return
	}
	result, err := h.agent.OnSmartChat(c.Request.Context(), req.Message)
	if err != nil {
		response.RespondErr(c, apierr.New(http.StatusInternalServerError, "chat_failed", err))
		return
	}
	response.RespondOK(c, result)
}

type improvementDecisionRequest struct {
	Decision string `json:"decision" binding:"required"`
}

// ImprovementDecision handles POST /api/improvement-decision (spec §4.7,
// §6).
func (h *ConversationHandler) ImprovementDecision(c *gin.Context) {
	var req improvementDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondErr(c, apierr.New(http.StatusBadRequest, "invalid_request", err))
		return
	}
	result, err := h.agent.OnImprovementDecision(c.Request.Context(), req.Decision)
	if err != nil {
		response.RespondErr(c, apierr.New(http.StatusBadRequest, "improvement_decision_failed", err))
		return
	}
	h.persistAsync(c)
	response.RespondOK(c, result)
}

// Status handles GET /api/status: the full WorkflowState snapshot (spec
// §6 "Persisted state").
func (h *ConversationHandler) Status(c *gin.Context) {
	response.RespondOK(c, h.state.Snapshot())
}

// Reset handles POST /api/reset: clears derived state so a new upload can
// begin (spec §3.3, §6).
func (h *ConversationHandler) Reset(c *gin.Context) {
	h.state.Lock()
	h.state.Reset("")
	h.state.Unlock()
	h.persistAsync(c)
	response.RespondOK(c, gin.H{"status": "reset"})
}

// DownloadNWB handles GET /api/download/nwb (spec §6).
func (h *ConversationHandler) DownloadNWB(c *gin.Context) {
	h.downloadReportPath(c, func() string { return h.state.ReportPaths.NWBPath })
}

// DownloadReport handles GET /api/download/report (spec §6): serves the
// PDF evaluation report when validation passed (with or without issues),
// or the plain-text inspection report when it failed.
func (h *ConversationHandler) DownloadReport(c *gin.Context) {
	h.downloadReportPath(c, func() string {
		if h.state.ReportPaths.PDFPath != "" {
			return h.state.ReportPaths.PDFPath
		}
		return h.state.ReportPaths.TextPath
	})
}

func (h *ConversationHandler) downloadReportPath(c *gin.Context, pick func() string) {
	h.state.Lock()
	path := pick()
	h.state.Unlock()
	if path == "" {
		response.RespondErr(c, apierr.New(http.StatusNotFound, "not_found", fmt.Errorf("no report available yet: %w", apperrors.ErrNotFound)))
		return
	}
	f, err := h.store.Open(c.Request.Context(), path)
	if err != nil {
		response.RespondErr(c, apierr.New(http.StatusNotFound, "not_found", fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)))
		return
	}
	defer f.Close()
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, f)
}

// persistAsync writes the current snapshot to the session repo, logging
// (not failing the request) on error — persistence is durability for
// later inspection, not a precondition for serving the response (spec §12
// supplement 2).
func (h *ConversationHandler) persistAsync(c *gin.Context) {
	if h.session == nil {
		return
	}
	h.state.Lock()
	snapshot := h.state.Snapshot()
	h.state.Unlock()
	if err := h.session.Upsert(c.Request.Context(), nil, &snapshot); err != nil {
		h.log.Warn("session persistence failed", "error", err)
	}
}
