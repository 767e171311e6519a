// Package handler 提供 HTTP 请求处理器
package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"immigration-qa-api/internal/application/pipeline"
	"immigration-qa-api/internal/interfaces/http/dto"
	"immigration-qa-api/pkg/logger"
)

// ChatHandler 问答处理器
type ChatHandler struct {
	orchestrator *pipeline.Orchestrator
}

// NewChatHandler 创建问答处理器
func NewChatHandler(orchestrator *pipeline.Orchestrator) *ChatHandler {
	return &ChatHandler{orchestrator: orchestrator}
}

// Chat 问答接口
// @Summary 知识库问答
// @Description 基于知识库检索和会话历史生成回答
// @Tags Chat
// @Accept json
// @Produce json
// @Param request body dto.ChatRequest true "问答请求"
// @Success 200 {object} dto.ChatResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Failure 504 {object} dto.ErrorResponse
// @Router /v1/chat [post]
func (h *ChatHandler) Chat(c *gin.Context) {
	var req dto.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		dto.BadRequest(c, "query must not be empty")
		return
	}

	result, err := h.orchestrator.Execute(c.Request.Context(), pipeline.QueryContext{
		Query:     req.Query,
		K:         req.K,
		UseFacet:  req.UseFacet,
		UseRerank: req.UseRerank,
		SessionID: req.SessionID,
	})
	if err != nil {
		logger.Error(c.Request.Context(), "chat pipeline failed", err,
			"session_id", req.SessionID,
		)
		dto.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ChatResponse{
		Answer:        result.Answer,
		Thinking:      result.Thinking,
		SessionID:     result.SessionID,
		HistoryLength: result.HistoryLength,
		Sources:       dto.NewSourceRefs(result.Passages),
		Timings:       result.Timings,
	})
}
