package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/book-rag-chatbot/api/model"
	"github.com/fyerfyer/book-rag-chatbot/internal/services"
	"github.com/fyerfyer/book-rag-chatbot/internal/session"
)

// ChatHandler 问答接口处理器
type ChatHandler struct {
	chat   *services.ChatService
	logger *logrus.Logger
}

// NewChatHandler 创建问答处理器
func NewChatHandler(chat *services.ChatService, logger *logrus.Logger) *ChatHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &ChatHandler{
		chat:   chat,
		logger: logger,
	}
}

// Chat 对已索引的文档提问 - POST /chat
// 只有就绪状态的会话可以提问
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse("session_id and question are required"))
		return
	}

	answer, err := h.chat.Ask(c.Request.Context(), req.SessionID, req.Question)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, model.NewErrorResponse("Session not found"))
		case errors.Is(err, session.ErrSessionNotReady):
			c.JSON(http.StatusBadRequest, model.NewErrorResponse("Document is still processing, please try again later"))
		default:
			h.logger.WithError(err).WithField("session_id", req.SessionID).
				Error("Failed to answer question")
			c.JSON(http.StatusInternalServerError, model.NewErrorResponse("Failed to generate answer"))
		}
		return
	}

	resp := model.ChatResponse{Answer: answer.Text}
	for _, source := range answer.Sources {
		resp.Sources = append(resp.Sources, model.SourceItem{
			Page: source.Page,
			Text: source.Text,
		})
	}

	c.JSON(http.StatusOK, resp)
}
