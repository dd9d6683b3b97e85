package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/book-rag-chatbot/api/model"
	"github.com/fyerfyer/book-rag-chatbot/internal/services"
	"github.com/fyerfyer/book-rag-chatbot/internal/session"
	"github.com/fyerfyer/book-rag-chatbot/pkg/storage"
)

// IngestSubmitter 入库任务的提交入口
// 由进程内工作池或分布式任务队列实现
type IngestSubmitter interface {
	Submit(sessionID string, storageKey string) error
}

// statusMessages 各状态对应的用户可读说明
var statusMessages = map[session.Status]string{
	session.StatusInitialized: "Waiting to start",
	session.StatusLoading:     "Loading PDF",
	session.StatusChunking:    "Splitting document into chunks",
	session.StatusEmbedding:   "Indexing document",
	session.StatusFinalizing:  "Verifying index",
	session.StatusReady:       "Ready to chat",
	session.StatusError:       "Processing failed",
}

// SessionHandler 会话生命周期接口处理器
type SessionHandler struct {
	sessions  *session.Manager
	files     storage.Storage
	pipeline  *services.Pipeline
	submitter IngestSubmitter
	logger    *logrus.Logger
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(
	sessions *session.Manager,
	files storage.Storage,
	pipeline *services.Pipeline,
	submitter IngestSubmitter,
	logger *logrus.Logger,
) *SessionHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &SessionHandler{
		sessions:  sessions,
		files:     files,
		pipeline:  pipeline,
		submitter: submitter,
		logger:    logger,
	}
}

// Upload 处理PDF上传 - POST /upload
// 校验通过后创建会话并提交后台入库任务，立即返回会话ID
func (h *SessionHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("pdf")
	if err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse("No PDF file provided"))
		return
	}
	defer file.Close()

	// 校验失败时不能创建会话
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse("Only PDF files are supported"))
		return
	}

	key, err := h.files.Save(c.Request.Context(), header.Filename, file, header.Size)
	if err != nil {
		h.logger.WithError(err).Error("Failed to store uploaded file")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse("Failed to store uploaded file"))
		return
	}

	sess, err := h.sessions.Create(c.Request.Context(), header.Filename)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create session")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse("Failed to create session"))
		return
	}

	if err := h.submitter.Submit(sess.ID, key); err != nil {
		h.logger.WithError(err).WithField("session_id", sess.ID).
			Error("Failed to submit ingest task")
		h.sessions.Fail(c.Request.Context(), sess.ID, "failed to schedule processing")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse("Failed to start processing"))
		return
	}

	c.JSON(http.StatusOK, model.UploadResponse{
		SessionID: sess.ID,
		Status:    "processing_started",
	})
}

// Status 查询会话处理状态 - GET /status/:session_id
func (h *SessionHandler) Status(c *gin.Context) {
	sess, err := h.sessions.Get(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse("Session not found"))
			return
		}
		h.logger.WithError(err).Error("Failed to load session")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse("Failed to load session"))
		return
	}

	resp := model.StatusResponse{
		SessionID: sess.ID,
		Status:    string(sess.Status),
		Progress:  sess.Progress,
		Message:   statusMessages[sess.Status],
		Pages:     sess.Stats.Pages,
		Chunks:    sess.Stats.Chunks,
	}
	if sess.Status == session.StatusError {
		resp.Error = &sess.Error
	}

	c.JSON(http.StatusOK, resp)
}

// Cleanup 清理会话及其关联资源 - POST /cleanup/:session_id
// 会话不存在时返回404，重复清理第二次会得到404
func (h *SessionHandler) Cleanup(c *gin.Context) {
	id := c.Param("session_id")

	if _, err := h.sessions.Get(c.Request.Context(), id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse("Session not found"))
			return
		}
		h.logger.WithError(err).Error("Failed to load session")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse("Failed to load session"))
		return
	}

	if err := h.pipeline.Cleanup(c.Request.Context(), id); err != nil {
		h.logger.WithError(err).WithField("session_id", id).Error("Failed to clean up session")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse("Failed to clean up session"))
		return
	}

	c.JSON(http.StatusOK, model.CleanupResponse{Status: "cleaned"})
}
