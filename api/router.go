package api

import (
	"github.com/gin-gonic/gin"

	"github.com/fyerfyer/book-rag-chatbot/api/handler"
	"github.com/fyerfyer/book-rag-chatbot/api/middleware"
)

// SetupRouter 设置API路由
// 配置所有的API端点并应用中间件
func SetupRouter(
	sessionHandler *handler.SessionHandler,
	chatHandler *handler.ChatHandler,
) *gin.Engine {
	router := gin.New()

	// 应用全局中间件
	router.Use(middleware.SetTraceID())
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorHandler())

	// 上传PDF并开始后台处理 - POST /upload
	router.POST("/upload", sessionHandler.Upload)

	// 查询会话处理状态 - GET /status/:session_id
	router.GET("/status/:session_id", sessionHandler.Status)

	// 对已索引的文档提问 - POST /chat
	router.POST("/chat", chatHandler.Chat)

	// 清理会话及其关联资源 - POST /cleanup/:session_id
	router.POST("/cleanup/:session_id", sessionHandler.Cleanup)

	// 健康检查API
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	return router
}
