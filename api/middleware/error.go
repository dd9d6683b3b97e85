package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/book-rag-chatbot/api/model"
)

// AppError 携带HTTP状态码的应用错误
type AppError struct {
	Code    int    // HTTP状态码
	Message string // 错误消息
}

// Error 实现error接口
func (e AppError) Error() string {
	return e.Message
}

// NewValidationError 创建输入验证错误
func NewValidationError(message string) AppError {
	return AppError{Code: http.StatusBadRequest, Message: message}
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) AppError {
	return AppError{Code: http.StatusNotFound, Message: message}
}

// NewInternalError 创建内部服务器错误
func NewInternalError(message string) AppError {
	return AppError{Code: http.StatusInternalServerError, Message: message}
}

// ErrorHandler 统一错误处理中间件
// 捕获panic并将处理器挂载的错误转换为统一的错误响应
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					"error":    r,
					"stack":    string(debug.Stack()),
					"path":     c.Request.URL.Path,
					"trace_id": c.GetString(TraceIDKey),
				}).Error("Panic recovered in API request")

				resp := model.NewErrorResponse("An unexpected error occurred")
				resp.TraceID = c.GetString(TraceIDKey)
				if gin.Mode() == gin.DebugMode {
					resp.Error = fmt.Sprintf("panic: %v", r)
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, resp)
			}
		}()

		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		traceID := c.GetString(TraceIDKey)

		status := http.StatusInternalServerError
		message := "Internal server error"

		switch e := err.(type) {
		case AppError:
			status = e.Code
			message = e.Message
		case *AppError:
			status = e.Code
			message = e.Message
		default:
			if gin.Mode() == gin.DebugMode {
				message = err.Error()
			}
		}

		log.WithFields(logrus.Fields{
			"status":   status,
			"trace_id": traceID,
			"path":     c.Request.URL.Path,
		}).Error(err.Error())

		resp := model.NewErrorResponse(message)
		resp.TraceID = traceID
		c.AbortWithStatusJSON(status, resp)
	}
}

// HandleError 在处理器中使用的错误处理辅助函数
func HandleError(c *gin.Context, err error) {
	_ = c.Error(err)
}
