// Package response writes the JSON envelope shared by every HTTP endpoint.
package response

import (
	"net/http"

	"coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the envelope. Code is errors.Success on success.
type Response struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    interface{}      `json:"data,omitempty"`
	Details interface{}      `json:"details,omitempty"`
	TraceID string           `json:"trace_id,omitempty"`
}

// Success writes a 200 with data.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    errors.Success,
		Message: errors.Success.Message(),
		Data:    data,
		TraceID: traceID(c),
	})
}

// Error writes err with the status its code maps to. 5xx responses are
// logged at error level with the stack, everything else at warn.
func Error(c *gin.Context, err error) {
	e := errors.GetError(err)
	status := e.Code.HTTPStatus()

	ctx := c.Request.Context()
	fields := []zap.Field{
		zap.Int("code", int(e.Code)),
		zap.String("message", e.Error()),
	}
	if len(e.Details) > 0 {
		fields = append(fields, zap.Any("details", e.Details))
	}
	if status >= http.StatusInternalServerError {
		logger.Error(ctx, "request failed", append(fields, zap.String("stack", e.Stack))...)
	} else {
		logger.Warn(ctx, "request rejected", fields...)
	}

	resp := Response{Code: e.Code, Message: e.Error(), TraceID: traceID(c)}
	if len(e.Details) > 0 {
		resp.Details = e.Details
	}
	c.JSON(status, resp)
}

// BadRequest writes a 400 InvalidParams with message.
func BadRequest(c *gin.Context, message string) {
	Error(c, errors.BadRequest(message))
}

func traceID(c *gin.Context) string {
	return c.GetString("trace_id")
}
