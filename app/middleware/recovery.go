package middleware

import (
	"errors"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"syscall"

	"gpuindex/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Recovery turns a handler panic into a 500 carrying the request's trace id.
// Panics caused by a vanished client are logged and the connection dropped.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			ctx := c.Request.Context()
			stack := debug.Stack()

			if brokenPipe(rec) {
				logger.WarnCtx(ctx, "client went away during %s %s: %v", c.Request.Method, c.Request.URL.Path, rec)
				c.Abort()
				return
			}

			logger.ErrorCtx(ctx, "panic in %s %s: %v\n%s", c.Request.Method, c.Request.URL.Path, rec, stack)
			body := gin.H{"error": "internal server error", "trace_id": logger.TraceID(ctx)}
			if gin.Mode() == gin.DebugMode {
				body["panic"] = rec
				body["stack"] = string(stack)
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, body)
		}()

		c.Next()
	}
}

func brokenPipe(rec interface{}) bool {
	err, ok := rec.(error)
	if !ok {
		return false
	}
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return false
	}
	var sysErr *os.SyscallError
	if errors.As(opErr, &sysErr) {
		return errors.Is(sysErr.Err, syscall.EPIPE) || errors.Is(sysErr.Err, syscall.ECONNRESET)
	}
	return false
}
