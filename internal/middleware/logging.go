package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"pitaxi/internal/logger"
)

// RequestLogger logs one line per request.
func RequestLogger(log logger.ILogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
		}
		if id := UserID(c); id != "" {
			fields = append(fields, logger.String("user_id", id))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			if len(c.Errors) > 0 {
				fields = append(fields, logger.Error(c.Errors.Last().Err))
			}
			log.Error("request failed", fields...)
		case status >= 400:
			log.Warning("request rejected", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}
