package middleware

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pitaxi/internal/logger"
	"pitaxi/internal/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
	inFlightTTL       = 2 * time.Minute
)

// responseWriter wraps gin.ResponseWriter to capture the response.
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response for a repeated POST that
// carries the same Idempotency-Key. Keys are scoped to the caller and route.
// A key whose first request is still running gets 409.
func IdempotencyMiddleware(store redis.IdempotencyStoreInterface, log logger.ILogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		key := c.GetHeader(idempotencyHeader)
		if key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		scoped := UserID(c) + ":" + c.Request.Method + ":" + c.Request.URL.Path + ":" + key

		reserved, err := store.ReserveIdempotencyKey(ctx, scoped, inFlightTTL)
		if err != nil {
			// Redis unavailable: serve without replay protection.
			log.Warning("idempotency reserve failed", logger.Error(err))
			c.Next()
			return
		}

		if !reserved {
			cached, err := store.GetIdempotentResponse(ctx, scoped)
			if err != nil {
				log.Warning("idempotency lookup failed", logger.Error(err))
			}
			if cached != nil {
				c.Header("Idempotent-Replay", "true")
				c.Data(cached.Status, "application/json; charset=utf-8", cached.Body)
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request with this idempotency key is in progress"})
			return
		}

		w := &responseWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
		}
		c.Writer = w

		c.Next()

		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			if err := store.ReleaseIdempotencyKey(ctx, scoped); err != nil {
				log.Warning("idempotency release failed", logger.Error(err))
			}
			return
		}

		resp := redis.CachedResponse{Status: status, Body: w.body.Bytes()}
		if err := store.StoreIdempotentResponse(ctx, scoped, resp, idempotencyTTL); err != nil {
			log.Warning("idempotency store failed", logger.Error(err))
		}
	}
}
