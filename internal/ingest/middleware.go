package ingest

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/taxops/go-clearflow/protocol"
)

// RequestLogger logs one line per request with the correlation id.
// Bodies are never logged; they may hold unmasked submissions.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("[ingest] %s %s -> %d in %s corr=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(),
			time.Since(start).Round(time.Millisecond),
			c.GetHeader(protocol.HeaderRequestID))
	}
}
