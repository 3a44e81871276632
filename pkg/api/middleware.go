package api

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jdziat/geo-ingest/pkg/logging"
)

// CorrelationHeader is echoed on every response.
const CorrelationHeader = "X-Correlation-Id"

const maxCorrelationIDLength = 128

// CorrelationID echoes the client's correlation id or generates one.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(CorrelationHeader)
		if cid == "" || len(cid) > maxCorrelationIDLength {
			cid = uuid.NewString()
		}
		c.Set(logging.CorrelationIDKey, cid)
		c.Header(CorrelationHeader, cid)
		c.Next()
	}
}
