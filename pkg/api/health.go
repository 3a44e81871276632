package api

import (
	"context"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

func defaultTempDir() string {
	return os.TempDir()
}

// checkWritable creates and removes a file in dir.
func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}

// handleHealth reports the first failing check. It always answers 200.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.healthTimeout)
	defer cancel()

	if err := checkWritable(s.tempDir); err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "FAILED", "reason": "temp directory not writable", "detail": err.Error()})
		return
	}
	for _, hc := range s.checks {
		if err := hc.Check(ctx); err != nil {
			s.logger.WithError(err).WithField("reason", hc.Reason).Warn("health check failed")
			c.JSON(http.StatusOK, gin.H{"status": "FAILED", "reason": hc.Reason, "detail": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}
