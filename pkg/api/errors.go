package api

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/jdziat/geo-ingest/pkg/core"
	"github.com/jdziat/geo-ingest/pkg/security"
)

// ErrPublishDisabled is returned by the publish routes when no map server
// is configured.
var ErrPublishDisabled = errors.New("ingest: publishing is not configured")

// statusFor maps an error to its HTTP status and response body. Unknown
// errors map to a generic 500 body.
func statusFor(err error) (int, any) {
	var (
		fields     FieldErrors
		schemaMiss *core.SchemaMissingError
		privilege  *core.InsufficientPrivilegeError
		format     *core.FormatError
		exists     *core.TableExistsError
		missing    *core.TableMissingError
		dependent  *core.DependentObjectsError
	)
	switch {
	case errors.As(err, &fields):
		return http.StatusBadRequest, fields
	case errors.Is(err, core.ErrDuplicateIdempotencyKey),
		errors.Is(err, core.ErrIdempotencyKeyTooLong),
		errors.Is(err, core.ErrInvalidIdempotencyKey):
		return http.StatusBadRequest, fieldError(IdempotencyHeader, keyMessage(err))
	case errors.As(err, &schemaMiss):
		return http.StatusBadRequest, fieldError("schema", err.Error())
	case errors.As(err, &privilege):
		return http.StatusForbidden, fieldError("schema", err.Error())
	case errors.As(err, &format):
		return http.StatusBadRequest, fieldError("resource", formatMessage(format))
	case errors.As(err, &exists):
		return http.StatusBadRequest, fieldError("tablename", err.Error())
	case errors.As(err, &missing):
		return http.StatusBadRequest, fieldError("table", err.Error())
	case errors.As(err, &dependent):
		return http.StatusBadRequest, fieldError("table", err.Error())
	case errors.Is(err, core.ErrInvalidTicket):
		return http.StatusBadRequest, gin.H{"error": "Ticket is missing."}
	case errors.Is(err, core.ErrTicketNotFound):
		return http.StatusNotFound, gin.H{"error": "Not found."}
	case errors.Is(err, core.ErrWorkerStopped), errors.Is(err, core.ErrQueueFull):
		return http.StatusServiceUnavailable, gin.H{"error": "Deferred execution is unavailable."}
	case errors.Is(err, ErrPublishDisabled):
		return http.StatusServiceUnavailable, gin.H{"error": "Publishing is not configured."}
	default:
		return http.StatusInternalServerError, gin.H{"error": "Internal server error."}
	}
}

// formatMessage renders a reader failure for the client. Server-side
// directories are cut from the cause; file names stay.
func formatMessage(fe *core.FormatError) string {
	msg := "unknown error"
	if fe.Err != nil {
		msg = fe.Err.Error()
	}
	if fe.Path != "" {
		msg = strings.ReplaceAll(msg, fe.Path, filepath.Base(fe.Path))
		msg = strings.ReplaceAll(msg, filepath.Dir(fe.Path)+string(filepath.Separator), "")
	}
	return security.SanitizeErrorMessage("Unreadable vector source: " + msg)
}

// fail writes the response for err. Server errors are logged with the
// request's fields and attached to the gin context.
func (s *Server) fail(c *gin.Context, err error, fields logrus.Fields) {
	status, body := statusFor(err)
	var format *core.FormatError
	switch {
	case status >= http.StatusInternalServerError:
		_ = c.Error(err)
		s.logger.WithFields(fields).WithError(err).Error("request failed")
	case errors.As(err, &format):
		s.logger.WithFields(fields).WithField("path", format.Path).WithError(format.Err).Warn("unreadable vector source")
	}
	if fields != nil {
		if ticket, ok := fields["ticket"].(string); ok && ticket != "" {
			if h, ok := body.(gin.H); ok {
				h["ticket"] = ticket
			}
		}
	}
	c.AbortWithStatusJSON(status, body)
}
