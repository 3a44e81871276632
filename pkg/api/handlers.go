package api

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jdziat/geo-ingest/pkg/core"
	"github.com/jdziat/geo-ingest/pkg/jobctx"
	"github.com/jdziat/geo-ingest/pkg/queue"
	"github.com/jdziat/geo-ingest/pkg/security"
)

// tablePrefix keeps default table names from starting with a digit.
const tablePrefix = "t"

func (s *Server) handleIngest(c *gin.Context) {
	key, err := idempotencyKey(c.GetHeader(IdempotencyHeader))
	if err != nil {
		s.fail(c, err, nil)
		return
	}

	var form IngestForm
	errs := FieldErrors{}
	if err := s.bind(c, &form); err != nil {
		var fe FieldErrors
		if !errors.As(err, &fe) {
			s.fail(c, err, nil)
			return
		}
		errs = fe
	}
	if form.Resource == "" {
		form.Resource = c.PostForm("resource")
	}
	if form.Resource == "" {
		form.Resource = c.Query("resource")
	}
	source, upload := s.resolveResource(c, form.Resource, errs)
	if len(errs) > 0 {
		s.fail(c, errs, nil)
		return
	}

	var workDir string
	if upload != nil {
		source, workDir, err = s.saveUpload(c, upload)
		if err != nil {
			s.fail(c, err, logrus.Fields{"kind": core.KindIngest})
			return
		}
	}

	req := core.IngestRequest{
		Source:   source,
		Schema:   s.schema(form.Schema),
		Table:    form.Table,
		Encoding: form.Encoding,
		CRS:      form.CRS,
		Replace:  form.replace,
		WorkDir:  workDir,
	}
	cleanup := func() {
		if workDir != "" {
			_ = os.RemoveAll(workDir)
		}
	}
	s.run(c, core.KindIngest, key, form.responded, s.ingestOp(req), cleanup, func(comp *core.Completion) any {
		body := gin.H{"type": string(core.ModePrompt)}
		for k, v := range comp.Result {
			body[k] = v
		}
		if comp.RowCount != nil {
			body["length"] = *comp.RowCount
		}
		return body
	})
}

func (s *Server) ingestOp(req core.IngestRequest) core.Operation {
	return func(ctx context.Context) (*core.Outcome, error) {
		r := req
		if r.Table == "" {
			r.Table = tablePrefix + jobctx.TicketFromContext(ctx)
		}
		res, err := s.tables.Ingest(ctx, r)
		if err != nil {
			return nil, err
		}
		rows := res.RowCount
		return &core.Outcome{
			Result:   map[string]any{"schema": res.Schema, "table": res.Table},
			RowCount: &rows,
		}, nil
	}
}

// resolveResource validates the resource field. A path is resolved
// against the input directory; otherwise an uploaded file is required.
func (s *Server) resolveResource(c *gin.Context, resource string, errs FieldErrors) (string, *multipart.FileHeader) {
	if resource != "" {
		if s.inputDir == "" {
			errs.Add("resource", "Field must be an uploaded file.")
			return "", nil
		}
		path, err := security.SafeJoin(s.inputDir, resource)
		if err == nil {
			_, err = os.Stat(path)
		}
		if err != nil {
			errs.Add("resource", "Field must represent a path in the filesystem.")
			return "", nil
		}
		return path, nil
	}
	fh, err := c.FormFile("resource")
	if err != nil {
		errs.Add("resource", "Field is required.")
		return "", nil
	}
	return "", fh
}

// saveUpload stores fh in a fresh directory under the temp dir and
// returns the file path and the directory.
func (s *Server) saveUpload(c *gin.Context, fh *multipart.FileHeader) (string, string, error) {
	dir := filepath.Join(s.tempDir, "ingest", "src", uuid.NewString())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", "", fmt.Errorf("create upload dir: %w", err)
	}
	dst := filepath.Join(dir, uploadName(fh.Filename))
	if err := c.SaveUploadedFile(fh, dst); err != nil {
		_ = os.RemoveAll(dir)
		return "", "", fmt.Errorf("save upload: %w", err)
	}
	return dst, dir, nil
}

// uploadName reduces a client file name to a safe base name.
func uploadName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "upload"
	}
	return name
}

func (s *Server) handlePublish(c *gin.Context) {
	if s.publisher == nil {
		s.fail(c, ErrPublishDisabled, nil)
		return
	}
	key, err := idempotencyKey(c.GetHeader(IdempotencyHeader))
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	var form PublishForm
	if err := s.bind(c, &form); err != nil {
		s.fail(c, err, nil)
		return
	}

	req := core.PublishRequest{
		Schema:    s.schema(form.Schema),
		Table:     form.Table,
		Workspace: form.Workspace,
	}
	s.run(c, core.KindPublish, key, form.responded, s.publishOp(req), nil, func(comp *core.Completion) any {
		return gin.H{"wms": comp.Result["wms"], "wfs": comp.Result["wfs"]}
	})
}

func (s *Server) publishOp(req core.PublishRequest) core.Operation {
	return func(ctx context.Context) (*core.Outcome, error) {
		ok, err := s.tables.TableExists(ctx, req.Schema, req.Table)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &core.TableMissingError{Schema: req.Schema, Table: req.Table}
		}
		res, err := s.publisher.Publish(ctx, req)
		if err != nil {
			return nil, err
		}
		return &core.Outcome{Result: map[string]any{"wms": res.WMS, "wfs": res.WFS}}, nil
	}
}

func (s *Server) handleDrop(c *gin.Context) {
	var form DropForm
	if err := s.bind(c, &form); err != nil {
		s.fail(c, err, nil)
		return
	}
	schema := s.schema(form.Schema)
	if err := s.tables.DropTable(c.Request.Context(), schema, form.Table); err != nil {
		s.fail(c, err, logrus.Fields{"schema": schema, "table": form.Table})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUnpublish(c *gin.Context) {
	if s.publisher == nil {
		s.fail(c, ErrPublishDisabled, nil)
		return
	}
	var form UnpublishForm
	if err := s.bind(c, &form); err != nil {
		s.fail(c, err, nil)
		return
	}
	if err := s.publisher.Unpublish(c.Request.Context(), form.Workspace, form.Table); err != nil {
		s.fail(c, err, logrus.Fields{"workspace": form.Workspace, "layer": form.Table})
		return
	}
	c.Status(http.StatusNoContent)
}

// run dispatches op in the requested mode and writes the response.
// cleanup, when set, runs if op was never started.
func (s *Server) run(c *gin.Context, kind core.RequestKind, key string, mode core.ResponseMode, op core.Operation, cleanup func(), render func(*core.Completion) any) {
	if cleanup == nil {
		cleanup = func() {}
	}
	ctx := c.Request.Context()

	if mode == core.ModeDeferred {
		sess, err := s.dispatch.Defer(ctx, kind, key, op, queue.OnDiscard(cleanup))
		if err != nil {
			fields := logrus.Fields{"kind": kind, "mode": mode}
			if sess != nil {
				fields["ticket"] = sess.Ticket
			}
			s.fail(c, err, fields)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"ticket": sess.Ticket,
			"status": "/status/" + sess.Ticket,
			"type":   string(core.ModeDeferred),
		})
		return
	}

	sess, comp, err := s.dispatch.Prompt(ctx, kind, key, op)
	if err != nil {
		cleanup()
		s.fail(c, err, logrus.Fields{"kind": kind, "mode": mode})
		return
	}
	if !comp.Success {
		err := comp.Err
		if err == nil {
			err = errors.New(comp.ErrorMessage)
		}
		s.fail(c, err, logrus.Fields{"kind": kind, "mode": mode, "ticket": sess.Ticket})
		return
	}
	c.JSON(http.StatusOK, render(comp))
}

func (s *Server) schema(schema string) string {
	if schema == "" {
		return s.defaultSchema
	}
	return schema
}

func (s *Server) handleMissingTicket(c *gin.Context) {
	s.fail(c, core.ErrInvalidTicket, nil)
}

func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.query.Status(c.Request.Context(), c.Param("ticket"))
	if err != nil {
		s.fail(c, err, logrus.Fields{"ticket": c.Param("ticket")})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleResult(c *gin.Context) {
	res, err := s.query.Result(c.Request.Context(), c.Param("ticket"))
	if err != nil {
		s.fail(c, err, logrus.Fields{"ticket": c.Param("ticket")})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleTicketByKey(c *gin.Context) {
	ref, err := s.query.TicketByKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, ref)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.stats.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kinds": stats})
}
