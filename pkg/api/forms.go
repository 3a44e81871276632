package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jdziat/geo-ingest/pkg/core"
)

// IngestForm is the body of POST /ingest. Resource is a path relative to
// the input directory; an uploaded file under the same name takes its place.
// Resource is not form-bound because a multipart file shares its key.
type IngestForm struct {
	Resource  string `form:"-" json:"resource"`
	Response  string `form:"response" json:"response" validate:"response"`
	Table     string `form:"tablename" json:"tablename" validate:"omitempty,ident"`
	Schema    string `form:"schema" json:"schema" validate:"omitempty,ident"`
	Replace   string `form:"replace" json:"replace" validate:"omitempty,boolean"`
	Encoding  string `form:"encoding" json:"encoding" validate:"omitempty,encoding"`
	CRS       string `form:"crs" json:"crs" validate:"omitempty,crs"`
	replace   bool
	responded core.ResponseMode
}

// PublishForm is the body of POST /publish.
type PublishForm struct {
	Table     string `form:"table" json:"table" validate:"required,ident"`
	Schema    string `form:"schema" json:"schema" validate:"omitempty,ident"`
	Workspace string `form:"workspace" json:"workspace" validate:"omitempty,ident"`
	Response  string `form:"response" json:"response" validate:"response"`
	responded core.ResponseMode
}

// DropForm is the body of DELETE /ingest.
type DropForm struct {
	Table  string `form:"table" json:"table" validate:"required,ident"`
	Schema string `form:"schema" json:"schema" validate:"omitempty,ident"`
}

// UnpublishForm is the body of DELETE /publish.
type UnpublishForm struct {
	Table     string `form:"table" json:"table" validate:"required,ident"`
	Workspace string `form:"workspace" json:"workspace" validate:"omitempty,ident"`
}

func (f *IngestForm) defaults() {
	if f.Response == "" {
		f.Response = string(core.ModePrompt)
	}
	if f.Encoding == "" {
		f.Encoding = "utf-8"
	}
}

func (f *IngestForm) finish() {
	f.responded = core.ResponseMode(f.Response)
	f.replace, _ = strconv.ParseBool(f.Replace)
}

func (f *PublishForm) defaults() {
	if f.Response == "" {
		f.Response = string(core.ModePrompt)
	}
}

func (f *PublishForm) finish() {
	f.responded = core.ResponseMode(f.Response)
}

type defaulter interface {
	defaults()
}

type finisher interface {
	finish()
}

// bind decodes the request into form, fills defaults and validates it.
// Query parameters and url-encoded, multipart or JSON bodies are accepted.
func (s *Server) bind(c *gin.Context, form any) error {
	if err := c.ShouldBind(form); err != nil {
		return fieldError("body", "Request could not be decoded: "+err.Error())
	}
	if d, ok := form.(defaulter); ok {
		d.defaults()
	}
	if err := s.validateForm(form); err != nil {
		return err
	}
	if f, ok := form.(finisher); ok {
		f.finish()
	}
	return nil
}
