package api

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jdziat/geo-ingest/pkg/core"
	"github.com/jdziat/geo-ingest/pkg/geo"
	"github.com/jdziat/geo-ingest/pkg/security"
)

// IdempotencyHeader carries the optional client idempotency key.
const IdempotencyHeader = "X-Idempotency-Key"

// FieldErrors maps a request field to its validation messages. It is
// rendered as the body of a 400 response.
type FieldErrors map[string][]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e[k], " ")))
	}
	return strings.Join(parts, "; ")
}

// Add appends msg to the messages of field.
func (e FieldErrors) Add(field, msg string) {
	e[field] = append(e[field], msg)
}

func fieldError(field, msg string) FieldErrors {
	return FieldErrors{field: {msg}}
}

var messages = map[string]string{
	"required": "Field is required.",
	"response": "Field must be one of [prompt, deferred].",
	"encoding": "Field must be a valid encoding.",
	"crs":      "Field must be a valid CRS.",
	"ident":    "Field must start with a letter or underscore and contain only letters, digits and underscores.",
	"boolean":  "Field must be boolean.",
	"max":      "Field is too long.",
}

// newValidator builds the form validator with the service's custom tags.
// Field errors are keyed by the form name of the field.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("form"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	must(v.RegisterValidation("response", func(fl validator.FieldLevel) bool {
		m := core.ResponseMode(fl.Field().String())
		return m == core.ModePrompt || m == core.ModeDeferred
	}))
	must(v.RegisterValidation("encoding", func(fl validator.FieldLevel) bool {
		_, err := geo.LookupEncoding(fl.Field().String())
		return err == nil
	}))
	must(v.RegisterValidation("crs", func(fl validator.FieldLevel) bool {
		_, err := geo.ParseCRS(fl.Field().String())
		return err == nil
	}))
	must(v.RegisterValidation("ident", func(fl validator.FieldLevel) bool {
		return security.ValidateIdentifier(fl.Field().String()) == nil
	}))
	return v
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// validateForm runs the struct validation and aggregates every failure.
func (s *Server) validateForm(form any) error {
	err := s.validate.Struct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := FieldErrors{}
	for _, fe := range verrs {
		msg, ok := messages[fe.Tag()]
		if !ok {
			msg = fmt.Sprintf("Field failed the %q check.", fe.Tag())
		}
		out.Add(fe.Field(), msg)
	}
	return out
}

// idempotencyKey reads and validates the idempotency header.
func idempotencyKey(header string) (string, error) {
	key := strings.TrimSpace(header)
	if err := security.ValidateIdempotencyKey(key); err != nil {
		return "", fieldError(IdempotencyHeader, keyMessage(err))
	}
	return key, nil
}

func keyMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrIdempotencyKeyTooLong):
		return fmt.Sprintf("Key must not exceed %d characters.", security.MaxIdempotencyKeyLength)
	case errors.Is(err, core.ErrInvalidIdempotencyKey):
		return "Key must contain printable characters only."
	default:
		return "Key must be unique."
	}
}
