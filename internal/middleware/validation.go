package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/ajg/form"
	"github.com/go-playground/validator/v10"

	apierrors "wrdspanel/internal/errors"
)

// DefaultMaxBodySize bounds request bodies read by Binder.
const DefaultMaxBodySize = 1 << 20

// Binder decodes request bodies and query strings into request structs
// and validates them.
type Binder struct {
	validate    *validator.Validate
	maxBodySize int64
}

// NewBinder creates a binder. Field names in errors use the json or form
// tag of the field.
func NewBinder() *Binder {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})
	return &Binder{validate: v, maxBodySize: DefaultMaxBodySize}
}

// DecodeJSON reads a JSON body into v and validates it. An empty body
// leaves v at its zero value.
func (b *Binder) DecodeJSON(r *http.Request, v any) error {
	if r.Body != nil && r.ContentLength != 0 {
		if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
			return apierrors.NewWithDetails(http.StatusUnsupportedMediaType, apierrors.CodeInvalidRequest,
				"Unsupported content type", map[string]any{"content_type": ct, "allowed": "application/json"})
		}
		dec := json.NewDecoder(io.LimitReader(r.Body, b.maxBodySize))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
			return apierrors.InvalidRequest(err)
		}
	}
	return b.Validate(v)
}

// BindQuery decodes the URL query into v using its form tags and
// validates it.
func (b *Binder) BindQuery(r *http.Request, v any) error {
	dec := form.NewDecoder(nil)
	dec.IgnoreUnknownKeys(true)
	if err := dec.DecodeValues(v, r.URL.Query()); err != nil {
		return apierrors.InvalidRequest(fmt.Errorf("query: %w", err))
	}
	return b.Validate(v)
}

// Validate runs the struct's validate tags.
func (b *Binder) Validate(v any) error {
	if err := b.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return apierrors.NewValidationErrors(apierrors.FieldErrors(verrs))
		}
		return apierrors.InvalidRequest(err)
	}
	return nil
}
