// Package coerce turns a raw response body into the representation the caller
// asked for.
package coerce

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"
)

// Format names the representation requested for a response body.
type Format string

// Supported formats.
const (
	HTML Format = "html"
	XML  Format = "xml"
	JSON Format = "json"
	Raw  Format = "raw"
)

// ParseFormat lowercases s. An empty string means HTML.
func ParseFormat(s string) Format {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return HTML
	}
	return Format(s)
}

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	switch f {
	case HTML, XML, JSON, Raw:
		return true
	}
	return false
}

// CoercionError reports a body that does not parse as its declared format.
type CoercionError struct {
	Format Format
	Err    error
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("coerce %s: %v", e.Format, e.Err)
}

func (e *CoercionError) Unwrap() error {
	return e.Err
}

// Coerce converts body according to f.
//
//	html -> *goquery.Document
//	xml  -> *xmlquery.Node
//	json -> any (objects as map[string]any)
//	raw  -> string
//
// Any other format yields nil without an error.
func Coerce(body []byte, f Format) (any, error) {
	switch f {
	case HTML:
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, &CoercionError{Format: f, Err: err}
		}
		return doc, nil
	case XML:
		node, err := xmlquery.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, &CoercionError{Format: f, Err: err}
		}
		return node, nil
	case JSON:
		var out any
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, &CoercionError{Format: f, Err: err}
		}
		return out, nil
	case Raw:
		return string(body), nil
	default:
		return nil, nil
	}
}

// Render turns a coerced value back into text suitable for a JSON response.
// Documents become their serialized markup; other values pass through.
func Render(v any) (any, error) {
	switch doc := v.(type) {
	case *goquery.Document:
		html, err := doc.Html()
		if err != nil {
			return nil, fmt.Errorf("render html: %w", err)
		}
		return html, nil
	case *xmlquery.Node:
		return doc.OutputXML(true), nil
	default:
		return v, nil
	}
}
