package coerce

import (
	"errors"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"
	"github.com/stretchr/testify/require"
)

func TestCoerceJSONObject(t *testing.T) {
	t.Parallel()

	got, err := Coerce([]byte(`{"a":1}`), JSON)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": float64(1)}, got)
}

func TestCoerceJSONMalformed(t *testing.T) {
	t.Parallel()

	got, err := Coerce([]byte(`{"a":`), JSON)
	require.Nil(t, got)
	var coerceErr *CoercionError
	require.True(t, errors.As(err, &coerceErr))
	require.Equal(t, JSON, coerceErr.Format)
}

func TestCoerceHTML(t *testing.T) {
	t.Parallel()

	got, err := Coerce([]byte(`<html><body><h1 class="t">Hello</h1></body></html>`), HTML)
	require.NoError(t, err)
	doc, ok := got.(*goquery.Document)
	require.True(t, ok)
	require.Equal(t, "Hello", doc.Find("h1.t").Text())
}

func TestCoerceXML(t *testing.T) {
	t.Parallel()

	got, err := Coerce([]byte(`<?xml version="1.0"?><feed><item>one</item><item>two</item></feed>`), XML)
	require.NoError(t, err)
	node, ok := got.(*xmlquery.Node)
	require.True(t, ok)
	require.Len(t, xmlquery.Find(node, "//item"), 2)
}

func TestCoerceRawAndUnknown(t *testing.T) {
	t.Parallel()

	got, err := Coerce([]byte("plain"), Raw)
	require.NoError(t, err)
	require.Equal(t, "plain", got)

	got, err = Coerce([]byte("plain"), Format("yaml"))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	require.Equal(t, HTML, ParseFormat(""))
	require.Equal(t, JSON, ParseFormat(" JSON "))
	require.Equal(t, Format("other"), ParseFormat("other"))
	require.True(t, ParseFormat("Raw").Valid())
	require.False(t, ParseFormat("other").Valid())
}

func TestRenderDocuments(t *testing.T) {
	t.Parallel()

	v, err := Coerce([]byte(`<p>hi</p>`), HTML)
	require.NoError(t, err)
	out, err := Render(v)
	require.NoError(t, err)
	require.Contains(t, out, "<p>hi</p>")

	out, err = Render(map[string]any{"a": 1})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": 1}, out)
}
