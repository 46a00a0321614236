package profile

import (
	"fmt"
	"maps"
	"net/http"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// Cookie is a single name/value pair with optional scoping attributes.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// Cookies is the cookie set of a profile keyed by cookie name.
type Cookies map[string]Cookie

// Clone returns an independent copy of c.
func (c Cookies) Clone() Cookies {
	out := make(Cookies, len(c))
	maps.Copy(out, c)
	return out
}

// Put stores each cookie, replacing any existing entry with the same name.
func (c Cookies) Put(cookies ...Cookie) {
	for _, ck := range cookies {
		c[ck.Name] = ck
	}
}

// Values projects the set onto a name to value map.
func (c Cookies) Values() map[string]string {
	out := make(map[string]string, len(c))
	for name, ck := range c {
		out[name] = ck.Value
	}
	return out
}

// List returns the cookies sorted by name.
func (c Cookies) List() []Cookie {
	out := make([]Cookie, 0, len(c))
	for _, ck := range c {
		out = append(out, ck)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Header renders the set as a Cookie request header value.
func (c Cookies) Header() string {
	parts := make([]string, 0, len(c))
	for _, ck := range c.List() {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	return strings.Join(parts, "; ")
}

// NewCookies normalizes in and returns it as a set. Later entries win.
func NewCookies(in any) (Cookies, error) {
	list, err := NormalizeCookies(in)
	if err != nil {
		return nil, err
	}
	out := make(Cookies, len(list))
	out.Put(list...)
	return out, nil
}

// NormalizeCookies accepts the loose cookie shapes callers pass around and
// returns them as an ordered list.
//
// A map with a "name" key is one cookie whose other keys are attributes. Any
// other map is a set of name/value pairs. Slices of either, Cookie values and
// *http.Cookie values are accepted too. Non-string values are stringified.
func NormalizeCookies(in any) ([]Cookie, error) {
	switch v := in.(type) {
	case nil:
		return nil, nil
	case Cookie:
		return []Cookie{v}, nil
	case []Cookie:
		return append([]Cookie(nil), v...), nil
	case Cookies:
		return v.List(), nil
	case *http.Cookie:
		if v == nil {
			return nil, nil
		}
		return []Cookie{fromHTTPCookie(v)}, nil
	case []*http.Cookie:
		out := make([]Cookie, 0, len(v))
		for _, hc := range v {
			if hc != nil {
				out = append(out, fromHTTPCookie(hc))
			}
		}
		return out, nil
	case map[string]string:
		generic := make(map[string]any, len(v))
		for k, val := range v {
			generic[k] = val
		}
		return cookiesFromMap(generic)
	case map[string]any:
		return cookiesFromMap(v)
	case []map[string]string:
		var out []Cookie
		for _, m := range v {
			list, err := NormalizeCookies(m)
			if err != nil {
				return nil, err
			}
			out = append(out, list...)
		}
		return out, nil
	case []map[string]any:
		var out []Cookie
		for _, m := range v {
			list, err := cookiesFromMap(m)
			if err != nil {
				return nil, err
			}
			out = append(out, list...)
		}
		return out, nil
	case []any:
		var out []Cookie
		for i, item := range v {
			list, err := NormalizeCookies(item)
			if err != nil {
				return nil, fmt.Errorf("cookie %d: %w", i, err)
			}
			out = append(out, list...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported cookie input %T", in)
	}
}

func cookiesFromMap(m map[string]any) ([]Cookie, error) {
	if rawName, ok := m["name"]; ok {
		name, err := cast.ToStringE(rawName)
		if err != nil {
			return nil, fmt.Errorf("cookie name: %w", err)
		}
		if name == "" {
			return nil, fmt.Errorf("cookie name is empty")
		}
		ck := Cookie{Name: name}
		for key, raw := range m {
			val, err := cast.ToStringE(raw)
			if err != nil {
				return nil, fmt.Errorf("cookie %s attribute %s: %w", name, key, err)
			}
			switch strings.ToLower(key) {
			case "value":
				ck.Value = val
			case "domain":
				ck.Domain = val
			case "path":
				ck.Path = val
			}
		}
		return []Cookie{ck}, nil
	}

	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Cookie, 0, len(m))
	for _, name := range names {
		val, err := cast.ToStringE(m[name])
		if err != nil {
			return nil, fmt.Errorf("cookie %s: %w", name, err)
		}
		out = append(out, Cookie{Name: name, Value: val})
	}
	return out, nil
}

func fromHTTPCookie(hc *http.Cookie) Cookie {
	return Cookie{
		Name:   hc.Name,
		Value:  hc.Value,
		Domain: hc.Domain,
		Path:   hc.Path,
	}
}
