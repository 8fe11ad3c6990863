package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// Params is the flattened view of one request's parameters. Binance
// SDKs spread them across the query string and the body depending on
// the client, so everything is collected into one map with the body
// winning on collisions.
type Params map[string]string

// ReadParams collects parameters from the query string and the body.
// JSON objects, urlencoded forms and multipart forms are understood;
// anything else with a body is attempted as urlencoded because some
// clients send signed payloads with no content type at all. Query
// values load first so body values override them.
func ReadParams(r *http.Request) Params {
	out := Params{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}

	ct := r.Header.Get("Content-Type")
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))

	switch ct {
	case "application/json":
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			for k, v := range body {
				out[k] = jsonScalar(v)
			}
		}
	case "application/x-www-form-urlencoded", "multipart/form-data":
		// ParseMultipartForm falls through to ParseForm for urlencoded
		// bodies; either way PostForm ends up populated.
		r.ParseMultipartForm(1 << 20)
		for k, v := range r.PostForm {
			if len(v) > 0 {
				out[k] = v[0]
			}
		}
	default:
		if r.Body == nil {
			break
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil || len(raw) == 0 {
			break
		}
		if vals, err := url.ParseQuery(string(raw)); err == nil {
			for k, v := range vals {
				if len(v) > 0 {
					out[k] = v[0]
				}
			}
		}
	}
	return out
}

// jsonScalar renders a decoded JSON value the way its query-string
// twin would look, so downstream parsing is uniform.
func jsonScalar(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return decimal.NewFromFloat(t).String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Get returns the first non-empty value among the given keys.
func (p Params) Get(keys ...string) string {
	for _, k := range keys {
		if v, ok := p[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// Has reports whether any of the keys is present, even when empty.
func (p Params) Has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := p[k]; ok {
			return true
		}
	}
	return false
}

// Float parses a decimal parameter. ok is false when the value is
// absent or blank; err is set when present but unparseable.
func (p Params) Float(keys ...string) (val float64, ok bool, err error) {
	raw := strings.TrimSpace(p.Get(keys...))
	if raw == "" {
		return 0, false, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, true, err
	}
	f, _ := d.Float64()
	return f, true, nil
}

// Int parses an integer parameter with the same absent/invalid split.
func (p Params) Int(keys ...string) (val int64, ok bool, err error) {
	raw := strings.TrimSpace(p.Get(keys...))
	if raw == "" {
		return 0, false, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsInteger() {
		return 0, true, fmt.Errorf("not an integer: %q", raw)
	}
	return d.IntPart(), true, nil
}

// Bool applies the tolerant truthiness the exchange SDKs rely on:
// 1/true/yes/y/on are true, everything else false.
func (p Params) Bool(keys ...string) bool {
	return truthy(p.Get(keys...))
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
