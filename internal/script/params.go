package script

import (
	"fmt"
	"net/url"
	"strings"
)

// Params are the query parameters of a route (id, entity, app, ...).
type Params map[string]string

func (p Params) Get(k string) string {
	return p[k]
}

// Has reports whether k was given with a non-empty value.
func (p Params) Has(k string) bool {
	return p[k] != ""
}

func (p Params) Clone() Params {
	c := make(Params, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// Route is a parsed "_cloudia/<script>/<method>?k=v" string.
type Route struct {
	Script string
	Method string
	Params Params
}

// ParseRoute accepts "_cloudia/tasks/get?id=1", "/_cloudia/tasks/get" and
// "tasks/get". A missing method is "default".
func ParseRoute(s string) (Route, error) {
	s = strings.TrimSpace(s)
	path, query, _ := strings.Cut(s, "?")
	path = strings.Trim(path, "/")
	path = strings.TrimPrefix(path, "_cloudia/")
	if path == "" || path == "_cloudia" {
		return Route{}, fmt.Errorf("script: invalid route %q", s)
	}
	name, method, _ := strings.Cut(path, "/")

	values, err := url.ParseQuery(query)
	if err != nil {
		return Route{}, fmt.Errorf("script: invalid query in %q: %w", s, err)
	}
	params := Params{}
	for k, vs := range values {
		if len(vs) > 0 {
			params[k] = vs[len(vs)-1]
		}
	}
	return Route{Script: name, Method: NormalizeMethod(method), Params: params}, nil
}
