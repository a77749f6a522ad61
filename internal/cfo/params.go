package cfo

import (
	"net/url"
	"strconv"
)

// Params are the query parameters of a CFO request. _raw and _timezone=UTC
// are always sent.
type Params struct {
	v url.Values
}

func NewParams() *Params {
	return &Params{v: url.Values{}}
}

// Fields limits the returned columns (_fields).
func (p *Params) Fields(fields string) *Params {
	p.v.Set("_fields", fields)
	return p
}

// Order sets _order; a leading "-" sorts descending.
func (p *Params) Order(order string) *Params {
	p.v.Set("_order", order)
	return p
}

// Limit sets _limit.
func (p *Params) Limit(n int) *Params {
	p.v.Set("_limit", strconv.Itoa(n))
	return p
}

// CFOLimit sets cfo_limit.
func (p *Params) CFOLimit(n int) *Params {
	p.v.Set("cfo_limit", strconv.Itoa(n))
	return p
}

// Filter adds filter_<field>=value.
func (p *Params) Filter(field, value string) *Params {
	p.v.Set("filter_"+field, value)
	return p
}

// Range adds a comparison filter, filter_<field>[0]=op&filter_<field>[1]=value,
// which is how ['>=', value] travels in a query string.
func (p *Params) Range(field, op, value string) *Params {
	p.v.Set("filter_"+field+"[0]", op)
	p.v.Set("filter_"+field+"[1]", value)
	return p
}

// Set adds any other parameter.
func (p *Params) Set(key, value string) *Params {
	p.v.Set(key, value)
	return p
}

// Get returns a parameter value, mostly for tests and debug output.
func (p *Params) Get(key string) string {
	return p.v.Get(key)
}

func (p *Params) Encode() string {
	v := url.Values{}
	for k, vs := range p.v {
		v[k] = append([]string(nil), vs...)
	}
	v.Set("_raw", "1")
	v.Set("_timezone", "UTC")
	return v.Encode()
}
