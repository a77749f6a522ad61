package cfo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloudia/internal/httpx"
	"cloudia/internal/logger"
	"cloudia/internal/record"
)

const cfiPath = "/core/cfo/cfi/"

// Client talks to the CFO REST API of one platform on behalf of one script.
// WebKey is sent as X-WEB-KEY (e.g. /scripts/_cloudia/apis), Token as X-DS-TOKEN.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	WebKey  string
	Token   string

	// Extra headers sent with every request (X-EXTRA-INFO for signin checks).
	Extra http.Header

	// Retry policy for GETs, NoRetry unless configured. Mutations always run once.
	ReadRetry httpx.RetryConfig
}

func New(baseURL, webKey, token string) *Client {
	tr := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout:   2 * time.Minute,
			Transport: tr,
		},
		WebKey:    webKey,
		Token:     token,
		ReadRetry: httpx.NoRetry(),
	}
}

// envelope is the {success, data, errorMsg} wrapper of every CFO response.
type envelope struct {
	Success  *bool           `json:"success"`
	Data     json.RawMessage `json:"data"`
	ErrorMsg any             `json:"errorMsg"`
}

// List returns the rows of entity matching p.
func (c *Client) List(ctx context.Context, entity string, p *Params) ([]record.Record, error) {
	data, err := c.Call(ctx, http.MethodGet, cfiPath+entity, p, nil)
	if err != nil {
		return nil, fmt.Errorf("cfo: list %s: %w", entity, err)
	}
	return record.List(data), nil
}

// Display fetches one row through the display endpoint. A nil record with a
// nil error means the platform returned no data or answered 404.
func (c *Client) Display(ctx context.Context, entity, id string) (record.Record, error) {
	data, err := c.Call(ctx, http.MethodGet, cfiPath+entity+"/display/"+EscapeID(id), nil, nil)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cfo: display %s [%s]: %w", entity, id, err)
	}
	return nonEmpty(record.From(data)), nil
}

// Get reads <Entity>/<id>. It is the existence check used before inserts.
func (c *Client) Get(ctx context.Context, entity, id string) (record.Record, error) {
	data, err := c.Call(ctx, http.MethodGet, cfiPath+entity+"/"+EscapeID(id), nil, nil)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cfo: get %s [%s]: %w", entity, id, err)
	}
	return nonEmpty(record.From(data)), nil
}

// Insert POSTs rec and returns the stored row when the platform echoes it.
func (c *Client) Insert(ctx context.Context, entity string, rec record.Record) (record.Record, error) {
	data, err := c.Call(ctx, http.MethodPost, cfiPath+entity, nil, rec)
	if err != nil {
		return nil, err
	}
	return record.From(data), nil
}

// Update PUTs rec to <Entity>/<id>.
func (c *Client) Update(ctx context.Context, entity, id string, rec record.Record) (record.Record, error) {
	data, err := c.Call(ctx, http.MethodPut, cfiPath+entity+"/"+EscapeID(id), nil, rec)
	if err != nil {
		return nil, err
	}
	return record.From(data), nil
}

// Delete removes <Entity>/<id>.
func (c *Client) Delete(ctx context.Context, entity, id string) error {
	_, err := c.Call(ctx, http.MethodDelete, cfiPath+entity+"/"+EscapeID(id), nil, nil)
	return err
}

// Call performs one request against path (relative to BaseURL) and unwraps
// the envelope. Errors are *RequestError or *APIError.
func (c *Client) Call(ctx context.Context, method, path string, p *Params, body any) (any, error) {
	if c.Token == "" {
		return nil, errors.New("cfo: missing X-DS-TOKEN")
	}
	if p == nil {
		p = NewParams()
	}
	u := c.BaseURL + path + "?" + p.Encode()

	headers := http.Header{}
	headers.Set("X-WEB-KEY", c.WebKey)
	headers.Set("X-DS-TOKEN", c.Token)
	for k, vs := range c.Extra {
		for _, v := range vs {
			headers.Add(k, v)
		}
	}

	retry := httpx.NoRetry()
	if method == http.MethodGet {
		retry = c.ReadRetry
	}

	logger.Debug("%s %s", method, u)
	_, respBody, err := httpx.DoWithRetry(ctx, c.HTTP, func(ctx context.Context) (*http.Request, error) {
		return httpx.NewJSONRequest(ctx, method, u, body, headers)
	}, retry)
	if err != nil {
		var herr *httpx.HTTPError
		if errors.As(err, &herr) {
			if env, ok := parseEnvelope(herr.Body); ok && env.ErrorMsg != nil {
				return nil, &APIError{Status: herr.StatusCode, Message: errorMessage(env.ErrorMsg)}
			}
			return nil, &RequestError{Status: herr.StatusCode, Message: fmt.Sprintf("status %d: %s", herr.StatusCode, httpx.Snippet(herr.Body, 300)), Err: err}
		}
		return nil, &RequestError{Message: err.Error(), Err: err}
	}

	env, ok := parseEnvelope(respBody)
	if !ok {
		return nil, &RequestError{Message: "invalid JSON response: " + httpx.Snippet(respBody, 300)}
	}
	if env.Success != nil && !*env.Success {
		return nil, &APIError{Message: errorMessage(env.ErrorMsg)}
	}
	if env.Success == nil && method != http.MethodGet {
		return nil, &APIError{Message: errorMessage(env.ErrorMsg)}
	}
	if len(env.Data) == 0 {
		return nil, nil
	}
	data, err := record.Decode(env.Data)
	if err != nil {
		return nil, &RequestError{Message: "invalid data in response: " + err.Error(), Err: err}
	}
	return data, nil
}

func parseEnvelope(b []byte) (envelope, bool) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return envelope{}, false
	}
	return env, true
}

// errorMessage flattens errorMsg, which may be a string or a list.
func errorMessage(v any) string {
	switch t := v.(type) {
	case nil:
		return "Unknown error"
	case string:
		if t == "" {
			return "Unknown error"
		}
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, it := range t {
			parts = append(parts, record.Text(it))
		}
		return strings.Join(parts, ", ")
	default:
		return record.Text(t)
	}
}

// nonEmpty maps empty objects to nil so callers can test "no data".
func nonEmpty(r record.Record) record.Record {
	if len(r) == 0 {
		return nil
	}
	return r
}

// EscapeID encodes a record id for use as a path segment, "/" included.
func EscapeID(id string) string {
	return url.QueryEscape(id)
}
