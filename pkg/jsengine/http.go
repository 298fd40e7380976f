package jsengine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// httpModule returns the http global with get, post, put, delete and
// request(method, url, options). Requests are synchronous.
func (e *Engine) httpModule() *goja.Object {
	obj := e.runtime.NewObject()
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		method := method
		_ = obj.Set(strings.ToLower(method), func(call goja.FunctionCall) goja.Value {
			return e.doHTTPRequest(method, call.Arguments)
		})
	}
	_ = obj.Set("request", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(e.runtime.NewTypeError("http.request requires method and url"))
		}
		return e.doHTTPRequest(strings.ToUpper(call.Arguments[0].String()), call.Arguments[1:])
	})
	return obj
}

// requestOptions are the optional second argument of http calls.
type requestOptions struct {
	body    io.Reader
	headers map[string]string
	timeout time.Duration
}

func (e *Engine) requestOptions(v goja.Value) (requestOptions, error) {
	opts := requestOptions{headers: make(map[string]string)}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return opts, nil
	}
	m, ok := v.Export().(map[string]interface{})
	if !ok {
		return opts, fmt.Errorf("options must be an object")
	}

	if h, ok := m["headers"].(map[string]interface{}); ok {
		for k, v := range h {
			opts.headers[k] = fmt.Sprint(v)
		}
	}
	switch b := m["body"].(type) {
	case nil:
	case string:
		opts.body = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return opts, fmt.Errorf("body: %w", err)
		}
		opts.body = bytes.NewReader(data)
		if _, ok := opts.headers["Content-Type"]; !ok {
			opts.headers["Content-Type"] = "application/json"
		}
	}
	switch t := m["timeout"].(type) {
	case int64:
		opts.timeout = time.Duration(t) * time.Millisecond
	case float64:
		opts.timeout = time.Duration(t * float64(time.Millisecond))
	}
	return opts, nil
}

// doHTTPRequest performs a request and returns {status, ok, body, headers, json}.
func (e *Engine) doHTTPRequest(method string, args []goja.Value) goja.Value {
	if len(args) < 1 {
		panic(e.runtime.NewTypeError(fmt.Sprintf("http.%s requires url", strings.ToLower(method))))
	}
	url := args[0].String()

	var optArg goja.Value
	if len(args) > 1 {
		optArg = args[1]
	}
	opts, err := e.requestOptions(optArg)
	if err != nil {
		panic(e.runtime.NewTypeError(fmt.Sprintf("http.%s: %v", strings.ToLower(method), err)))
	}

	req, err := http.NewRequest(method, url, opts.body)
	if err != nil {
		panic(e.runtime.NewTypeError(fmt.Sprintf("failed to create request: %v", err)))
	}
	for k, v := range opts.headers {
		req.Header.Set(k, v)
	}

	client := e.client
	if opts.timeout > 0 {
		c := *client
		c.Timeout = opts.timeout
		client = &c
	}

	resp, err := client.Do(req)
	if err != nil {
		panic(e.runtime.NewGoError(fmt.Errorf("%s %s failed: %w", method, url, err)))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		panic(e.runtime.NewGoError(fmt.Errorf("failed to read response: %w", err)))
	}

	headers := make(map[string]interface{}, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	res := e.runtime.NewObject()
	_ = res.Set("status", resp.StatusCode)
	_ = res.Set("ok", resp.StatusCode >= 200 && resp.StatusCode < 300)
	_ = res.Set("body", string(body))
	_ = res.Set("headers", headers)

	var parsed interface{}
	if json.Unmarshal(body, &parsed) == nil {
		_ = res.Set("json", parsed)
	} else {
		_ = res.Set("json", goja.Null())
	}
	return res
}
