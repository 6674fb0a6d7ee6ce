package apirouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/uicp/coreadapter/netguard"
)

var allowedMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodDelete: true, http.MethodHead: true, http.MethodPatch: true,
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

// dispatchHTTP handles the http(s):// scheme. Localhost targets bypass
// PolicyGate (they can only reach services the user is already running);
// everything else requires an explicit allow.
func (r *Router) dispatchHTTP(ctx context.Context, call *Call) (*Result, error) {
	start := time.Now()
	method := strings.ToUpper(call.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !allowedMethods[method] {
		return nil, fmt.Errorf("apirouter: unsupported http method %q", call.Method)
	}

	u, err := url.Parse(call.URL)
	if err != nil {
		return nil, fmt.Errorf("apirouter: invalid url: %w", err)
	}

	if !isLocalhost(u.Hostname()) {
		if err := netguard.ValidateURL(call.URL); err != nil {
			return &Result{OK: false, ErrorCode: "Permission.Denied"}, nil
		}
		r.mu.RLock()
		policy := r.policy
		r.mu.RUnlock()
		if policy == nil {
			return &Result{OK: false, ErrorCode: "Permission.Denied"}, nil
		}
		allowed, err := policy.Allow(ctx, "api.call.http", method+" "+call.URL)
		if err != nil {
			return nil, fmt.Errorf("apirouter: policy check: %w", err)
		}
		if !allowed {
			r.emit(ctx, "permissions_deny", map[string]any{"scope": "api.call.http", "target": call.URL})
			return &Result{OK: false, ErrorCode: "Permission.Denied"}, nil
		}
	}

	body, err := serializeBody(call.Body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, call.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("apirouter: build request: %w", err)
	}
	for k, v := range call.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" && len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	dur := time.Since(start)
	if err != nil {
		r.emit(ctx, "api_call", map[string]any{
			"scheme": u.Scheme, "method": method, "url": call.URL, "ok": false, "duration_ms": dur.Milliseconds(),
		})
		return &Result{OK: false, ErrorCode: "Adapter.Internal", DurationMillis: dur.Milliseconds()}, nil
	}
	defer resp.Body.Close()

	data, err := netguard.LimitedReadAll(resp.Body, netguard.MaxResponseBody)
	if err != nil {
		return &Result{OK: false, ErrorCode: "Adapter.ValidationFailed", StatusCode: resp.StatusCode}, nil
	}

	r.emit(ctx, "api_call", map[string]any{
		"scheme": u.Scheme, "method": method, "url": call.URL,
		"ok": resp.StatusCode < 400, "status": resp.StatusCode, "duration_ms": dur.Milliseconds(),
	})

	return &Result{
		OK:             resp.StatusCode < 400,
		Data:           json.RawMessage(data),
		StatusCode:     resp.StatusCode,
		DurationMillis: dur.Milliseconds(),
	}, nil
}

// serializeBody passes through a raw JSON string body unchanged; any other
// JSON value is marshalled before being sent on the wire.
func serializeBody(body json.RawMessage) ([]byte, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		return []byte(s), nil
	}
	return body, nil
}

func isLocalhost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
