// Package client owns the HTTP connection to the LM Studio server. All
// upstream traffic, JSON and streaming alike, goes through the single pooled
// client built at startup.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"golang.org/x/net/proxy"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/conf"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/proxyerr"
)

var (
	upstreamClient *http.Client
	upstreamBase   string
	clientLock     sync.RWMutex
)

// Init builds the shared upstream client from configuration. Safe to call
// again with new settings; in-flight requests keep the old client.
func Init(cfg *conf.Config) error {
	c, err := newHTTPClient(cfg.Upstream.ProxyURL)
	if err != nil {
		return err
	}
	clientLock.Lock()
	upstreamClient = c
	upstreamBase = strings.TrimSuffix(cfg.Upstream.URL, "/")
	clientLock.Unlock()
	return nil
}

func get() (*http.Client, string) {
	clientLock.RLock()
	defer clientLock.RUnlock()
	return upstreamClient, upstreamBase
}

// URL joins an upstream path onto the configured LM Studio base URL.
func URL(path string) string {
	_, base := get()
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// DoJSON sends a JSON request upstream and decodes the JSON response body.
// Non-2xx responses become typed errors carrying the upstream message, so
// callers can run load-hint detection on them.
func DoJSON(ctx context.Context, method, path string, body any) (map[string]any, error) {
	resp, err := Do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, proxyerr.FromTransport(err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, proxyerr.Upstream(resp.StatusCode, extractErrorMessage(raw, resp.StatusCode))
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, proxyerr.Protocol("invalid JSON from LM Studio: %v", err)
	}
	return decoded, nil
}

// Do sends a request upstream and returns the raw response. The caller owns
// the body; streaming handlers read it incrementally.
func Do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, proxyerr.Internal("encode upstream request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, URL(path), reader)
	if err != nil {
		return nil, proxyerr.Internal("build upstream request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return send(req)
}

// DoRaw forwards a prebuilt request, used by the OpenAI passthrough surface.
func DoRaw(req *http.Request) (*http.Response, error) {
	return send(req)
}

func send(req *http.Request) (*http.Response, error) {
	c, _ := get()
	if c == nil {
		return nil, proxyerr.Internal("upstream client not initialized")
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, proxyerr.FromTransport(err)
	}
	return resp, nil
}

// CheckError converts a non-2xx streaming response into a typed error and
// closes the body. Returns nil for successful responses.
func CheckError(resp *http.Response) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	return proxyerr.Upstream(resp.StatusCode, extractErrorMessage(raw, resp.StatusCode))
}

// extractErrorMessage digs a human-readable message out of an upstream error
// body. LM Studio uses both {"error":"..."} and the OpenAI
// {"error":{"message":"..."}} shape depending on the endpoint.
func extractErrorMessage(raw []byte, status int) string {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		switch v := decoded["error"].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if msg, ok := v["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if msg, ok := decoded["message"].(string); ok && msg != "" {
			return msg
		}
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed != "" {
		return trimmed
	}
	return fmt.Sprintf("LM Studio returned status %d", status)
}

func clonedDefaultTransport() (*http.Transport, error) {
	transport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, fmt.Errorf("default transport is not *http.Transport")
	}
	return transport.Clone(), nil
}

// newHTTPClient builds a pooled client, optionally routed through a proxy.
// proxyURL supports: http, https, socks, socks5
func newHTTPClient(proxyURLStr string) (*http.Client, error) {
	cloned, err := clonedDefaultTransport()
	if err != nil {
		return nil, err
	}

	if proxyURLStr == "" {
		cloned.Proxy = nil
		return &http.Client{Transport: cloned}, nil
	}

	proxyURL, err := url.Parse(proxyURLStr)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}

	switch proxyURL.Scheme {
	case "http", "https":
		cloned.Proxy = http.ProxyURL(proxyURL)
	case "socks", "socks5":
		socksDialer, err := proxy.FromURL(proxyURL, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("invalid socks proxy: %w", err)
		}
		cloned.Proxy = nil
		cloned.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return socksDialer.Dial(network, addr)
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", proxyURL.Scheme)
	}

	return &http.Client{Transport: cloned}, nil
}
