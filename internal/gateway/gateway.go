// Package gateway performs authenticated request/response calls against the
// game server. Calls never return Go errors: every outcome is folded into a
// Result so callers handle success and failure uniformly.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gaspardpetit/questlink/internal/logx"
	"github.com/gaspardpetit/questlink/internal/metrics"
	"github.com/gaspardpetit/questlink/internal/wire"
)

// Kind classifies a failed call.
type Kind string

const (
	KindNone        Kind = ""
	KindTransport   Kind = "transport"
	KindAuth        Kind = "auth"
	KindProtocol    Kind = "protocol"
	KindApplication Kind = "application"
)

// Result is the uniform outcome of a gateway call.
type Result[T any] struct {
	Success bool
	Data    T
	Error   string
	Status  int
	Kind    Kind
	// Detail holds the decoded error body of a non-2xx response, when any.
	Detail *wire.ErrorResponse
}

func failure[T any](kind Kind, status int, msg string) Result[T] {
	return Result[T]{Kind: kind, Status: status, Error: msg}
}

// Request describes a single logical call. Name labels logs and metrics.
type Request struct {
	Name   string
	Method string
	Path   string
	Body   any
}

// Gateway issues calls to a base URL using a shared credential slot.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	creds      *Credentials
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// New returns a gateway for baseURL. creds may be nil for unauthenticated use.
func New(baseURL string, creds *Credentials, opts ...Option) *Gateway {
	g := &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		creds:      creds,
	}
	if g.creds == nil {
		g.creds = NewCredentials("", nil)
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Credentials returns the slot used by the gateway.
func (g *Gateway) Credentials() *Credentials { return g.creds }

// Call performs req and decodes a 2xx body into T. On a 401 from the first
// attempt the credential is refreshed once and the call retried once with
// the new token; a second 401 is surfaced as KindAuth.
func Call[T any](ctx context.Context, g *Gateway, req Request) Result[T] {
	start := time.Now()
	res := call[T](ctx, g, req)
	metrics.RecordGatewayRequest(req.Name, res.Success, time.Since(start))
	if !res.Success {
		logx.Log.Debug().Str("call", req.Name).Str("kind", string(res.Kind)).Int("status", res.Status).Str("error", res.Error).Msg("gateway call failed")
	}
	return res
}

func call[T any](ctx context.Context, g *Gateway, req Request) Result[T] {
	var payload []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return failure[T](KindProtocol, 0, fmt.Sprintf("encode %s request: %v", req.Name, err))
		}
		payload = b
	}

	token := g.creds.Token()
	status, body, err := g.do(ctx, req, payload, token)
	if err != nil {
		return failure[T](KindTransport, 0, fmt.Sprintf("%s: %v", req.Name, err))
	}
	if status == http.StatusUnauthorized {
		fresh, ok := g.creds.renew(ctx)
		if !ok {
			return authFailure[T](req, body)
		}
		logx.Log.Info().Str("call", req.Name).Msg("retrying with refreshed credentials")
		status, body, err = g.do(ctx, req, payload, fresh)
		if err != nil {
			return failure[T](KindTransport, 0, fmt.Sprintf("%s: %v", req.Name, err))
		}
		if status == http.StatusUnauthorized {
			return authFailure[T](req, body)
		}
	}
	return decode[T](req, status, body)
}

func (g *Gateway) do(ctx context.Context, req Request, payload []byte, token string) (int, []byte, error) {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, g.baseURL+req.Path, rdr)
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func authFailure[T any](req Request, body []byte) Result[T] {
	res := failure[T](KindAuth, http.StatusUnauthorized, fmt.Sprintf("%s: not authorized", req.Name))
	if detail := parseError(body); detail != nil {
		res.Detail = detail
		if detail.Error != "" {
			res.Error = fmt.Sprintf("%s: %s", req.Name, detail.Error)
		}
	}
	return res
}

func decode[T any](req Request, status int, body []byte) Result[T] {
	if status < 200 || status > 299 {
		res := failure[T](KindApplication, status, fmt.Sprintf("%s failed: %s", req.Name, statusText(status)))
		if detail := parseError(body); detail != nil {
			res.Detail = detail
			if detail.Error != "" {
				res.Error = detail.Error
			}
		}
		return res
	}
	var data T
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &data); err != nil {
			return failure[T](KindProtocol, status, fmt.Sprintf("%s: invalid response: %v", req.Name, err))
		}
	}
	return Result[T]{Success: true, Data: data, Status: status}
}

func parseError(body []byte) *wire.ErrorResponse {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var e wire.ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		return nil
	}
	return &e
}

func statusText(status int) string {
	if t := http.StatusText(status); t != "" {
		return fmt.Sprintf("%d %s", status, strings.ToLower(t))
	}
	return fmt.Sprintf("status %d", status)
}
