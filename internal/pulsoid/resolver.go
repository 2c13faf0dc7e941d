// Package pulsoid talks to the upstream heart-rate service: the widget
// RPC that resolves a transient streaming endpoint, and the websocket
// stream itself. Both boundaries are behind small interfaces with fakes
// so the session engine can be tested without a network.
package pulsoid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// DefaultRPCURL is the public widget resolution endpoint.
const DefaultRPCURL = "https://pulsoid.net/v1/api/public/rpc"

// resolveTimeout bounds the RPC round trip so the session state machine
// always makes forward progress.
const resolveTimeout = 10 * time.Second

var widgetIDPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ValidWidgetID reports whether s is a lowercase hyphenated hex UUID.
func ValidWidgetID(s string) bool {
	return widgetIDPattern.MatchString(s)
}

// FailureKind classifies a resolution failure. The session state machine
// only retries resolution, but operators get a distinct message per kind.
type FailureKind int

const (
	FailureNetwork FailureKind = iota
	FailureNotFound
	FailureInactive
	FailureOther
)

func (k FailureKind) String() string {
	switch k {
	case FailureNetwork:
		return "network-unreachable"
	case FailureNotFound:
		return "identifier-not-found"
	case FailureInactive:
		return "source-inactive"
	default:
		return "other-protocol-error"
	}
}

// ResolveError is a classified resolution failure.
type ResolveError struct {
	Kind FailureKind
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve endpoint (%s): %v", e.Kind, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// KindOf extracts the failure class from a resolver error. Unclassified
// errors count as other-protocol-error.
func KindOf(err error) FailureKind {
	var re *ResolveError
	if errors.As(err, &re) {
		return re.Kind
	}
	return FailureOther
}

// Endpoint is a transient streaming address. It expires server-side; the
// session re-resolves when the stream reports an auth failure.
type Endpoint struct {
	URL    string
	Status string
}

// Resolver turns a widget identifier into a streaming endpoint.
type Resolver interface {
	Resolve(ctx context.Context, widgetID string) (Endpoint, error)
}

// RPCResolver resolves via the public widget JSON-RPC endpoint.
type RPCResolver struct {
	url    string
	client *http.Client
}

// NewRPCResolver creates a resolver against the given RPC URL (use
// DefaultRPCURL in production).
func NewRPCResolver(rpcURL string) *RPCResolver {
	return &RPCResolver{
		url:    rpcURL,
		client: &http.Client{Timeout: resolveTimeout},
	}
}

type rpcRequest struct {
	ID     int       `json:"id"`
	Method string    `json:"method"`
	Params rpcParams `json:"params"`
}

type rpcParams struct {
	WidgetID string `json:"widgetId"`
}

type rpcResponse struct {
	Result *rpcResult `json:"result"`
	Error  *rpcError  `json:"error"`
}

type rpcResult struct {
	RamielURL string `json:"ramielUrl"`
	Status    string `json:"status"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Resolve performs the RPC call and classifies every failure mode.
func (r *RPCResolver) Resolve(ctx context.Context, widgetID string) (Endpoint, error) {
	body, err := json.Marshal(rpcRequest{ID: 1, Method: "getWidget", Params: rpcParams{WidgetID: widgetID}})
	if err != nil {
		return Endpoint{}, &ResolveError{Kind: FailureOther, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return Endpoint{}, &ResolveError{Kind: FailureOther, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Endpoint{}, &ResolveError{Kind: FailureNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Endpoint{}, &ResolveError{Kind: FailureNotFound, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return Endpoint{}, &ResolveError{Kind: FailureOther, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	var rpc rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return Endpoint{}, &ResolveError{Kind: FailureOther, Err: fmt.Errorf("decode response: %w", err)}
	}

	if rpc.Error != nil {
		kind := FailureOther
		if strings.Contains(strings.ToLower(rpc.Error.Message), "not found") {
			kind = FailureNotFound
		}
		return Endpoint{}, &ResolveError{Kind: kind,
			Err: fmt.Errorf("rpc error %d: %s", rpc.Error.Code, rpc.Error.Message)}
	}
	if rpc.Result == nil {
		return Endpoint{}, &ResolveError{Kind: FailureOther, Err: fmt.Errorf("response has neither result nor error")}
	}
	if rpc.Result.RamielURL == "" {
		return Endpoint{}, &ResolveError{Kind: FailureInactive,
			Err: fmt.Errorf("widget has no active stream (status %q)", rpc.Result.Status)}
	}

	return Endpoint{URL: rpc.Result.RamielURL, Status: rpc.Result.Status}, nil
}
