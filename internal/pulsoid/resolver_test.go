package pulsoid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidWidgetID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"004431a2-b446-410f-9f15-b25a77fe2c55", true},
		{"00000000-0000-0000-0000-000000000000", true},
		{"", false},
		{"004431a2b446410f9f15b25a77fe2c55", false},         // no hyphens
		{"004431A2-B446-410F-9F15-B25A77FE2C55", false},     // uppercase
		{"004431a2-b446-410f-9f15-b25a77fe2c5", false},      // short
		{"004431a2-b446-410f-9f15-b25a77fe2c555", false},    // long
		{"004431g2-b446-410f-9f15-b25a77fe2c55", false},     // non-hex
		{" 004431a2-b446-410f-9f15-b25a77fe2c55", false},    // whitespace
		{"004431a2-b446-410f-9f15\nb25a77fe2c55", false},    // newline
	}
	for _, tt := range tests {
		if got := ValidWidgetID(tt.id); got != tt.want {
			t.Errorf("ValidWidgetID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func rpcServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveSuccess(t *testing.T) {
	var gotWidget string
	srv := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotWidget = req.Params.WidgetID
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"ramielUrl": "wss://ramiel.example/s/abc", "status": "online"},
		})
	})

	ep, err := NewRPCResolver(srv.URL).Resolve(context.Background(), "004431a2-b446-410f-9f15-b25a77fe2c55")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ep.URL != "wss://ramiel.example/s/abc" {
		t.Errorf("URL %q", ep.URL)
	}
	if ep.Status != "online" {
		t.Errorf("Status %q", ep.Status)
	}
	if gotWidget != "004431a2-b446-410f-9f15-b25a77fe2c55" {
		t.Errorf("request carried widget %q", gotWidget)
	}
}

func TestResolveFailureClassification(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    FailureKind
	}{
		{
			name: "http 404",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			want: FailureNotFound,
		},
		{
			name: "rpc widget not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"code": 4004, "message": "widget not found"},
				})
			},
			want: FailureNotFound,
		},
		{
			name: "widget inactive",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{
					"result": map[string]any{"ramielUrl": "", "status": "offline"},
				})
			},
			want: FailureInactive,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			want: FailureOther,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
			want: FailureOther,
		},
		{
			name: "other rpc error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"code": 500, "message": "internal"},
				})
			},
			want: FailureOther,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := rpcServer(t, tt.handler)
			_, err := NewRPCResolver(srv.URL).Resolve(context.Background(), "004431a2-b446-410f-9f15-b25a77fe2c55")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := KindOf(err); got != tt.want {
				t.Errorf("KindOf = %v, want %v (err: %v)", got, tt.want, err)
			}
		})
	}
}

func TestResolveNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listening anymore

	_, err := NewRPCResolver(srv.URL).Resolve(context.Background(), "004431a2-b446-410f-9f15-b25a77fe2c55")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := KindOf(err); got != FailureNetwork {
		t.Errorf("KindOf = %v, want network-unreachable (err: %v)", got, err)
	}
}

func TestKindOfUnclassifiedError(t *testing.T) {
	if got := KindOf(context.Canceled); got != FailureOther {
		t.Errorf("KindOf(plain error) = %v, want other", got)
	}
}
