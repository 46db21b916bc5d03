package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/fast-security-fast/Fast-security-server/internal/config"
	"github.com/fast-security-fast/Fast-security-server/internal/metrics"
)

func baseConfig() config.Config {
	return config.Config{
		ListenAddr:      "127.0.0.1:0",
		LogFormat:       config.LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 2 * time.Second,
		Mode:            config.ModeDev,
	}
}

func startTestServer(t *testing.T, cfg config.Config) (baseURL string) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	build := BuildInfo{Version: "v1", Commit: "abc", BuildTime: "time"}
	srv, err := New(cfg, log, build, metrics.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	return "http://" + ln.Addr().String()
}

func getJSON(t *testing.T, req *http.Request, wantStatus int, out any) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("status=%d, want %d", resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp
}

func mustRequest(t *testing.T, method, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}

func TestHealthzReadyzVersion(t *testing.T) {
	baseURL := startTestServer(t, baseConfig())

	t.Run("root", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK || string(body) != "OK" {
			t.Fatalf("status=%d body=%q, want 200 OK", resp.StatusCode, body)
		}
	})

	t.Run("healthz", func(t *testing.T) {
		var body map[string]any
		getJSON(t, mustRequest(t, http.MethodGet, baseURL+"/healthz"), http.StatusOK, &body)
		if body["ok"] != true {
			t.Fatalf("body=%v, want ok=true", body)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		getJSON(t, mustRequest(t, http.MethodGet, baseURL+"/readyz"), http.StatusOK, nil)
	})

	t.Run("version", func(t *testing.T) {
		var got BuildInfo
		getJSON(t, mustRequest(t, http.MethodGet, baseURL+"/version"), http.StatusOK, &got)
		want := BuildInfo{Version: "v1", Commit: "abc", BuildTime: "time"}
		if got != want {
			t.Fatalf("got=%+v, want=%+v", got, want)
		}
	})

	t.Run("request id echoed", func(t *testing.T) {
		req := mustRequest(t, http.MethodGet, baseURL+"/healthz")
		req.Header.Set("X-Request-ID", "req-1")
		resp := getJSON(t, req, http.StatusOK, nil)
		if got := resp.Header.Get("X-Request-ID"); got != "req-1" {
			t.Fatalf("X-Request-ID=%q, want %q", got, "req-1")
		}
		resp = getJSON(t, mustRequest(t, http.MethodGet, baseURL+"/healthz"), http.StatusOK, nil)
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatalf("expected generated X-Request-ID")
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/metrics")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "fast_security_rooms") {
			t.Fatalf("status=%d, want 200 with fast_security_rooms", resp.StatusCode)
		}
	})
}

func TestICEEndpointSchema(t *testing.T) {
	cfg := baseConfig()
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478?transport=udp"}, Username: "user", Credential: "pass"},
	}
	baseURL := startTestServer(t, cfg)

	var payload struct {
		ICEServers []map[string]any `json:"iceServers"`
		ExpiresAt  string           `json:"expiresAt"`
	}
	resp := getJSON(t, mustRequest(t, http.MethodGet, baseURL+"/ice"), http.StatusOK, &payload)
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control=%q, want no-store", got)
	}
	if len(payload.ICEServers) != 2 {
		t.Fatalf("expected 2 iceServers, got %d", len(payload.ICEServers))
	}
	if _, ok := payload.ICEServers[0]["urls"]; !ok {
		t.Fatalf("expected urls field on first server: %#v", payload.ICEServers[0])
	}
	if payload.ICEServers[1]["username"] != "user" {
		t.Fatalf("expected static TURN username, got %#v", payload.ICEServers[1])
	}
	if payload.ExpiresAt != "" {
		t.Fatalf("expiresAt=%q, want empty without TURN REST", payload.ExpiresAt)
	}
}

func TestICEEndpoint_EmptyListEncodesAsArray(t *testing.T) {
	baseURL := startTestServer(t, baseConfig())

	resp, err := http.Get(baseURL + "/ice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"iceServers":[]`) {
		t.Fatalf("body=%s, want iceServers:[]", body)
	}
}

func TestICEEndpoint_TURNRESTCredentials(t *testing.T) {
	cfg := baseConfig()
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"TURN:turn.example.com:3478"}, Username: "static", Credential: "static"},
	}
	cfg.TURNREST = config.TurnRESTConfig{SharedSecret: "s3cret", TTLSeconds: 60, UsernamePrefix: "fastsec"}
	baseURL := startTestServer(t, cfg)

	var payload struct {
		ICEServers []map[string]any `json:"iceServers"`
		ExpiresAt  string           `json:"expiresAt"`
	}
	getJSON(t, mustRequest(t, http.MethodGet, baseURL+"/ice"), http.StatusOK, &payload)

	if len(payload.ICEServers) != 2 {
		t.Fatalf("expected 2 iceServers, got %d", len(payload.ICEServers))
	}
	if u, _ := payload.ICEServers[0]["username"].(string); u != "" {
		t.Fatalf("STUN entry got credentials: %+v", payload.ICEServers[0])
	}
	username, _ := payload.ICEServers[1]["username"].(string)
	if username == "static" || !strings.Contains(username, ":fastsec:") {
		t.Fatalf("TURN username=%q, want ephemeral", username)
	}
	if _, err := time.Parse(time.RFC3339, payload.ExpiresAt); err != nil {
		t.Fatalf("expiresAt=%q: %v", payload.ExpiresAt, err)
	}
	if cfg.ICEServers[1].Username != "static" {
		t.Fatalf("configured servers were mutated")
	}
}

func TestOriginPolicy(t *testing.T) {
	cfg := baseConfig()
	cfg.AllowedOrigins = []string{"https://app.example.com"}
	baseURL := startTestServer(t, cfg)

	t.Run("cross origin rejected", func(t *testing.T) {
		req := mustRequest(t, http.MethodGet, baseURL+"/ice")
		req.Header.Set("Origin", "https://evil.example.com")
		getJSON(t, req, http.StatusForbidden, nil)
	})

	t.Run("allowed origin gets cors headers", func(t *testing.T) {
		req := mustRequest(t, http.MethodGet, baseURL+"/ice")
		req.Header.Set("Origin", "https://app.example.com:443")
		resp := getJSON(t, req, http.StatusOK, nil)
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Fatalf("Access-Control-Allow-Origin=%q", got)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		req := mustRequest(t, http.MethodOptions, baseURL+"/sos")
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusNoContent)
		}
		if !strings.Contains(resp.Header.Get("Access-Control-Allow-Headers"), "X-SOS-Secret") {
			t.Fatalf("Access-Control-Allow-Headers=%q", resp.Header.Get("Access-Control-Allow-Headers"))
		}
	})

	t.Run("no origin passes", func(t *testing.T) {
		getJSON(t, mustRequest(t, http.MethodGet, baseURL+"/healthz"), http.StatusOK, nil)
	})
}

func TestRecoverMiddleware(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(baseConfig(), log, BuildInfo{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv.Mux().HandleFunc("GET /boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	var body map[string]any
	getJSON(t, mustRequest(t, http.MethodGet, "http://"+ln.Addr().String()+"/boom"), http.StatusInternalServerError, &body)
	if body["error"] != "internal_error" {
		t.Fatalf("body=%v", body)
	}

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("/metrics status=%d, want 404 without metrics", resp.StatusCode)
	}
}

func TestReadyzFailsOnInvalidICEConfig(t *testing.T) {
	t.Setenv("ICE_SERVERS_JSON", "[")

	cfg, err := config.Load([]string{"--listen-addr", "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("config.Load returned fatal error: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICE config error to be captured for readiness")
	}

	baseURL := startTestServer(t, cfg)

	getJSON(t, mustRequest(t, http.MethodGet, baseURL+"/readyz"), http.StatusServiceUnavailable, nil)
	getJSON(t, mustRequest(t, http.MethodGet, baseURL+"/ice"), http.StatusServiceUnavailable, nil)
}
