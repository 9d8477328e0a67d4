package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"botrelay/internal/handler"
	"botrelay/internal/metrics"
	"botrelay/internal/middleware"
	"botrelay/internal/repository"
	"botrelay/internal/service"
	"botrelay/internal/testutil"

	"github.com/go-chi/chi/v5"
)

type testEnv struct {
	server   *httptest.Server
	registry *service.ConnectionRegistry
	queries  *repository.Queries
	history  *service.HistoryRecorder
	metrics  *metrics.Metrics
}

// setupTestServer wires the full router the way cmd/server does, backed by an
// in-memory journal.
func setupTestServer(t *testing.T, maxBodyBytes int64) *testEnv {
	t.Helper()

	q := testutil.SetupTestDB(t)
	env := &testEnv{
		registry: service.NewConnectionRegistry(),
		queries:  q,
		history:  service.NewHistoryRecorder(q, 64),
		metrics:  metrics.New(),
	}
	env.metrics.WatchAppIDs(env.registry.Count)

	ctx, cancel := context.WithCancel(context.Background())
	relayH := handler.NewRelayHandler(ctx, service.SessionOptions{
		Registry:    env.registry,
		Metrics:     env.metrics,
		History:     env.history,
		MaxAttempts: 2,
		RetryDelay:  20 * time.Millisecond,
	}, 1<<20)
	proxy := service.NewHTTPProxy(service.HTTPProxyOptions{
		Client:  service.CreateHTTPClient(service.HTTPClientOptions{Timeout: 5 * time.Second}),
		Metrics: env.metrics,
		History: env.history,
	})
	proxyH := handler.NewProxyHandler(proxy, maxBodyBytes)
	healthH := handler.NewHealthHandler(env.registry)
	histH := handler.NewHistoryHandler(q)

	r := chi.NewRouter()
	r.Use(middleware.CORS)
	r.Use(middleware.AppID("X-Union-Appid"))

	r.Get("/", relayH.Relay)
	r.Get("/ws", relayH.Relay)
	r.Get("/proxy", proxyH.Proxy)
	r.Post("/proxy", proxyH.Proxy)
	r.Put("/proxy", proxyH.Proxy)
	r.Delete("/proxy", proxyH.Proxy)
	r.Patch("/proxy", proxyH.Proxy)
	r.Get("/health", healthH.Health)
	r.Get("/history/proxy", histH.ListProxy)
	r.Get("/history/sessions", histH.ListSessions)
	r.Handle("/metrics", env.metrics.Handler())

	env.server = httptest.NewServer(r)
	t.Cleanup(func() {
		env.server.Close()
		cancel()
		env.history.Close()
	})
	return env
}

func readJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("failed to parse JSON %q: %v", string(data), err)
	}
}

func getHealth(t *testing.T, env *testEnv) handler.HealthResponse {
	t.Helper()
	resp, err := http.Get(env.server.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var h handler.HealthResponse
	readJSON(t, resp, &h)
	return h
}

// ---------------------------------------------------------------------------
// End to end: relay session plus proxy call, both visible in the journal
// ---------------------------------------------------------------------------

func TestIntegration_RelayAndProxyJournal(t *testing.T) {
	env := setupTestServer(t, 1<<20)
	target := startEchoTarget(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	}))
	defer upstream.Close()

	client := dialRelay(t, env, "/ws", "appid=77&url="+wsURL(target))
	sendAndExpectEcho(t, env, client, "77", "ping")
	client.Close(1000, "")
	waitFor(t, "session removed", func() bool { return env.registry.SessionCount() == 0 })

	req, _ := http.NewRequest("GET", env.server.URL+"/proxy?url="+upstream.URL+"/ping", nil)
	req.Header.Set("X-Union-Appid", "77")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("proxy: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Fatalf("proxy body: got %q", body)
	}

	// flush the async journal writer
	env.history.Close()

	resp, err = http.Get(env.server.URL + "/history/proxy?appid=77")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var proxies []handler.ProxyHistoryResponse
	readJSON(t, resp, &proxies)
	if len(proxies) != 1 {
		t.Fatalf("expected 1 proxy row, got %d", len(proxies))
	}
	if proxies[0].StatusCode == nil || *proxies[0].StatusCode != 200 {
		t.Errorf("journal status: got %v", proxies[0].StatusCode)
	}
	if !strings.HasSuffix(proxies[0].URL, "/ping") {
		t.Errorf("journal url: got %q", proxies[0].URL)
	}

	resp, err = http.Get(env.server.URL + "/history/sessions?appid=77")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var events []handler.SessionEventResponse
	readJSON(t, resp, &events)

	seen := map[string]bool{}
	for _, e := range events {
		seen[e.Event] = true
	}
	for _, want := range []string{service.EventRegistered, service.EventTargetOpen, service.EventTerminated} {
		if !seen[want] {
			t.Errorf("missing session event %q in %+v", want, events)
		}
	}
}

func TestIntegration_Metrics(t *testing.T) {
	env := setupTestServer(t, 1<<20)

	resp, err := http.Get(env.server.URL + "/proxy")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = http.Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	text := string(data)

	for _, want := range []string{
		"botrelay_relay_app_ids 0",
		"botrelay_relay_sessions_active 0",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
