package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func captureAppID(got *string) http.Handler {
	return AppID("X-Union-Appid")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = GetAppID(r.Context())
	}))
}

func TestAppID_FromHeader(t *testing.T) {
	var got string
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Union-Appid", "1001")
	captureAppID(&got).ServeHTTP(httptest.NewRecorder(), req)

	if got != "1001" {
		t.Errorf("expected app ID 1001, got %q", got)
	}
}

func TestAppID_TrimsWhitespace(t *testing.T) {
	var got string
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Union-Appid", "  7 ")
	captureAppID(&got).ServeHTTP(httptest.NewRecorder(), req)

	if got != "7" {
		t.Errorf("expected app ID 7, got %q", got)
	}
}

func TestAppID_OpaqueValue(t *testing.T) {
	var got string
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Union-Appid", "tenant-abc")
	captureAppID(&got).ServeHTTP(httptest.NewRecorder(), req)

	if got != "tenant-abc" {
		t.Errorf("expected opaque app ID to pass through, got %q", got)
	}
}

func TestAppID_MissingHeader(t *testing.T) {
	got := "unset"
	req := httptest.NewRequest("GET", "/", nil)
	captureAppID(&got).ServeHTTP(httptest.NewRecorder(), req)

	if got != "" {
		t.Errorf("expected empty app ID without header, got %q", got)
	}
}

func TestGetAppID_WithoutMiddleware(t *testing.T) {
	if id := GetAppID(context.Background()); id != "" {
		t.Errorf("expected empty app ID from bare context, got %q", id)
	}
}
