package handler

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFormatTime_Valid(t *testing.T) {
	ts := time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)
	nt := sql.NullTime{Time: ts, Valid: true}

	got := formatTime(nt)
	want := "2024-06-15T10:30:00Z"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatTime_Invalid(t *testing.T) {
	nt := sql.NullTime{Valid: false}
	got := formatTime(nt)
	if got != "" {
		t.Errorf("got %q, want empty string", got)
	}
}

func TestNullInt64(t *testing.T) {
	if got := nullInt64(sql.NullInt64{}); got != nil {
		t.Errorf("expected nil for invalid value, got %d", *got)
	}
	got := nullInt64(sql.NullInt64{Int64: 42, Valid: true})
	if got == nil || *got != 42 {
		t.Errorf("expected 42, got %v", got)
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		query   string
		want    int64
		wantErr bool
	}{
		{"", defaultListLimit, false},
		{"limit=5", 5, false},
		{"limit=999999", maxListLimit, false},
		{"limit=0", 0, true},
		{"limit=-1", 0, true},
		{"limit=abc", 0, true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/history/proxy?"+tt.query, nil)
		got, err := parseLimit(r)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: error = %v, wantErr %v", tt.query, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: got %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestRespondError(t *testing.T) {
	w := httptest.NewRecorder()
	respondError(w, http.StatusBadRequest, "Missing URL")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status code: got %d, want 400", w.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got["error"] != "Missing URL" {
		t.Errorf("error: got %q", got["error"])
	}
}

func TestRespondJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"key": "value"}

	respondJSON(w, 200, data)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
	if w.Code != 200 {
		t.Errorf("status code: got %d, want 200", w.Code)
	}

	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got["key"] != "value" {
		t.Errorf("body key: got %q, want %q", got["key"], "value")
	}
}
