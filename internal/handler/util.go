package handler

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// parseLimit reads the `limit` query parameter, clamped to maxListLimit.
func parseLimit(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, strconv.ErrSyntax
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

func formatTime(t sql.NullTime) string {
	if t.Valid {
		return t.Time.Format("2006-01-02T15:04:05Z07:00")
	}
	return ""
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
