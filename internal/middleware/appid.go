package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const appIDKey contextKey = "appID"

// AppID stores the application identifier carried in header on the request
// context. The value is opaque here; an absent header stores nothing.
func AppID(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
				r = r.WithContext(context.WithValue(r.Context(), appIDKey, v))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func GetAppID(ctx context.Context) string {
	if id, ok := ctx.Value(appIDKey).(string); ok {
		return id
	}
	return ""
}
