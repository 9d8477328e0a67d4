package repository

import (
	"database/sql"
)

type ProxyHistory struct {
	ID              int64          `json:"id"`
	AppID           sql.NullString `json:"app_id"`
	Method          string         `json:"method"`
	Url             string         `json:"url"`
	StatusCode      sql.NullInt64  `json:"status_code"`
	DurationMs      sql.NullInt64  `json:"duration_ms"`
	RequestBytes    int64          `json:"request_bytes"`
	ResponseBytes   int64          `json:"response_bytes"`
	ContentEncoding sql.NullString `json:"content_encoding"`
	Error           sql.NullString `json:"error"`
	CreatedAt       sql.NullTime   `json:"created_at"`
}

type SessionEvent struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	AppID     string         `json:"app_id"`
	TargetUrl string         `json:"target_url"`
	Event     string         `json:"event"`
	Attempt   int64          `json:"attempt"`
	Detail    sql.NullString `json:"detail"`
	CreatedAt sql.NullTime   `json:"created_at"`
}
