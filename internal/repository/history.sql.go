package repository

import (
	"context"
	"database/sql"
)

const createProxyHistory = `-- name: CreateProxyHistory :one
INSERT INTO proxy_history (
    app_id, method, url, status_code, duration_ms, request_bytes, response_bytes, content_encoding, error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id, app_id, method, url, status_code, duration_ms, request_bytes, response_bytes, content_encoding, error, created_at
`

type CreateProxyHistoryParams struct {
	AppID           sql.NullString `json:"app_id"`
	Method          string         `json:"method"`
	Url             string         `json:"url"`
	StatusCode      sql.NullInt64  `json:"status_code"`
	DurationMs      sql.NullInt64  `json:"duration_ms"`
	RequestBytes    int64          `json:"request_bytes"`
	ResponseBytes   int64          `json:"response_bytes"`
	ContentEncoding sql.NullString `json:"content_encoding"`
	Error           sql.NullString `json:"error"`
}

func (q *Queries) CreateProxyHistory(ctx context.Context, arg CreateProxyHistoryParams) (ProxyHistory, error) {
	row := q.db.QueryRowContext(ctx, createProxyHistory,
		arg.AppID,
		arg.Method,
		arg.Url,
		arg.StatusCode,
		arg.DurationMs,
		arg.RequestBytes,
		arg.ResponseBytes,
		arg.ContentEncoding,
		arg.Error,
	)
	var i ProxyHistory
	err := row.Scan(
		&i.ID,
		&i.AppID,
		&i.Method,
		&i.Url,
		&i.StatusCode,
		&i.DurationMs,
		&i.RequestBytes,
		&i.ResponseBytes,
		&i.ContentEncoding,
		&i.Error,
		&i.CreatedAt,
	)
	return i, err
}

const listProxyHistory = `-- name: ListProxyHistory :many
SELECT id, app_id, method, url, status_code, duration_ms, request_bytes, response_bytes, content_encoding, error, created_at
FROM proxy_history
WHERE (?1 = '' OR app_id = ?1)
ORDER BY id DESC
LIMIT ?2
`

type ListProxyHistoryParams struct {
	AppID string `json:"app_id"`
	Limit int64  `json:"limit"`
}

func (q *Queries) ListProxyHistory(ctx context.Context, arg ListProxyHistoryParams) ([]ProxyHistory, error) {
	rows, err := q.db.QueryContext(ctx, listProxyHistory, arg.AppID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ProxyHistory
	for rows.Next() {
		var i ProxyHistory
		if err := rows.Scan(
			&i.ID,
			&i.AppID,
			&i.Method,
			&i.Url,
			&i.StatusCode,
			&i.DurationMs,
			&i.RequestBytes,
			&i.ResponseBytes,
			&i.ContentEncoding,
			&i.Error,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteProxyHistoryBefore = `-- name: DeleteProxyHistoryBefore :execrows
DELETE FROM proxy_history WHERE created_at < ?
`

// DeleteProxyHistoryBefore takes the cutoff in SQLite's CURRENT_TIMESTAMP
// layout ("2006-01-02 15:04:05", UTC).
func (q *Queries) DeleteProxyHistoryBefore(ctx context.Context, before string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteProxyHistoryBefore, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
