package repository

import (
	"context"
	"database/sql"
)

const createSessionEvent = `-- name: CreateSessionEvent :exec
INSERT INTO session_events (session_id, app_id, target_url, event, attempt, detail)
VALUES (?, ?, ?, ?, ?, ?)
`

type CreateSessionEventParams struct {
	SessionID string         `json:"session_id"`
	AppID     string         `json:"app_id"`
	TargetUrl string         `json:"target_url"`
	Event     string         `json:"event"`
	Attempt   int64          `json:"attempt"`
	Detail    sql.NullString `json:"detail"`
}

func (q *Queries) CreateSessionEvent(ctx context.Context, arg CreateSessionEventParams) error {
	_, err := q.db.ExecContext(ctx, createSessionEvent,
		arg.SessionID,
		arg.AppID,
		arg.TargetUrl,
		arg.Event,
		arg.Attempt,
		arg.Detail,
	)
	return err
}

const listSessionEvents = `-- name: ListSessionEvents :many
SELECT id, session_id, app_id, target_url, event, attempt, detail, created_at
FROM session_events
WHERE (?1 = '' OR app_id = ?1)
  AND (?2 = '' OR session_id = ?2)
ORDER BY id DESC
LIMIT ?3
`

type ListSessionEventsParams struct {
	AppID     string `json:"app_id"`
	SessionID string `json:"session_id"`
	Limit     int64  `json:"limit"`
}

func (q *Queries) ListSessionEvents(ctx context.Context, arg ListSessionEventsParams) ([]SessionEvent, error) {
	rows, err := q.db.QueryContext(ctx, listSessionEvents, arg.AppID, arg.SessionID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SessionEvent
	for rows.Next() {
		var i SessionEvent
		if err := rows.Scan(
			&i.ID,
			&i.SessionID,
			&i.AppID,
			&i.TargetUrl,
			&i.Event,
			&i.Attempt,
			&i.Detail,
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

const deleteSessionEventsBefore = `-- name: DeleteSessionEventsBefore :execrows
DELETE FROM session_events WHERE created_at < ?
`

func (q *Queries) DeleteSessionEventsBefore(ctx context.Context, before string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteSessionEventsBefore, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
