package handler

import (
	"net/http"

	"botrelay/internal/repository"

	log "github.com/sirupsen/logrus"
)

type HistoryHandler struct {
	queries *repository.Queries
}

func NewHistoryHandler(queries *repository.Queries) *HistoryHandler {
	return &HistoryHandler{queries: queries}
}

type ProxyHistoryResponse struct {
	ID              int64  `json:"id"`
	AppID           string `json:"appId,omitempty"`
	Method          string `json:"method"`
	URL             string `json:"url"`
	StatusCode      *int64 `json:"statusCode,omitempty"`
	DurationMs      *int64 `json:"durationMs,omitempty"`
	RequestBytes    int64  `json:"requestBytes"`
	ResponseBytes   int64  `json:"responseBytes"`
	ContentEncoding string `json:"contentEncoding,omitempty"`
	Error           string `json:"error,omitempty"`
	CreatedAt       string `json:"createdAt"`
}

type SessionEventResponse struct {
	ID        int64  `json:"id"`
	SessionID string `json:"sessionId"`
	AppID     string `json:"appId"`
	TargetURL string `json:"targetUrl"`
	Event     string `json:"event"`
	Attempt   int64  `json:"attempt"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func (h *HistoryHandler) ListProxy(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	rows, err := h.queries.ListProxyHistory(r.Context(), repository.ListProxyHistoryParams{
		AppID: r.URL.Query().Get("appid"),
		Limit: limit,
	})
	if err != nil {
		log.WithError(err).Error("failed to list proxy history")
		respondError(w, http.StatusInternalServerError, "Failed to list proxy history")
		return
	}

	resp := make([]ProxyHistoryResponse, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, ProxyHistoryResponse{
			ID:              row.ID,
			AppID:           row.AppID.String,
			Method:          row.Method,
			URL:             row.Url,
			StatusCode:      nullInt64(row.StatusCode),
			DurationMs:      nullInt64(row.DurationMs),
			RequestBytes:    row.RequestBytes,
			ResponseBytes:   row.ResponseBytes,
			ContentEncoding: row.ContentEncoding.String,
			Error:           row.Error.String,
			CreatedAt:       formatTime(row.CreatedAt),
		})
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *HistoryHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	q := r.URL.Query()
	rows, err := h.queries.ListSessionEvents(r.Context(), repository.ListSessionEventsParams{
		AppID:     q.Get("appid"),
		SessionID: q.Get("session"),
		Limit:     limit,
	})
	if err != nil {
		log.WithError(err).Error("failed to list session events")
		respondError(w, http.StatusInternalServerError, "Failed to list session events")
		return
	}

	resp := make([]SessionEventResponse, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, SessionEventResponse{
			ID:        row.ID,
			SessionID: row.SessionID,
			AppID:     row.AppID,
			TargetURL: row.TargetUrl,
			Event:     row.Event,
			Attempt:   row.Attempt,
			Detail:    row.Detail.String,
			CreatedAt: formatTime(row.CreatedAt),
		})
	}

	respondJSON(w, http.StatusOK, resp)
}
