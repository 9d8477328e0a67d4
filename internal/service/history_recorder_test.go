package service

import (
	"context"
	"testing"

	"botrelay/internal/repository"
	"botrelay/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRecorder_FlushesOnClose(t *testing.T) {
	q := testutil.SetupTestDB(t)
	h := NewHistoryRecorder(q, 16)

	h.RecordProxy(repository.CreateProxyHistoryParams{Method: "GET", Url: "https://a.test/x"})
	h.RecordSessionEvent(repository.CreateSessionEventParams{
		SessionID: "s", AppID: "1", TargetUrl: "wss://a.test", Event: EventRegistered,
	})
	h.Close()

	ctx := context.Background()
	proxies, err := q.ListProxyHistory(ctx, repository.ListProxyHistoryParams{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, proxies, 1)

	events, err := q.ListSessionEvents(ctx, repository.ListSessionEventsParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventRegistered, events[0].Event)
}

func TestHistoryRecorder_RecordAfterCloseIsDropped(t *testing.T) {
	q := testutil.SetupTestDB(t)
	h := NewHistoryRecorder(q, 4)
	h.Close()
	h.Close()

	h.RecordProxy(repository.CreateProxyHistoryParams{Method: "GET", Url: "https://a.test/x"})

	proxies, err := q.ListProxyHistory(context.Background(), repository.ListProxyHistoryParams{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, proxies)
}

func TestHistoryRecorder_NilIsNoop(t *testing.T) {
	var h *HistoryRecorder
	h.RecordProxy(repository.CreateProxyHistoryParams{})
	h.RecordSessionEvent(repository.CreateSessionEventParams{})
	h.Close()
}
