package service

import (
	"context"
	"sync"
	"time"

	"botrelay/internal/repository"

	log "github.com/sirupsen/logrus"
)

// Session lifecycle events written to the journal.
const (
	EventRegistered         = "registered"
	EventTargetOpen         = "target_open"
	EventTargetClosed       = "target_closed"
	EventReconnectScheduled = "reconnect_scheduled"
	EventExhausted          = "exhausted"
	EventTerminated         = "terminated"
)

// HistoryRecorder writes journal rows on a background goroutine so relay and
// proxy paths never wait on SQLite. A nil *HistoryRecorder records nothing.
type HistoryRecorder struct {
	queries *repository.Queries
	entries chan historyEntry
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

type historyEntry struct {
	proxy *repository.CreateProxyHistoryParams
	event *repository.CreateSessionEventParams
}

func NewHistoryRecorder(queries *repository.Queries, buffer int) *HistoryRecorder {
	if buffer <= 0 {
		buffer = 256
	}
	h := &HistoryRecorder{
		queries: queries,
		entries: make(chan historyEntry, buffer),
		done:    make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *HistoryRecorder) RecordProxy(p repository.CreateProxyHistoryParams) {
	if h == nil {
		return
	}
	h.enqueue(historyEntry{proxy: &p})
}

func (h *HistoryRecorder) RecordSessionEvent(p repository.CreateSessionEventParams) {
	if h == nil {
		return
	}
	h.enqueue(historyEntry{event: &p})
}

func (h *HistoryRecorder) enqueue(e historyEntry) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.entries <- e:
	default:
		log.Warn("history journal queue full, dropping entry")
	}
}

// Close stops accepting entries and waits until queued ones are written.
func (h *HistoryRecorder) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.entries)
	}
	h.mu.Unlock()
	<-h.done
}

func (h *HistoryRecorder) run() {
	defer close(h.done)
	for e := range h.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var err error
		switch {
		case e.proxy != nil:
			_, err = h.queries.CreateProxyHistory(ctx, *e.proxy)
		case e.event != nil:
			err = h.queries.CreateSessionEvent(ctx, *e.event)
		}
		cancel()
		if err != nil {
			log.WithError(err).Warn("failed to write history entry")
		}
	}
}
