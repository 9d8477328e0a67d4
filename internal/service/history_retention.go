package service

import (
	"context"
	"time"

	"botrelay/internal/repository"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// sqliteTimestamp matches the text SQLite's CURRENT_TIMESTAMP produces.
const sqliteTimestamp = "2006-01-02 15:04:05"

type PruneResult struct {
	Before        time.Time `json:"before"`
	ProxyHistory  int64     `json:"proxyHistory"`
	SessionEvents int64     `json:"sessionEvents"`
}

// PruneHistory deletes journal rows created before the cutoff.
func PruneHistory(ctx context.Context, queries *repository.Queries, before time.Time) (*PruneResult, error) {
	cutoff := before.UTC().Format(sqliteTimestamp)
	result := &PruneResult{Before: before}

	n, err := queries.DeleteProxyHistoryBefore(ctx, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prune proxy history")
	}
	result.ProxyHistory = n

	n, err = queries.DeleteSessionEventsBefore(ctx, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prune session events")
	}
	result.SessionEvents = n

	return result, nil
}

// RunRetention prunes rows older than retention once per interval until ctx
// is done. A non-positive retention disables pruning.
func RunRetention(ctx context.Context, queries *repository.Queries, retention, interval time.Duration) error {
	if retention <= 0 {
		<-ctx.Done()
		return nil
	}
	if interval <= 0 {
		interval = retention / 4
		if interval < time.Minute {
			interval = time.Minute
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := PruneHistory(ctx, queries, time.Now().Add(-retention))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("history retention pass failed")
		} else if res.ProxyHistory > 0 || res.SessionEvents > 0 {
			log.WithFields(log.Fields{
				"proxy_history":  res.ProxyHistory,
				"session_events": res.SessionEvents,
			}).Info("pruned history journal")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
