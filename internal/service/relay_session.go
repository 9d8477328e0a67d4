package service

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"sync"
	"time"

	"botrelay/internal/metrics"
	"botrelay/internal/repository"

	"github.com/cenkalti/backoff/v3"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// TargetState is the state of the target side of a relay session.
type TargetState int

const (
	// TargetConnecting is a dial in flight.
	TargetConnecting TargetState = iota
	// TargetOpen forwards frames in both directions.
	TargetOpen
	// TargetRetrying waits for the reconnect timer; client frames are dropped.
	TargetRetrying
	// TargetExhausted gave up reconnecting and is closing the client.
	TargetExhausted
	// TargetTerminated is final.
	TargetTerminated
)

func (s TargetState) String() string {
	switch s {
	case TargetConnecting:
		return "connecting"
	case TargetOpen:
		return "open"
	case TargetRetrying:
		return "retrying"
	case TargetExhausted:
		return "exhausted"
	case TargetTerminated:
		return "terminated"
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

// Close reason sent to the client when the target stays unreachable.
const reasonTargetUnavailable = "target service unavailable"

// TargetDialer opens the target side of a relay session.
type TargetDialer interface {
	DialTarget(ctx context.Context, targetURL string) (*websocket.Conn, error)
}

// WebSocketDialer dials targets with coder/websocket.
type WebSocketDialer struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	ReadLimit  int64
}

// NewWebSocketDialer bounds every dial by timeout and caps frame size.
func NewWebSocketDialer(timeout time.Duration, readLimit int64, insecureSkipVerify bool) *WebSocketDialer {
	return &WebSocketDialer{
		HTTPClient: CreateHTTPClient(HTTPClientOptions{InsecureSkipVerify: insecureSkipVerify}),
		Timeout:    timeout,
		ReadLimit:  readLimit,
	}
}

func (d *WebSocketDialer) DialTarget(ctx context.Context, targetURL string) (*websocket.Conn, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	conn, _, err := websocket.Dial(ctx, targetURL, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", targetURL)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return conn, nil
}

// SessionOptions is shared by every session a handler starts. Nil fields
// get private defaults.
type SessionOptions struct {
	Registry     *ConnectionRegistry
	Dialer       TargetDialer
	Metrics      *metrics.Metrics
	History      *HistoryRecorder
	MaxAttempts  int
	RetryDelay   time.Duration
	WriteTimeout time.Duration
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.Registry == nil {
		o.Registry = NewConnectionRegistry()
	}
	if o.Dialer == nil {
		o.Dialer = NewWebSocketDialer(10*time.Second, 32<<20, false)
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

// RelaySession pairs one client socket with one target socket and forwards
// frames between them. Delivery is at most once: a frame that arrives while
// the opposite side is not open is dropped, never queued.
type RelaySession struct {
	ID        uuid.UUID
	AppID     int64
	TargetURL string

	appKey string
	client *websocket.Conn
	opts   SessionOptions
	log    *log.Entry

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// mu serializes every state transition below.
	mu       sync.Mutex
	state    TargetState
	target   *websocket.Conn
	attempts int
	policy   backoff.BackOff
	timer    *time.Timer
}

// StartRelaySession registers a session for client under appID and starts
// connecting to targetURL. The session ends when the client goes away, when
// Close is called, when ctx is cancelled or when reconnection gives up.
func StartRelaySession(ctx context.Context, client *websocket.Conn, appID int64, targetURL string, opts SessionOptions) *RelaySession {
	opts = opts.withDefaults()
	sctx, cancel := context.WithCancel(ctx)

	s := &RelaySession{
		ID:        uuid.New(),
		AppID:     appID,
		TargetURL: targetURL,
		appKey:    strconv.FormatInt(appID, 10),
		client:    client,
		opts:      opts,
		ctx:       sctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     TargetConnecting,
		policy:    backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.RetryDelay), uint64(opts.MaxAttempts)),
	}
	s.log = log.WithFields(log.Fields{
		"appid":   appID,
		"session": s.ID.String(),
		"target":  targetURL,
	})

	opts.Registry.Add(s.appKey, s)
	opts.Metrics.SessionsTotal.Inc()
	opts.Metrics.ActiveSessions.Inc()
	s.record(EventRegistered, 0, "")
	s.log.WithField("active_appids", opts.Registry.Count()).Info("relay session registered")

	go s.connect()
	go s.readClient()
	return s
}

// Done is closed once the session has terminated and left the registry.
func (s *RelaySession) Done() <-chan struct{} {
	return s.done
}

func (s *RelaySession) State() TargetState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the number of consecutive reconnections scheduled since
// the target was last open.
func (s *RelaySession) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Close closes the client socket with code and terminates the session.
func (s *RelaySession) Close(code websocket.StatusCode, reason string) {
	s.client.Close(code, reason)
	s.terminate(reason)
}

func (s *RelaySession) readClient() {
	for {
		typ, data, err := s.client.Read(s.ctx)
		if err != nil {
			s.log.WithField("code", int(websocket.CloseStatus(err))).Infof("client disconnected: %v", err)
			s.client.CloseNow()
			s.terminate("client closed")
			return
		}
		s.forwardToTarget(typ, data)
	}
}

func (s *RelaySession) forwardToTarget(typ websocket.MessageType, data []byte) {
	s.mu.Lock()
	target, state := s.target, s.state
	s.mu.Unlock()

	if state != TargetOpen || target == nil {
		s.opts.Metrics.Dropped.WithLabelValues(metrics.ToTarget).Inc()
		s.log.WithFields(log.Fields{"state": state.String(), "size": len(data)}).Debug("target not open, dropping client message")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.WriteTimeout)
	defer cancel()
	if err := target.Write(ctx, typ, data); err != nil {
		// the target reader observes the failure and drives reconnection
		s.log.WithError(err).Debug("forward to target failed")
		return
	}
	s.opts.Metrics.Forwarded.WithLabelValues(metrics.ToTarget).Inc()
}

func (s *RelaySession) forwardToClient(typ websocket.MessageType, data []byte) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == TargetTerminated || state == TargetExhausted {
		s.opts.Metrics.Dropped.WithLabelValues(metrics.ToClient).Inc()
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.WriteTimeout)
	defer cancel()
	if err := s.client.Write(ctx, typ, data); err != nil {
		s.log.WithError(err).Debug("forward to client failed")
		return
	}
	s.opts.Metrics.Forwarded.WithLabelValues(metrics.ToClient).Inc()
}

// connect runs on session start and whenever a reconnect timer fires.
func (s *RelaySession) connect() {
	s.mu.Lock()
	if s.state == TargetTerminated || s.state == TargetExhausted {
		s.mu.Unlock()
		return
	}
	s.state = TargetConnecting
	s.timer = nil
	s.mu.Unlock()

	conn, err := s.opts.Dialer.DialTarget(s.ctx, s.TargetURL)
	if err != nil {
		s.log.WithError(err).Warn("target connection failed")
		s.targetClosed(nil, err)
		return
	}

	s.mu.Lock()
	if s.state != TargetConnecting {
		s.mu.Unlock()
		conn.CloseNow()
		return
	}
	s.target = conn
	s.state = TargetOpen
	s.attempts = 0
	s.policy.Reset()
	s.mu.Unlock()

	s.log.Info("target connection established")
	s.record(EventTargetOpen, 0, "")
	s.readTarget(conn)
}

func (s *RelaySession) readTarget(conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(s.ctx)
		if err != nil {
			conn.CloseNow()
			s.targetClosed(conn, err)
			return
		}
		s.forwardToClient(typ, data)
	}
}

// targetClosed handles a target close, a target error or a failed dial
// (conn == nil). It either schedules a reconnect or gives up.
func (s *RelaySession) targetClosed(conn *websocket.Conn, cause error) {
	s.mu.Lock()
	if s.state == TargetTerminated || s.state == TargetExhausted {
		s.mu.Unlock()
		return
	}
	if conn != nil && s.target != conn {
		s.mu.Unlock()
		return
	}
	if conn == nil && s.state != TargetConnecting {
		s.mu.Unlock()
		return
	}
	s.target = nil

	delay := s.policy.NextBackOff()
	if delay == backoff.Stop {
		s.state = TargetExhausted
		attempts := s.attempts
		s.mu.Unlock()

		s.log.WithField("attempts", attempts).Error("reached max reconnect attempts, closing client")
		s.opts.Metrics.Exhausted.Inc()
		s.record(EventExhausted, attempts, errString(cause))
		s.client.Close(websocket.StatusInternalError, reasonTargetUnavailable)
		s.terminate(reasonTargetUnavailable)
		return
	}

	s.attempts++
	attempt := s.attempts
	s.state = TargetRetrying
	s.timer = time.AfterFunc(delay, s.connect)
	s.mu.Unlock()

	s.opts.Metrics.ReconnectAttempts.Inc()
	s.record(EventTargetClosed, attempt-1, errString(cause))
	s.record(EventReconnectScheduled, attempt, "")
	s.log.WithFields(log.Fields{
		"attempt": attempt,
		"max":     s.opts.MaxAttempts,
		"delay":   delay,
	}).Warnf("target closed, reconnecting: %v", cause)
}

// terminate tears the session down exactly once.
func (s *RelaySession) terminate(reason string) {
	s.mu.Lock()
	if s.state == TargetTerminated {
		s.mu.Unlock()
		return
	}
	if s.state == TargetExhausted {
		reason = reasonTargetUnavailable
	}
	s.state = TargetTerminated
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	target := s.target
	s.target = nil
	attempts := s.attempts
	s.mu.Unlock()

	if target != nil {
		target.Close(websocket.StatusNormalClosure, "")
	}
	s.cancel()

	s.record(EventTerminated, attempts, reason)
	s.opts.Registry.Remove(s.appKey, s)
	s.opts.Metrics.ActiveSessions.Dec()
	s.log.WithFields(log.Fields{
		"reason":        reason,
		"active_appids": s.opts.Registry.Count(),
	}).Info("relay session closed")
	close(s.done)
}

func (s *RelaySession) record(event string, attempt int, detail string) {
	s.opts.History.RecordSessionEvent(repository.CreateSessionEventParams{
		SessionID: s.ID.String(),
		AppID:     s.appKey,
		TargetUrl: s.TargetURL,
		Event:     event,
		Attempt:   int64(attempt),
		Detail:    sql.NullString{String: detail, Valid: detail != ""},
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
