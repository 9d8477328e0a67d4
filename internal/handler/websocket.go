package handler

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"botrelay/internal/service"

	"github.com/coder/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Close reasons stay fixed and short: a close frame carries at most 123
// bytes of reason, and the caller's input can be arbitrarily long.
var (
	errMissingParams = errors.New("missing parameters")
	errInvalidAppID  = errors.New("invalid appid")
	errInvalidURL    = errors.New("invalid url")
)

type RelayHandler struct {
	ctx       context.Context
	opts      service.SessionOptions
	readLimit int64
}

// NewRelayHandler serves relay sessions. Sessions inherit ctx rather than the
// request context so a server shutdown, not the handler return, ends them.
func NewRelayHandler(ctx context.Context, opts service.SessionOptions, readLimit int64) *RelayHandler {
	return &RelayHandler{ctx: ctx, opts: opts, readLimit: readLimit}
}

func (h *RelayHandler) Relay(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// any origin may relay, same as the permissive CORS policy
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	appID, targetURL, err := parseRelayParams(r.URL.Query())
	if err != nil {
		log.WithField("query", r.URL.RawQuery).Warnf("rejecting relay connection: %v", err)
		conn.Close(websocket.StatusUnsupportedData, errors.Cause(err).Error())
		return
	}
	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}

	s := service.StartRelaySession(h.ctx, conn, appID, targetURL, h.opts)
	<-s.Done()
}

func parseRelayParams(q url.Values) (int64, string, error) {
	rawID := q.Get("appid")
	if rawID == "" {
		return 0, "", errors.Wrap(errMissingParams, "appid")
	}
	appID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return 0, "", errors.Wrapf(errInvalidAppID, "%q", rawID)
	}

	rawURL := q.Get("url")
	if rawURL == "" {
		return 0, "", errors.Wrap(errMissingParams, "url")
	}
	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		return 0, "", errors.Wrapf(errInvalidURL, "%q", rawURL)
	}
	switch target.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return 0, "", errors.Wrapf(errInvalidURL, "unsupported scheme %q", target.Scheme)
	}
	return appID, target.String(), nil
}
