package service

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"botrelay/internal/metrics"
	"botrelay/internal/repository"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// acceptEncoding announces exactly what ContentDecoder can undo.
const acceptEncoding = "gzip, deflate, br"

var (
	ErrMissingURL = errors.New("missing url")
	ErrInvalidURL = errors.New("invalid url")
)

// ProxyRequest is the outbound request built from an inbound /proxy call.
type ProxyRequest struct {
	Method    string
	TargetURL *url.URL
	Header    http.Header
	Body      []byte
	AppID     string
}

// ProxyResponse carries the upstream status and headers with a decoded body.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// BuildTargetURL resolves the upstream URL from the inbound query: the
// absolute `url` parameter plus every other parameter re-attached.
func BuildTargetURL(query url.Values) (*url.URL, error) {
	raw := query.Get("url")
	if raw == "" {
		return nil, ErrMissingURL
	}
	target, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidURL, "%q: %v", raw, err)
	}
	if !target.IsAbs() || target.Host == "" {
		return nil, errors.Wrapf(ErrInvalidURL, "%q is not absolute", raw)
	}

	q := target.Query()
	for k, vs := range query {
		if k == "url" {
			continue
		}
		q[k] = append([]string(nil), vs...)
	}
	target.RawQuery = q.Encode()
	return target, nil
}

// HTTPProxyOptions configures NewHTTPProxy. Zero fields take defaults.
type HTTPProxyOptions struct {
	Client      *http.Client
	Decoder     *ContentDecoder
	UserAgent   string
	AppIDHeader string
	Metrics     *metrics.Metrics
	History     *HistoryRecorder
}

// HTTPProxy forwards one request upstream and decodes the response body.
// It keeps no per-request state.
type HTTPProxy struct {
	client      *http.Client
	decoder     *ContentDecoder
	userAgent   string
	appIDHeader string
	metrics     *metrics.Metrics
	history     *HistoryRecorder
}

// NewHTTPProxy fills unset options with the relay defaults.
func NewHTTPProxy(opts HTTPProxyOptions) *HTTPProxy {
	p := &HTTPProxy{
		client:      opts.Client,
		decoder:     opts.Decoder,
		userAgent:   opts.UserAgent,
		appIDHeader: opts.AppIDHeader,
		metrics:     opts.Metrics,
		history:     opts.History,
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}
	if p.client == nil {
		p.client = CreateHTTPClient(HTTPClientOptions{Timeout: 30 * time.Second, HTTP2: true})
	}
	if p.decoder == nil {
		p.decoder = NewContentDecoder("", p.metrics)
	}
	if p.userAgent == "" {
		p.userAgent = "BotNodeSDK/0.0.1"
	}
	if p.appIDHeader == "" {
		p.appIDHeader = "X-Union-Appid"
	}
	return p
}

// NewRequest builds the outbound request. Headers are a fixed subset of the
// inbound ones, never a verbatim copy.
func (p *HTTPProxy) NewRequest(method string, target *url.URL, inbound http.Header, body []byte, appID string) *ProxyRequest {
	h := make(http.Header)
	h.Set("User-Agent", p.userAgent)
	h.Set("Authorization", inbound.Get("Authorization"))
	if appID != "" {
		h.Set(p.appIDHeader, appID)
	}
	if ct := inbound.Get("Content-Type"); ct != "" {
		h.Set("Content-Type", ct)
	}
	h.Set("Accept-Encoding", acceptEncoding)

	return &ProxyRequest{
		Method:    method,
		TargetURL: target,
		Header:    h,
		Body:      body,
		AppID:     appID,
	}
}

// Forward performs the upstream round trip. ctx should be the inbound
// request's context so a caller abort cancels the upstream call.
func (p *HTTPProxy) Forward(ctx context.Context, req *ProxyRequest) (*ProxyResponse, error) {
	target := req.TargetURL.String()
	logger := log.WithFields(log.Fields{"method": req.Method, "url": target})

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, errors.Wrap(err, "build upstream request")
	}
	httpReq.Header = req.Header.Clone()
	// net/http still sends Content-Length: 0 for an empty POST, PUT or PATCH
	if len(req.Body) > 0 {
		httpReq.ContentLength = int64(len(req.Body))
	}

	logger.Debug("forwarding proxy request")
	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		elapsed := time.Since(start)
		p.metrics.ObserveProxy(http.StatusInternalServerError, elapsed)
		p.recordHistory(req, nil, elapsed, 0, err)
		return nil, errors.Wrap(err, "upstream round trip")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		p.metrics.ObserveProxy(http.StatusInternalServerError, elapsed)
		p.recordHistory(req, resp, elapsed, 0, err)
		return nil, errors.Wrap(err, "read upstream body")
	}

	decoded := raw
	if encoding := resp.Header.Get("Content-Encoding"); encoding != "" {
		decoded = p.decoder.Decode(raw, encoding)
		logger.WithFields(log.Fields{
			"encoding": encoding,
			"wire":     len(raw),
			"decoded":  len(decoded),
		}).Debug("decoded upstream body")
	}

	header := make(http.Header, len(resp.Header)+1)
	for k, vs := range resp.Header {
		switch http.CanonicalHeaderKey(k) {
		case "Content-Length", "Transfer-Encoding", "Content-Encoding":
			continue
		}
		header[k] = append([]string(nil), vs...)
	}
	header.Set("Content-Length", strconv.Itoa(len(decoded)))

	p.metrics.ObserveProxy(resp.StatusCode, elapsed)
	p.recordHistory(req, resp, elapsed, len(decoded), nil)
	logger.WithFields(log.Fields{
		"status":   resp.StatusCode,
		"duration": elapsed,
	}).Info("proxy response")

	return &ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       decoded,
	}, nil
}

func (p *HTTPProxy) recordHistory(req *ProxyRequest, resp *http.Response, elapsed time.Duration, responseBytes int, cause error) {
	params := repository.CreateProxyHistoryParams{
		AppID:         sql.NullString{String: req.AppID, Valid: req.AppID != ""},
		Method:        req.Method,
		Url:           req.TargetURL.String(),
		DurationMs:    sql.NullInt64{Int64: elapsed.Milliseconds(), Valid: true},
		RequestBytes:  int64(len(req.Body)),
		ResponseBytes: int64(responseBytes),
		Error:         sql.NullString{String: errString(cause), Valid: cause != nil},
	}
	if resp != nil {
		params.StatusCode = sql.NullInt64{Int64: int64(resp.StatusCode), Valid: true}
		if enc := resp.Header.Get("Content-Encoding"); enc != "" {
			params.ContentEncoding = sql.NullString{String: enc, Valid: true}
		}
	}
	p.history.RecordProxy(params)
}
