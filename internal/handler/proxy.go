package handler

import (
	"io"
	"net/http"
	"strings"

	"botrelay/internal/middleware"
	"botrelay/internal/service"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type ProxyHandler struct {
	proxy        *service.HTTPProxy
	maxBodyBytes int64
}

func NewProxyHandler(proxy *service.HTTPProxy, maxBodyBytes int64) *ProxyHandler {
	return &ProxyHandler{proxy: proxy, maxBodyBytes: maxBodyBytes}
}

func (h *ProxyHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	target, err := service.BuildTargetURL(r.URL.Query())
	if err != nil {
		if errors.Is(err, service.ErrMissingURL) {
			respondError(w, http.StatusBadRequest, "Missing URL")
			return
		}
		log.WithError(err).Warn("rejecting proxy request")
		respondError(w, http.StatusBadRequest, "Invalid URL")
		return
	}

	body := r.Body
	if h.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		log.WithError(err).Warn("failed to read proxy request body")
		respondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	req := h.proxy.NewRequest(r.Method, target, r.Header, payload, middleware.GetAppID(r.Context()))
	resp, err := h.proxy.Forward(r.Context(), req)
	if err != nil {
		if r.Context().Err() != nil {
			log.WithField("url", target.String()).Info("caller aborted proxy request")
			return
		}
		log.WithError(err).WithField("url", target.String()).Error("proxy request failed")
		respondError(w, http.StatusInternalServerError, "Proxy request failed")
		return
	}

	writeProxyResponse(w, resp)
}

func writeProxyResponse(w http.ResponseWriter, resp *service.ProxyResponse) {
	header := w.Header()
	for k, vs := range resp.Header {
		// keep the permissive CORS headers already set by middleware
		if strings.HasPrefix(k, "Access-Control-") && header.Get(k) != "" {
			continue
		}
		header[k] = vs
	}

	if !bodyAllowed(resp.StatusCode) {
		header.Del("Content-Length")
		w.WriteHeader(resp.StatusCode)
		return
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
