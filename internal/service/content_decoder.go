package service

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"strings"

	"botrelay/internal/config"
	"botrelay/internal/metrics"

	"github.com/andybalholm/brotli"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ContentDecoder undoes the Content-Encoding of an upstream response body.
// It never fails a request: anything it cannot decode is returned as is.
type ContentDecoder struct {
	deflateFraming string
	metrics        *metrics.Metrics
}

func NewContentDecoder(deflateFraming string, m *metrics.Metrics) *ContentDecoder {
	if deflateFraming == "" {
		deflateFraming = config.DeflateRaw
	}
	return &ContentDecoder{deflateFraming: deflateFraming, metrics: m}
}

// Decode returns buf with the encodings listed in contentEncoding removed.
// Unknown or empty labels return buf unchanged, and so does a corrupt stream.
func (d *ContentDecoder) Decode(buf []byte, contentEncoding string) []byte {
	out, err := d.decode(buf, contentEncoding)
	if err != nil {
		log.WithFields(log.Fields{
			"encoding": contentEncoding,
			"size":     len(buf),
		}).Warnf("decode failed, passing body through: %v", err)
		if d.metrics != nil {
			d.metrics.DecodeFailures.WithLabelValues(strings.ToLower(strings.TrimSpace(contentEncoding))).Inc()
		}
		return buf
	}
	return out
}

func (d *ContentDecoder) decode(buf []byte, contentEncoding string) ([]byte, error) {
	var labels []string
	for _, token := range strings.Split(contentEncoding, ",") {
		label := strings.ToLower(strings.TrimSpace(token))
		switch label {
		case "", "identity":
			continue
		case "x-gzip":
			label = "gzip"
		case "gzip", "deflate", "br":
		default:
			log.WithField("encoding", label).Debug("unsupported content encoding, passing body through")
			return buf, nil
		}
		labels = append(labels, label)
	}

	// encodings are listed in the order they were applied
	out := buf
	for i := len(labels) - 1; i >= 0; i-- {
		var err error
		out, err = d.decodeOne(out, labels[i])
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *ContentDecoder) decodeOne(buf []byte, label string) ([]byte, error) {
	var r io.Reader
	switch label {
	case "gzip":
		gr, err := gzip.NewReader(bytes.NewReader(buf))
		if err != nil {
			return nil, errors.Wrap(err, "gzip")
		}
		defer gr.Close()
		r = gr
	case "deflate":
		dr, err := d.deflateReader(buf)
		if err != nil {
			return nil, errors.Wrap(err, "deflate")
		}
		defer dr.Close()
		r = dr
	case "br":
		r = brotli.NewReader(bytes.NewReader(buf))
	}

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, label)
	}
	return out, nil
}

func (d *ContentDecoder) deflateReader(buf []byte) (io.ReadCloser, error) {
	switch d.deflateFraming {
	case config.DeflateZlib:
		return zlib.NewReader(bytes.NewReader(buf))
	case config.DeflateAuto:
		if hasZlibHeader(buf) {
			return zlib.NewReader(bytes.NewReader(buf))
		}
	}
	return flate.NewReader(bytes.NewReader(buf)), nil
}

// hasZlibHeader checks the RFC 1950 CMF/FLG pair: deflate method with a
// header checksum divisible by 31.
func hasZlibHeader(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	cmf, flg := buf[0], buf[1]
	return cmf&0x0f == 8 && cmf>>4 <= 7 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}
