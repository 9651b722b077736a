package engine

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strconv"
	"time"
)

const (
	// BufferSize is the pooled read buffer used by segment workers.
	BufferSize = 32 * 1024

	probeTimeout       = 10 * time.Second
	segmentIdleTimeout = 60 * time.Second

	GenericUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36"
)

// newClient builds the per-job keep-alive client. The transport caps the
// host at exactly `connections` sockets so N workers progress in parallel
// without evicting one another, and one transport serves both the plain and
// TLS pools.
func newClient(connections int) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxConnsPerHost:       connections,
		MaxIdleConnsPerHost:   connections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: segmentIdleTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true, // raw bytes only; ranges address the identity encoding
	}
	return &http.Client{
		Transport: transport,
		Timeout:   0, // request contexts carry the deadlines
	}
}

// probeResult holds the metadata learned from the probe request.
type probeResult struct {
	size     int64
	fileName string
}

// probe issues a HEAD request with a 10 second deadline. The origin must
// declare a numeric size; a Content-Disposition filename is optional.
func (j *Job) probe(ctx context.Context) (*probeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, j.cfg.URL, nil)
	if err != nil {
		return nil, fatal(err)
	}
	req.Header.Set("User-Agent", j.userAgent())
	req.Header.Set("Accept", "*/*")

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("probe failed with status %s", resp.Status)
	}

	size := int64(-1)
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if parsed, err := strconv.ParseInt(cl, 10, 64); err == nil {
			size = parsed
		}
	}
	if size < 0 {
		return nil, fatal(ErrSizeUnknown)
	}

	fileName := ""
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			fileName = params["filename"]
		}
	}

	return &probeResult{size: size, fileName: fileName}, nil
}
