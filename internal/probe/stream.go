package probe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"
)

// StreamStatus classifies the outcome of a single stream probe.
type StreamStatus string

const (
	StreamOnline  StreamStatus = "online"
	StreamOffline StreamStatus = "offline"
	StreamTimeout StreamStatus = "timeout"
	StreamError   StreamStatus = "error"
)

// maxRedirectHops bounds redirect following during a stream probe. Exactly one
// hop is followed; a second redirect classifies the stream as offline.
const maxRedirectHops = 1

// StreamResult is the outcome of probing one stream URL.
type StreamResult struct {
	URL           string        `json:"url"`
	Status        StreamStatus  `json:"status"`
	Latency       time.Duration `json:"latency_ns"`
	HTTPStatus    int           `json:"http_status,omitempty"`
	ContentType   string        `json:"content_type,omitempty"`
	ContentLength int64         `json:"content_length,omitempty"`
	Detail        string        `json:"detail,omitempty"`
	CheckedAt     time.Time     `json:"checked_at"`
}

// StreamProber issues HEAD probes against individual stream URLs.
type StreamProber struct {
	client  *http.Client
	timeout func() time.Duration
}

// NewStreamProber creates a stream prober. The client must not follow
// redirects itself; redirect hops are counted here.
func NewStreamProber(timeout func() time.Duration) *StreamProber {
	if timeout == nil {
		timeout = func() time.Duration { return 8 * time.Second }
	}
	return &StreamProber{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
	}
}

// Probe checks a single stream URL with a HEAD request. One redirect hop is
// followed. The result always carries latency and timestamp, even on failure.
func (s *StreamProber) Probe(ctx context.Context, rawURL string) StreamResult {
	res := StreamResult{URL: rawURL, CheckedAt: time.Now()}

	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		res.Status = StreamError
		res.Detail = "malformed stream URL"
		return res
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		res.Status = StreamError
		res.Detail = "unsupported scheme " + u.Scheme
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	start := time.Now()
	target := rawURL
	for hop := 0; ; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
		if err != nil {
			res.Latency = time.Since(start)
			res.Status = StreamError
			res.Detail = err.Error()
			return res
		}

		resp, err := s.client.Do(req)
		if err != nil {
			res.Latency = time.Since(start)
			res.Status, res.Detail = classifyStreamErr(err)
			return res
		}
		resp.Body.Close()

		res.Latency = time.Since(start)
		res.HTTPStatus = resp.StatusCode

		if isRedirect(resp.StatusCode) {
			loc := resp.Header.Get("Location")
			if hop < maxRedirectHops && loc != "" {
				next, err := resp.Request.URL.Parse(loc)
				if err != nil {
					res.Status = StreamError
					res.Detail = "bad redirect location"
					return res
				}
				target = next.String()
				continue
			}
			res.Status = StreamOffline
			res.Detail = "redirect not followed"
			return res
		}

		if resp.StatusCode == http.StatusOK {
			res.Status = StreamOnline
			res.ContentType = resp.Header.Get("Content-Type")
			res.ContentLength = resp.ContentLength
		} else {
			res.Status = StreamOffline
		}
		return res
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// classifyStreamErr separates deadline expiry from other transport failures.
func classifyStreamErr(err error) (StreamStatus, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return StreamTimeout, "probe deadline exceeded"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StreamTimeout, "network timeout"
	}
	return StreamError, err.Error()
}
