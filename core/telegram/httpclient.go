package telegram

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/metrics"
	"github.com/m3rciful/onboardbot/core/telegram/netutil"
)

// HTTPClientOptions tunes the Telegram API client. Zero values use defaults;
// a negative Retries disables retrying.
type HTTPClientOptions struct {
	// Timeout bounds one API call including retries. Long polling adds its
	// own timeout on top.
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

const (
	defaultClientTimeout = 30 * time.Second
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 2 * time.Second
)

// BuildHTTPClient returns an HTTP client for the Bot API that retries
// requests which failed before Telegram answered.
func BuildHTTPClient(opts HTTPClientOptions) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultClientTimeout
	}
	switch {
	case opts.Retries < 0:
		opts.Retries = 0
	case opts.Retries == 0:
		opts.Retries = defaultRetryAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultRetryBackoff
	}

	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: &retryTransport{base: base, retries: opts.Retries, backoff: opts.Backoff},
	}
}

type retryTransport struct {
	base    http.RoundTripper
	retries int
	backoff time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	for attempt := 1; ; attempt++ {
		resp, err := base.RoundTrip(req)
		if err == nil || attempt > t.retries || !netutil.ShouldRetry(err) {
			return resp, err
		}
		next, ok := rewind(req)
		if !ok {
			return nil, err
		}

		delay := t.backoff * time.Duration(attempt)
		metrics.RecordOutboundRetry(netutil.Kind(err))
		logger.TG.Debug("api call retry",
			slog.String("event", "tg.http.retry"),
			slog.Int("attempt", attempt),
			slog.String("err_kind", netutil.Kind(err)),
			slog.Duration("backoff", delay),
		)
		timer := time.NewTimer(delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
		req = next
	}
}

// rewind prepares req to be sent again. Requests whose body cannot be
// recreated are not replayed.
func rewind(req *http.Request) (*http.Request, bool) {
	next := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return next, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	next.Body = body
	return next, true
}
