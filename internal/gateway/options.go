package gateway

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"autoconfig.org/internal/obs"
)

// ClientOptFn are options to set different parameters on the Client.
type ClientOptFn func(*clientOpt) error

type clientOpt struct {
	doer    doer
	timeout time.Duration
	headers http.Header
	limiter *rate.Limiter
	logger  *zap.Logger
}

func withDoer(d doer) ClientOptFn {
	return func(opt *clientOpt) error {
		opt.doer = d
		return nil
	}
}

// WithTimeout bounds a single HTTP exchange with the gateway.
func WithTimeout(d time.Duration) ClientOptFn {
	return func(opt *clientOpt) error {
		if d > 0 {
			opt.timeout = d
		}
		return nil
	}
}

// WithHeader sets a default header applied to all requests.
func WithHeader(header, val string) ClientOptFn {
	return func(opt *clientOpt) error {
		if opt.headers == nil {
			opt.headers = make(http.Header)
		}
		opt.headers.Add(header, val)
		return nil
	}
}

// WithRateLimit throttles outgoing calls. perSecond <= 0 disables throttling.
func WithRateLimit(perSecond float64, burst int) ClientOptFn {
	return func(opt *clientOpt) error {
		if perSecond <= 0 {
			opt.limiter = nil
			return nil
		}
		if burst <= 0 {
			burst = 1
		}
		opt.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		return nil
	}
}

// WithLogger sets the logger used for per-call debug lines.
func WithLogger(l *zap.Logger) ClientOptFn {
	return func(opt *clientOpt) error {
		opt.logger = l
		return nil
	}
}

func defaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: obs.InstrumentTransport(http.DefaultTransport.(*http.Transport).Clone()),
	}
}
