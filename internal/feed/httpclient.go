package feed

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

type HTTPOptions struct {
	// Timeout caps a single attempt. Zero leaves the request context in
	// charge.
	Timeout  time.Duration
	RetryMax int
	Logger   *zap.Logger
}

// NewHTTPClient returns a retrying client shaped as a plain *http.Client.
// Once retries are exhausted the last response is handed back untouched so
// callers can classify its status code.
func NewHTTPClient(opts HTTPOptions) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	rc.Logger = leveledLogger{log.Named("http").Sugar()}
	return rc.StandardClient()
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger. Attempt failures
// are reported again by the fetcher, so they land at warn.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }

var _ retryablehttp.LeveledLogger = leveledLogger{}
