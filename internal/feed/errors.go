package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrUnsupportedShape means the payload is valid JSON that matches none
	// of the known layouts.
	ErrUnsupportedShape = errors.New("unsupported JSON structure")
	// ErrMalformedPayload means the body could not be decoded at all.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Kind classifies a failed fetch.
type Kind int

const (
	KindNetwork Kind = iota + 1 // includes timeouts
	KindNotFound
	KindForbidden
	KindRateLimited
	KindServer
	KindHTTP
	KindMalformed
	KindUnsupportedShape
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindNotFound:
		return "not-found"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate-limited"
	case KindServer:
		return "server-error"
	case KindHTTP:
		return "http-error"
	case KindMalformed:
		return "malformed-payload"
	case KindUnsupportedShape:
		return "unsupported-shape"
	default:
		return "unknown"
	}
}

// FetchError carries the classification of a failed source fetch.
type FetchError struct {
	Kind   Kind
	URL    string
	Status int // HTTP status, zero when no response was received
	Err    error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("API endpoint not configured on domain (%d): %s", e.Status, e.URL)
	case KindForbidden:
		return fmt.Sprintf("access forbidden, check API permissions (%d): %s", e.Status, e.URL)
	case KindRateLimited:
		return fmt.Sprintf("rate limited by upstream (%d): %s", e.Status, e.URL)
	case KindServer:
		return fmt.Sprintf("server error, API temporarily unavailable (%d): %s", e.Status, e.URL)
	case KindHTTP:
		return fmt.Sprintf("unexpected HTTP status %d: %s", e.Status, e.URL)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s fetching %s: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("%s fetching %s", e.Kind, e.URL)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Timeout reports whether the fetch was cut off by its deadline.
func (e *FetchError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// KindOf extracts the classification from err, or 0 when err is not a
// *FetchError.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

func classifyStatus(code int) Kind {
	switch {
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusForbidden:
		return KindForbidden
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code >= 500:
		return KindServer
	default:
		return KindHTTP
	}
}
