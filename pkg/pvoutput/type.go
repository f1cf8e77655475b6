package pvoutput

import (
	"net/http"
	"time"
)

// Notifier receives best-effort failure notifications. Implementations
// must swallow their own errors.
type Notifier interface {
	Notify(message string)
}

// RateLimitState mirrors the quota headers of the last PVOutput
// response. Ephemeral; refreshed on every call, never persisted.
type RateLimitState struct {
	// Remaining requests in the current window; -1 before the first
	// response carrying the header.
	Remaining int
	// Seconds until the window resets.
	ResetIn time.Duration
}

// Client submits readings to a PVOutput-compatible service.
type Client struct {
	systemId string
	apiKey   string
	notifier Notifier

	statusURL string
	batchURL  string

	httpClient *http.Client
	sleep      func(time.Duration)
	now        func() time.Time

	rateLimit RateLimitState
}
