package deliverkit

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/optimode/deliverkit/check"
)

// DNSOptions configures the MX stage.
type DNSOptions struct {
	// Timeout is the maximum time for one DNS query. Default: 5s
	Timeout time.Duration
	// Resolver overrides the system resolver. Default: &net.Resolver{}
	Resolver check.Resolver
}

func defaultDNSOptions() DNSOptions {
	return DNSOptions{Timeout: 5 * time.Second}
}

// DisposableOptions configures the disposable domain stage.
type DisposableOptions struct {
	// Source is a file path or http(s) URL with extra domains, one per line.
	// The embedded list is always included.
	Source string
	// HTTPClient fetches a URL Source. Default: a client with a 30s timeout
	HTTPClient *http.Client
	// TypoThreshold is the edit distance for "did you mean" suggestions on
	// well-known provider domains. 0 disables suggestions. Default: 2
	TypoThreshold int
}

func defaultDisposableOptions() DisposableOptions {
	return DisposableOptions{TypoThreshold: 2}
}

// RoleOptions configures the role address stage.
type RoleOptions struct {
	// Keywords replaces the built-in keyword list when not empty.
	Keywords []string
}

// ProxyOptions routes SMTP probe connections through a SOCKS5 proxy.
type ProxyOptions struct {
	Address  string // host:port
	Username string
	Password string
}

// SMTPOptions configures the SMTP probe and catch-all stages.
type SMTPOptions struct {
	// HeloDomain is the domain sent in the EHLO command. Required, e.g. "myapp.com"
	HeloDomain string
	// MailFrom is the address sent in the MAIL FROM command. Required, e.g. "verify@myapp.com"
	MailFrom string
	// ConnectTimeout is the maximum time for the TCP connection. Default: 5s
	ConnectTimeout time.Duration
	// CommandTimeout is the maximum response time for SMTP commands. Default: 10s
	CommandTimeout time.Duration
	// MaxMXHosts is how many MX hosts to try sequentially. Default: 3
	MaxMXHosts int
	// Port is the SMTP port. Default: 25
	Port string
	// GreylistBackoff is the wait before the single retry of a 4xx RCPT reply. Default: 5s
	GreylistBackoff time.Duration
	// RateLimit caps new SMTP connections per second. Default: 10
	RateLimit float64
	// RateBurst is the connection burst allowance. Default: 20
	RateBurst int
	// Proxy is an optional SOCKS5 proxy.
	Proxy *ProxyOptions
	// SkipCatchAll disables catch-all detection.
	SkipCatchAll bool
	// Dial replaces the TCP dialer, mainly for tests.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

func defaultSMTPOptions() SMTPOptions {
	return SMTPOptions{
		ConnectTimeout:  5 * time.Second,
		CommandTimeout:  10 * time.Second,
		MaxMXHosts:      3,
		Port:            "25",
		GreylistBackoff: 5 * time.Second,
		RateLimit:       10,
		RateBurst:       20,
	}
}

// BatchOptions configures VerifyBatch.
type BatchOptions struct {
	// Workers is the number of domains verified concurrently. Default: 5
	Workers int
	// Timeout bounds the whole batch. Candidates not started before it
	// expires are returned as pending. 0 means no limit beyond ctx.
	Timeout time.Duration
}

func defaultBatchOptions() BatchOptions {
	return BatchOptions{Workers: 5}
}

// DefaultAddressTimeout is the per-address ceiling used when
// WithAddressTimeout is not called.
const DefaultAddressTimeout = 30 * time.Second
