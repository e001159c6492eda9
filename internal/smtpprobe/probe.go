// Package smtpprobe runs single SMTP recipient probes against one mail host.
//
// A probe is an explicit state machine:
//
//	CONNECT -> GREET -> SENDER -> RECIPIENT -> CLOSE
//
// Every state maps each reply class to exactly one next state and outcome.
// CLOSE sends QUIT and releases the connection on every exit path. No
// message data is ever sent.
package smtpprobe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"

	"github.com/optimode/deliverkit/internal/metrics"
	"github.com/optimode/deliverkit/types"
)

// State is a step of the probe state machine.
type State int

const (
	StateConnect State = iota
	StateGreet
	StateSender
	StateRecipient
	StateClose
	StateDone
)

func (s State) String() string {
	switch s {
	case StateConnect:
		return "CONNECT"
	case StateGreet:
		return "GREET"
	case StateSender:
		return "SENDER"
	case StateRecipient:
		return "RECIPIENT"
	case StateClose:
		return "CLOSE"
	case StateDone:
		return "DONE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ProxyConfig configures an optional SOCKS5 proxy for probe connections.
type ProxyConfig struct {
	Address  string // host:port
	Username string
	Password string
}

// Config configures the prober.
type Config struct {
	HeloDomain     string
	MailFrom       string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	Port           string
	// RateLimit caps new connections per second across all probes. <=0 disables.
	RateLimit float64
	RateBurst int
	Proxy     *ProxyConfig
	// Dial is injectable for testing. Defaults to a net.Dialer, or the
	// SOCKS5 dialer when Proxy is set.
	Dial   func(ctx context.Context, network, address string) (net.Conn, error)
	Logger logrus.FieldLogger
}

// Outcome is the result of one probe session.
type Outcome struct {
	Host   string
	State  State // state in which the session was decided
	Status types.Status
	Code   string
	Reply  Reply
	Err    error
	// NextHost is set when the failure is specific to this host and the
	// next mail host of the domain may answer differently.
	NextHost bool
	// Retryable is set for transient recipient replies (greylisting).
	Retryable bool
}

// Prober opens probe sessions. Safe for concurrent use.
type Prober struct {
	cfg     Config
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

// New validates cfg and builds the dialer.
func New(cfg Config) (*Prober, error) {
	if cfg.HeloDomain == "" || cfg.MailFrom == "" {
		return nil, errors.New("smtpprobe: HeloDomain and MailFrom are required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Second
	}
	if cfg.Port == "" {
		cfg.Port = "25"
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}
	if cfg.Dial == nil {
		dial, err := newDialer(cfg)
		if err != nil {
			return nil, err
		}
		cfg.Dial = dial
	}

	p := &Prober{cfg: cfg, log: cfg.Logger}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return p, nil
}

func newDialer(cfg Config) (func(ctx context.Context, network, address string) (net.Conn, error), error) {
	direct := &net.Dialer{Timeout: cfg.ConnectTimeout}
	if cfg.Proxy == nil || cfg.Proxy.Address == "" {
		return direct.DialContext, nil
	}

	var auth *proxy.Auth
	if cfg.Proxy.Username != "" {
		auth = &proxy.Auth{User: cfg.Proxy.Username, Password: cfg.Proxy.Password}
	}
	d, err := proxy.SOCKS5("tcp", cfg.Proxy.Address, auth, direct)
	if err != nil {
		return nil, fmt.Errorf("smtpprobe: SOCKS5 dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("smtpprobe: SOCKS5 dialer does not support contexts")
	}
	return cd.DialContext, nil
}

// Probe runs one session against host for the recipient address rcpt.
// The connection is closed before Probe returns, and immediately when ctx
// ends.
func (p *Prober) Probe(ctx context.Context, host, rcpt string) Outcome {
	s := &session{
		p:    p,
		host: host,
		rcpt: rcpt,
		log:  p.log.WithFields(logrus.Fields{"mx_host": host, "rcpt": rcpt}),
	}
	for state := StateConnect; state != StateDone; {
		state = s.step(ctx, state)
	}
	return s.out
}

type session struct {
	p    *Prober
	host string
	rcpt string
	log  logrus.FieldLogger

	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	stop   func() bool

	out Outcome
}

func (s *session) step(ctx context.Context, st State) State {
	switch st {
	case StateConnect:
		return s.connect(ctx)
	case StateGreet:
		return s.greet(ctx)
	case StateSender:
		return s.sender(ctx)
	case StateRecipient:
		return s.recipient(ctx)
	case StateClose:
		s.close()
		return StateDone
	}
	return StateDone
}

func (s *session) connect(ctx context.Context) State {
	if s.p.limiter != nil {
		// Wait fails early when the next token lies beyond the deadline.
		if err := s.p.limiter.Wait(ctx); err != nil {
			metrics.ObserveConnection("rate_limited")
			s.out.Err = fmt.Errorf("rate limit wait: %w", err)
			return s.finish(StateConnect, types.StatusInconclusive, types.CodeTimeout, Reply{}, false)
		}
	}

	dctx, cancel := context.WithTimeout(ctx, s.p.cfg.ConnectTimeout)
	defer cancel()

	address := net.JoinHostPort(s.host, s.p.cfg.Port)
	conn, err := s.p.cfg.Dial(dctx, "tcp", address)
	if err != nil {
		metrics.ObserveConnection("error")
		return s.ioFailure(ctx, StateConnect, types.CodeUnreachable, fmt.Errorf("connect to %s: %w", address, err))
	}
	metrics.ObserveConnection("ok")

	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.writer = bufio.NewWriter(conn)
	// Unblocks any pending read or write the moment the address budget ends.
	s.stop = context.AfterFunc(ctx, func() { _ = conn.Close() })
	return StateGreet
}

func (s *session) greet(ctx context.Context) State {
	banner, err := s.read(ctx, "BANNER")
	if err != nil {
		return s.ioFailure(ctx, StateGreet, types.CodeProtocolError, fmt.Errorf("read banner: %w", err))
	}
	if banner.Class() != ClassPositive {
		return s.greetRejected(banner)
	}

	reply, err := s.command(ctx, "EHLO", "EHLO "+s.p.cfg.HeloDomain)
	if err != nil {
		return s.ioFailure(ctx, StateGreet, types.CodeProtocolError, fmt.Errorf("EHLO: %w", err))
	}
	// Servers that do not implement ESMTP get a plain HELO.
	if reply.Code == 500 || reply.Code == 502 {
		reply, err = s.command(ctx, "HELO", "HELO "+s.p.cfg.HeloDomain)
		if err != nil {
			return s.ioFailure(ctx, StateGreet, types.CodeProtocolError, fmt.Errorf("HELO: %w", err))
		}
	}
	if reply.Class() != ClassPositive {
		return s.greetRejected(reply)
	}
	return StateSender
}

// greetRejected handles a negative banner or EHLO/HELO reply. Transient
// replies and blocklisting notices are specific to the host; any other
// permanent rejection ends the probe for the domain.
func (s *session) greetRejected(reply Reply) State {
	switch {
	case reply.Class() == ClassTransientNegative:
		return s.finish(StateGreet, types.StatusInconclusive, types.CodeGreetRejected, reply, true)
	case reply.Class() == ClassPermanentNegative && mentionsBlocklist(reply.Text):
		return s.finish(StateGreet, types.StatusInconclusive, types.CodeHostBlocked, reply, true)
	case reply.Class() == ClassPermanentNegative:
		return s.finish(StateGreet, types.StatusInconclusive, types.CodeGreetRejected, reply, false)
	}
	return s.finish(StateGreet, types.StatusInconclusive, types.CodeUnexpectedReply, reply, true)
}

func (s *session) sender(ctx context.Context) State {
	reply, err := s.command(ctx, "MAIL", fmt.Sprintf("MAIL FROM:<%s>", s.p.cfg.MailFrom))
	if err != nil {
		return s.ioFailure(ctx, StateSender, types.CodeProtocolError, fmt.Errorf("MAIL FROM: %w", err))
	}
	switch reply.Class() {
	case ClassPositive:
		return StateRecipient
	case ClassTransientNegative:
		return s.finish(StateSender, types.StatusInconclusive, types.CodeSenderDeferred, reply, true)
	case ClassPermanentNegative:
		return s.finish(StateSender, types.StatusFail, types.CodeSenderRejected, reply, false)
	}
	return s.finish(StateSender, types.StatusInconclusive, types.CodeUnexpectedReply, reply, true)
}

func (s *session) recipient(ctx context.Context) State {
	reply, err := s.command(ctx, "RCPT", fmt.Sprintf("RCPT TO:<%s>", s.rcpt))
	if err != nil {
		return s.ioFailure(ctx, StateRecipient, types.CodeProtocolError, fmt.Errorf("RCPT TO: %w", err))
	}
	switch reply.Class() {
	case ClassPositive:
		return s.finish(StateRecipient, types.StatusPass, types.CodeMailboxExists, reply, false)
	case ClassTransientNegative:
		s.out.Retryable = true
		return s.finish(StateRecipient, types.StatusInconclusive, types.CodeGreylisted, reply, false)
	case ClassPermanentNegative:
		if MailboxUnknown(reply) {
			return s.finish(StateRecipient, types.StatusFail, types.CodeMailboxNotFound, reply, false)
		}
		return s.finish(StateRecipient, types.StatusInconclusive, types.CodePolicyRejected, reply, false)
	}
	return s.finish(StateRecipient, types.StatusInconclusive, types.CodeUnexpectedReply, reply, false)
}

// MailboxUnknown reports whether a permanent RCPT reply says the mailbox
// does not exist: 550, 551 or 553 without a policy enhanced status.
func MailboxUnknown(reply Reply) bool {
	switch reply.Code {
	case 550, 551, 553:
		return !reply.PolicyRelated()
	}
	return false
}

// close sends QUIT and releases the connection. Safe when connect failed.
func (s *session) close() {
	if s.conn == nil {
		return
	}
	if s.stop != nil {
		s.stop()
	}
	_ = s.conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := s.writer.WriteString("QUIT\r\n"); err == nil && s.writer.Flush() == nil {
		_, _ = readReply(s.reader)
	}
	_ = s.conn.Close()
	s.conn = nil
}

func (s *session) finish(st State, status types.Status, code string, reply Reply, nextHost bool) State {
	s.out.Host = s.host
	s.out.State = st
	s.out.Status = status
	s.out.Code = code
	s.out.Reply = reply
	s.out.NextHost = nextHost
	s.log.WithFields(logrus.Fields{
		"state":      st.String(),
		"status":     status,
		"code":       code,
		"smtp_reply": reply.Code,
	}).Debug("probe decided")
	return StateClose
}

// ioFailure records a dial or I/O failure. When the address budget has
// ended the outcome is a timeout; otherwise the next host may be tried.
func (s *session) ioFailure(ctx context.Context, st State, code string, err error) State {
	s.out.Err = err
	if budgetSpent(ctx) {
		return s.finish(st, types.StatusInconclusive, types.CodeTimeout, Reply{}, false)
	}
	s.log.WithError(err).Debug("probe I/O failure")
	return s.finish(st, types.StatusInconclusive, code, Reply{}, true)
}

// command writes one command line and reads the reply.
func (s *session) command(ctx context.Context, name, line string) (Reply, error) {
	s.deadline(ctx)
	start := time.Now()
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		metrics.ObserveCommand(name, 0, time.Since(start))
		return Reply{}, err
	}
	if err := s.writer.Flush(); err != nil {
		metrics.ObserveCommand(name, 0, time.Since(start))
		return Reply{}, err
	}
	reply, err := readReply(s.reader)
	metrics.ObserveCommand(name, reply.Code, time.Since(start))
	return reply, err
}

func (s *session) read(ctx context.Context, name string) (Reply, error) {
	s.deadline(ctx)
	start := time.Now()
	reply, err := readReply(s.reader)
	metrics.ObserveCommand(name, reply.Code, time.Since(start))
	return reply, err
}

// deadline bounds the next exchange by the command timeout and the
// address budget, whichever ends first.
func (s *session) deadline(ctx context.Context) {
	d := time.Now().Add(s.p.cfg.CommandTimeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		d = cd
	}
	_ = s.conn.SetDeadline(d)
}

func budgetSpent(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	d, ok := ctx.Deadline()
	return ok && !time.Now().Before(d)
}

var blocklistMarkers = []string{"blacklist", "blocklist", "blocked", "spamhaus", "rbl", "dnsbl", "listed"}

func mentionsBlocklist(text string) bool {
	text = strings.ToLower(text)
	for _, m := range blocklistMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
