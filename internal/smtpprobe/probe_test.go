package smtpprobe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimode/deliverkit/types"
)

// fakeServer simulates an SMTP server on one end of a net.Pipe and records
// every command line it receives.
type fakeServer struct {
	banner    string
	responses map[string]string

	mu       sync.Mutex
	commands []string
}

func (f *fakeServer) serve(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	if f.banner == "" {
		// Silent server: never greets.
		_, _ = bufio.NewReader(conn).ReadString('\n')
		return
	}
	_, _ = fmt.Fprintf(conn, "%s\r\n", f.banner)

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		f.mu.Lock()
		f.commands = append(f.commands, line)
		f.mu.Unlock()

		if strings.HasPrefix(line, "QUIT") {
			_, _ = fmt.Fprintf(conn, "221 Bye\r\n")
			return
		}
		resp := "500 unrecognized"
		for prefix, r := range f.responses {
			if strings.HasPrefix(line, prefix) {
				resp = r
				break
			}
		}
		_, _ = fmt.Fprintf(conn, "%s\r\n", resp)
	}
}

func (f *fakeServer) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeServer) dial(context.Context, string, string) (net.Conn, error) {
	client, server := net.Pipe()
	go f.serve(server)
	return client, nil
}

func newTestProber(t *testing.T, dial func(context.Context, string, string) (net.Conn, error)) *Prober {
	t.Helper()
	p, err := New(Config{
		HeloDomain:     "verifier.test",
		MailFrom:       "probe@verifier.test",
		CommandTimeout: time.Second,
		Dial:           dial,
	})
	require.NoError(t, err)
	return p
}

func okResponses(rcpt string) map[string]string {
	return map[string]string{
		"EHLO":      "250 mx.example.com",
		"HELO":      "250 mx.example.com",
		"MAIL FROM": "250 2.1.0 OK",
		"RCPT TO":   rcpt,
	}
}

func TestProbe_RecipientReplies(t *testing.T) {
	tests := []struct {
		name      string
		rcpt      string
		status    types.Status
		code      string
		enhanced  string
		retryable bool
	}{
		{"accepted", "250 2.1.5 OK", types.StatusPass, types.CodeMailboxExists, "2.1.5", false},
		{"unknown user", "550 5.1.1 User unknown", types.StatusFail, types.CodeMailboxNotFound, "5.1.1", false},
		{"551 not local", "551 User not local", types.StatusFail, types.CodeMailboxNotFound, "", false},
		{"553 bad mailbox", "553 5.1.3 Bad mailbox", types.StatusFail, types.CodeMailboxNotFound, "5.1.3", false},
		{"550 policy", "550 5.7.1 Relaying denied", types.StatusInconclusive, types.CodePolicyRejected, "5.7.1", false},
		{"554 refused", "554 Transaction failed", types.StatusInconclusive, types.CodePolicyRejected, "", false},
		{"greylisted", "451 4.7.1 Greylisted, try later", types.StatusInconclusive, types.CodeGreylisted, "4.7.1", true},
		{"mailbox busy", "450 Mailbox busy", types.StatusInconclusive, types.CodeGreylisted, "", true},
		{"unexpected", "354 go ahead", types.StatusInconclusive, types.CodeUnexpectedReply, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := &fakeServer{banner: "220 mx.example.com ESMTP", responses: okResponses(tt.rcpt)}
			p := newTestProber(t, srv.dial)

			out := p.Probe(context.Background(), "mx.example.com", "user@example.com")

			assert.Equal(t, tt.status, out.Status)
			assert.Equal(t, tt.code, out.Code)
			assert.Equal(t, tt.enhanced, out.Reply.Enhanced)
			assert.Equal(t, tt.retryable, out.Retryable)
			assert.Equal(t, StateRecipient, out.State)
			assert.False(t, out.NextHost)
			assert.Equal(t, "QUIT", srv.seen()[len(srv.seen())-1], "session always ends with QUIT")
		})
	}
}

func TestProbe_CommandSequence(t *testing.T) {
	srv := &fakeServer{banner: "220 mx.example.com ESMTP", responses: okResponses("250 OK")}
	p := newTestProber(t, srv.dial)

	p.Probe(context.Background(), "mx.example.com", "user@example.com")

	assert.Equal(t, []string{
		"EHLO verifier.test",
		"MAIL FROM:<probe@verifier.test>",
		"RCPT TO:<user@example.com>",
		"QUIT",
	}, srv.seen())
}

func TestProbe_HeloFallback(t *testing.T) {
	responses := okResponses("250 OK")
	responses["EHLO"] = "502 Command not implemented"
	srv := &fakeServer{banner: "220 old.example.com SMTP", responses: responses}
	p := newTestProber(t, srv.dial)

	out := p.Probe(context.Background(), "old.example.com", "user@example.com")

	assert.Equal(t, types.StatusPass, out.Status)
	assert.Contains(t, srv.seen(), "HELO verifier.test")
}

func TestProbe_GreetReplies(t *testing.T) {
	tests := []struct {
		name     string
		banner   string
		ehlo     string
		code     string
		nextHost bool
	}{
		{"banner deferred", "421 Too busy", "250 OK", types.CodeGreetRejected, true},
		{"banner blocklisted", "554 Your IP is listed on Spamhaus", "250 OK", types.CodeHostBlocked, true},
		{"banner refused", "554 No SMTP service here", "250 OK", types.CodeGreetRejected, false},
		{"ehlo refused", "220 ready", "550 Access denied", types.CodeGreetRejected, false},
		{"ehlo blocked", "220 ready", "550 Blocked by RBL", types.CodeHostBlocked, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responses := okResponses("250 OK")
			responses["EHLO"] = tt.ehlo
			srv := &fakeServer{banner: tt.banner, responses: responses}
			p := newTestProber(t, srv.dial)

			out := p.Probe(context.Background(), "mx.example.com", "user@example.com")

			assert.Equal(t, types.StatusInconclusive, out.Status)
			assert.Equal(t, tt.code, out.Code)
			assert.Equal(t, tt.nextHost, out.NextHost)
			assert.Equal(t, StateGreet, out.State)
			assert.NotContains(t, srv.seen(), "MAIL FROM:<probe@verifier.test>")
		})
	}
}

func TestProbe_SenderReplies(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		responses := okResponses("250 OK")
		responses["MAIL FROM"] = "550 5.7.1 Sender rejected"
		srv := &fakeServer{banner: "220 ready", responses: responses}
		out := newTestProber(t, srv.dial).Probe(context.Background(), "mx.example.com", "user@example.com")

		assert.Equal(t, types.StatusFail, out.Status)
		assert.Equal(t, types.CodeSenderRejected, out.Code)
		assert.Equal(t, StateSender, out.State)
		assert.False(t, out.NextHost)
	})

	t.Run("deferred", func(t *testing.T) {
		responses := okResponses("250 OK")
		responses["MAIL FROM"] = "451 Try later"
		srv := &fakeServer{banner: "220 ready", responses: responses}
		out := newTestProber(t, srv.dial).Probe(context.Background(), "mx.example.com", "user@example.com")

		assert.Equal(t, types.StatusInconclusive, out.Status)
		assert.Equal(t, types.CodeSenderDeferred, out.Code)
		assert.True(t, out.NextHost)
	})
}

func TestProbe_MultilineReplies(t *testing.T) {
	responses := okResponses("250 OK")
	responses["EHLO"] = "250-mx.example.com\r\n250-PIPELINING\r\n250 SIZE 1000000"
	srv := &fakeServer{banner: "220-mx.example.com\r\n220 ESMTP ready", responses: responses}

	out := newTestProber(t, srv.dial).Probe(context.Background(), "mx.example.com", "user@example.com")

	assert.Equal(t, types.StatusPass, out.Status)
}

func TestProbe_DialError(t *testing.T) {
	p := newTestProber(t, func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	})

	out := p.Probe(context.Background(), "mx.example.com", "user@example.com")

	assert.Equal(t, types.StatusInconclusive, out.Status)
	assert.Equal(t, types.CodeUnreachable, out.Code)
	assert.Equal(t, StateConnect, out.State)
	assert.True(t, out.NextHost)
	assert.Error(t, out.Err)
}

func TestProbe_ConnectionDropped(t *testing.T) {
	p := newTestProber(t, func(context.Context, string, string) (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			_, _ = fmt.Fprintf(server, "220 ready\r\n")
			_ = server.Close()
		}()
		return client, nil
	})

	out := p.Probe(context.Background(), "mx.example.com", "user@example.com")

	assert.Equal(t, types.StatusInconclusive, out.Status)
	assert.Equal(t, types.CodeProtocolError, out.Code)
	assert.True(t, out.NextHost)
}

func TestProbe_ContextDeadlineClosesConnection(t *testing.T) {
	srv := &fakeServer{} // never sends a banner
	p := newTestProber(t, srv.dial)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	out := p.Probe(ctx, "mx.example.com", "user@example.com")

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, types.StatusInconclusive, out.Status)
	assert.Equal(t, types.CodeTimeout, out.Code)
	assert.False(t, out.NextHost)
}

func TestProbe_RateLimited(t *testing.T) {
	srv := &fakeServer{banner: "220 ready", responses: okResponses("250 OK")}
	p, err := New(Config{
		HeloDomain: "verifier.test",
		MailFrom:   "probe@verifier.test",
		RateLimit:  0.001,
		RateBurst:  1,
		Dial:       srv.dial,
	})
	require.NoError(t, err)

	out := p.Probe(context.Background(), "mx.example.com", "a@example.com")
	assert.Equal(t, types.StatusPass, out.Status)

	// The single token is spent; the next connection cannot start in time.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out = p.Probe(ctx, "mx.example.com", "b@example.com")
	assert.Equal(t, types.CodeTimeout, out.Code)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{MailFrom: "a@b.test"})
	assert.Error(t, err)

	p, err := New(Config{
		HeloDomain: "verifier.test",
		MailFrom:   "probe@verifier.test",
		Proxy:      &ProxyConfig{Address: "127.0.0.1:1080", Username: "u", Password: "p"},
	})
	require.NoError(t, err)
	assert.NotNil(t, p.cfg.Dial)
	assert.Equal(t, "25", p.cfg.Port)
}

func TestReadReply(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("250-first\r\n250-second\r\n250 2.0.0 last\r\n"))
	reply, err := readReply(r)
	require.NoError(t, err)
	assert.Equal(t, 250, reply.Code)
	assert.Equal(t, "first | second | 2.0.0 last", reply.Text)
	// Enhanced status is read from the first line only.
	assert.Equal(t, "", reply.Enhanced)

	_, err = readReply(bufio.NewReader(strings.NewReader("2\r\n")))
	assert.Error(t, err)
	_, err = readReply(bufio.NewReader(strings.NewReader("abc hello\r\n")))
	assert.Error(t, err)
}

func TestReadReply_Limits(t *testing.T) {
	long := "250 " + strings.Repeat("x", maxReplyLine) + "\r\n"
	_, err := readReply(bufio.NewReader(strings.NewReader(long)))
	assert.ErrorIs(t, err, errReplyLineTooLong)

	// A larger buffer does not lift the cap.
	_, err = readReply(bufio.NewReaderSize(strings.NewReader(long), 2*maxReplyLine))
	assert.ErrorIs(t, err, errReplyLineTooLong)

	fits := "250 " + strings.Repeat("x", maxReplyLine-6) + "\r\n"
	reply, err := readReply(bufio.NewReader(strings.NewReader(fits)))
	require.NoError(t, err)
	assert.Equal(t, 250, reply.Code)

	many := strings.Repeat("250-more\r\n", maxReplyLines) + "250 done\r\n"
	_, err = readReply(bufio.NewReader(strings.NewReader(many)))
	assert.ErrorIs(t, err, errReplyTooManyLines)

	most := strings.Repeat("250-more\r\n", maxReplyLines-1) + "250 done\r\n"
	_, err = readReply(bufio.NewReader(strings.NewReader(most)))
	assert.NoError(t, err)
}

func TestSession_EndlessBanner(t *testing.T) {
	p := newTestProber(t, func(context.Context, string, string) (net.Conn, error) {
		client, server := net.Pipe()
		go func() { _, _ = io.Copy(io.Discard, server) }()
		go func() {
			defer func() { _ = server.Close() }()
			if _, err := fmt.Fprint(server, "220-"); err != nil {
				return
			}
			chunk := []byte(strings.Repeat("x", 1024))
			for {
				if _, err := server.Write(chunk); err != nil {
					return
				}
			}
		}()
		return client, nil
	})

	out := p.Probe(context.Background(), "mx.example.com", "user@example.com")

	assert.Equal(t, types.StatusInconclusive, out.Status)
	assert.Equal(t, types.CodeProtocolError, out.Code)
	assert.Equal(t, StateGreet, out.State)
	assert.ErrorIs(t, out.Err, errReplyLineTooLong)
}

func TestEnhancedCode(t *testing.T) {
	assert.Equal(t, "5.1.1", enhancedCode("5.1.1 User unknown", 550))
	assert.Equal(t, "", enhancedCode("4.1.1 mismatch", 550))
	assert.Equal(t, "", enhancedCode("User unknown", 550))
	assert.Equal(t, "", enhancedCode("5.1 short", 550))
}

func TestMailboxUnknown(t *testing.T) {
	assert.True(t, MailboxUnknown(Reply{Code: 550}))
	assert.True(t, MailboxUnknown(Reply{Code: 550, Enhanced: "5.1.1"}))
	assert.False(t, MailboxUnknown(Reply{Code: 550, Enhanced: "5.7.1"}))
	assert.False(t, MailboxUnknown(Reply{Code: 552}))
	assert.False(t, MailboxUnknown(Reply{Code: 450}))
}
