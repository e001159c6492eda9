package smtpprobe

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Reply classes (RFC 5321 §4.2.1).
const (
	ClassPositive          = 2
	ClassIntermediate      = 3
	ClassTransientNegative = 4
	ClassPermanentNegative = 5
)

// Bounds on one reply. The line length includes the CRLF.
const (
	maxReplyLine  = 4096
	maxReplyLines = 100
)

var (
	errReplyLineTooLong  = errors.New("SMTP reply line too long")
	errReplyTooManyLines = errors.New("SMTP reply has too many lines")
)

// Reply is one (possibly multi-line) SMTP reply.
type Reply struct {
	Code     int
	Enhanced string // RFC 3463 status such as "5.1.1", empty when absent
	Text     string // all lines joined with " | "
}

// Class returns the first digit of the reply code.
func (r Reply) Class() int { return r.Code / 100 }

// PolicyRelated reports whether the enhanced status is a security or
// policy status (X.7.Y), which says nothing about the mailbox itself.
func (r Reply) PolicyRelated() bool {
	return strings.HasPrefix(r.Enhanced, "5.7.") || strings.HasPrefix(r.Enhanced, "4.7.")
}

func (r Reply) String() string {
	return fmt.Sprintf("%d %s", r.Code, r.Text)
}

// readReply reads a (possibly multi-line) SMTP reply.
func readReply(r *bufio.Reader) (Reply, error) {
	var lines []string
	for {
		if len(lines) == maxReplyLines {
			return Reply{}, errReplyTooManyLines
		}
		line, err := readLine(r)
		if err != nil {
			return Reply{}, fmt.Errorf("read SMTP reply: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) < 3 {
			return Reply{}, errors.New("SMTP reply line too short")
		}
		lines = append(lines, line)
		// A '-' after the code marks a continuation line.
		if len(line) < 4 || line[3] != '-' {
			break
		}
	}

	last := lines[len(lines)-1]
	code, err := strconv.Atoi(last[:3])
	if err != nil || code < 100 || code > 599 {
		return Reply{}, fmt.Errorf("invalid SMTP reply code %q", last[:3])
	}

	texts := make([]string, len(lines))
	for i, l := range lines {
		if len(l) > 4 {
			texts[i] = l[4:]
		}
	}
	return Reply{
		Code:     code,
		Enhanced: enhancedCode(texts[0], code),
		Text:     strings.Join(texts, " | "),
	}, nil
}

// readLine reads up to and including '\n', failing once the line grows past
// maxReplyLine.
func readLine(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		frag, err := r.ReadSlice('\n')
		if len(line)+len(frag) > maxReplyLine {
			return "", errReplyLineTooLong
		}
		line = append(line, frag...)
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err != nil:
			return "", err
		}
		return string(line), nil
	}
}

// enhancedCode extracts a leading class.subject.detail status whose class
// agrees with the reply code.
func enhancedCode(text string, code int) string {
	field, _, _ := strings.Cut(text, " ")
	parts := strings.Split(field, ".")
	if len(parts) != 3 {
		return ""
	}
	for i, p := range parts {
		if p == "" || len(p) > 3 {
			return ""
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return ""
		}
		if i == 0 && n != code/100 {
			return ""
		}
	}
	return field
}
