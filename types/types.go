// Package types contains the shared types for deliverkit.
// This package does not import anything from other deliverkit packages
// to avoid circular imports.
package types

import "time"

// Stage identifies a pipeline stage.
type Stage = string

const (
	StageSyntax     Stage = "syntax"
	StageDisposable Stage = "disposable"
	StageRole       Stage = "role"
	StageMX         Stage = "mx"
	StageSMTP       Stage = "smtp"
	StageCatchAll   Stage = "catch_all"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageSyntax, StageDisposable, StageRole, StageMX, StageSMTP, StageCatchAll}

// Status is the result of a single stage.
type Status = string

const (
	StatusPass         Status = "PASS"
	StatusFail         Status = "FAIL"
	StatusInconclusive Status = "INCONCLUSIVE"
)

// Detail codes carried in CheckOutcome.Code.
const (
	CodeMalformed       = "malformed"
	CodeDisposable      = "disposable"
	CodeRoleBased       = "role_based"
	CodeNoMailHost      = "no_mail_host"
	CodeNullMX          = "null_mx"
	CodeDNSTransient    = "dns_transient"
	CodeMXFallback      = "mx_fallback"
	CodeUnreachable     = "unreachable"
	CodeGreetRejected   = "greet_rejected"
	CodeHostBlocked     = "host_blocked"
	CodeSenderRejected  = "sender_rejected"
	CodeSenderDeferred  = "sender_deferred"
	CodeMailboxExists   = "mailbox_exists"
	CodeMailboxNotFound = "mailbox_not_found"
	CodePolicyRejected  = "policy_rejected"
	CodeGreylisted      = "greylisted"
	CodeUnexpectedReply = "unexpected_reply"
	CodeProtocolError   = "protocol_error"
	CodeCatchAll        = "catch_all"
	CodeDiscriminating  = "discriminating"
	CodeTimeout         = "timeout"
	CodeMXUnresolved    = "mx_unresolved"
	CodeCached          = "cached"
)

// Verdict is the final deliverability classification.
type Verdict = string

const (
	VerdictValid   Verdict = "valid"
	VerdictInvalid Verdict = "invalid"
	VerdictRisky   Verdict = "risky"
	VerdictUnknown Verdict = "unknown"
)

// Reasons attached to risky verdicts.
const (
	ReasonRoleBased  = "role-based"
	ReasonDisposable = "disposable"
	ReasonCatchAll   = "catch-all"
)

// Candidate is one address to verify, as delivered by an ingestion source.
type Candidate struct {
	Address       string `json:"address"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// CheckOutcome is the outcome of a single stage.
type CheckOutcome struct {
	Stage        Stage  `json:"stage"`
	Status       Status `json:"status"`
	Code         string `json:"code,omitempty"`
	Detail       string `json:"detail,omitempty"`
	MXHost       string `json:"mxHost,omitempty"`
	SMTPCode     int    `json:"smtpCode,omitempty"`
	EnhancedCode string `json:"enhancedCode,omitempty"`
	Suggestion   string `json:"suggestion,omitempty"`
}

// Passed reports whether the stage passed.
func (o CheckOutcome) Passed() bool { return o.Status == StatusPass }

// VerificationResult is the full outcome of verifying one address.
type VerificationResult struct {
	Address       string         `json:"address"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Verdict       Verdict        `json:"verdict"`
	Confidence    int            `json:"confidence"`
	Reasons       []string       `json:"reasons,omitempty"`
	Checks        []CheckOutcome `json:"checks"`
	Elapsed       time.Duration  `json:"elapsed"`
	VerifiedAt    time.Time      `json:"verifiedAt"`
}

// CheckFor returns the outcome of the given stage, if it exists.
// The second return value indicates whether the stage was recorded.
func (r VerificationResult) CheckFor(stage Stage) (CheckOutcome, bool) {
	for _, c := range r.Checks {
		if c.Stage == stage {
			return c, true
		}
	}
	return CheckOutcome{}, false
}

// FailedChecks returns the outcomes that did not pass, inconclusive ones
// included.
func (r VerificationResult) FailedChecks() []CheckOutcome {
	var out []CheckOutcome
	for _, c := range r.Checks {
		if !c.Passed() {
			out = append(out, c)
		}
	}
	return out
}
