// Package deliverkit verifies that email addresses are real and deliverable
// without sending mail. Static checks (syntax, disposable domain, role
// address) are combined with a live SMTP recipient probe and catch-all
// detection, and the stage outcomes are fused into a verdict with a
// confidence score.
//
// Static checks only:
//
//	res, err := deliverkit.New().Verify(ctx, deliverkit.Candidate{Address: "user@example.com"})
//
// Full pipeline:
//
//	v := deliverkit.New().
//	    WithDNS().
//	    WithSMTP(deliverkit.SMTPOptions{
//	        HeloDomain: "myapp.com",
//	        MailFrom:   "verify@myapp.com",
//	    })
//	res, err := v.Verify(ctx, deliverkit.Candidate{Address: "user@example.com"})
package deliverkit

import "github.com/optimode/deliverkit/types"

// Re-exports from the types package so that consumers don't need to import
// it directly.
type (
	Candidate          = types.Candidate
	CheckOutcome       = types.CheckOutcome
	VerificationResult = types.VerificationResult
	Stage              = types.Stage
	Status             = types.Status
	Verdict            = types.Verdict
)

const (
	StageSyntax     = types.StageSyntax
	StageDisposable = types.StageDisposable
	StageRole       = types.StageRole
	StageMX         = types.StageMX
	StageSMTP       = types.StageSMTP
	StageCatchAll   = types.StageCatchAll
)

const (
	StatusPass         = types.StatusPass
	StatusFail         = types.StatusFail
	StatusInconclusive = types.StatusInconclusive
)

const (
	VerdictValid   = types.VerdictValid
	VerdictInvalid = types.VerdictInvalid
	VerdictRisky   = types.VerdictRisky
	VerdictUnknown = types.VerdictUnknown
)
