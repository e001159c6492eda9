package deliverkit

import "github.com/optimode/deliverkit/types"

// Confidence scores assigned by Aggregate.
const (
	ConfidenceValid       = 95
	ConfidenceMailboxGone = 90
	ConfidenceRisky       = 60
	ConfidenceRiskyFloor  = 40
	ConfidenceUnknown     = 20
	ConfidenceTimeout     = 10
)

// Aggregate fuses a check trail into a verdict, a confidence score and the
// reasons behind it. Rules are evaluated in order and the first match wins:
//
//  1. syntax FAIL: invalid, 0
//  2. mx FAIL: invalid, 0
//  3. smtp FAIL mailbox_not_found: invalid, 90
//  4. smtp PASS, catch-all discriminating, not disposable, not role-based: valid, 95
//  5. smtp PASS and catch-all, disposable or role-based: risky, 60 minus 10
//     per extra reason with a floor of 40
//  6. any INCONCLUSIVE: unknown, 20 (10 when it was a timeout)
//  7. otherwise unknown, 20; without network stages a disposable or
//     role-based address is risky
//
// Risky reasons are listed in trail order. Invalid and unknown verdicts
// carry the code of the deciding outcome.
func Aggregate(checks []types.CheckOutcome) (types.Verdict, int, []string) {
	byStage := make(map[types.Stage]types.CheckOutcome, len(checks))
	var risks []string
	var firstInconclusive, firstFail *types.CheckOutcome
	for i, c := range checks {
		byStage[c.Stage] = c
		switch {
		case c.Stage == types.StageDisposable && c.Status == types.StatusFail:
			risks = append(risks, types.ReasonDisposable)
		case c.Stage == types.StageRole && c.Status == types.StatusFail:
			risks = append(risks, types.ReasonRoleBased)
		case c.Stage == types.StageCatchAll && c.Status == types.StatusFail:
			risks = append(risks, types.ReasonCatchAll)
		}
		if c.Status == types.StatusInconclusive && firstInconclusive == nil {
			firstInconclusive = &checks[i]
		}
		if c.Status == types.StatusFail && firstFail == nil {
			firstFail = &checks[i]
		}
	}

	if c, ok := byStage[types.StageSyntax]; ok && c.Status == types.StatusFail {
		return types.VerdictInvalid, 0, []string{c.Code}
	}
	mx, networked := byStage[types.StageMX]
	if networked && mx.Status == types.StatusFail {
		return types.VerdictInvalid, 0, []string{mx.Code}
	}

	smtp, probed := byStage[types.StageSMTP]
	if probed && smtp.Status == types.StatusFail && smtp.Code == types.CodeMailboxNotFound {
		return types.VerdictInvalid, ConfidenceMailboxGone, []string{smtp.Code}
	}
	if probed && smtp.Status == types.StatusPass {
		catchAll, ok := byStage[types.StageCatchAll]
		if len(risks) == 0 && ok && catchAll.Status == types.StatusPass {
			return types.VerdictValid, ConfidenceValid, nil
		}
		if len(risks) > 0 {
			return types.VerdictRisky, riskyConfidence(len(risks)), risks
		}
	}

	if firstInconclusive != nil {
		if firstInconclusive.Code == types.CodeTimeout {
			return types.VerdictUnknown, ConfidenceTimeout, []string{types.CodeTimeout}
		}
		return types.VerdictUnknown, ConfidenceUnknown, reasonOf(firstInconclusive)
	}

	if !networked && len(risks) > 0 {
		return types.VerdictRisky, riskyConfidence(len(risks)), risks
	}
	if probed && smtp.Status == types.StatusFail {
		return types.VerdictUnknown, ConfidenceUnknown, reasonOf(&smtp)
	}
	if firstFail != nil {
		return types.VerdictUnknown, ConfidenceUnknown, reasonOf(firstFail)
	}
	return types.VerdictUnknown, ConfidenceUnknown, nil
}

func riskyConfidence(reasons int) int {
	return max(ConfidenceRiskyFloor, ConfidenceRisky-10*(reasons-1))
}

func reasonOf(c *types.CheckOutcome) []string {
	if c.Code == "" {
		return nil
	}
	return []string{c.Code}
}
