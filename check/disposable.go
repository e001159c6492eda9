package check

import (
	"context"

	"github.com/optimode/deliverkit/internal/disposable"
	"github.com/optimode/deliverkit/internal/parse"
	"github.com/optimode/deliverkit/internal/typo"
	"github.com/optimode/deliverkit/types"
)

// DisposableConfig is the disposable checker configuration.
type DisposableConfig struct {
	// List is the domain set to match against. Nil means the embedded list.
	List *disposable.Set
	// TypoThreshold is the edit distance for provider suggestions. 0 disables them.
	TypoThreshold int
}

// DisposableChecker flags domains of throwaway mailbox providers.
// It never returns INCONCLUSIVE and never short-circuits the pipeline.
type DisposableChecker struct {
	cfg DisposableConfig
}

func NewDisposableChecker(cfg DisposableConfig) *DisposableChecker {
	if cfg.List == nil {
		cfg.List = disposable.Default()
	}
	return &DisposableChecker{cfg: cfg}
}

func (c *DisposableChecker) Check(_ context.Context, email parse.Email) types.CheckOutcome {
	if c.cfg.List.Contains(email.Domain) {
		return types.CheckOutcome{
			Stage:  types.StageDisposable,
			Status: types.StatusFail,
			Code:   types.CodeDisposable,
			Detail: "disposable email domain detected",
		}
	}

	out := types.CheckOutcome{Stage: types.StageDisposable, Status: types.StatusPass, Detail: "domain ok"}
	if c.cfg.TypoThreshold > 0 {
		// Unicode form gives better edit distances for IDN domains.
		if s := typo.Suggest(email.DomainUnicode, typo.Providers, c.cfg.TypoThreshold); s != "" {
			out.Detail = "possible typo in domain"
			out.Suggestion = s
		}
	}
	return out
}
