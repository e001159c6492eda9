package check

import (
	"context"

	"github.com/optimode/deliverkit/internal/parse"
	"github.com/optimode/deliverkit/internal/role"
	"github.com/optimode/deliverkit/types"
)

// RoleChecker flags local parts that address a function instead of a person.
type RoleChecker struct {
	matcher *role.Matcher
}

// NewRoleChecker uses role.DefaultKeywords when keywords is empty.
func NewRoleChecker(keywords []string) *RoleChecker {
	return &RoleChecker{matcher: role.NewMatcher(keywords)}
}

func (c *RoleChecker) Check(_ context.Context, email parse.Email) types.CheckOutcome {
	if kw, ok := c.matcher.Match(email.Local); ok {
		return types.CheckOutcome{
			Stage:  types.StageRole,
			Status: types.StatusFail,
			Code:   types.CodeRoleBased,
			Detail: "role-based local part: " + kw,
		}
	}
	return types.CheckOutcome{Stage: types.StageRole, Status: types.StatusPass, Detail: "personal local part"}
}
