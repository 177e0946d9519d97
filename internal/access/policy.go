// Package access decides which principal may perform which action. The role
// set is closed and every decision goes through a Policy table.
package access

import (
	"context"
	"fmt"

	"bookmanager/internal/apperr"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleReader Role = "reader"
)

// ParseRole accepts only the known roles.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleReader:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

type Action string

const (
	ActionBorrow        Action = "loan.borrow"
	ActionReturn        Action = "loan.return"
	ActionRenew         Action = "loan.renew"
	ActionListLoans     Action = "loan.list"
	ActionLoanHistory   Action = "loan.history"
	ActionViewCatalog   Action = "catalog.view"
	ActionManageCatalog Action = "catalog.manage"
	ActionViewReader    Action = "reader.view"
	ActionManageReaders Action = "reader.manage"
	ActionRunAudit      Action = "audit.run"
)

// Scope is how far a grant reaches.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeOwn
	ScopeAny
)

// Principal is an authenticated caller. For readers ID is the reader id, for
// admins it is the admin account id.
type Principal struct {
	ID       int64  `json:"id"`
	Role     Role   `json:"role"`
	Username string `json:"username"`
}

// Policy maps role and action to a scope. Missing entries mean ScopeNone.
type Policy map[Role]map[Action]Scope

func DefaultPolicy() Policy {
	return Policy{
		RoleAdmin: {
			ActionBorrow:        ScopeAny,
			ActionReturn:        ScopeAny,
			ActionRenew:         ScopeAny,
			ActionListLoans:     ScopeAny,
			ActionLoanHistory:   ScopeAny,
			ActionViewCatalog:   ScopeAny,
			ActionManageCatalog: ScopeAny,
			ActionViewReader:    ScopeAny,
			ActionManageReaders: ScopeAny,
			ActionRunAudit:      ScopeAny,
		},
		RoleReader: {
			ActionBorrow:      ScopeOwn,
			ActionReturn:      ScopeOwn,
			ActionRenew:       ScopeOwn,
			ActionListLoans:   ScopeOwn,
			ActionLoanHistory: ScopeOwn,
			ActionViewCatalog: ScopeAny,
			ActionViewReader:  ScopeOwn,
		},
	}
}

func (p Policy) Scope(principal Principal, action Action) Scope {
	return p[principal.Role][action]
}

// Authorize checks action against a resource owned by ownerReaderID. Pass 0
// for resources without a reader owner; only ScopeAny grants those.
func (p Policy) Authorize(principal Principal, action Action, ownerReaderID int64) error {
	switch p.Scope(principal, action) {
	case ScopeAny:
		return nil
	case ScopeOwn:
		if principal.Role == RoleReader && ownerReaderID != 0 && ownerReaderID == principal.ID {
			return nil
		}
	}
	return apperr.Forbidden("not permitted")
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
