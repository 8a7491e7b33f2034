// Package access is the access-control collaborator of the session.
//
// A Checker is consulted before records are read from storage or
// computed and before they are written, created or deleted. Denials are
// ACCESS_DENIED errors; the session retries reads at single-record
// granularity so that one inaccessible record does not block a batch.
package access

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/recfield/internal/ir"
)

// Operation is the kind of access being checked.
type Operation string

const (
	Read   Operation = "read"
	Write  Operation = "write"
	Create Operation = "create"
	Unlink Operation = "unlink"
)

// ParseOperation resolves an operation name.
func ParseOperation(name string) (Operation, error) {
	switch op := Operation(strings.ToLower(name)); op {
	case Read, Write, Create, Unlink:
		return op, nil
	}
	return "", fmt.Errorf("unknown access operation %q", name)
}

// Checker decides whether user may perform op on records of model.
type Checker interface {
	Check(ctx context.Context, user string, op Operation, model string, ids ir.IDs) error
}

// AllowAll grants every access.
type AllowAll struct{}

// Check implements Checker.
func (AllowAll) Check(context.Context, string, Operation, string, ir.IDs) error {
	return nil
}

// Rule denies one operation on some records of a model. An empty ID list
// denies every record; an empty User applies to every user.
type Rule struct {
	Model string
	Op    Operation
	IDs   ir.IDs
	User  string
}

// Rules is a deny list. Records not matched by any rule are accessible.
type Rules []Rule

// Check implements Checker. The error names the first denied record.
func (rules Rules) Check(_ context.Context, user string, op Operation, model string, ids ir.IDs) error {
	for _, rule := range rules {
		if rule.Model != model || rule.Op != op {
			continue
		}
		if rule.User != "" && rule.User != user {
			continue
		}
		if len(rule.IDs) == 0 {
			var first ir.ID
			if len(ids) > 0 {
				first = ids[0]
			}
			return denied(user, op, model, first)
		}
		for _, id := range ids {
			if rule.IDs.Contains(id) {
				return denied(user, op, model, id)
			}
		}
	}
	return nil
}

// Denied returns the records of ids that rules forbid for op.
func (rules Rules) Denied(user string, op Operation, model string, ids ir.IDs) ir.IDs {
	var out ir.IDs
	for _, id := range ids {
		if rules.Check(context.Background(), user, op, model, ir.IDs{id}) != nil {
			out = append(out, id)
		}
	}
	return out
}

// Models returns the record types named by the rules, sorted.
func (rules Rules) Models() []string {
	seen := make(map[string]bool)
	var out []string
	for _, rule := range rules {
		if !seen[rule.Model] {
			seen[rule.Model] = true
			out = append(out, rule.Model)
		}
	}
	sort.Strings(out)
	return out
}

func denied(user string, op Operation, model string, id ir.ID) error {
	err := ir.AccessError(model, id, "%s access denied", op)
	err.User = user
	return err
}
