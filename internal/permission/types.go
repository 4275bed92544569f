// Package permission resolves roles against ordered resource, operation,
// path and condition rules, with TTL-cached decisions.
package permission

import "errors"

var (
	ErrRoleExists        = errors.New("permission: role already exists")
	ErrRoleNotFound      = errors.New("permission: role not found")
	ErrCyclicInheritance = errors.New("permission: cyclic role inheritance")
)

// Operation is the abstract action a request performs on a resource.
type Operation string

const (
	OpRead    Operation = "read"
	OpCreate  Operation = "create"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
	OpExecute Operation = "execute"
	OpAny     Operation = "*"
)

// Well-known resource names. Rules accept any string, these are the ones
// the bundled configuration uses.
const (
	ResourceAPIKey  = "api_key"
	ResourceMusic   = "music"
	ResourceUser    = "user"
	ResourceSystem  = "system"
	ResourceMonitor = "monitor"
	ResourceAny     = "*"
)

// OperationForMethod maps an HTTP method to its operation. Unknown
// methods degrade to read.
func OperationForMethod(method string) Operation {
	switch method {
	case "GET", "HEAD", "OPTIONS":
		return OpRead
	case "POST":
		return OpCreate
	case "PUT", "PATCH":
		return OpUpdate
	case "DELETE":
		return OpDelete
	default:
		return OpRead
	}
}

// Role bundles rule ids and optionally inherits other roles. The
// inheritance relation must stay acyclic; evaluation fails fast when it
// is not.
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
	Inherits    []string `json:"inherits,omitempty"`
}

// Rule grants access to (resource, operation) pairs, optionally narrowed
// by a path pattern and a named condition.
type Rule struct {
	ID          string    `json:"id"`
	Resource    string    `json:"resource"`
	Operation   Operation `json:"operation"`
	Path        string    `json:"path,omitempty"`
	Condition   string    `json:"condition,omitempty"`
	Description string    `json:"description,omitempty"`
}

// ConditionContext is the runtime input a condition predicate sees.
// PathParams holds named captures from regex or glob path patterns.
type ConditionContext struct {
	Resource   string
	Operation  Operation
	Path       string
	PathParams map[string]string
	Extra      map[string]any
}

// Condition is a named predicate evaluated only after a rule's other
// fields already match. A false result or an error skips the rule.
type Condition struct {
	ID    string
	Name  string
	Check func(ConditionContext) (bool, error)
}

// Decision is a permission verdict. Rule is set on allow and names the
// first matching rule.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Rule    *Rule  `json:"rule,omitempty"`
}

// Request is one permission check.
type Request struct {
	RoleID    string
	Resource  string
	Operation Operation
	Path      string
	Extra     map[string]any
}
