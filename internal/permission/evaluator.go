package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"unmgate.org/internal/cache"
	"unmgate.org/internal/obs"
)

const decisionTTL = 5 * time.Minute

// decisionCachePrefix namespaces memoized verdicts so role mutations can
// clear them without touching other cache users.
const decisionCachePrefix = "decision:"

// Evaluator holds the rule, condition and role registries and answers
// permission checks. Rules keep registration order: the first matching
// rule wins, so registration order is precedence order.
type Evaluator struct {
	mu         sync.RWMutex
	rules      map[string]Rule
	patterns   map[string]pathPattern
	conditions map[string]Condition
	roles      map[string]Role

	cache cache.Cache
	log   *zap.Logger
}

// NewEvaluator constructs an Evaluator. decisions may be cache.Noop to
// disable memoization.
func NewEvaluator(decisions cache.Cache, log *zap.Logger) *Evaluator {
	if decisions == nil {
		decisions = cache.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{
		rules:      make(map[string]Rule),
		patterns:   make(map[string]pathPattern),
		conditions: make(map[string]Condition),
		roles:      make(map[string]Role),
		cache:      decisions,
		log:        log,
	}
}

// AddRule registers a rule, compiling its path pattern once.
func (e *Evaluator) AddRule(rule Rule) {
	e.mu.Lock()
	e.rules[rule.ID] = rule
	if rule.Path != "" {
		e.patterns[rule.ID] = compilePattern(rule.Path)
	} else {
		delete(e.patterns, rule.ID)
	}
	e.mu.Unlock()
	e.log.Debug("permission rule registered",
		zap.String("rule", rule.ID),
		zap.String("resource", rule.Resource),
		zap.String("operation", string(rule.Operation)))
}

// AddCondition registers a named predicate.
func (e *Evaluator) AddCondition(c Condition) {
	e.mu.Lock()
	e.conditions[c.ID] = c
	e.mu.Unlock()
}

// setRole installs or replaces a role in the registry. Role mutations go
// through RoleService, which also clears the decision cache.
func (e *Evaluator) setRole(role Role) {
	e.mu.Lock()
	e.roles[role.ID] = role
	e.mu.Unlock()
}

func (e *Evaluator) removeRole(id string) {
	e.mu.Lock()
	delete(e.roles, id)
	e.mu.Unlock()
}

func (e *Evaluator) role(id string) (Role, bool) {
	e.mu.RLock()
	r, ok := e.roles[id]
	e.mu.RUnlock()
	return r, ok
}

// decisionWire is the cacheable shape of a Decision; the rule is stored
// by id and rehydrated on read.
type decisionWire struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	RuleID  string `json:"ruleId,omitempty"`
}

// Check evaluates a permission request. Only a cyclic inheritance graph
// is an error; every other outcome is a Decision.
func (e *Evaluator) Check(ctx context.Context, req Request) (Decision, error) {
	key := cache.Key("decision", req.RoleID, req.Resource, string(req.Operation), req.Path)
	if raw, ok := e.cache.Get(ctx, key); ok {
		var w decisionWire
		if err := json.Unmarshal(raw, &w); err == nil {
			obs.RecordPermissionDecision(w.Allowed)
			return e.rehydrate(w), nil
		}
	}

	role, ok := e.role(req.RoleID)
	if !ok {
		d := Decision{Allowed: false, Reason: fmt.Sprintf("role %s not found", req.RoleID)}
		e.memoize(ctx, key, d)
		obs.RecordPermissionDecision(false)
		return d, nil
	}

	permIDs, err := e.resolvePermissions(role, make(map[string]bool))
	if err != nil {
		return Decision{}, err
	}

	d := e.evaluate(req, permIDs)
	e.memoize(ctx, key, d)
	obs.RecordPermissionDecision(d.Allowed)
	return d, nil
}

// CheckHTTP maps an HTTP method to its operation and evaluates.
func (e *Evaluator) CheckHTTP(ctx context.Context, roleID, method, path, resource string, extra map[string]any) (Decision, error) {
	return e.Check(ctx, Request{
		RoleID:    roleID,
		Resource:  resource,
		Operation: OperationForMethod(method),
		Path:      path,
		Extra:     extra,
	})
}

// evaluate walks the resolved rule ids in order and returns the first
// match, or an implicit deny.
func (e *Evaluator) evaluate(req Request, permIDs []string) Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, id := range permIDs {
		rule, ok := e.rules[id]
		if !ok {
			continue
		}
		if rule.Resource != ResourceAny && rule.Resource != req.Resource {
			continue
		}
		if rule.Operation != OpAny && rule.Operation != req.Operation {
			continue
		}
		var params map[string]string
		if rule.Path != "" {
			matched, p := e.patterns[id].match(req.Path)
			if !matched {
				continue
			}
			params = p
		}
		if rule.Condition != "" {
			cond, ok := e.conditions[rule.Condition]
			if !ok {
				continue
			}
			pass, err := cond.Check(ConditionContext{
				Resource:   req.Resource,
				Operation:  req.Operation,
				Path:       req.Path,
				PathParams: params,
				Extra:      req.Extra,
			})
			if err != nil {
				e.log.Warn("permission condition failed, rule skipped",
					zap.String("rule", rule.ID),
					zap.String("condition", rule.Condition),
					zap.Error(err))
				continue
			}
			if !pass {
				continue
			}
		}
		r := rule
		return Decision{Allowed: true, Rule: &r}
	}
	return Decision{Allowed: false, Reason: "no matching permission rule"}
}

// resolvePermissions unions a role's own rule ids with those of every
// transitively inherited role, preserving order and deduplicating.
// Revisiting a role on the current descent is a cycle.
func (e *Evaluator) resolvePermissions(role Role, visiting map[string]bool) ([]string, error) {
	if visiting[role.ID] {
		return nil, fmt.Errorf("%w: via role %s", ErrCyclicInheritance, role.ID)
	}
	visiting[role.ID] = true
	defer delete(visiting, role.ID)

	out := make([]string, 0, len(role.Permissions))
	seen := make(map[string]bool, len(role.Permissions))
	for _, id := range role.Permissions {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, parentID := range role.Inherits {
		parent, ok := e.role(parentID)
		if !ok {
			continue
		}
		inherited, err := e.resolvePermissions(parent, visiting)
		if err != nil {
			return nil, err
		}
		for _, id := range inherited {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func (e *Evaluator) memoize(ctx context.Context, key string, d Decision) {
	w := decisionWire{Allowed: d.Allowed, Reason: d.Reason}
	if d.Rule != nil {
		w.RuleID = d.Rule.ID
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return
	}
	e.cache.Set(ctx, key, raw, decisionTTL)
}

func (e *Evaluator) rehydrate(w decisionWire) Decision {
	d := Decision{Allowed: w.Allowed, Reason: w.Reason}
	if w.RuleID != "" {
		e.mu.RLock()
		if rule, ok := e.rules[w.RuleID]; ok {
			d.Rule = &rule
		}
		e.mu.RUnlock()
	}
	return d
}

// clearDecisions drops every memoized verdict. Called synchronously by
// role mutations before they return, so no reader observes a stale
// verdict after a mutation is acknowledged.
func (e *Evaluator) clearDecisions(ctx context.Context) {
	e.cache.ClearPrefix(ctx, decisionCachePrefix)
}
