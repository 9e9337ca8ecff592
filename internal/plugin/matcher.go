package plugin

import (
	"slices"
	"strings"
)

// Condition matching is pure and deterministic: no I/O, safe for concurrent
// and repeated evaluation. Conditions in a list are OR'd; clauses within one
// condition are AND'd; absent clauses impose no constraint.

// conditionMatches reports whether the context clauses of a single condition
// hold for the given global context.
func conditionMatches(cond *Condition, g *GlobalContext) bool {
	if len(cond.ServerIDs) > 0 && !slices.Contains(cond.ServerIDs, g.ServerID) {
		return false
	}
	if len(cond.TenantIDs) > 0 && !slices.Contains(cond.TenantIDs, g.TenantID) {
		return false
	}
	if len(cond.UserPatterns) > 0 && g.User != "" {
		match := false
		for _, pat := range cond.UserPatterns {
			if strings.Contains(g.User, pat) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

// identifierSet returns the payload-identifier clause of cond that applies
// to the given hook family, or nil when the hook has none. Condition.Agents
// has no hook family yet and is never consulted.
func identifierSet(cond *Condition, hook HookType) []string {
	switch hook {
	case HookToolPreInvoke, HookToolPostInvoke:
		return cond.Tools
	case HookPromptPreFetch, HookPromptPostFetch:
		return cond.Prompts
	case HookResourcePreFetch, HookResourcePostFetch:
		return cond.Resources
	}
	return nil
}

// payloadMatches reports whether the payload should be dispatched to a
// plugin with the given condition list. An empty list matches everything.
// Otherwise the first condition whose context clauses, identifier set, and
// optional expression all hold makes the payload match.
func payloadMatches(hook HookType, payload Payload, conds []Condition, g *GlobalContext, eval *ExprEvaluator) bool {
	if len(conds) == 0 {
		return true
	}
	for i := range conds {
		cond := &conds[i]
		if !conditionMatches(cond, g) {
			continue
		}
		if set := identifierSet(cond, hook); len(set) > 0 {
			if v := payload.MatchValue(); v != "" && !slices.Contains(set, v) {
				continue
			}
		}
		if cond.Expression != "" {
			ok, err := eval.Eval(cond.Expression, g, payload.MatchValue())
			if err != nil || !ok {
				continue
			}
		}
		return true
	}
	return false
}
