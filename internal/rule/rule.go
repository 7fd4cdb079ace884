package rule

import "strconv"

// Rule pairs a matcher with the name of the action to invoke when it
// matches. Rules are created at engine start or hot reload and are never
// mutated in place; a reload discards the old list wholesale and builds a
// new one.
type Rule struct {
	Name        string
	Description string
	Matcher     Matcher
	Enabled     bool
	ActionName  string
}

// Clone returns a deep copy, including the matcher tree, so the dispatch
// task can hold an independent snapshot per reload epoch.
func (r *Rule) Clone() *Rule {
	return &Rule{
		Name:        r.Name,
		Description: r.Description,
		Matcher:     r.Matcher.Clone(),
		Enabled:     r.Enabled,
		ActionName:  r.ActionName,
	}
}

// ActionKey returns the registry key this rule's action is bound under,
// keyed by the rule's ordinal position in the active rule list.
func ActionKey(ordinal int) string {
	return "rule_" + strconv.Itoa(ordinal) + "_action"
}
