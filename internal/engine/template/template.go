// Package template renders user-authored message templates.
package template

import "strings"

// FirstNameToken is the only placeholder templates may contain
const FirstNameToken = "{firstName}"

// Bindings holds the values substituted into a template
type Bindings struct {
	FirstName string
}

// Render replaces every occurrence of {firstName} with the bound value.
// Everything else, including partial tokens such as "{firstNam", passes
// through untouched.
func Render(tmpl string, b Bindings) string {
	return strings.ReplaceAll(tmpl, FirstNameToken, b.FirstName)
}

// FirstName derives the binding from a display name: the first
// whitespace-separated field, or "" when there is none.
func FirstName(displayName string) string {
	fields := strings.Fields(displayName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// CountTokens returns how many {firstName} placeholders tmpl contains
func CountTokens(tmpl string) int {
	return strings.Count(tmpl, FirstNameToken)
}
