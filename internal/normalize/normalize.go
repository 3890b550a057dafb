// Package normalize holds the named field transforms a task can reference.
//
// Transforms are pure string functions. Every transform is idempotent:
// applying it to its own output returns the same value. A transform never
// fails; input it does not understand comes back trimmed.
package normalize

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Func is a transform.
type Func func(string) string

// Default is applied when a field names no transform.
const Default = "trim"

// Labels used by the presence transform.
const (
	Yes = "Yes"
	No  = "No"
)

// Cantrip is the label for a level-0 spell.
const Cantrip = "Cantrip"

// Table maps transform names to functions.
type Table map[string]Func

// Builtin is the table tasks are validated and normalized against.
var Builtin = Table{
	"trim":     Trim,
	"collapse": Collapse,
	"lower":    func(s string) string { return strings.ToLower(strings.TrimSpace(s)) },
	"upper":    func(s string) string { return strings.ToUpper(strings.TrimSpace(s)) },
	"nfc":      func(s string) string { return norm.NFC.String(strings.TrimSpace(s)) },
	"presence": Presence,
	"level":    Level,
}

// Has reports whether name is registered. Empty means Default.
func (t Table) Has(name string) bool {
	if name == "" {
		return true
	}
	_, ok := t[name]
	return ok
}

// Names returns the registered names, sorted.
func (t Table) Names() []string {
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Apply runs the transform registered under name. Unknown names degrade to
// Trim.
func (t Table) Apply(name, raw string) string {
	if name == "" {
		name = Default
	}
	fn, ok := t[name]
	if !ok {
		return Trim(raw)
	}
	return fn(raw)
}

// ApplyAll normalizes a list element-wise.
func (t Table) ApplyAll(name string, raw []string) []string {
	out := make([]string, len(raw))
	for i, v := range raw {
		out[i] = t.Apply(name, v)
	}
	return out
}

// Trim strips leading and trailing whitespace.
func Trim(s string) string { return strings.TrimSpace(s) }

// Collapse trims and folds internal whitespace runs into one space.
func Collapse(s string) string { return strings.Join(strings.Fields(s), " ") }

// Presence maps a cell that marks a flag by being non-empty to Yes or No.
func Presence(s string) string {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return No
	case Yes, No:
		return s
	default:
		return Yes
	}
}

// Level maps "0" to Cantrip and an integer n to "Level n". Other values,
// including already-labelled ones, come back trimmed.
func Level(s string) string {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return s
	}
	if n == 0 {
		return Cantrip
	}
	return "Level " + strconv.Itoa(n)
}
